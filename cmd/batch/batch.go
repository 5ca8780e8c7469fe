package batch

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/ridenote/internal/app"
	batchpkg "github.com/tphakala/ridenote/internal/batch"
	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/events"
)

// Command returns a cobra command that runs the transcription and OSM passes
// over stored recordings
func Command(settings *conf.Settings) *cobra.Command {
	var (
		stage             string
		quiet             bool
		transcribeTimeout time.Duration
		uploadTimeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Transcribe and upload pending recordings",
		Long: `Process stored recordings: transcribe the ones not yet transcribed, then
publish transcribed notes with a location as OpenStreetMap notes.

Examples:
  # Both passes
  ridenote batch

  # Retry failed transcriptions only
  ridenote batch --stage=transcribe --retry-failed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := batchpkg.ParseStage(stage)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := app.New(ctx, settings, app.Options{Sinks: true})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if !quiet {
				if err := a.Bus.Subscribe("cli-progress", progressPrinter(out)); err != nil {
					return err
				}
			}

			summary, err := a.Processor.Run(ctx, batchpkg.Options{
				Stage:             st,
				RetryFailed:       settings.Batch.RetryFailed,
				TranscribeTimeout: transcribeTimeout,
				UploadTimeout:     uploadTimeout,
			})
			if err != nil {
				return err
			}

			// drain progress lines before the summary
			a.Close()
			printSummary(out, summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&stage, "stage", string(batchpkg.StageAll), "Pass to run: transcribe|osm|all")
	cmd.Flags().BoolVar(&settings.Batch.RetryFailed, "retry-failed", viper.GetBool("batch.retryfailed"), "Also retry failed and fallback transcriptions and failed uploads")
	cmd.Flags().DurationVar(&transcribeTimeout, "transcribe-timeout", 0, "Per-recording transcription deadline (0 uses the configured value)")
	cmd.Flags().DurationVar(&uploadTimeout, "upload-timeout", 0, "Per-recording upload deadline (0 uses the configured value)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print only the summary")

	return cmd
}

func progressPrinter(w io.Writer) events.Consumer {
	return events.ConsumerFunc(func(ev events.Event) error {
		if p, ok := ev.(events.BatchProgress); ok {
			_, err := fmt.Fprintf(w, "[%s %d/%d] %s %s\n", p.Stage, p.Index, p.Total, p.FileName, p.Status)
			return err
		}
		return nil
	})
}

func printSummary(w io.Writer, s batchpkg.Summary) {
	stages := s.Stages
	if len(stages) == 0 {
		stages = []batchpkg.Summary{s}
	}
	for _, st := range stages {
		fmt.Fprintf(w, "%-10s processed=%d succeeded=%d fallback=%d failed=%d disabled=%d skipped=%d (%s)\n",
			st.Stage, st.Processed, st.Succeeded, st.Fallback, st.Failed, st.Disabled, st.Skipped,
			st.Duration.Round(time.Millisecond))
	}
	if s.Cancelled {
		fmt.Fprintln(w, "run cancelled, remaining recordings stay pending")
	}
}
