package record

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/ridenote/internal/app"
	"github.com/tphakala/ridenote/internal/conf"
)

// Command returns a cobra command that records a single voice note
func Command(settings *conf.Settings) *cobra.Command {
	var process bool

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record one voice note and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := app.New(ctx, settings, app.Options{Capture: true, Sinks: true})
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.Workflow.Run(ctx)
			if err != nil {
				return fmt.Errorf("capture failed: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Recorded #%d %s (%.1fs) at %.6f,%.6f [%s]\n",
				rec.ID, rec.FileName, float64(rec.DurationMs)/1000,
				rec.Latitude, rec.Longitude, rec.LocationSource)

			if !process {
				return nil
			}
			if err := a.Processor.ProcessOne(ctx, rec); err != nil {
				return fmt.Errorf("follow-up failed: %w", err)
			}
			updated, err := a.Store.Get(rec.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Transcription: %s", updated.V2SStatus)
			if updated.V2SResult != "" {
				fmt.Fprintf(out, " %q", updated.V2SResult)
			}
			fmt.Fprintf(out, "\nOSM note: %s", updated.OsmStatus)
			if updated.OsmResult != "" {
				fmt.Fprintf(out, " %s", updated.OsmResult)
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&process, "process", false, "Transcribe and upload the note before exiting")

	return cmd
}
