package ride

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/ridenote/internal/api"
	"github.com/tphakala/ridenote/internal/app"
	"github.com/tphakala/ridenote/internal/capture"
	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/logger"
	"github.com/tphakala/ridenote/internal/observability"
)

// Command creates the ride command, the long-running capture daemon.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ride",
		Short: "Wait for triggers and record voice notes",
		Long: `Run the capture daemon. Every trigger (Enter on stdin or SIGUSR1) records
one geotagged voice note. Transcription and OSM upload follow in the
background when enabled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().BoolVar(&settings.Trigger.Stdin, "stdin", viper.GetBool("trigger.stdin"), "Start a capture on every line read from stdin")
	cmd.Flags().BoolVar(&settings.Trigger.Signal, "signal", viper.GetBool("trigger.signal"), "Start a capture on SIGUSR1")
	cmd.Flags().BoolVar(&settings.WebServer.Enabled, "web", viper.GetBool("webserver.enabled"), "Serve the HTTP API")
	cmd.Flags().StringVar(&settings.WebServer.Listen, "listen", viper.GetString("webserver.listen"), "HTTP API listen address")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

// Run wires the application and serves triggers until ctx is cancelled.
func Run(ctx context.Context, settings *conf.Settings) error {
	log := logger.Global().Module("ride")

	a, err := app.New(ctx, settings, app.Options{Capture: true, Sinks: true})
	if err != nil {
		return err
	}
	defer a.Close()

	g, ctx := errgroup.WithContext(ctx)
	a.Queue.Start(ctx)

	triggers := make(chan capture.Trigger, 1)
	if settings.Trigger.Stdin {
		// blocks in Read until stdin closes, so it stays outside the group
		go func() {
			if err := capture.StdinTriggers(ctx, os.Stdin, triggers); err != nil {
				log.Warn("stdin trigger stopped", logger.Error(err))
			}
		}()
	}
	if settings.Trigger.Signal {
		g.Go(func() error {
			capture.SignalTriggers(ctx, triggers)
			return nil
		})
	}
	g.Go(func() error {
		return a.Workflow.Serve(ctx, triggers)
	})

	if settings.WebServer.Enabled {
		srv, err := api.New(settings,
			api.WithDataStore(a.Store),
			api.WithCapture(a.Workflow),
			api.WithBatch(a.Processor),
			api.WithQueue(a.Queue),
			api.WithExporter(a.Exporter),
			api.WithMetrics(a.Metrics))
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Run(ctx) })
	} else if settings.Telemetry.Enabled {
		endpoint, err := observability.NewEndpoint(settings, a.Metrics)
		if err != nil {
			return err
		}
		g.Go(func() error { return endpoint.Run(ctx) })
	}

	conf.Watch(func(*conf.Settings) {
		log.Info("settings reloaded, changes apply from the next capture")
	})

	log.Info("ride started",
		logger.String("location", a.Location.Name()),
		logger.Bool("stdin_trigger", settings.Trigger.Stdin),
		logger.Bool("signal_trigger", settings.Trigger.Signal),
		logger.Bool("web", settings.WebServer.Enabled),
		logger.Bool("transcription", a.Engine != nil),
		logger.Bool("osm", a.Publisher != nil))
	if !settings.Trigger.Stdin && !settings.Trigger.Signal && !settings.WebServer.Enabled {
		log.Warn("no capture trigger enabled, use --stdin, --signal or --web")
	}

	err = g.Wait()
	log.Info("ride stopped")
	return err
}
