package serve

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/ridenote/internal/api"
	"github.com/tphakala/ridenote/internal/app"
	"github.com/tphakala/ridenote/internal/conf"
)

// Command creates the serve command, the HTTP API without capture triggers.
func Command(settings *conf.Settings) *cobra.Command {
	var withCapture bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long:  "Serve recordings, exports, batch runs and metrics over HTTP. Captures can be started through the API with --capture.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := app.New(ctx, settings, app.Options{Capture: withCapture, Sinks: true})
			if err != nil {
				return err
			}
			defer a.Close()
			a.Queue.Start(ctx)

			opts := []api.ServerOption{
				api.WithDataStore(a.Store),
				api.WithBatch(a.Processor),
				api.WithQueue(a.Queue),
				api.WithExporter(a.Exporter),
				api.WithMetrics(a.Metrics),
			}
			if a.Workflow != nil {
				opts = append(opts, api.WithCapture(a.Workflow))
			}
			srv, err := api.New(settings, opts...)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}
	cmd.Flags().BoolVar(&withCapture, "capture", false, "Open the microphone and allow POST /api/v1/captures")

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.WebServer.Listen, "listen", viper.GetString("webserver.listen"), "Listen address and port")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
