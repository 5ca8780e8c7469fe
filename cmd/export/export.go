package export

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/ridenote/internal/app"
	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/datastore"
)

// Command returns a cobra command that rewrites the GPX and CSV exports from
// the store
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Rebuild the GPX and CSV note exports",
		RunE: func(cmd *cobra.Command, args []string) error {
			if settings.Export.GPXPath == "" && settings.Export.CSVPath == "" {
				return fmt.Errorf("no export path configured, set --gpx or --csv")
			}

			ctx := cmd.Context()
			a, err := app.New(ctx, settings, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			recs, err := a.Store.List(datastore.ListOptions{Ascending: true})
			if err != nil {
				return err
			}
			// the flags have already overridden the configured paths
			exporter := a.Exporter
			if err := exporter.Rebuild(recs); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, path := range []string{exporter.GPXPath(), exporter.CSVPath()} {
				if path != "" {
					fmt.Fprintf(out, "wrote %s\n", path)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&settings.Export.GPXPath, "gpx", viper.GetString("export.gpxpath"), "GPX output path, relative paths are under the data directory")
	cmd.Flags().StringVar(&settings.Export.CSVPath, "csv", viper.GetString("export.csvpath"), "CSV output path, relative paths are under the data directory")

	return cmd
}
