// Package importcmd provides the import command. The package name avoids the
// Go keyword.
package importcmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tphakala/ridenote/internal/app"
	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/datastore"
	"github.com/tphakala/ridenote/internal/importer"
)

// Command returns a cobra command that imports existing WAV recordings
func Command(settings *conf.Settings) *cobra.Command {
	var opts importer.Options

	cmd := &cobra.Command{
		Use:   "import <glob>",
		Short: "Import existing WAV voice notes",
		Long: `Add WAV files recorded elsewhere to the store. A sidecar file named
<file>.wav.json with {"lat": .., "lon": .., "time": RFC3339} supplies the
position; without one the note is stored without a location.

Examples:
  ridenote import "~/voice/**/*.wav"
  ridenote import --dry-run "trip/*.wav"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := app.New(ctx, settings, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := importer.New(a.Store, a.Current).Import(ctx, args[0], opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			verb := "imported"
			if opts.DryRun {
				verb = "would import"
			}
			for _, rec := range res.Imported {
				fmt.Fprintf(out, "%s %s [%s]\n", verb, rec.FileName, rec.LocationSource)
			}
			failed := make([]string, 0, len(res.Failed))
			for path := range res.Failed {
				failed = append(failed, path)
			}
			sort.Strings(failed)
			for _, path := range failed {
				fmt.Fprintf(out, "failed %s: %v\n", path, res.Failed[path])
			}
			fmt.Fprintf(out, "%d %s, %d already known, %d failed\n",
				len(res.Imported), verb, len(res.Skipped), len(res.Failed))

			if opts.DryRun || len(res.Imported) == 0 || !a.Current().Export.AutoUpdate {
				return nil
			}
			recs, err := a.Store.List(datastore.ListOptions{Ascending: true})
			if err != nil {
				return err
			}
			return a.Exporter.Rebuild(recs)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "List what would be imported without storing anything")
	cmd.Flags().BoolVar(&opts.UseStatic, "static", false, "Use the configured static location for files without a sidecar")

	return cmd
}
