package list

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/ridenote/internal/app"
	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/datastore"
)

// noteWidth truncates transcripts in the table
const noteWidth = 48

// Command returns a cobra command that lists stored recordings
func Command(settings *conf.Settings) *cobra.Command {
	var (
		v2s, osm string
		limit    int
		asJSON   bool
		counts   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored voice notes",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := datastore.ListOptions{Limit: limit}
			var err error
			if v2s != "" {
				if opts.V2S, err = datastore.ParseV2SStatus(strings.ToUpper(v2s)); err != nil {
					return err
				}
			}
			if osm != "" {
				if opts.OSM, err = datastore.ParseOsmStatus(strings.ToUpper(osm)); err != nil {
					return err
				}
			}

			a, err := app.New(cmd.Context(), settings, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if counts {
				c, err := a.Store.Counts()
				if err != nil {
					return err
				}
				return printCounts(out, c)
			}

			recs, err := a.Store.List(opts)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(recs)
			}
			return printTable(out, recs)
		},
	}

	cmd.Flags().StringVar(&v2s, "v2s", "", "Filter by transcription status, e.g. NOT_STARTED or FALLBACK")
	cmd.Flags().StringVar(&osm, "osm", "", "Filter by OSM upload status, e.g. COMPLETED")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of notes, 0 for all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	cmd.Flags().BoolVar(&counts, "counts", false, "Print totals per status instead of notes")

	return cmd
}

func printTable(w io.Writer, recs []datastore.Recording) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRECORDED\tLOCATION\tV2S\tOSM\tNOTE")
	for i := range recs {
		r := &recs[i]
		loc := "-"
		if r.LocationSource != datastore.SourceNone {
			loc = fmt.Sprintf("%.5f,%.5f", r.Latitude, r.Longitude)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.RecordedAt.Local().Format(time.DateTime), loc,
			r.V2SStatus, r.OsmStatus, truncate(r.Text(), noteWidth))
	}
	return tw.Flush()
}

func printCounts(w io.Writer, c datastore.StatusCounts) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "total\t%d\n", c.Total)
	for _, st := range datastore.V2SStatuses() {
		fmt.Fprintf(tw, "v2s %s\t%d\n", st, c.V2S[st])
	}
	for _, st := range datastore.OsmStatuses() {
		fmt.Fprintf(tw, "osm %s\t%d\n", st, c.OSM[st])
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
