// Package migrate provides the migrate command, which copies recordings
// between the SQLite and MySQL outputs.
package migrate

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/datastore"
)

// Config holds the command flags
type Config struct {
	SQLitePath string
	BatchSize  int
	Reverse    bool
	SkipVerify bool
	Samples    int
}

// Command creates the migrate command.
func Command(settings *conf.Settings) *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy recordings from SQLite to MySQL",
		Long: `Copy every recording from the SQLite database to the MySQL database
configured under output.mysql, keeping ids and statuses.

Rows already present in the target are skipped, so an interrupted copy can be
run again. Use --reverse to copy from MySQL back to SQLite.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd, settings, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.SQLitePath, "sqlite-path", settings.Output.SQLite.Path, "SQLite database file, relative to the data directory")
	cmd.Flags().IntVar(&cfg.BatchSize, "batch-size", datastore.DefaultMigrateBatchSize, "Number of records per batch")
	cmd.Flags().BoolVar(&cfg.Reverse, "reverse", false, "Copy from MySQL to SQLite")
	cmd.Flags().BoolVar(&cfg.SkipVerify, "skip-verify", false, "Skip post-migration verification")
	cmd.Flags().IntVar(&cfg.Samples, "samples", 100, "Number of rows compared field by field during verification")

	return cmd
}

// Run opens both stores, copies the rows and verifies the result.
func Run(cmd *cobra.Command, settings *conf.Settings, cfg Config) error {
	sqliteSettings := *settings
	if cfg.SQLitePath != "" {
		sqliteSettings.Output.SQLite.Path = cfg.SQLitePath
	}
	lite := &datastore.SQLiteStore{Settings: &sqliteSettings}
	my := &datastore.MySQLStore{Settings: settings}

	var src, dst datastore.Interface = lite, my
	if cfg.Reverse {
		src, dst = my, lite
	}

	if err := src.Open(); err != nil {
		return fmt.Errorf("failed to open source database: %w", err)
	}
	defer src.Close()
	if err := dst.Open(); err != nil {
		return fmt.Errorf("failed to open target database: %w", err)
	}
	defer dst.Close()

	out := cmd.OutOrStdout()
	stats, err := datastore.Migrate(cmd.Context(), src, dst, datastore.MigrateOptions{
		BatchSize: cfg.BatchSize,
		Progress: func(done, total int64) {
			fmt.Fprintf(os.Stderr, "\rcopied %d/%d", done, total)
		},
	})
	if stats.Source > 0 {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Fprintf(out, "Source rows: %d\nCopied: %d\nSkipped: %d\nFailed: %d\nDuration: %s\n",
		stats.Source, stats.Copied, stats.Skipped, stats.Failed, stats.Duration.Round(time.Millisecond))

	if cfg.SkipVerify {
		return nil
	}
	if err := datastore.VerifyMigration(src, dst, cfg.Samples); err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	fmt.Fprintln(out, "Verification passed")
	return nil
}
