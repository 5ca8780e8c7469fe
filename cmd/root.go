package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/ridenote/cmd/batch"
	"github.com/tphakala/ridenote/cmd/export"
	"github.com/tphakala/ridenote/cmd/importcmd"
	"github.com/tphakala/ridenote/cmd/list"
	"github.com/tphakala/ridenote/cmd/migrate"
	"github.com/tphakala/ridenote/cmd/notify"
	"github.com/tphakala/ridenote/cmd/record"
	"github.com/tphakala/ridenote/cmd/ride"
	"github.com/tphakala/ridenote/cmd/serve"
	"github.com/tphakala/ridenote/cmd/version"
	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ridenote",
		Short:         "Hands-free voice notes for the road",
		Long:          "RideNote records geotagged voice notes, transcribes them and publishes them as OpenStreetMap notes.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		logger.Global().Module("cli").Error("failed to set up flags", logger.Error(err))
	}

	rootCmd.AddCommand(
		ride.Command(settings),
		record.Command(settings),
		batch.Command(settings),
		importcmd.Command(settings),
		export.Command(settings),
		list.Command(settings),
		migrate.Command(settings),
		serve.Command(settings),
		notify.Command(settings),
	)
	versionCmd := version.Command()
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Skip setup for the version command
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		if settings.Debug {
			if err := enableDebugLogging(settings); err != nil {
				return err
			}
		}
		return conf.ValidateSettings(settings)
	}

	return rootCmd
}

// enableDebugLogging replaces the global logger with one logging at debug
// level, the --debug flag is parsed after the logger is first built
func enableDebugLogging(settings *conf.Settings) error {
	cfg := settings.Logging
	cfg.DefaultLevel = "debug"
	if cfg.Console != nil {
		console := *cfg.Console
		console.Level = "debug"
		cfg.Console = &console
	}
	cl, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return fmt.Errorf("error enabling debug logging: %w", err)
	}
	previous := logger.Global()
	logger.SetGlobal(cl)
	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Main.DataDir, "datadir", viper.GetString("main.datadir"), "Directory for recordings, database and exports")
	rootCmd.PersistentFlags().StringVar(&settings.Location.Provider, "location", viper.GetString("location.provider"), "Location provider (gpsd, static, none)")
	rootCmd.PersistentFlags().Float64Var(&settings.Location.Latitude, "latitude", viper.GetFloat64("location.latitude"), "Latitude used by the static provider")
	rootCmd.PersistentFlags().Float64Var(&settings.Location.Longitude, "longitude", viper.GetFloat64("location.longitude"), "Longitude used by the static provider")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
