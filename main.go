package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/tphakala/ridenote/cmd"
	"github.com/tphakala/ridenote/internal/buildinfo"
	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/logger"
	"github.com/tphakala/ridenote/internal/privacy"
)

// buildDate and version are set at build time with -ldflags
var (
	buildDate string
	version   string
)

const (
	systemIDFile          = ".system_id"
	telemetryFlushTimeout = 2 * time.Second
)

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return 1
	}

	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		return 1
	}
	logger.SetGlobal(cl)
	defer func() {
		_ = logger.Global().Flush()
		_ = logger.Global().Close()
	}()
	log := logger.Global().Module("main")

	buildinfo.Set(&buildinfo.Context{
		Version:   version,
		BuildDate: buildDate,
		SystemID:  loadSystemID(settings, log),
	})

	errors.SetPrivacyScrubber(privacy.ScrubMessage)
	if err := errors.InitSentry(settings.Telemetry.SentryDSN, buildinfo.Get().GetVersion(), settings.Telemetry.Environment); err != nil {
		log.Warn("error reporting disabled", logger.Error(err))
	}
	defer errors.FlushTelemetry(telemetryFlushTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", privacy.ScrubMessage(err.Error()))
		return 1
	}
	return 0
}

// loadSystemID returns the per-install identifier kept in the data
// directory, creating it on first run
func loadSystemID(settings *conf.Settings, log logger.Logger) string {
	path := settings.ResolveDataPath(systemIDFile)
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); privacy.IsValidSystemID(id) {
			return id
		}
	}

	id, err := privacy.GenerateSystemID()
	if err != nil {
		log.Warn("failed to generate system id", logger.Error(err))
		return ""
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err == nil {
		if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
			log.Debug("failed to persist system id", logger.Error(err))
		}
	}
	return id
}
