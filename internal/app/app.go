// Package app wires the RideNote components for the CLI commands: store,
// event bus and its sinks, exports, the transcription and OSM clients, the
// batch processor, the follow-up queue and, in capture mode, the workflow.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/tphakala/ridenote/internal/batch"
	"github.com/tphakala/ridenote/internal/capture"
	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/datastore"
	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/events"
	"github.com/tphakala/ridenote/internal/export"
	"github.com/tphakala/ridenote/internal/jobqueue"
	"github.com/tphakala/ridenote/internal/location"
	"github.com/tphakala/ridenote/internal/logger"
	"github.com/tphakala/ridenote/internal/mqtt"
	"github.com/tphakala/ridenote/internal/notification"
	"github.com/tphakala/ridenote/internal/observability"
	"github.com/tphakala/ridenote/internal/osmnotes"
	"github.com/tphakala/ridenote/internal/recorder"
	"github.com/tphakala/ridenote/internal/transcribe"
)

// Close timeouts
const (
	busShutdownTimeout = 5 * time.Second
	queueStopTimeout   = 10 * time.Second
)

// Options selects the optional parts of the application
type Options struct {
	// Capture opens the audio device and builds the capture workflow
	Capture bool
	// Sinks subscribes the MQTT and notification consumers
	Sinks bool
	// Source overrides the microphone, used by tests
	Source recorder.Source
}

// App holds the wired components. Fields are nil when the matching feature
// is disabled.
type App struct {
	Settings  *conf.Settings
	Store     datastore.Interface
	Bus       *events.Bus
	Metrics   *observability.Metrics
	Exporter  *export.Exporter
	Engine    transcribe.Engine
	Publisher osmnotes.Publisher
	Processor *batch.Processor
	Queue     *jobqueue.JobQueue
	Location  location.Provider
	Workflow  *capture.Workflow

	mqttClient mqtt.Client
	log        logger.Logger
	closeOnce  sync.Once
}

// current returns the live settings, falling back to the startup settings
// before conf has been loaded
func current(startup *conf.Settings) func() *conf.Settings {
	return func() *conf.Settings {
		if s := conf.GetSettings(); s != nil {
			return s
		}
		return startup
	}
}

// New wires the application. On error everything opened so far is closed.
func New(ctx context.Context, settings *conf.Settings, opts Options) (_ *App, err error) {
	a := &App{Settings: settings, log: logger.Global().Module("app")}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.Metrics, err = observability.NewMetrics(); err != nil {
		return nil, errors.New(err).Component("app").Category(errors.CategorySystem).Build()
	}

	if err = a.openStore(); err != nil {
		return nil, err
	}

	a.Bus = events.New(events.DefaultConfig())
	if err = a.Bus.Subscribe("log", events.NewLogConsumer()); err != nil {
		return nil, err
	}
	if err = a.Bus.Subscribe("metrics", a.Metrics); err != nil {
		return nil, err
	}
	if opts.Sinks {
		a.subscribeSinks(ctx)
	}

	a.Exporter = export.New(afero.NewOsFs(),
		resolveOptional(settings, settings.Export.GPXPath),
		resolveOptional(settings, settings.Export.CSVPath))

	a.buildClients(ctx)

	a.Processor = batch.New(batch.Config{
		Store:     a.Store,
		Engine:    a.Engine,
		Publisher: a.Publisher,
		Exporter:  a.Exporter,
		Bus:       a.Bus,
		Metrics:   a.Metrics.Batch,
		Settings:  current(settings),
	})
	a.Queue = jobqueue.New(settings.Queue)

	if opts.Capture {
		if err = a.buildWorkflow(opts.Source); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *App) openStore() error {
	store := datastore.New(a.Settings)
	if store == nil {
		return errors.Newf("no recording store enabled, enable output.sqlite or output.mysql").
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := store.Open(); err != nil {
		return err
	}
	a.Store = store

	// rows left PROCESSING by a crash are handed back to the batch
	reset, err := store.ResetStale()
	if err != nil {
		a.log.Warn("failed to reset stale rows", logger.Error(err))
	} else if reset > 0 {
		a.log.Info("reset rows left in processing", logger.Int64("count", reset))
	}
	return nil
}

// subscribeSinks adds the MQTT and notification consumers. Failures only
// disable the sink.
func (a *App) subscribeSinks(ctx context.Context) {
	s := a.Settings

	if s.MQTT.Enabled {
		cfg := mqtt.ConfigFromSettings(s)
		client, err := mqtt.NewClient(cfg, a.Metrics.MQTT)
		if err != nil {
			a.log.Warn("MQTT disabled", logger.Error(err))
		} else {
			if err := client.Connect(ctx); err != nil {
				// paho keeps retrying in the background
				a.log.Warn("MQTT broker not reachable yet", logger.Error(err))
			}
			a.mqttClient = client
			if err := a.Bus.Subscribe("mqtt", mqtt.NewConsumer(client, cfg, false)); err != nil {
				a.log.Warn("failed to subscribe MQTT consumer", logger.Error(err))
			}
		}
	}

	if s.Notify.Enabled {
		notifier, err := notification.NewShoutrrrNotifier(s.Notify)
		if err != nil {
			a.log.Warn("notifications disabled", logger.Error(err))
		} else if err := a.Bus.Subscribe("notify", notification.NewConsumer(notifier, s.Notify.Title)); err != nil {
			a.log.Warn("failed to subscribe notification consumer", logger.Error(err))
		}
	}
}

// buildClients creates the speech and OSM clients for enabled features. A
// client that cannot be built leaves its pass disabled.
func (a *App) buildClients(ctx context.Context) {
	s := a.Settings

	if s.Transcription.Enabled {
		engine, err := transcribe.NewGoogle(ctx, s.Transcription)
		if err != nil {
			a.log.Warn("transcription disabled", logger.Error(err))
		} else {
			a.Engine = engine
		}
	}

	if s.OSM.Enabled {
		client, err := osmnotes.NewClient(s.OSM)
		if err != nil {
			a.log.Warn("OSM upload disabled", logger.Error(err))
		} else {
			a.Metrics.HTTP.Attach(client.HTTPClient(), "osm")
			a.Publisher = client
		}
	}
}

func (a *App) buildWorkflow(src recorder.Source) error {
	s := a.Settings

	provider, err := location.NewProvider(s)
	if err != nil {
		return err
	}
	a.Location = provider

	if src == nil {
		src = recorder.NewMalgoSource(s.Recording.Device, s.Recording.SampleRate)
	}

	a.Workflow = capture.New(capture.Config{
		Settings: current(s),
		Store:    a.Store,
		Location: provider,
		Recorder: recorder.New(src, s.Recording),
		Exporter: a.Exporter,
		Queue:    a.Queue,
		FollowUp: a.Processor.FollowUp(),
		Bus:      a.Bus,
		Metrics:  a.Metrics.Capture,
	})
	return nil
}

// Close stops the workflow and queue, drains the bus and closes the store.
// Calls after the first are no-ops.
func (a *App) Close() {
	a.closeOnce.Do(a.close)
}

func (a *App) close() {
	if a.Workflow != nil {
		a.Workflow.Close()
	}
	if a.Queue != nil {
		if err := a.Queue.StopWithTimeout(queueStopTimeout); err != nil {
			a.log.Warn("follow-up queue did not stop cleanly", logger.Error(err))
		}
	}
	if a.Bus != nil {
		if err := a.Bus.Shutdown(busShutdownTimeout); err != nil {
			a.log.Warn("event bus did not drain", logger.Error(err))
		}
	}
	if a.mqttClient != nil {
		a.mqttClient.Disconnect()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.log.Warn("failed to close store", logger.Error(err))
		}
	}
}

// Current returns the settings in effect
func (a *App) Current() *conf.Settings {
	return current(a.Settings)()
}

func resolveOptional(s *conf.Settings, path string) string {
	if path == "" {
		return ""
	}
	return s.ResolveDataPath(path)
}
