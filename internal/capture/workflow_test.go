package capture

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/ridenote/internal/announce"
	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/datastore"
	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/events"
	"github.com/tphakala/ridenote/internal/export"
	"github.com/tphakala/ridenote/internal/jobqueue"
	"github.com/tphakala/ridenote/internal/location"
	"github.com/tphakala/ridenote/internal/recorder"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

// silentSource delivers one block of silence per Start
type silentSource struct{}

func (silentSource) Start(_ context.Context, onData func([]byte)) error {
	onData(make([]byte, conf.SampleRate*2/10)) // 100 ms
	return nil
}
func (silentSource) Stop() error { return nil }
func (silentSource) Format() recorder.Format {
	return recorder.Format{SampleRate: conf.SampleRate, Channels: 1, BitDepth: 16}
}

type failingSource struct{ silentSource }

func (failingSource) Start(context.Context, func([]byte)) error {
	return errors.NewStd("no capture device")
}

type fakeAnnouncer struct {
	mu      sync.Mutex
	initErr error
	said    []string
}

func (a *fakeAnnouncer) Init(context.Context) error { return a.initErr }
func (a *fakeAnnouncer) Say(_ context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.said = append(a.said, text)
	return nil
}
func (a *fakeAnnouncer) Close() error { return nil }

func (a *fakeAnnouncer) Said() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.said...)
}

type collector struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *collector) Consume(ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

type fixture struct {
	settings  *conf.Settings
	store     datastore.Interface
	fs        afero.Fs
	bus       *events.Bus
	events    *collector
	announcer *fakeAnnouncer
	cfg       Config
}

func newFixture(t *testing.T, provider location.Provider) *fixture {
	t.Helper()

	s := &conf.Settings{}
	s.Main.DataDir = t.TempDir()
	s.Main.RecordingsDir = "recordings"
	s.Output.SQLite.Enabled = true
	s.Output.SQLite.Path = "capture.db"
	s.Recording.Duration = 50 * time.Millisecond
	s.Recording.Tick = 10 * time.Millisecond
	s.Location.Timeout = 20 * time.Millisecond
	s.Announce.Text = "Recording"
	s.Announce.DoneText = "Saved"
	s.Transcription.Enabled = true
	s.Export.AutoUpdate = true
	s.Queue.Enabled = true

	store := datastore.New(s)
	require.NoError(t, store.Open())
	t.Cleanup(func() { assert.NoError(t, store.Close()) })

	bus := events.New(events.DefaultConfig())
	col := &collector{}
	require.NoError(t, bus.Subscribe("test", col))
	t.Cleanup(func() { _ = bus.Close() })

	fs := afero.NewMemMapFs()
	ann := &fakeAnnouncer{}

	f := &fixture{settings: s, store: store, fs: fs, bus: bus, events: col, announcer: ann}
	f.cfg = Config{
		Settings:  func() *conf.Settings { return s },
		Store:     store,
		Location:  provider,
		Recorder:  recorder.New(silentSource{}, s.Recording),
		Announcer: func(*conf.Settings) announce.Announcer { return ann },
		Exporter:  export.New(fs, "/out/notes.gpx", "/out/notes.csv"),
		Bus:       bus,
	}
	return f
}

func (f *fixture) drainedEvents(t *testing.T) []events.Event {
	t.Helper()
	require.NoError(t, f.bus.Close())
	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	return append([]events.Event(nil), f.events.events...)
}

func staticProvider(t *testing.T) location.Provider {
	t.Helper()
	p, err := location.NewStatic(52.229676, 21.012229)
	require.NoError(t, err)
	return p
}

func TestRunStoresRecordingAndSignalsEachStage(t *testing.T) {
	f := newFixture(t, staticProvider(t))
	w := New(f.cfg)

	rec, err := w.Run(t.Context())
	require.NoError(t, err)
	require.NotNil(t, rec)

	stored, err := f.store.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.V2SNotStarted, stored.V2SStatus)
	assert.Equal(t, datastore.OsmDisabled, stored.OsmStatus)
	assert.Equal(t, datastore.SourceStatic, stored.LocationSource)
	assert.InDelta(t, 52.229676, stored.Latitude, 1e-9)
	assert.True(t, strings.HasPrefix(stored.FileName, "ridenote_"))
	assert.FileExists(t, stored.FilePath)

	assert.Equal(t, []string{"Recording", "Saved"}, f.announcer.Said())

	gpx, err := afero.ReadFile(f.fs, "/out/notes.gpx")
	require.NoError(t, err)
	assert.Contains(t, string(gpx), `lat="52.229676"`)

	evs := f.drainedEvents(t)
	require.NotEmpty(t, evs)
	assert.IsType(t, events.CaptureStarted{}, evs[0])
	assert.IsType(t, events.LocationAcquired{}, evs[1])
	finish, ok := evs[len(evs)-1].(events.FinishActivity)
	require.True(t, ok, "last event must be FinishActivity")
	assert.Equal(t, rec.ID, finish.RecordingID)
	assert.Empty(t, finish.Error)

	var ticks, saved int
	for _, ev := range evs {
		switch ev.(type) {
		case events.RecordingTick:
			ticks++
		case events.RecordingSaved:
			saved++
		}
	}
	assert.GreaterOrEqual(t, ticks, 2)
	assert.Equal(t, 1, saved)
}

func TestRunWithoutFixSavesWithoutCoordinates(t *testing.T) {
	f := newFixture(t, location.None{})
	f.settings.OSM.Enabled = true
	w := New(f.cfg)

	rec, err := w.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, datastore.SourceNone, rec.LocationSource)
	assert.Zero(t, rec.Latitude)
	assert.Zero(t, rec.Longitude)
	assert.Equal(t, datastore.OsmDisabled, rec.OsmStatus)
	assert.Equal(t, datastore.NoLocationReason, rec.ErrorMessage)

	exists, err := afero.Exists(f.fs, "/out/notes.gpx")
	require.NoError(t, err)
	assert.False(t, exists, "notes without a position are not exported")

	for _, ev := range f.drainedEvents(t) {
		if loc, ok := ev.(events.LocationAcquired); ok {
			assert.NotEmpty(t, loc.Error)
			assert.Equal(t, datastore.SourceNone, loc.Source)
		}
	}
}

func TestAnnouncerFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, staticProvider(t))
	f.announcer.initErr = errors.NewStd("espeak-ng not found")
	w := New(f.cfg)

	rec, err := w.Run(t.Context())
	require.NoError(t, err)
	assert.NotNil(t, rec)
	assert.Empty(t, f.announcer.Said())
}

func TestDisabledFeaturesAreStoredAsDisabled(t *testing.T) {
	f := newFixture(t, staticProvider(t))
	f.settings.Transcription.Enabled = false
	w := New(f.cfg)

	rec, err := w.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, datastore.V2SDisabled, rec.V2SStatus)
	assert.Equal(t, datastore.OsmDisabled, rec.OsmStatus)
}

func TestOnlyOneCaptureAtATime(t *testing.T) {
	f := newFixture(t, staticProvider(t))
	f.settings.Recording.Duration = 5 * time.Second
	f.cfg.Recorder = recorder.New(silentSource{}, f.settings.Recording)
	w := New(f.cfg)

	require.NoError(t, w.Start(t.Context()))
	assert.True(t, w.Active())

	_, err := w.Run(t.Context())
	require.ErrorIs(t, err, ErrCaptureInProgress)
	require.ErrorIs(t, w.Start(t.Context()), ErrCaptureInProgress)

	w.Close()
	assert.False(t, w.Active())
}

func TestFollowUpIsQueued(t *testing.T) {
	f := newFixture(t, staticProvider(t))

	got := make(chan *datastore.Recording, 1)
	f.cfg.FollowUp = jobqueue.ActionFunc(func(_ context.Context, data any) error {
		got <- data.(*datastore.Recording)
		return nil
	})
	q := jobqueue.NewJobQueue(jobqueue.WithProcessingInterval(10 * time.Millisecond))
	q.Start(t.Context())
	t.Cleanup(func() { _ = q.StopWithTimeout(time.Second) })
	f.cfg.Queue = q

	rec, err := New(f.cfg).Run(t.Context())
	require.NoError(t, err)

	select {
	case queued := <-got:
		assert.Equal(t, rec.ID, queued.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("follow-up job did not run")
	}
}

func TestRecordingFailureIsReported(t *testing.T) {
	f := newFixture(t, staticProvider(t))
	f.cfg.Recorder = recorder.New(failingSource{}, f.settings.Recording)
	w := New(f.cfg)

	_, err := w.Run(t.Context())
	require.Error(t, err)

	evs := f.drainedEvents(t)
	finish, ok := evs[len(evs)-1].(events.FinishActivity)
	require.True(t, ok)
	assert.Equal(t, "no capture device", finish.Error)
	assert.Zero(t, finish.RecordingID)
}

func TestStdinTriggers(t *testing.T) {
	out := make(chan Trigger, 1)
	require.NoError(t, StdinTriggers(t.Context(), strings.NewReader("\n\n\n"), out))

	assert.Len(t, out, 1, "triggers beyond the buffer are dropped")
	assert.Equal(t, TriggerStdin, <-out)
}

func TestServeStartsCaptureOnTrigger(t *testing.T) {
	f := newFixture(t, staticProvider(t))
	w := New(f.cfg)

	triggers := make(chan Trigger, 1)
	triggers <- TriggerAPI
	close(triggers)

	require.NoError(t, w.Serve(t.Context(), triggers))

	recs, err := f.store.List(datastore.ListOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	_, statErr := os.Stat(recs[0].FilePath)
	assert.NoError(t, statErr)
}
