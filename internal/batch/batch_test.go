package batch

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/datastore"
	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/events"
	"github.com/tphakala/ridenote/internal/export"
	"github.com/tphakala/ridenote/internal/jobqueue"
	"github.com/tphakala/ridenote/internal/osmnotes"
	"github.com/tphakala/ridenote/internal/transcribe"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

type fakeEngine struct {
	calls atomic.Int32
	fn    func(ctx context.Context, audio transcribe.Audio) (transcribe.Result, error)
}

func (f *fakeEngine) Transcribe(ctx context.Context, audio transcribe.Audio) (transcribe.Result, error) {
	f.calls.Add(1)
	return f.fn(ctx, audio)
}

func textEngine(text string) *fakeEngine {
	return &fakeEngine{fn: func(context.Context, transcribe.Audio) (transcribe.Result, error) {
		return transcribe.Result{Text: text, Confidence: 0.9}, nil
	}}
}

type fakePublisher struct {
	mu    sync.Mutex
	notes []string
	err   error
}

func (f *fakePublisher) CreateNote(_ context.Context, _, _ float64, text string) (osmnotes.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return osmnotes.Note{}, f.err
	}
	f.notes = append(f.notes, text)
	id := int64(len(f.notes))
	return osmnotes.Note{ID: id, URL: "https://www.openstreetmap.org/note/" + strconv.FormatInt(id, 10)}, nil
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
	settings *conf.Settings
	store    datastore.Interface
	fs       afero.Fs
	bus      *events.Bus
	events   *collector
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	settings := &conf.Settings{}
	settings.Main.DataDir = dir
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = "batch.db"
	settings.Transcription.Enabled = true
	settings.OSM.Enabled = true
	settings.Batch.ExportAfter = true

	store := datastore.New(settings)
	require.NoError(t, store.Open())
	t.Cleanup(func() { assert.NoError(t, store.Close()) })

	bus := events.New(events.DefaultConfig())
	col := &collector{}
	require.NoError(t, bus.Subscribe("test", col))
	t.Cleanup(func() { _ = bus.Close() })

	return &fixture{settings: settings, store: store, fs: afero.NewMemMapFs(), bus: bus, events: col, dir: dir}
}

func (f *fixture) processor(engine transcribe.Engine, pub osmnotes.Publisher) *Processor {
	return New(Config{
		Store:     f.store,
		Engine:    engine,
		Publisher: pub,
		Exporter:  export.New(f.fs, "/out/notes.gpx", "/out/notes.csv"),
		Bus:       f.bus,
		Settings:  func() *conf.Settings { return f.settings },
	})
}

// addRecording stores a row backed by a real one second WAV file
func (f *fixture) addRecording(t *testing.T, name string, at time.Time) *datastore.Recording {
	t.Helper()

	path := filepath.Join(f.dir, name)
	writeSilence(t, path)

	rec := &datastore.Recording{
		FileName:       name,
		FilePath:       path,
		RecordedAt:     at,
		Latitude:       52.229676,
		Longitude:      21.012229,
		LocationSource: datastore.SourceGPS,
		DurationMs:     1000,
	}
	require.NoError(t, f.store.Save(rec))
	return rec
}

// drainedEvents closes the bus and returns everything it delivered
func (f *fixture) drainedEvents(t *testing.T) []events.Event {
	t.Helper()
	require.NoError(t, f.bus.Close())
	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	return append([]events.Event(nil), f.events.events...)
}

func writeSilence(t *testing.T, path string) {
	t.Helper()

	out, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(out, conf.SampleRate, conf.BitDepth, conf.NumChannels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: conf.NumChannels, SampleRate: conf.SampleRate},
		Data:           make([]int, conf.SampleRate),
		SourceBitDepth: conf.BitDepth,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, out.Close())
}

func mustGet(t *testing.T, store datastore.Interface, id uint) *datastore.Recording {
	t.Helper()
	rec, err := store.Get(id)
	require.NoError(t, err)
	return rec
}

func TestRunTranscribesAndPublishes(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 10, 19, 14, 30, 0, 0, time.UTC)
	first := f.addRecording(t, "a.wav", base)
	second := f.addRecording(t, "b.wav", base.Add(time.Minute))

	pub := &fakePublisher{}
	p := f.processor(textEngine("pothole on the left"), pub)

	summary, err := p.Run(t.Context(), Options{Stage: StageAll})
	require.NoError(t, err)

	assert.Equal(t, StageAll, summary.Stage)
	require.Len(t, summary.Stages, 2)
	assert.Equal(t, 2, summary.Stages[0].Succeeded)
	assert.Equal(t, 2, summary.Stages[1].Succeeded)
	assert.Equal(t, 4, summary.Processed)
	assert.False(t, summary.Cancelled)

	for _, id := range []uint{first.ID, second.ID} {
		rec := mustGet(t, f.store, id)
		assert.Equal(t, datastore.V2SCompleted, rec.V2SStatus)
		assert.Equal(t, "pothole on the left", rec.V2SResult)
		assert.Equal(t, datastore.OsmCompleted, rec.OsmStatus)
		assert.Contains(t, rec.OsmResult, "https://www.openstreetmap.org/note/")
	}
	assert.Equal(t, []string{"pothole on the left", "pothole on the left"}, pub.notes)

	gpx, err := afero.ReadFile(f.fs, "/out/notes.gpx")
	require.NoError(t, err)
	assert.Contains(t, string(gpx), "pothole on the left")
}

func TestRunEmitsProgressAndCompletion(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 10, 19, 14, 30, 0, 0, time.UTC)
	f.addRecording(t, "a.wav", base)
	f.addRecording(t, "b.wav", base.Add(time.Minute))

	p := f.processor(textEngine("gravel"), nil)
	_, err := p.Run(t.Context(), Options{Stage: StageTranscribe})
	require.NoError(t, err)

	var progress []events.BatchProgress
	var complete []events.BatchComplete
	for _, ev := range f.drainedEvents(t) {
		switch e := ev.(type) {
		case events.BatchProgress:
			progress = append(progress, e)
		case events.BatchComplete:
			complete = append(complete, e)
		}
	}

	require.Len(t, progress, 2)
	assert.Equal(t, 1, progress[0].Index)
	assert.Equal(t, 2, progress[1].Index)
	assert.Equal(t, 2, progress[1].Total)
	assert.Equal(t, "a.wav", progress[0].FileName)
	assert.Equal(t, "COMPLETED", progress[0].Status)

	require.Len(t, complete, 1)
	assert.Equal(t, "transcribe", complete[0].Stage)
	assert.Equal(t, 2, complete[0].Processed)
	assert.Equal(t, 2, complete[0].Succeeded)
}

func TestRunStoresFallbackWhenEngineFails(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2026, 10, 19, 14, 30, 0, 0, time.UTC)
	rec := f.addRecording(t, "a.wav", at)

	engine := &fakeEngine{fn: func(context.Context, transcribe.Audio) (transcribe.Result, error) {
		return transcribe.Result{}, errors.Newf("speech API returned 503").
			Component("transcribe").
			Category(errors.CategoryTranscription).
			Build()
	}}
	p := f.processor(engine, nil)

	summary, err := p.Run(t.Context(), Options{Stage: StageTranscribe})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Fallback)

	got := mustGet(t, f.store, rec.ID)
	assert.Equal(t, datastore.V2SFallback, got.V2SStatus)
	assert.Equal(t, "Voice note 2026-10-19 14:30 at 52.229676,21.012229", got.V2SResult)
	assert.Equal(t, "speech API returned 503", got.ErrorMessage)
}

func TestRunStoresFallbackOnEmptyTranscript(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecording(t, "a.wav", time.Now())

	p := f.processor(textEngine("   "), nil)
	_, err := p.Run(t.Context(), Options{Stage: StageTranscribe})
	require.NoError(t, err)

	got := mustGet(t, f.store, rec.ID)
	assert.Equal(t, datastore.V2SFallback, got.V2SStatus)
	assert.Equal(t, transcribe.ErrNoSpeech.Error(), got.ErrorMessage)
}

func TestRunMarksMissingAudioAsError(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecording(t, "a.wav", time.Now())
	require.NoError(t, os.Remove(rec.FilePath))
	ok := f.addRecording(t, "b.wav", time.Now().Add(time.Second))

	engine := textEngine("speed bump")
	p := f.processor(engine, nil)

	summary, err := p.Run(t.Context(), Options{Stage: StageTranscribe})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Succeeded, "a failing row must not stop the loop")
	assert.Equal(t, int32(1), engine.calls.Load())

	got := mustGet(t, f.store, rec.ID)
	assert.Equal(t, datastore.V2SError, got.V2SStatus)
	assert.NotEmpty(t, got.ErrorMessage)
	assert.Equal(t, datastore.V2SCompleted, mustGet(t, f.store, ok.ID).V2SStatus)
}

func TestRunAppliesItemTimeout(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecording(t, "a.wav", time.Now())

	engine := &fakeEngine{fn: func(ctx context.Context, _ transcribe.Audio) (transcribe.Result, error) {
		<-ctx.Done()
		return transcribe.Result{}, ctx.Err()
	}}
	p := f.processor(engine, nil)

	_, err := p.Run(t.Context(), Options{Stage: StageTranscribe, TranscribeTimeout: 50 * time.Millisecond})
	require.NoError(t, err)

	got := mustGet(t, f.store, rec.ID)
	assert.Equal(t, datastore.V2SFallback, got.V2SStatus)
	assert.Equal(t, "transcription timed out after 50ms", got.ErrorMessage)
}

func TestRunCancellationRestoresStatus(t *testing.T) {
	f := newFixture(t)
	first := f.addRecording(t, "a.wav", time.Now())
	second := f.addRecording(t, "b.wav", time.Now().Add(time.Second))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	engine := &fakeEngine{fn: func(ctx context.Context, _ transcribe.Audio) (transcribe.Result, error) {
		cancel()
		<-ctx.Done()
		return transcribe.Result{}, ctx.Err()
	}}
	p := f.processor(engine, nil)

	summary, err := p.Run(ctx, Options{Stage: StageTranscribe})
	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, int32(1), engine.calls.Load())

	assert.Equal(t, datastore.V2SNotStarted, mustGet(t, f.store, first.ID).V2SStatus)
	assert.Equal(t, datastore.V2SNotStarted, mustGet(t, f.store, second.ID).V2SStatus)
}

func TestRunMarksDisabledFeatures(t *testing.T) {
	f := newFixture(t)
	f.settings.Transcription.Enabled = false
	rec := f.addRecording(t, "a.wav", time.Now())

	engine := textEngine("never")
	p := f.processor(engine, nil)

	summary, err := p.Run(t.Context(), Options{Stage: StageTranscribe})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Disabled)
	assert.Zero(t, engine.calls.Load())
	assert.Equal(t, datastore.V2SDisabled, mustGet(t, f.store, rec.ID).V2SStatus)
}

func TestRunUploadWithoutLocationIsDisabled(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecording(t, "a.wav", time.Now())
	require.NoError(t, f.store.UpdateV2S(rec.ID, datastore.V2SProcessing, "", ""))
	require.NoError(t, f.store.UpdateV2S(rec.ID, datastore.V2SCompleted, "loose gravel", ""))

	noFix := &datastore.Recording{
		FileName:       "nofix.wav",
		FilePath:       filepath.Join(f.dir, "nofix.wav"),
		RecordedAt:     time.Now(),
		LocationSource: datastore.SourceNone,
	}
	require.NoError(t, f.store.Save(noFix))
	require.NoError(t, f.store.UpdateV2S(noFix.ID, datastore.V2SProcessing, "", ""))
	require.NoError(t, f.store.UpdateV2S(noFix.ID, datastore.V2SCompleted, "somewhere", ""))

	pub := &fakePublisher{}
	p := f.processor(nil, pub)

	summary, err := p.Run(t.Context(), Options{Stage: StageOSM})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Disabled)
	assert.Zero(t, summary.Failed)
	assert.Len(t, pub.notes, 1)

	got := mustGet(t, f.store, noFix.ID)
	assert.Equal(t, datastore.OsmDisabled, got.OsmStatus)
	assert.Equal(t, datastore.NoLocationReason, got.ErrorMessage)

	// a retry run does not pick the row up again
	summary, err = p.Run(t.Context(), Options{Stage: StageOSM, RetryFailed: true})
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	assert.Len(t, pub.notes, 1)
}

func TestRetryDisablesUploadErrorWithoutLocation(t *testing.T) {
	f := newFixture(t)
	noFix := &datastore.Recording{
		FileName:       "nofix.wav",
		FilePath:       filepath.Join(f.dir, "nofix.wav"),
		RecordedAt:     time.Now(),
		LocationSource: datastore.SourceNone,
	}
	require.NoError(t, f.store.Save(noFix))
	require.NoError(t, f.store.UpdateV2S(noFix.ID, datastore.V2SProcessing, "", ""))
	require.NoError(t, f.store.UpdateV2S(noFix.ID, datastore.V2SCompleted, "somewhere", ""))
	require.NoError(t, f.store.UpdateOSM(noFix.ID, datastore.OsmProcessing, "", ""))
	require.NoError(t, f.store.UpdateOSM(noFix.ID, datastore.OsmError, "", "recording has no location"))

	pub := &fakePublisher{}
	summary, err := f.processor(nil, pub).Run(t.Context(), Options{Stage: StageOSM, RetryFailed: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Disabled)
	assert.Empty(t, pub.notes)
	assert.Equal(t, datastore.OsmDisabled, mustGet(t, f.store, noFix.ID).OsmStatus)
}

func TestRetryTranscribesFallbackWithFailedUpload(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecording(t, "a.wav", time.Date(2026, 10, 19, 14, 30, 0, 0, time.UTC))

	failing := &fakeEngine{fn: func(context.Context, transcribe.Audio) (transcribe.Result, error) {
		return transcribe.Result{}, errors.NewStd("speech API unavailable")
	}}
	pub := &fakePublisher{err: errors.NewStd("osm down")}

	summary, err := f.processor(failing, pub).Run(t.Context(), Options{Stage: StageAll})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Fallback)
	assert.Equal(t, 1, summary.Failed)

	got := mustGet(t, f.store, rec.ID)
	require.Equal(t, datastore.V2SFallback, got.V2SStatus)
	require.Equal(t, datastore.OsmError, got.OsmStatus)
	require.Equal(t, "osm down", got.ErrorMessage)

	pub.err = nil
	summary, err = f.processor(textEngine("deer on the road"), pub).Run(t.Context(), Options{Stage: StageAll, RetryFailed: true})
	require.NoError(t, err)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 2, summary.Succeeded)

	got = mustGet(t, f.store, rec.ID)
	assert.Equal(t, datastore.V2SCompleted, got.V2SStatus)
	assert.Equal(t, "deer on the road", got.V2SResult)
	assert.Equal(t, datastore.OsmCompleted, got.OsmStatus)
	assert.Equal(t, []string{"deer on the road"}, pub.notes)
}

func TestRetryFailedSkipsFallbackAlreadyPublished(t *testing.T) {
	f := newFixture(t)
	published := f.addRecording(t, "a.wav", time.Now())
	retry := f.addRecording(t, "b.wav", time.Now().Add(time.Second))

	for _, id := range []uint{published.ID, retry.ID} {
		require.NoError(t, f.store.UpdateV2S(id, datastore.V2SProcessing, "", ""))
		require.NoError(t, f.store.UpdateV2S(id, datastore.V2SFallback, "Voice note", "offline"))
	}
	require.NoError(t, f.store.UpdateOSM(published.ID, datastore.OsmProcessing, "", ""))
	require.NoError(t, f.store.UpdateOSM(published.ID, datastore.OsmCompleted, "https://www.openstreetmap.org/note/9", ""))

	engine := textEngine("crosswind on the bridge")
	p := f.processor(engine, nil)

	summary, err := p.Run(t.Context(), Options{Stage: StageTranscribe, RetryFailed: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, int32(1), engine.calls.Load())

	assert.Equal(t, datastore.V2SFallback, mustGet(t, f.store, published.ID).V2SStatus)
	assert.Equal(t, "crosswind on the bridge", mustGet(t, f.store, retry.ID).V2SResult)
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	p := f.processor(nil, nil)
	p.running.Store(true)

	_, err := p.Run(t.Context(), Options{})
	require.ErrorIs(t, err, ErrBatchInProgress)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))
}

func TestFollowUpActionProcessesOneRecording(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecording(t, "a.wav", time.Now())

	pub := &fakePublisher{}
	p := f.processor(textEngine("fuel station closed"), pub)

	q := jobqueue.NewJobQueue(jobqueue.WithProcessingInterval(10 * time.Millisecond))
	q.Start(t.Context())
	t.Cleanup(func() { _ = q.StopWithTimeout(time.Second) })

	job, err := q.Enqueue(p.FollowUp(), rec, jobqueue.RetryConfig{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		info, ok := q.Job(job.ID)
		return ok && info.Status == jobqueue.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	got := mustGet(t, f.store, rec.ID)
	assert.Equal(t, datastore.V2SCompleted, got.V2SStatus)
	assert.Equal(t, datastore.OsmCompleted, got.OsmStatus)
}

func TestProcessOneReportsErrors(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecording(t, "a.wav", time.Now())

	pub := &fakePublisher{err: errors.Newf("HTTP 500").Component("osmnotes").Category(errors.CategoryOSMUpload).Build()}
	p := f.processor(textEngine("wet leaves"), pub)

	err := p.ProcessOne(t.Context(), rec)
	require.Error(t, err)
	assert.Equal(t, datastore.V2SCompleted, rec.V2SStatus)
	assert.Equal(t, datastore.OsmError, rec.OsmStatus)
	assert.Equal(t, "HTTP 500", rec.ErrorMessage)

	require.Error(t, p.FollowUp().Execute(t.Context(), "not a recording"))
}

func TestParseStage(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Stage{"": StageAll, "all": StageAll, "osm": StageOSM, "transcribe": StageTranscribe} {
		got, err := ParseStage(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseStage("upload")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}
