package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/ridenote/internal/batch"
	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/datastore"
	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/export"
	"github.com/tphakala/ridenote/internal/jobqueue"
	"github.com/tphakala/ridenote/internal/observability"
)

type fakeCapture struct {
	started atomic.Int32
	busy    atomic.Bool
}

func (f *fakeCapture) Start(context.Context) error {
	if f.busy.Load() {
		return errors.New(errors.NewStd("capture already in progress")).
			Category(errors.CategoryConflict).
			Build()
	}
	f.started.Add(1)
	return nil
}

func (f *fakeCapture) Active() bool { return f.busy.Load() }

type fakeBatch struct {
	mu      sync.Mutex
	running atomic.Bool
	runs    []batch.Options
}

func (f *fakeBatch) Run(_ context.Context, opts batch.Options) (batch.Summary, error) {
	f.mu.Lock()
	f.runs = append(f.runs, opts)
	f.mu.Unlock()
	return batch.Summary{Stage: opts.Stage, Processed: 2, Succeeded: 1, Fallback: 1}, nil
}

func (f *fakeBatch) Running() bool { return f.running.Load() }

func (f *fakeBatch) Runs() []batch.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]batch.Options(nil), f.runs...)
}

type fakeQueue struct{}

func (fakeQueue) GetStats() jobqueue.JobStatsSnapshot {
	return jobqueue.JobStatsSnapshot{TotalJobs: 3, SuccessfulJobs: 2, PendingJobs: 1}
}

type fixture struct {
	server   *Server
	store    datastore.Interface
	fs       afero.Fs
	exporter *export.Exporter
	capture  *fakeCapture
	batch    *fakeBatch
	audioDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s := &conf.Settings{}
	s.Main.DataDir = t.TempDir()
	s.Output.SQLite.Enabled = true
	s.Output.SQLite.Path = "api.db"
	s.WebServer.Listen = "127.0.0.1:0"

	store := datastore.New(s)
	require.NoError(t, store.Open())
	t.Cleanup(func() { assert.NoError(t, store.Close()) })

	metrics, err := observability.NewMetrics()
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	exp := export.New(fs, "/out/notes.gpx", "/out/notes.csv")
	f := &fixture{
		store:    store,
		fs:       fs,
		exporter: exp,
		capture:  &fakeCapture{},
		batch:    &fakeBatch{},
		audioDir: t.TempDir(),
	}

	f.server, err = New(s,
		WithDataStore(store),
		WithCapture(f.capture),
		WithBatch(f.batch),
		WithQueue(fakeQueue{}),
		WithExporter(exp),
		WithMetrics(metrics),
	)
	require.NoError(t, err)
	t.Cleanup(func() { f.server.cancel(); f.server.wg.Wait() })
	return f
}

func (f *fixture) seed(t *testing.T, name string, at time.Time, v2s datastore.V2SStatus) *datastore.Recording {
	t.Helper()

	path := filepath.Join(f.audioDir, name)
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o600))
	rec := &datastore.Recording{
		FileName:       name,
		FilePath:       path,
		RecordedAt:     at,
		Latitude:       52.229676,
		Longitude:      21.012229,
		LocationSource: datastore.SourceGPS,
		V2SStatus:      v2s,
		OsmStatus:      datastore.OsmNotStarted,
	}
	if v2s == datastore.V2SCompleted {
		rec.V2SResult = "pothole on the left lane"
	}
	require.NoError(t, f.store.Save(rec))
	return rec
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Echo().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestListRecordings(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	f.seed(t, "a.wav", base, datastore.V2SNotStarted)
	f.seed(t, "b.wav", base.Add(time.Minute), datastore.V2SCompleted)
	f.seed(t, "c.wav", base.Add(2*time.Minute), datastore.V2SNotStarted)

	t.Run("newest first", func(t *testing.T) {
		res := f.do(t, http.MethodGet, "/api/v1/recordings", "")
		require.Equal(t, http.StatusOK, res.Code)
		list := decode[RecordingList](t, res)
		require.Len(t, list.Recordings, 3)
		assert.Equal(t, "c.wav", list.Recordings[0].FileName)
		assert.Equal(t, DefaultListLimit, list.Limit)
	})

	t.Run("status filter is case insensitive", func(t *testing.T) {
		res := f.do(t, http.MethodGet, "/api/v1/recordings?v2s=completed", "")
		require.Equal(t, http.StatusOK, res.Code)
		list := decode[RecordingList](t, res)
		require.Len(t, list.Recordings, 1)
		assert.Equal(t, "b.wav", list.Recordings[0].FileName)
	})

	t.Run("paging", func(t *testing.T) {
		res := f.do(t, http.MethodGet, "/api/v1/recordings?limit=1&offset=1&order=asc", "")
		require.Equal(t, http.StatusOK, res.Code)
		list := decode[RecordingList](t, res)
		require.Len(t, list.Recordings, 1)
		assert.Equal(t, "b.wav", list.Recordings[0].FileName)
	})

	t.Run("limit is capped", func(t *testing.T) {
		res := f.do(t, http.MethodGet, "/api/v1/recordings?limit=100000", "")
		require.Equal(t, http.StatusOK, res.Code)
		assert.Equal(t, MaxListLimit, decode[RecordingList](t, res).Limit)
	})

	tests := []struct {
		name   string
		target string
	}{
		{"unknown transcription status", "/api/v1/recordings?v2s=DONE"},
		{"unknown osm status", "/api/v1/recordings?osm=maybe"},
		{"negative offset", "/api/v1/recordings?offset=-1"},
		{"non numeric limit", "/api/v1/recordings?limit=ten"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.do(t, http.MethodGet, tt.target, "")
			assert.Equal(t, http.StatusBadRequest, res.Code)
			resp := decode[ErrorResponse](t, res)
			assert.Len(t, resp.CorrelationID, 8)
		})
	}
}

func TestGetRecording(t *testing.T) {
	f := newFixture(t)
	rec := f.seed(t, "a.wav", time.Now(), datastore.V2SCompleted)

	res := f.do(t, http.MethodGet, "/api/v1/recordings/"+itoa(rec.ID), "")
	require.Equal(t, http.StatusOK, res.Code)
	got := decode[datastore.Recording](t, res)
	assert.Equal(t, "pothole on the left lane", got.V2SResult)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/recordings/999", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/recordings/abc", "").Code)
}

func TestDeleteRecording(t *testing.T) {
	f := newFixture(t)
	keep := f.seed(t, "keep.wav", time.Now(), datastore.V2SNotStarted)
	gone := f.seed(t, "gone.wav", time.Now(), datastore.V2SNotStarted)

	res := f.do(t, http.MethodDelete, "/api/v1/recordings/"+itoa(gone.ID), "")
	require.Equal(t, http.StatusNoContent, res.Code)

	_, err := f.store.Get(gone.ID)
	assert.True(t, errors.IsNotFound(err))
	assert.NoFileExists(t, gone.FilePath)
	assert.FileExists(t, keep.FilePath)

	exists, err := afero.Exists(f.fs, "/out/notes.gpx")
	require.NoError(t, err)
	assert.True(t, exists, "exports are rebuilt from the remaining rows")

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/v1/recordings/"+itoa(gone.ID), "").Code)
}

func TestDeleteRecordingKeepFile(t *testing.T) {
	f := newFixture(t)
	rec := f.seed(t, "a.wav", time.Now(), datastore.V2SNotStarted)

	res := f.do(t, http.MethodDelete, "/api/v1/recordings/"+itoa(rec.ID)+"?keepFile=true", "")
	require.Equal(t, http.StatusNoContent, res.Code)
	assert.FileExists(t, rec.FilePath)
}

func TestStartCapture(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodPost, "/api/v1/captures", "")
	assert.Equal(t, http.StatusAccepted, res.Code)
	assert.Equal(t, int32(1), f.capture.started.Load())

	f.capture.busy.Store(true)
	res = f.do(t, http.MethodPost, "/api/v1/captures", "")
	assert.Equal(t, http.StatusConflict, res.Code)
	assert.Equal(t, int32(1), f.capture.started.Load())
}

func TestStartCaptureUnavailable(t *testing.T) {
	s := &conf.Settings{}
	s.Main.DataDir = t.TempDir()
	s.Output.SQLite.Enabled = true
	s.Output.SQLite.Path = "api.db"
	store := datastore.New(s)
	require.NoError(t, store.Open())
	t.Cleanup(func() { assert.NoError(t, store.Close()) })

	srv, err := New(s, WithDataStore(store))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/captures", http.NoBody)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/export/notes.gpx", http.NoBody)
	rec = httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(&conf.Settings{})
	require.Error(t, err)
}

func TestStartBatch(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodPost, "/api/v1/batch", `{"stage":"transcribe","retryFailed":true}`)
	require.Equal(t, http.StatusAccepted, res.Code)
	body := decode[map[string]string](t, res)
	assert.Equal(t, "transcribe", body["stage"])
	assert.NotEmpty(t, body["run_id"])

	require.Eventually(t, func() bool {
		state := decode[BatchState](t, f.do(t, http.MethodGet, "/api/v1/batch", ""))
		return state.LastRun != nil
	}, 2*time.Second, 10*time.Millisecond)

	runs := f.batch.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, batch.StageTranscribe, runs[0].Stage)
	assert.True(t, runs[0].RetryFailed)

	state := decode[BatchState](t, f.do(t, http.MethodGet, "/api/v1/batch", ""))
	assert.Equal(t, 2, state.LastRun.Processed)
	assert.NotNil(t, state.LastRunAt)
}

func TestStartBatchDefaultsToAllStages(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodPost, "/api/v1/batch", "")
	require.Equal(t, http.StatusAccepted, res.Code)
	assert.Equal(t, "all", decode[map[string]string](t, res)["stage"])
}

func TestStartBatchRejections(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/v1/batch", `{"stage":"upload"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/v1/batch", `{"stage":`).Code)

	f.batch.running.Store(true)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/v1/batch", `{"stage":"osm"}`).Code)
	assert.Empty(t, f.batch.Runs())
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a.wav", time.Now(), datastore.V2SNotStarted)
	f.seed(t, "b.wav", time.Now(), datastore.V2SCompleted)

	res := f.do(t, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, res.Code)
	st := decode[Status](t, res)
	assert.Equal(t, int64(2), st.Counts.Total)
	assert.Equal(t, int64(1), st.Counts.V2S[datastore.V2SCompleted])
	require.NotNil(t, st.Queue)
	assert.Equal(t, 3, st.Queue.TotalJobs)
	assert.False(t, st.CaptureActive)
}

func TestExports(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/export/notes.gpx", "").Code)

	rec := f.seed(t, "a.wav", time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC), datastore.V2SCompleted)
	require.NoError(t, f.exporter.Upsert(export.FromRecording(rec)))

	res := f.do(t, http.MethodGet, "/export/notes.gpx", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "application/gpx+xml", res.Header().Get("Content-Type"))
	assert.Contains(t, res.Body.String(), "pothole on the left lane")

	res = f.do(t, http.MethodGet, "/export/notes.csv", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, res.Header().Get("Content-Disposition"), "notes.csv")
}

func TestMetricsAndHealth(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "").Code)
	f.do(t, http.MethodGet, "/api/v1/recordings/999", "")

	res := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `http_requests_total{method="GET",path="/api/v1/recordings/:id",status_code="404"} 1`)
}

func TestStatusFromError(t *testing.T) {
	build := func(cat errors.ErrorCategory) error {
		return errors.Newf("boom").Category(cat).Build()
	}
	tests := []struct {
		err  error
		want int
	}{
		{build(errors.CategoryValidation), http.StatusBadRequest},
		{build(errors.CategoryNotFound), http.StatusNotFound},
		{build(errors.CategoryConflict), http.StatusConflict},
		{build(errors.CategoryTimeout), http.StatusGatewayTimeout},
		{build(errors.CategoryNetwork), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFromError(tt.err), tt.err)
	}
}

func TestErrorResponseScrubsSecrets(t *testing.T) {
	resp := NewErrorResponse(errors.NewStd("POST https://api.openstreetmap.org/api/0.6/notes?access_token=abc123 failed"), "Upload failed", http.StatusBadGateway)
	assert.NotContains(t, resp.Error, "abc123")
	assert.NotContains(t, resp.Error, "api.openstreetmap.org")
	assert.Equal(t, "Upload failed", resp.Message)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
