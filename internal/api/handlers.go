package api

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/ridenote/internal/batch"
	"github.com/tphakala/ridenote/internal/datastore"
	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/jobqueue"
	"github.com/tphakala/ridenote/internal/logger"
)

// RecordingList is the response of GET /api/v1/recordings
type RecordingList struct {
	Recordings []datastore.Recording `json:"recordings"`
	Limit      int                   `json:"limit"`
	Offset     int                   `json:"offset"`
}

// BatchRequest is the body of POST /api/v1/batch
type BatchRequest struct {
	Stage       string `json:"stage"`
	RetryFailed bool   `json:"retryFailed"`
}

// BatchState is the response of GET /api/v1/batch
type BatchState struct {
	Running   bool           `json:"running"`
	LastRun   *batch.Summary `json:"lastRun,omitempty"`
	LastRunAt *time.Time     `json:"lastRunAt,omitempty"`
	LastError string         `json:"lastError,omitempty"`
}

// Status is the response of GET /api/v1/status
type Status struct {
	Counts        datastore.StatusCounts     `json:"counts"`
	Queue         *jobqueue.JobStatsSnapshot `json:"queue,omitempty"`
	CaptureActive bool                       `json:"captureActive"`
	BatchRunning  bool                       `json:"batchRunning"`
	Uptime        string                     `json:"uptime"`
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.Newf("%s must be a non-negative integer", name).
			Component("api").
			Category(errors.CategoryValidation).
			Context("value", raw).
			Build()
	}
	return n, nil
}

func recordingID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, errors.Newf("invalid recording id %q", c.Param("id")).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return uint(id), nil
}

// listRecordings handles GET /api/v1/recordings
func (s *Server) listRecordings(c echo.Context) error {
	limit, err := queryInt(c, "limit", DefaultListLimit)
	if err != nil {
		return s.HandleError(c, err, "Invalid limit", http.StatusBadRequest)
	}
	limit = min(max(limit, 1), MaxListLimit)
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return s.HandleError(c, err, "Invalid offset", http.StatusBadRequest)
	}

	opts := datastore.ListOptions{Limit: limit, Offset: offset}
	if raw := c.QueryParam("v2s"); raw != "" {
		if opts.V2S, err = datastore.ParseV2SStatus(raw); err != nil {
			return s.HandleError(c, err, "Invalid transcription status", http.StatusBadRequest)
		}
	}
	if raw := c.QueryParam("osm"); raw != "" {
		if opts.OSM, err = datastore.ParseOsmStatus(raw); err != nil {
			return s.HandleError(c, err, "Invalid OSM status", http.StatusBadRequest)
		}
	}
	opts.Ascending = c.QueryParam("order") == "asc"

	recs, err := s.store.List(opts)
	if err != nil {
		return s.HandleError(c, err, "Failed to list recordings", 0)
	}
	if recs == nil {
		recs = []datastore.Recording{}
	}
	return c.JSON(http.StatusOK, RecordingList{Recordings: recs, Limit: limit, Offset: offset})
}

// getRecording handles GET /api/v1/recordings/:id
func (s *Server) getRecording(c echo.Context) error {
	id, err := recordingID(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid recording id", http.StatusBadRequest)
	}
	rec, err := s.store.Get(id)
	if err != nil {
		return s.HandleError(c, err, "Recording not found", 0)
	}
	return c.JSON(http.StatusOK, rec)
}

// deleteRecording handles DELETE /api/v1/recordings/:id. The audio file is
// removed too unless keepFile=true.
func (s *Server) deleteRecording(c echo.Context) error {
	id, err := recordingID(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid recording id", http.StatusBadRequest)
	}
	rec, err := s.store.Get(id)
	if err != nil {
		return s.HandleError(c, err, "Recording not found", 0)
	}
	if err := s.store.Delete(id); err != nil {
		return s.HandleError(c, err, "Failed to delete recording", 0)
	}
	s.statusCache.Flush()

	log := s.log.WithContext(c.Request().Context())
	if c.QueryParam("keepFile") != "true" && rec.FilePath != "" {
		if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove audio file", logger.String("path", rec.FilePath), logger.Error(err))
		}
	}
	if s.exporter != nil {
		if recs, err := s.store.List(datastore.ListOptions{Ascending: true}); err == nil {
			if err := s.exporter.Rebuild(recs); err != nil {
				log.Warn("failed to rebuild exports after delete", logger.Error(err))
			}
		}
	}

	log.Info("recording deleted", logger.Uint64("recording_id", uint64(id)))
	return c.NoContent(http.StatusNoContent)
}

// startCapture handles POST /api/v1/captures
func (s *Server) startCapture(c echo.Context) error {
	if s.capture == nil {
		return s.HandleError(c, nil, "Capture is not available in this mode", http.StatusServiceUnavailable)
	}
	// the capture outlives the request
	if err := s.capture.Start(s.ctx); err != nil {
		if errors.IsCategory(err, errors.CategoryConflict) {
			return s.HandleError(c, err, "Capture already in progress", http.StatusConflict)
		}
		return s.HandleError(c, err, "Failed to start capture", 0)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "started"})
}

// batchStatus handles GET /api/v1/batch
func (s *Server) batchStatus(c echo.Context) error {
	if s.batch == nil {
		return s.HandleError(c, nil, "Batch processing is not available", http.StatusServiceUnavailable)
	}
	s.batchMu.Lock()
	state := BatchState{Running: s.batch.Running(), LastRun: s.lastBatch, LastError: s.lastErr}
	if !s.lastBatchAt.IsZero() {
		at := s.lastBatchAt
		state.LastRunAt = &at
	}
	s.batchMu.Unlock()
	return c.JSON(http.StatusOK, state)
}

// startBatch handles POST /api/v1/batch. The run continues after the
// response; progress is published on the event bus.
func (s *Server) startBatch(c echo.Context) error {
	if s.batch == nil {
		return s.HandleError(c, nil, "Batch processing is not available", http.StatusServiceUnavailable)
	}

	var req BatchRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return s.HandleError(c, err, "Invalid request body", http.StatusBadRequest)
		}
	}
	stage := batch.StageAll
	if req.Stage != "" {
		var err error
		if stage, err = batch.ParseStage(req.Stage); err != nil {
			return s.HandleError(c, err, "Invalid batch stage", http.StatusBadRequest)
		}
	}
	if s.batch.Running() {
		return s.HandleError(c, nil, "Batch already in progress", http.StatusConflict)
	}

	runID := uuid.NewString()
	opts := batch.Options{Stage: stage, RetryFailed: req.RetryFailed}
	s.wg.Go(func() {
		summary, err := s.batch.Run(s.ctx, opts)

		s.batchMu.Lock()
		defer s.batchMu.Unlock()
		s.lastBatchAt = time.Now()
		s.lastErr = ""
		if err != nil {
			s.lastErr = err.Error()
			s.log.Warn("batch run failed", logger.String("run_id", runID), logger.Error(err))
			return
		}
		s.lastBatch = &summary
		s.statusCache.Flush()
	})

	return c.JSON(http.StatusAccepted, map[string]string{
		"status": "started",
		"stage":  string(stage),
		"run_id": runID,
	})
}

// status handles GET /api/v1/status
func (s *Server) status(c echo.Context) error {
	var counts datastore.StatusCounts
	if cached, ok := s.statusCache.Get("counts"); ok {
		counts = cached.(datastore.StatusCounts)
	} else {
		var err error
		if counts, err = s.store.Counts(); err != nil {
			return s.HandleError(c, err, "Failed to count recordings", 0)
		}
		s.statusCache.SetDefault("counts", counts)
	}

	st := Status{
		Counts: counts,
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.queue != nil {
		stats := s.queue.GetStats()
		st.Queue = &stats
	}
	if s.capture != nil {
		st.CaptureActive = s.capture.Active()
	}
	if s.batch != nil {
		st.BatchRunning = s.batch.Running()
	}
	return c.JSON(http.StatusOK, st)
}

// exportGPX handles GET /export/notes.gpx
func (s *Server) exportGPX(c echo.Context) error {
	if s.exporter == nil {
		return s.HandleError(c, nil, "Exports are not configured", http.StatusNotFound)
	}
	data, err := s.exporter.ReadGPX()
	if err != nil {
		return s.HandleError(c, err, "GPX export not available", 0)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="notes.gpx"`)
	return c.Blob(http.StatusOK, "application/gpx+xml", data)
}

// exportCSV handles GET /export/notes.csv
func (s *Server) exportCSV(c echo.Context) error {
	if s.exporter == nil {
		return s.HandleError(c, nil, "Exports are not configured", http.StatusNotFound)
	}
	data, err := s.exporter.ReadCSV()
	if err != nil {
		return s.HandleError(c, err, "CSV export not available", 0)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="notes.csv"`)
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", data)
}
