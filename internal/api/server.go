package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	mw "github.com/tphakala/ridenote/internal/api/middleware"
	"github.com/tphakala/ridenote/internal/batch"
	"github.com/tphakala/ridenote/internal/buildinfo"
	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/datastore"
	"github.com/tphakala/ridenote/internal/export"
	"github.com/tphakala/ridenote/internal/jobqueue"
	"github.com/tphakala/ridenote/internal/logger"
	"github.com/tphakala/ridenote/internal/observability"
)

// statusCacheTTL bounds how often /api/v1/status hits the store
const statusCacheTTL = 2 * time.Second

// CaptureController starts background captures
type CaptureController interface {
	Start(ctx context.Context) error
	Active() bool
}

// BatchRunner runs batch passes
type BatchRunner interface {
	Run(ctx context.Context, opts batch.Options) (batch.Summary, error)
	Running() bool
}

// QueueStats reports follow-up queue statistics
type QueueStats interface {
	GetStats() jobqueue.JobStatsSnapshot
}

// Server is the HTTP API server.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	log      logger.Logger

	// Dependencies, all optional except the store
	store    datastore.Interface
	capture  CaptureController
	batch    BatchRunner
	queue    QueueStats
	exporter *export.Exporter
	metrics  *observability.Metrics

	statusCache *cache.Cache

	// Last asynchronous batch run
	batchMu     sync.Mutex
	lastBatch   *batch.Summary
	lastBatchAt time.Time
	lastErr     string

	// Lifecycle management
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithDataStore sets the datastore for the server.
func WithDataStore(ds datastore.Interface) ServerOption {
	return func(s *Server) {
		s.store = ds
	}
}

// WithCapture enables POST /api/v1/captures.
func WithCapture(c CaptureController) ServerOption {
	return func(s *Server) {
		s.capture = c
	}
}

// WithBatch enables POST /api/v1/batch.
func WithBatch(b BatchRunner) ServerOption {
	return func(s *Server) {
		s.batch = b
	}
}

// WithQueue adds follow-up queue statistics to /api/v1/status.
func WithQueue(q QueueStats) ServerOption {
	return func(s *Server) {
		s.queue = q
	}
}

// WithExporter enables the /export routes.
func WithExporter(e *export.Exporter) ServerOption {
	return func(s *Server) {
		s.exporter = e
	}
}

// WithMetrics sets the observability metrics for the server.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a new HTTP server with the given settings and options.
func New(settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:      config,
		settings:    settings,
		log:         GetLogger(),
		statusCache: cache.New(statusCacheTTL, 2*statusCacheTTL),
		ctx:         ctx,
		cancel:      cancel,
		startTime:   time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		cancel()
		return nil, fmt.Errorf("api server requires a datastore")
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Listen),
		logger.Bool("capture", s.capture != nil),
		logger.Bool("batch", s.batch != nil))
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, func(c echo.Context) bool {
		return c.Path() == "/metrics" || c.Path() == "/health"
	}))
	if s.metrics != nil {
		s.echo.Use(mw.NewMetrics(s.metrics.HTTP))
	}

	securityConfig := mw.DefaultSecurityConfig()
	securityConfig.AllowedOrigins = s.config.AllowedOrigins
	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders(securityConfig))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/recordings", s.listRecordings)
	v1.GET("/recordings/:id", s.getRecording)
	v1.DELETE("/recordings/:id", s.deleteRecording)
	v1.POST("/captures", s.startCapture)
	v1.GET("/batch", s.batchStatus)
	v1.POST("/batch", s.startBatch)
	v1.GET("/status", s.status)

	s.echo.GET("/export/notes.gpx", s.exportGPX)
	s.echo.GET("/export/notes.csv", s.exportCSV)
}

// healthCheck handles the server health check endpoint.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	info := buildinfo.Get()

	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"version":        info.GetVersion(),
		"build_date":     info.GetBuildDate(),
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// Run serves requests until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting HTTP server", logger.String("address", s.config.Listen))
		if err := s.echo.Start(s.config.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.cancel()
		s.wg.Wait()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	return s.Shutdown()
}

// Shutdown gracefully stops the server and any batch run it started.
func (s *Server) Shutdown() error {
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.wg.Wait()
	s.log.Info("server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
