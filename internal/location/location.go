// Package location acquires GPS fixes for new recordings.
package location

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/datastore"
	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/logger"
)

// ErrNoFix is returned when a provider has no position to offer
var ErrNoFix = errors.NewStd("no location fix available")

// Fix is a single position report
type Fix struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64 // horizontal error estimate in metres, 0 when unknown
	Time      time.Time
	Source    string // one of the datastore.Source* constants
}

// Provider delivers position fixes
type Provider interface {
	// Current blocks until a fresh fix arrives or ctx ends
	Current(ctx context.Context) (Fix, error)
	// LastKnown returns the most recent fix still within the configured max age
	LastKnown() (Fix, bool)
	Name() string
}

const lastKnownKey = "fix"

// lastKnown keeps the newest fix until it is older than maxAge
type lastKnown struct {
	maxAge time.Duration
	cache  *cache.Cache
}

func newLastKnown(maxAge time.Duration) *lastKnown {
	return &lastKnown{
		maxAge: maxAge,
		cache:  cache.New(maxAge, time.Minute),
	}
}

func (l *lastKnown) remember(fix Fix) {
	if l.maxAge <= 0 {
		return
	}
	ttl := l.maxAge - time.Since(fix.Time)
	if ttl <= 0 {
		return
	}
	l.cache.Set(lastKnownKey, fix, ttl)
}

func (l *lastKnown) get() (Fix, bool) {
	v, ok := l.cache.Get(lastKnownKey)
	if !ok {
		return Fix{}, false
	}
	fix, ok := v.(Fix)
	return fix, ok
}

// NewProvider returns the provider selected in settings
func NewProvider(settings *conf.Settings) (Provider, error) {
	cfg := settings.Location
	switch cfg.Provider {
	case conf.ProviderGPSD:
		return NewGPSD(cfg.GPSDAddress, cfg.MaxAge), nil
	case conf.ProviderStatic:
		return NewStatic(cfg.Latitude, cfg.Longitude)
	case conf.ProviderNone, "":
		return None{}, nil
	default:
		return nil, errors.Newf("unknown location provider %q", cfg.Provider).
			Component("location").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// Acquire requests one fix within timeout. When that fails it falls back to the
// last known fix, and when there is none it returns a fix with Source none
// together with the acquisition error so the caller can still save the note.
func Acquire(ctx context.Context, p Provider, timeout time.Duration) (Fix, error) {
	log := logger.Global().Module("location").WithContext(ctx)
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fix, err := p.Current(reqCtx)
	if err == nil {
		log.Debug("location acquired",
			logger.String("provider", p.Name()),
			logger.Float64("accuracy_m", fix.Accuracy),
			logger.Duration("elapsed", time.Since(start)))
		return fix, nil
	}

	if last, ok := p.LastKnown(); ok {
		last.Source = datastore.SourceLastKnown
		log.Warn("using last known location",
			logger.String("provider", p.Name()),
			logger.Duration("age", time.Since(last.Time)),
			logger.Error(err))
		return last, nil
	}

	category := errors.CategoryLocation
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		category = errors.CategoryTimeout
	}
	acqErr := errors.New(err).
		Component("location").
		Category(category).
		Context("provider", p.Name()).
		Timing("acquire_location", time.Since(start)).
		Build()

	log.Warn("no location available, saving without coordinates",
		logger.String("provider", p.Name()),
		logger.Error(acqErr))

	return Fix{Time: time.Now(), Source: datastore.SourceNone}, acqErr
}
