package location

import (
	"context"
	"time"

	"github.com/tphakala/ridenote/internal/datastore"
	"github.com/tphakala/ridenote/internal/errors"
)

// Static reports a fixed, configured position
type Static struct {
	lat, lon float64
}

// NewStatic validates the coordinates and returns a Static provider
func NewStatic(lat, lon float64) (*Static, error) {
	if !datastore.ValidCoordinates(lat, lon) {
		return nil, errors.Newf("static location %v,%v out of range", lat, lon).
			Component("location").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &Static{lat: lat, lon: lon}, nil
}

func (s *Static) Current(ctx context.Context) (Fix, error) {
	if err := ctx.Err(); err != nil {
		return Fix{}, err
	}
	return s.fix(), nil
}

func (s *Static) LastKnown() (Fix, bool) { return s.fix(), true }

func (s *Static) Name() string { return "static" }

func (s *Static) fix() Fix {
	return Fix{Latitude: s.lat, Longitude: s.lon, Time: time.Now(), Source: datastore.SourceStatic}
}

// None never has a position
type None struct{}

func (None) Current(context.Context) (Fix, error) { return Fix{}, ErrNoFix }
func (None) LastKnown() (Fix, bool)                { return Fix{}, false }
func (None) Name() string                          { return "none" }
