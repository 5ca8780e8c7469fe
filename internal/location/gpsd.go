package location

import (
	"bufio"
	"context"
	"math"
	"net"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/tphakala/ridenote/internal/datastore"
	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/logger"
)

const gpsdWatch = `?WATCH={"enable":true,"json":true}` + "\n"

// GPSD reads fixes from a gpsd daemon over its JSON socket protocol.
// A connection is opened per request, which keeps the receiver powered
// only while a capture is waiting for a position.
type GPSD struct {
	addr   string
	dialer net.Dialer
	last   *lastKnown
	log    logger.Logger
}

// NewGPSD returns a provider for the gpsd instance at addr (host:port)
func NewGPSD(addr string, maxAge time.Duration) *GPSD {
	return &GPSD{
		addr: addr,
		last: newLastKnown(maxAge),
		log:  logger.Global().Module("location").Module("gpsd"),
	}
}

func (g *GPSD) Name() string { return "gpsd" }

func (g *GPSD) LastKnown() (Fix, bool) { return g.last.get() }

// Current waits for the first TPV report with at least a 2D fix.
func (g *GPSD) Current(ctx context.Context) (Fix, error) {
	conn, err := g.dialer.DialContext(ctx, "tcp", g.addr)
	if err != nil {
		return Fix{}, errors.New(err).
			Component("location").
			Category(errors.CategoryNetwork).
			Context("address", g.addr).
			Build()
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// unblock the scanner when ctx is cancelled without a deadline
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write([]byte(gpsdWatch)); err != nil {
		return Fix{}, errors.New(err).
			Component("location").
			Category(errors.CategoryNetwork).
			Context("address", g.addr).
			Build()
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		fix, ok := parseTPV(scanner.Bytes())
		if !ok {
			continue
		}
		g.last.remember(fix)
		return fix, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Fix{}, ctxErr
	}
	if err := scanner.Err(); err != nil {
		return Fix{}, errors.New(err).
			Component("location").
			Category(errors.CategoryNetwork).
			Context("address", g.addr).
			Build()
	}
	return Fix{}, ErrNoFix
}

// parseTPV extracts a fix from a gpsd TPV report. Reports of other classes,
// without a 2D fix, or without coordinates are skipped.
func parseTPV(line []byte) (Fix, bool) {
	obj, err := jason.NewObjectFromBytes(line)
	if err != nil {
		return Fix{}, false
	}
	if class, _ := obj.GetString("class"); class != "TPV" {
		return Fix{}, false
	}
	if mode, _ := obj.GetInt64("mode"); mode < 2 {
		return Fix{}, false
	}

	lat, errLat := obj.GetFloat64("lat")
	lon, errLon := obj.GetFloat64("lon")
	if errLat != nil || errLon != nil || !datastore.ValidCoordinates(lat, lon) {
		return Fix{}, false
	}

	fix := Fix{
		Latitude:  lat,
		Longitude: lon,
		Time:      time.Now(),
		Source:    datastore.SourceGPS,
	}
	if ts, err := obj.GetString("time"); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			fix.Time = t
		}
	}
	if eph, err := obj.GetFloat64("eph"); err == nil {
		fix.Accuracy = eph
	} else {
		epx, _ := obj.GetFloat64("epx")
		epy, _ := obj.GetFloat64("epy")
		fix.Accuracy = math.Max(epx, epy)
	}
	return fix, true
}
