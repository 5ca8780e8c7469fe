package location

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/datastore"
	"github.com/tphakala/ridenote/internal/errors"
)

// fakeGPSD accepts one connection, checks the WATCH command and replays lines
func fakeGPSD(t *testing.T, lines ...string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		cmd, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil || !strings.HasPrefix(cmd, "?WATCH=") {
			return
		}
		for _, l := range lines {
			if _, err := conn.Write([]byte(l + "\n")); err != nil {
				return
			}
		}
		// hold the connection open until the client hangs up
		_, _ = conn.Read(make([]byte, 1))
	}()

	return ln.Addr().String()
}

func TestGPSDReturnsFirstUsableTPV(t *testing.T) {
	addr := fakeGPSD(t,
		`{"class":"VERSION","release":"3.25"}`,
		`{"class":"TPV","mode":1}`,
		`{"class":"TPV","mode":3,"time":"2026-10-19T14:30:00.000Z","lat":52.229676,"lon":21.012229,"epx":4.5,"epy":6.1}`,
	)

	g := NewGPSD(addr, time.Hour)
	fix, err := g.Current(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 52.229676, fix.Latitude, 1e-9)
	assert.InDelta(t, 21.012229, fix.Longitude, 1e-9)
	assert.InDelta(t, 6.1, fix.Accuracy, 1e-9)
	assert.Equal(t, datastore.SourceGPS, fix.Source)
	assert.Equal(t, time.Date(2026, 10, 19, 14, 30, 0, 0, time.UTC), fix.Time.UTC())
}

func TestGPSDTimesOutWithoutFix(t *testing.T) {
	addr := fakeGPSD(t, `{"class":"TPV","mode":1}`)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := NewGPSD(addr, time.Hour).Current(ctx)
	require.Error(t, err)
}

func TestParseTPV(t *testing.T) {
	tests := []struct {
		name string
		line string
		ok   bool
	}{
		{"sky report", `{"class":"SKY"}`, false},
		{"no fix", `{"class":"TPV","mode":1,"lat":1,"lon":1}`, false},
		{"missing lon", `{"class":"TPV","mode":2,"lat":1}`, false},
		{"out of range", `{"class":"TPV","mode":2,"lat":91,"lon":1}`, false},
		{"garbage", `not json`, false},
		{"2d fix", `{"class":"TPV","mode":2,"lat":1.5,"lon":-2.5,"eph":12}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fix, ok := parseTPV([]byte(tt.line))
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.InDelta(t, 12.0, fix.Accuracy, 1e-9)
			}
		})
	}
}

// stubProvider fails Current and optionally offers a last known fix
type stubProvider struct {
	last    Fix
	hasLast bool
	wait    bool
}

func (s *stubProvider) Current(ctx context.Context) (Fix, error) {
	if s.wait {
		<-ctx.Done()
		return Fix{}, ctx.Err()
	}
	return Fix{}, ErrNoFix
}
func (s *stubProvider) LastKnown() (Fix, bool) { return s.last, s.hasLast }
func (s *stubProvider) Name() string           { return "stub" }

func TestAcquireFallsBackToLastKnown(t *testing.T) {
	p := &stubProvider{
		last:    Fix{Latitude: 10, Longitude: 20, Time: time.Now(), Source: datastore.SourceGPS},
		hasLast: true,
	}

	fix, err := Acquire(context.Background(), p, time.Second)
	require.NoError(t, err)
	assert.Equal(t, datastore.SourceLastKnown, fix.Source)
	assert.InDelta(t, 10.0, fix.Latitude, 1e-9)
}

func TestAcquireWithoutAnyFix(t *testing.T) {
	p := &stubProvider{wait: true}

	fix, err := Acquire(context.Background(), p, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
	assert.Equal(t, datastore.SourceNone, fix.Source)
	assert.Zero(t, fix.Latitude)
}

func TestLastKnownExpires(t *testing.T) {
	lk := newLastKnown(time.Minute)

	lk.remember(Fix{Latitude: 1, Time: time.Now().Add(-2 * time.Minute)})
	_, ok := lk.get()
	assert.False(t, ok, "fix older than max age is not kept")

	lk.remember(Fix{Latitude: 2, Time: time.Now()})
	fix, ok := lk.get()
	require.True(t, ok)
	assert.InDelta(t, 2.0, fix.Latitude, 1e-9)
}

func TestNewProvider(t *testing.T) {
	s := &conf.Settings{}

	s.Location.Provider = conf.ProviderStatic
	s.Location.Latitude, s.Location.Longitude = 60.1699, 24.9384
	p, err := NewProvider(s)
	require.NoError(t, err)
	fix, err := p.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, datastore.SourceStatic, fix.Source)

	s.Location.Provider = conf.ProviderNone
	p, err = NewProvider(s)
	require.NoError(t, err)
	_, err = p.Current(context.Background())
	assert.ErrorIs(t, err, ErrNoFix)

	s.Location.Provider = "galileo"
	_, err = NewProvider(s)
	assert.Error(t, err)
}
