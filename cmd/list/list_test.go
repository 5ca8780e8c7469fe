package list

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/ridenote/internal/datastore"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "two lines", truncate("two\nlines", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "ääää…", truncate("ääääääää", 5), "truncates on runes")
}

func TestPrintTable(t *testing.T) {
	recs := []datastore.Recording{
		{
			ID: 1, RecordedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			Latitude: 60.1699, Longitude: 24.9384, LocationSource: datastore.SourceGPS,
			V2SStatus: datastore.V2SCompleted, V2SResult: "pothole on the left lane",
			OsmStatus: datastore.OsmCompleted,
		},
		{
			ID: 2, RecordedAt: time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
			LocationSource: datastore.SourceNone,
			V2SStatus:      datastore.V2SError, V2SResult: "ignored",
			OsmStatus: datastore.OsmNotStarted,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, printTable(&buf, recs))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "60.16990,24.93840")
	assert.Contains(t, lines[1], "pothole on the left lane")
	assert.Contains(t, lines[2], " - ")
	assert.NotContains(t, lines[2], "ignored", "error rows have no note text")
}

func TestPrintCounts(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printCounts(&buf, datastore.StatusCounts{
		Total: 3,
		V2S:   map[datastore.V2SStatus]int64{datastore.V2SCompleted: 2, datastore.V2SFallback: 1},
		OSM:   map[datastore.OsmStatus]int64{datastore.OsmCompleted: 2},
	}))

	out := buf.String()
	assert.Contains(t, out, "total")
	assert.Regexp(t, `v2s COMPLETED\s+2`, out)
	assert.Regexp(t, `v2s FALLBACK\s+1`, out)
	assert.Regexp(t, `osm ERROR\s+0`, out)
}
