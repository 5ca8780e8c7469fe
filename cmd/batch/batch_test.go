package batch

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	batchpkg "github.com/tphakala/ridenote/internal/batch"
	"github.com/tphakala/ridenote/internal/events"
)

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	c := progressPrinter(&buf)

	require.NoError(t, c.Consume(events.BatchProgress{Stage: "transcribe", Index: 2, Total: 5, FileName: "note.wav", Status: "COMPLETED"}))
	require.NoError(t, c.Consume(events.BatchComplete{Stage: "transcribe"}))

	assert.Equal(t, "[transcribe 2/5] note.wav COMPLETED\n", buf.String())
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, batchpkg.Summary{
		Stage:     batchpkg.StageAll,
		Processed: 3,
		Cancelled: true,
		Stages: []batchpkg.Summary{
			{Stage: batchpkg.StageTranscribe, Processed: 2, Succeeded: 1, Fallback: 1, Duration: 1500 * time.Millisecond},
			{Stage: batchpkg.StageOSM, Processed: 1, Failed: 1},
		},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "transcribe")
	assert.Contains(t, lines[0], "succeeded=1 fallback=1")
	assert.Contains(t, lines[0], "(1.5s)")
	assert.Contains(t, lines[1], "osm")
	assert.Contains(t, lines[1], "failed=1")
	assert.Contains(t, lines[2], "cancelled")
}

func TestPrintSummarySingleStage(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, batchpkg.Summary{Stage: batchpkg.StageOSM, Processed: 4, Succeeded: 4})
	assert.Contains(t, buf.String(), "processed=4 succeeded=4")
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
}
