package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) { r.reported = append(r.reported, ee) }
func (r *recordingReporter) IsEnabled() bool               { return true }

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
}

func TestBuilderKeepsExplicitValues(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := Newf("upload failed for %s", "note").
		Component("osmnotes").
		Category(CategoryOSMUpload).
		Priority("bogus").
		Context("status", 503).
		Build()

	assert.Equal(t, "osmnotes", ee.GetComponent())
	assert.Equal(t, CategoryOSMUpload, ee.Category)
	assert.Equal(t, PriorityMedium, ee.GetPriority())
	assert.Equal(t, 503, ee.GetContext()["status"])
	assert.True(t, IsCategory(ee, CategoryOSMUpload))
	assert.False(t, IsNotFound(ee))
}

func TestWrappedEnhancedErrorMatchesCategory(t *testing.T) {
	SetTelemetryReporter(nil)

	inner := New(NewStd("no rows")).Category(CategoryNotFound).Build()
	outer := fmt.Errorf("loading recording: %w", inner)

	assert.True(t, IsNotFound(outer))
	assert.True(t, Is(outer, &EnhancedError{Category: CategoryNotFound}))
}

func TestReporterReceivesErrors(t *testing.T) {
	reporter := &recordingReporter{}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := New(NewStd("context deadline exceeded")).Component("transcribe").Build()

	require.Len(t, reporter.reported, 1)
	assert.Same(t, ee, reporter.reported[0])
	assert.Equal(t, CategoryTimeout, ee.Category)
}

func TestDetectCategoryByComponent(t *testing.T) {
	tests := []struct {
		component string
		want      ErrorCategory
	}{
		{"datastore", CategoryDatabase},
		{"recorder", CategoryRecording},
		{"osmnotes", CategoryOSMUpload},
		{"something", CategoryGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.component, func(t *testing.T) {
			assert.Equal(t, tt.want, detectCategory(NewStd("boom"), tt.component))
		})
	}
}

func TestBasicURLScrub(t *testing.T) {
	scrubbed := basicURLScrub("POST https://api.openstreetmap.org/api/0.6/notes.json?lat=60.1&lon=24.9 failed")
	assert.Equal(t, "POST https://api.openstreetmap.org/api/0.6/notes.json?[REDACTED] failed", scrubbed)

	scrubbed = basicURLScrub("Authorization: Bearer abc123secret rejected")
	assert.NotContains(t, scrubbed, "abc123secret")

	scrubbed = basicURLScrub("no fix near 60.169857, 24.938379")
	assert.Contains(t, scrubbed, "[LOCATION_REDACTED]")
	assert.NotContains(t, scrubbed, "24.938379")
}
