package buildinfo

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextGetters(t *testing.T) {
	tests := []struct {
		name    string
		ctx     *Context
		version string
		date    string
		id      string
	}{
		{"nil context", nil, UnknownValue, UnknownValue, UnknownValue},
		{"empty context", &Context{}, UnknownValue, UnknownValue, UnknownValue},
		{"populated", &Context{Version: "v1.2.0", BuildDate: "2026-10-19", SystemID: "abc"}, "v1.2.0", "2026-10-19", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.version, tt.ctx.GetVersion())
			assert.Equal(t, tt.date, tt.ctx.GetBuildDate())
			assert.Equal(t, tt.id, tt.ctx.GetSystemID())
		})
	}
}

func TestUserAgent(t *testing.T) {
	t.Cleanup(func() { Set(nil) })

	Set(nil)
	assert.Equal(t, "RideNote/unknown ("+runtime.GOOS+")", UserAgent())

	Set(&Context{Version: "v0.3.1"})
	assert.Equal(t, "RideNote/v0.3.1 ("+runtime.GOOS+")", UserAgent())
}
