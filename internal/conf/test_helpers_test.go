package conf

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

// newDefaultSettings returns Settings built from the registered defaults only.
func newDefaultSettings(t *testing.T) *Settings {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)

	setDefaultConfig()

	settings := &Settings{}
	require.NoError(t, viper.Unmarshal(settings))
	return settings
}
