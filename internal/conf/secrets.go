package conf

import (
	"fmt"

	"github.com/tphakala/ridenote/internal/secrets"
)

// resolveSecrets replaces credential fields with the value from their file
// or with environment references expanded
func resolveSecrets(s *Settings) error {
	fields := []struct {
		name  string
		file  string
		value *string
	}{
		{"osm.token", s.OSM.TokenFile, &s.OSM.Token},
		{"mqtt.password", s.MQTT.PasswordFile, &s.MQTT.Password},
		{"output.mysql.password", s.Output.MySQL.PasswordFile, &s.Output.MySQL.Password},
	}
	for _, f := range fields {
		resolved, err := secrets.Resolve(f.file, *f.value)
		if err != nil {
			return fmt.Errorf("error resolving %s: %w", f.name, err)
		}
		*f.value = resolved
	}
	return nil
}
