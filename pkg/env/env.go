package env

import (
	"os"
	"strings"
)

// Prefix namespaces every setting owned by this service.
const Prefix = "PITCHTRAIL_"

// Get returns the prefixed variable when set, then the bare one, then fallback.
// Bare names keep platform-provided settings such as PORT working.
func Get(key, fallback string) string {
	key = strings.TrimPrefix(key, Prefix)
	for _, name := range []string{Prefix + key, key} {
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			return val
		}
	}
	return fallback
}
