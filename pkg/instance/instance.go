package instance

import (
	"os"
	"strings"
)

const fallbackID = "local"

// ID names this process in logs and lock ownership. DYNO is set on the
// hosted platform, WORKER_ID by local process managers.
func ID() string {
	for _, key := range []string{"DYNO", "WORKER_ID"} {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
