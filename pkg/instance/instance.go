package instance

import (
	"fmt"
	"os"

	"github.com/pitchtrail/pitchtrail-backend/pkg/env"
)

// GetID names this process in cadence claims (claimed_by) and lock ownership.
// An explicit WORKER_ID wins, then the platform dyno name, then host and pid.
func GetID() string {
	if id := env.Get("WORKER_ID", ""); id != "" {
		return id
	}
	if dyno := os.Getenv("DYNO"); dyno != "" {
		return dyno
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
