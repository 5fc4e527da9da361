package instance

import (
	"strings"
	"testing"
)

func TestGetIDPrefersConfiguredWorkerID(t *testing.T) {
	t.Setenv("PITCHTRAIL_WORKER_ID", "cadence-7")
	t.Setenv("DYNO", "worker.1")
	if got := GetID(); got != "cadence-7" {
		t.Fatalf("expected configured id, got %q", got)
	}
}

func TestGetIDFallsBackToDynoThenHost(t *testing.T) {
	t.Setenv("PITCHTRAIL_WORKER_ID", "")
	t.Setenv("WORKER_ID", "")
	t.Setenv("DYNO", "worker.2")
	if got := GetID(); got != "worker.2" {
		t.Fatalf("expected dyno name, got %q", got)
	}
	t.Setenv("DYNO", "")
	if got := GetID(); got == "" || !strings.Contains(got, "-") {
		t.Fatalf("expected host-pid id, got %q", got)
	}
}
