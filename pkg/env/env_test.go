package env

import "testing"

func TestGetPrefersPrefixedName(t *testing.T) {
	t.Setenv("PITCHTRAIL_LOG_FORMAT", "console")
	t.Setenv("LOG_FORMAT", "json")
	if got := Get("LOG_FORMAT", "json"); got != "console" {
		t.Fatalf("expected prefixed value, got %q", got)
	}
	if got := Get("PITCHTRAIL_LOG_FORMAT", "json"); got != "console" {
		t.Fatalf("prefixed keys should resolve the same way, got %q", got)
	}
}

func TestGetFallsBack(t *testing.T) {
	t.Setenv("PITCHTRAIL_WORKER_ID", "  ")
	t.Setenv("WORKER_ID", "")
	if got := Get("WORKER_ID", "worker-0"); got != "worker-0" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("WORKER_ID", "dyno-3")
	if got := Get("WORKER_ID", "worker-0"); got != "dyno-3" {
		t.Fatalf("expected bare value, got %q", got)
	}
}
