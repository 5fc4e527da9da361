package cron

import (
	"context"
	"errors"
	"testing"
)

type fakeSweeper struct {
	failed int
	err    error
	calls  int
}

func (f *fakeSweeper) Sweep(context.Context) (int, error) {
	f.calls++
	return f.failed, f.err
}

func TestLeaseSweepJobRunsSweeper(t *testing.T) {
	sweeper := &fakeSweeper{failed: 2}
	job, err := NewLeaseSweepJob(LeaseSweepJobParams{Logger: testLogger(), Sweeper: sweeper})
	if err != nil {
		t.Fatalf("NewLeaseSweepJob: %v", err)
	}
	if job.Name() != "cadence-lease-sweep" {
		t.Fatalf("unexpected name %q", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sweeper.calls != 1 {
		t.Fatalf("expected one sweep, got %d", sweeper.calls)
	}
}

func TestLeaseSweepJobPropagatesError(t *testing.T) {
	job, err := NewLeaseSweepJob(LeaseSweepJobParams{Logger: testLogger(), Sweeper: &fakeSweeper{err: errors.New("db down")}})
	if err != nil {
		t.Fatalf("NewLeaseSweepJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestLeaseSweepJobRequiresSweeper(t *testing.T) {
	if _, err := NewLeaseSweepJob(LeaseSweepJobParams{Logger: testLogger()}); err == nil {
		t.Fatal("expected error")
	}
}
