package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/vocabdex/core"
	"github.com/poiesic/vocabdex/storage"
)

func TestRunLockBasics(t *testing.T) {
	backend, err := OpenBackend("", true)
	if err != nil {
		t.Fatalf("Failed to open backend: %v", err)
	}
	defer backend.Close()

	runRepo, err := NewRunRepository(backend)
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}

	ctx := context.Background()
	ttl := time.Hour

	if err := runRepo.AcquireRunLock(ctx, "worker-a", ttl); err != nil {
		t.Fatalf("Failed to acquire free lock: %v", err)
	}

	err = runRepo.AcquireRunLock(ctx, "worker-b", ttl)
	if !errors.Is(err, storage.ErrRunLockHeld) {
		t.Fatalf("Expected ErrRunLockHeld, got %v", err)
	}

	// Reacquiring our own lock refreshes it.
	if err := runRepo.AcquireRunLock(ctx, "worker-a", ttl); err != nil {
		t.Fatalf("Failed to refresh own lock: %v", err)
	}

	err = runRepo.ReleaseRunLock(ctx, "worker-b")
	if !errors.Is(err, storage.ErrNotLockHolder) {
		t.Fatalf("Expected ErrNotLockHolder, got %v", err)
	}

	if err := runRepo.ReleaseRunLock(ctx, "worker-a"); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}

	// Releasing a free lock is a no-op.
	if err := runRepo.ReleaseRunLock(ctx, "worker-a"); err != nil {
		t.Fatalf("Expected free release to succeed, got %v", err)
	}

	if err := runRepo.AcquireRunLock(ctx, "worker-b", ttl); err != nil {
		t.Fatalf("Failed to acquire released lock: %v", err)
	}
}

func TestRunLockStaleTakeover(t *testing.T) {
	backend, err := OpenBackend("", true)
	if err != nil {
		t.Fatalf("Failed to open backend: %v", err)
	}
	defer backend.Close()

	runRepo, err := NewRunRepository(backend)
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}

	ctx := context.Background()

	if err := runRepo.AcquireRunLock(ctx, "dead-worker", time.Hour); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}

	// With a tiny ttl the existing lock is already stale.
	time.Sleep(5 * time.Millisecond)
	if err := runRepo.AcquireRunLock(ctx, "live-worker", time.Millisecond); err != nil {
		t.Fatalf("Expected stale takeover, got %v", err)
	}
}

func TestRunLog(t *testing.T) {
	backend, err := OpenBackend("", true)
	if err != nil {
		t.Fatalf("Failed to open backend: %v", err)
	}
	defer backend.Close()

	runRepo, err := NewRunRepository(backend)
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}

	ctx := context.Background()

	last, err := runRepo.LastRun(ctx)
	if err != nil {
		t.Fatalf("Failed to read empty run log: %v", err)
	}
	if last != nil {
		t.Fatalf("Expected nil before first run, got %+v", last)
	}

	run := &core.GenerationRun{
		Holder:       "worker-a",
		ModelName:    "all-MiniLM-L6-v2",
		ModelVersion: "v1",
		StartedAt:    time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt:   time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC),
		Processed:    1000,
		Failed:       2,
		FailedIDs:    []uint64{41, 42},
	}
	if err := runRepo.SaveRun(ctx, run); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}

	last, err = runRepo.LastRun(ctx)
	if err != nil {
		t.Fatalf("Failed to read run log: %v", err)
	}
	if last.Processed != 1000 || last.Failed != 2 || len(last.FailedIDs) != 2 {
		t.Fatalf("Unexpected run record: %+v", last)
	}
}
