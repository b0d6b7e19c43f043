package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/quarrybuild/quarry/pkg/digest"
	"github.com/quarrybuild/quarry/pkg/sandbox"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "quarry.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := &Run{
		ID:        "run-1",
		Goal:      "test",
		Args:      "src/app:tests",
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	if err := store.CompleteRun(ctx, "run-1", 5, nil); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != RunStatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, RunStatusCompleted)
	}
	if got.ExitCode == nil || *got.ExitCode != 5 {
		t.Errorf("ExitCode = %v, want 5", got.ExitCode)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("ListRuns() len = %d, want 1", len(runs))
	}
}

func TestSQLiteStore_CompleteRun_NotFound(t *testing.T) {
	store := newTestStore(t)
	if err := store.CompleteRun(context.Background(), "ghost", 0, nil); err == nil {
		t.Error("CompleteRun() expected error for unknown run")
	}
}

func TestProcessCache_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	cache := NewProcessCache(store)
	ctx := context.Background()

	fp := digest.FingerprintOfStrings("some", "process")
	if _, ok, err := cache.Get(ctx, fp); err != nil || ok {
		t.Fatalf("Get() on empty cache = ok=%v err=%v, want miss", ok, err)
	}

	want := &sandbox.ProcessResult{
		ExitCode:     5,
		Stdout:       []byte("out"),
		Stderr:       []byte("err"),
		OutputDigest: digest.OfBytes([]byte("artifact")),
		Duration:     42 * time.Millisecond,
	}
	if err := cache.Put(ctx, fp, want); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok, err := cache.Get(ctx, fp)
	if err != nil || !ok {
		t.Fatalf("Get() = ok=%v err=%v, want hit", ok, err)
	}
	if got.ExitCode != want.ExitCode {
		t.Errorf("ExitCode = %d, want %d", got.ExitCode, want.ExitCode)
	}
	if string(got.Stdout) != "out" || string(got.Stderr) != "err" {
		t.Errorf("streams = %q/%q", got.Stdout, got.Stderr)
	}
	if got.OutputDigest != want.OutputDigest {
		t.Errorf("OutputDigest = %v, want %v", got.OutputDigest, want.OutputDigest)
	}
	if got.Duration != want.Duration {
		t.Errorf("Duration = %v, want %v", got.Duration, want.Duration)
	}
}

func TestProcessCache_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quarry.db")
	ctx := context.Background()
	fp := digest.FingerprintOfStrings("persistent")

	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := NewProcessCache(store).Put(ctx, fp, &sandbox.ProcessResult{ExitCode: 0}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		t.Fatalf("NewSQLiteStore() reopen error = %v", err)
	}
	if err := reopened.Init(ctx); err != nil {
		t.Fatalf("Init() reopen error = %v", err)
	}
	if err := reopened.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() reopen error = %v", err)
	}
	defer reopened.Close()

	if _, ok, err := NewProcessCache(reopened).Get(ctx, fp); err != nil || !ok {
		t.Errorf("Get() after reopen = ok=%v err=%v, want hit", ok, err)
	}
}

func TestSQLiteStore_PruneProcessRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cache := NewProcessCache(store)

	if err := cache.Put(ctx, digest.FingerprintOfStrings("old"), &sandbox.ProcessResult{}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	pruned, err := store.PruneProcessRows(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneProcessRows() error = %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	n, err := store.CountProcessRows(ctx)
	if err != nil {
		t.Fatalf("CountProcessRows() error = %v", err)
	}
	if n != 0 {
		t.Errorf("remaining rows = %d, want 0", n)
	}
}
