package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func waitForModels(t *testing.T, store *Store, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(store.Snapshot().Models) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d models before timeout, have %d", want, len(store.Snapshot().Models))
}

func TestWatcherReloadsOnArtifactDrop(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	if _, err := store.Load(); err != nil {
		t.Fatalf("initial load failed: %v", err)
	}
	if len(store.Snapshot().Models) != 0 {
		t.Fatal("expected empty store before artifacts arrive")
	}

	w, err := NewWatcher(store, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("watcher create failed: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	// Simulate a trainer dropping a full artifact set.
	writeTestArtifacts(t, dir, domain.FeatureSchema{"a", "b", "c"})

	waitForModels(t, store, 1, 3*time.Second)
}

func TestWatcherReloadsOnRemoval(t *testing.T) {
	dir := t.TempDir()
	writeTestArtifacts(t, dir, domain.FeatureSchema{"a", "b", "c"})

	store := NewStore(dir)
	if _, err := store.Load(); err != nil {
		t.Fatalf("initial load failed: %v", err)
	}
	if len(store.Snapshot().Models) != 1 {
		t.Fatal("expected one model loaded")
	}

	w, err := NewWatcher(store, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("watcher create failed: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	if err := os.Remove(filepath.Join(dir, ModelFile(domain.ModelRandomForest))); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	waitForModels(t, store, 0, 3*time.Second)
}

func TestWatcherStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	if _, err := store.Load(); err != nil {
		t.Fatalf("initial load failed: %v", err)
	}

	w, err := NewWatcher(store, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("watcher create failed: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()

	// After cancellation a drop must not trigger a reload.
	time.Sleep(100 * time.Millisecond)
	writeTestArtifacts(t, dir, domain.FeatureSchema{"a", "b", "c"})
	time.Sleep(300 * time.Millisecond)

	if len(store.Snapshot().Models) != 0 {
		t.Error("cancelled watcher must not reload")
	}
}
