package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/treasuretool/treasured/internal/lock"
	"go.uber.org/fx"
)

func newTestApp(t *testing.T, p Params) *fx.App {
	t.Helper()
	return fx.New(Module(p), fx.NopLogger)
}

func TestEngineLifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	p := Params{ProfileName: "test", DataDir: tmpDir}

	app := newTestApp(t, p)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// The store and lock file live in the overridden data dir.
	if _, err := os.Stat(filepath.Join(tmpDir, "treasured.db")); err != nil {
		t.Errorf("store not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "LOCK")); err != nil {
		t.Errorf("lock file not created: %v", err)
	}

	if err := app.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	// The lock is released on shutdown.
	if _, err := os.Stat(filepath.Join(tmpDir, "LOCK")); !os.IsNotExist(err) {
		t.Errorf("lock file still present after Stop: %v", err)
	}
}

func TestSecondInstanceRejected(t *testing.T) {
	tmpDir := t.TempDir()

	held, err := lock.Acquire(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = held.Release() }()

	app := newTestApp(t, Params{ProfileName: "test", DataDir: tmpDir})
	if err := app.Err(); err == nil {
		t.Fatal("expected wiring to fail while another process holds the lock")
	}
}
