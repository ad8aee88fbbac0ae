package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

const watcherBaseConfig = `
server:
  listen_addr: ":8080"
  log_level: info
profiles:
  - key: screen
    assistant_id: a-1
`

func TestNewWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherBaseConfig)

	w, err := config.NewWatcher(path, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("expected a current config")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log level: got %q, want info", cfg.Server.LogLevel)
	}
}

func TestNewWatcher_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherBaseConfig)

	var mu sync.Mutex
	var gotOld, gotNew *config.Config
	changed := make(chan struct{}, 1)

	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		mu.Lock()
		gotOld, gotNew = old, new
		mu.Unlock()
		select {
		case changed <- struct{}{}:
		default:
		}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	// Bump the mtime past filesystem timestamp granularity.
	updated := watcherBaseConfig + `listening:
  settle_delay_ms: 700
`
	time.Sleep(20 * time.Millisecond)
	writeFile(t, path, updated)
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for change callback")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotOld == nil || gotNew == nil {
		t.Fatal("expected both old and new configs in callback")
	}
	if gotOld.Listening.SettleDelayMs != 0 {
		t.Errorf("old settle_delay_ms: got %d, want 0", gotOld.Listening.SettleDelayMs)
	}
	if gotNew.Listening.SettleDelayMs != 700 {
		t.Errorf("new settle_delay_ms: got %d, want 700", gotNew.Listening.SettleDelayMs)
	}
	if w.Current().Listening.SettleDelayMs != 700 {
		t.Error("Current() should return the reloaded config")
	}
}

func TestWatcher_KeepsOldConfigOnInvalidFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherBaseConfig)

	called := make(chan struct{}, 1)
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		select {
		case called <- struct{}{}:
		default:
		}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	// Duplicate profile keys fail validation; the old config must survive.
	invalid := watcherBaseConfig + `  - key: screen
    assistant_id: a-2
`
	time.Sleep(20 * time.Millisecond)
	writeFile(t, path, invalid)
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case <-called:
		t.Fatal("onChange must not fire for an invalid config")
	case <-time.After(300 * time.Millisecond):
	}

	if got := len(w.Current().Profiles); got != 1 {
		t.Errorf("expected old config with 1 profile, got %d", got)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherBaseConfig)

	w, err := config.NewWatcher(path, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Stop()
	w.Stop()
}
