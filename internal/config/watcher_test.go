package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"kounsel/internal/appdir"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kounselrc")
	if err := os.WriteFile(path, []byte("backend_url: http://localhost:8000\n"), 0600); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.SetDebounceDelay(20 * time.Millisecond)

	var mu sync.Mutex
	var got *Config
	done := make(chan struct{})
	w.Subscribe(func(cfg *Config) {
		mu.Lock()
		defer mu.Unlock()
		if got == nil {
			got = cfg
			close(done)
		}
	})

	w.Start()
	defer w.Close()

	if err := os.WriteFile(path, []byte("backend_url: http://localhost:9999\ntoken: fresh\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload notification")
	}

	mu.Lock()
	defer mu.Unlock()
	if got.BackendURL != "http://localhost:9999" {
		t.Errorf("BackendURL = %q, want reloaded value", got.BackendURL)
	}
	if got.Token != "fresh" {
		t.Errorf("Token = %q, want fresh", got.Token)
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kounselrc")
	if err := os.WriteFile(path, []byte("backend_url: http://localhost:8000\n"), 0600); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.SetDebounceDelay(20 * time.Millisecond)

	notified := make(chan struct{}, 1)
	w.Subscribe(func(cfg *Config) {
		select {
		case notified <- struct{}{}:
		default:
		}
	})

	w.Start()
	defer w.Close()

	// Writes to unrelated files in the same directory must not notify.
	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-notified:
		t.Error("unexpected notification for unrelated file")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherInvalidReloadKeepsSilent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kounselrc")
	if err := os.WriteFile(path, []byte("backend_url: http://localhost:8000\n"), 0600); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.SetDebounceDelay(20 * time.Millisecond)

	notified := make(chan struct{}, 1)
	w.Subscribe(func(cfg *Config) {
		select {
		case notified <- struct{}{}:
		default:
		}
	})

	w.Start()
	defer w.Close()

	// A config that fails validation must not be delivered.
	if err := os.WriteFile(path, []byte("backend_url: ftp://bad\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-notified:
		t.Error("invalid config should not be delivered to subscribers")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestStateRoundTrip(t *testing.T) {
	appdir.ResetCache()
	t.Cleanup(appdir.ResetCache)
	t.Setenv(appdir.DirEnv, t.TempDir())

	st, err := LoadState()
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if st.LastSessionID != "" {
		t.Errorf("fresh state has LastSessionID = %q, want empty", st.LastSessionID)
	}

	if err := SaveState(State{LastSessionID: "sess-42"}); err != nil {
		t.Fatalf("SaveState failed: %v", err)
	}

	got, err := LoadState()
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if got.LastSessionID != "sess-42" {
		t.Errorf("LastSessionID = %q, want sess-42", got.LastSessionID)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}
