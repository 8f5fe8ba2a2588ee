package appdir

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDirEnvOverride(t *testing.T) {
	ResetCache()
	t.Cleanup(ResetCache)

	custom := t.TempDir()
	t.Setenv(DirEnv, custom)

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir failed: %v", err)
	}
	if dir != custom {
		t.Errorf("Dir() = %q, want %q", dir, custom)
	}
}

func TestDirCaching(t *testing.T) {
	ResetCache()
	t.Cleanup(ResetCache)

	first := t.TempDir()
	t.Setenv(DirEnv, first)

	dir1, err := Dir()
	if err != nil {
		t.Fatalf("Dir failed: %v", err)
	}

	// Changing the env after the first lookup must not change the result.
	t.Setenv(DirEnv, filepath.Join(first, "other"))
	dir2, err := Dir()
	if err != nil {
		t.Fatalf("Dir failed: %v", err)
	}
	if dir1 != dir2 {
		t.Errorf("cached dir changed: %q != %q", dir1, dir2)
	}
}

func TestEnsureDir(t *testing.T) {
	ResetCache()
	t.Cleanup(ResetCache)

	base := filepath.Join(t.TempDir(), "kounsel-data")
	t.Setenv(DirEnv, base)

	if err := EnsureDir(); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}

	if _, err := os.Stat(base); err != nil {
		t.Errorf("data directory not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, ExportsDirName)); err != nil {
		t.Errorf("exports directory not created: %v", err)
	}
}

func TestPaths(t *testing.T) {
	ResetCache()
	t.Cleanup(ResetCache)

	base := t.TempDir()
	t.Setenv(DirEnv, base)

	statePath, err := StatePath()
	if err != nil {
		t.Fatalf("StatePath failed: %v", err)
	}
	if want := filepath.Join(base, StateFileName); statePath != want {
		t.Errorf("StatePath() = %q, want %q", statePath, want)
	}

	logPath, err := LogPath()
	if err != nil {
		t.Fatalf("LogPath failed: %v", err)
	}
	if want := filepath.Join(base, LogFileName); logPath != want {
		t.Errorf("LogPath() = %q, want %q", logPath, want)
	}
}
