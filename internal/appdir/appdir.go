// Package appdir provides platform-native directory management for kounsel.
// It handles locating and creating the kounsel data directory, which stores
// user state (state.json), logs and transcript exports.
package appdir

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const (
	// DirEnv is the environment variable to override the kounsel directory.
	DirEnv = "KOUNSEL_DIR"

	// StateFileName is the name of the persisted user state file.
	StateFileName = "state.json"

	// LogFileName is the name of the log file.
	LogFileName = "kounsel.log"

	// ExportsDirName is the name of the transcript exports subdirectory.
	ExportsDirName = "exports"
)

var (
	// cachedDir stores the resolved directory to avoid repeated lookups.
	cachedDir string
	mu        sync.RWMutex
)

// Dir returns the kounsel data directory path.
// The directory is determined in the following order:
//  1. KOUNSEL_DIR environment variable (if set)
//  2. Platform-specific default:
//     - macOS: ~/Library/Application Support/Kounsel
//     - Linux: $XDG_DATA_HOME/kounsel or ~/.local/share/kounsel
//     - Windows: %APPDATA%\Kounsel
//
// This function only returns the path; use EnsureDir to create it.
func Dir() (string, error) {
	mu.RLock()
	if cachedDir != "" {
		dir := cachedDir
		mu.RUnlock()
		return dir, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	if cachedDir != "" {
		return cachedDir, nil
	}

	dir, err := resolveDir()
	if err != nil {
		return "", err
	}

	cachedDir = dir
	return dir, nil
}

// resolveDir calculates the kounsel directory path.
func resolveDir() (string, error) {
	if envDir := os.Getenv(DirEnv); envDir != "" {
		return envDir, nil
	}

	switch runtime.GOOS {
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, "Library", "Application Support", "Kounsel"), nil

	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		return filepath.Join(appData, "Kounsel"), nil

	default:
		dataDir := os.Getenv("XDG_DATA_HOME")
		if dataDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			dataDir = filepath.Join(homeDir, ".local", "share")
		}
		return filepath.Join(dataDir, "kounsel"), nil
	}
}

// EnsureDir creates the kounsel data directory and its exports subdirectory
// if they don't exist.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create kounsel directory %s: %w", dir, err)
	}

	exportsDir := filepath.Join(dir, ExportsDirName)
	if err := os.MkdirAll(exportsDir, 0755); err != nil {
		return fmt.Errorf("failed to create exports directory %s: %w", exportsDir, err)
	}

	return nil
}

// StatePath returns the full path to the state.json file.
func StatePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, StateFileName), nil
}

// LogPath returns the full path to the log file.
func LogPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, LogFileName), nil
}

// ExportsDir returns the full path to the exports directory.
func ExportsDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ExportsDirName), nil
}

// ResetCache clears the cached directory path.
// This is primarily useful for testing.
func ResetCache() {
	mu.Lock()
	defer mu.Unlock()
	cachedDir = ""
}
