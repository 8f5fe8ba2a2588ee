package config

import (
	"os"
	"time"

	"kounsel/internal/appdir"
	"kounsel/internal/fileutil"
)

// State holds small bits of persisted user state that are not configuration:
// the last active session, so `kounsel chat` can resume where the user
// left off.
type State struct {
	// LastSessionID is the id of the most recently active session.
	LastSessionID string `json:"last_session_id,omitempty"`
	// UpdatedAt is when the state was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// LoadState reads the persisted user state.
// A missing state file returns a zero State, not an error.
func LoadState() (State, error) {
	path, err := appdir.StatePath()
	if err != nil {
		return State{}, err
	}

	var st State
	if err := fileutil.ReadJSON(path, &st); err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, err
	}
	return st, nil
}

// SaveState persists the user state atomically.
func SaveState(st State) error {
	if err := appdir.EnsureDir(); err != nil {
		return err
	}
	path, err := appdir.StatePath()
	if err != nil {
		return err
	}
	st.UpdatedAt = time.Now()
	return fileutil.WriteJSONAtomic(path, st, 0644)
}
