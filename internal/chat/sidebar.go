package chat

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"kounsel/internal/api"
)

// SessionURL formats the navigable web-UI address for a session, so a
// conversation can be bookmarked or shared.
func SessionURL(webBase, sessionID string) string {
	return webBase + "?session=" + url.QueryEscape(sessionID)
}

// SidebarState reflects the session list fetch lifecycle.
type SidebarState int

const (
	SidebarLoading SidebarState = iota
	SidebarLoaded
	SidebarError
)

func (s SidebarState) String() string {
	switch s {
	case SidebarLoading:
		return "loading"
	case SidebarLoaded:
		return "loaded"
	case SidebarError:
		return "error"
	default:
		return fmt.Sprintf("sidebarstate(%d)", int(s))
	}
}

// SessionLister is the read surface the sidebar depends on.
// *api.Client satisfies it.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]api.Session, error)
}

// Sidebar maintains the ordered session list, most recently updated first.
// It is the natural subscriber for the controller's OnRefresh and
// OnSessionID callbacks. Safe for concurrent use.
type Sidebar struct {
	store    SessionLister
	onChange func()

	mu       sync.Mutex
	state    SidebarState
	sessions []api.Session
	activeID string
	err      error
}

// NewSidebar creates a sidebar. onChange, if non-nil, fires after every
// state or list change; hosts use it to re-render. The handler runs
// outside the sidebar's lock, so it may call back into the accessors.
func NewSidebar(store SessionLister, onChange func()) *Sidebar {
	return &Sidebar{
		store:    store,
		onChange: onChange,
		state:    SidebarLoading,
	}
}

// notify must be called without holding sb.mu.
func (sb *Sidebar) notify() {
	if sb.onChange != nil {
		sb.onChange()
	}
}

// Refresh re-fetches the session list. On failure the previous list is
// kept so the sidebar does not blank out on a transient error.
func (sb *Sidebar) Refresh(ctx context.Context) error {
	sb.mu.Lock()
	sb.state = SidebarLoading
	sb.mu.Unlock()
	sb.notify()

	sessions, err := sb.store.ListSessions(ctx)

	sb.mu.Lock()
	if err != nil {
		sb.state = SidebarError
		sb.err = err
		sb.mu.Unlock()
		sb.notify()
		return fmt.Errorf("list sessions: %w", err)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt.Time)
	})
	sb.sessions = sessions
	sb.state = SidebarLoaded
	sb.err = nil
	sb.mu.Unlock()
	sb.notify()
	return nil
}

// State returns the current fetch state.
func (sb *Sidebar) State() SidebarState {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.state
}

// Err returns the last fetch error, if the sidebar is in the error state.
func (sb *Sidebar) Err() error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.err
}

// Sessions returns a snapshot of the list, most recently updated first.
func (sb *Sidebar) Sessions() []api.Session {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if len(sb.sessions) == 0 {
		return nil
	}
	out := make([]api.Session, len(sb.sessions))
	copy(out, sb.sessions)
	return out
}

// SetActive records which session is highlighted. Placeholder ids are
// allowed; they simply match nothing in the fetched list.
func (sb *Sidebar) SetActive(sessionID string) {
	sb.mu.Lock()
	if sb.activeID == sessionID {
		sb.mu.Unlock()
		return
	}
	sb.activeID = sessionID
	sb.mu.Unlock()
	sb.notify()
}

// Active returns the highlighted session id.
func (sb *Sidebar) Active() string {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.activeID
}

// ReplaceID reconciles a placeholder id with its server-assigned durable
// id, preserving the active highlight across the swap.
func (sb *Sidebar) ReplaceID(oldID, newID string) {
	sb.mu.Lock()
	changed := false
	for i := range sb.sessions {
		if sb.sessions[i].ID == oldID {
			sb.sessions[i].ID = newID
			changed = true
		}
	}
	if sb.activeID == oldID {
		sb.activeID = newID
		changed = true
	}
	sb.mu.Unlock()
	if changed {
		sb.notify()
	}
}

// Find returns the listed session with the given id, if present.
func (sb *Sidebar) Find(sessionID string) (api.Session, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	for _, s := range sb.sessions {
		if s.ID == sessionID {
			return s, true
		}
	}
	return api.Session{}, false
}
