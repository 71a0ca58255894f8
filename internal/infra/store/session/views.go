package session

import "sync"

// Views records the view each session's client reports it is showing.
type Views struct {
	mu    sync.RWMutex
	views map[string]string
}

func NewViews() *Views {
	return &Views{views: make(map[string]string)}
}

func (v *Views) Set(sessionID, view string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if view == "" {
		delete(v.views, sessionID)
		return
	}
	v.views[sessionID] = view
}

func (v *Views) View(sessionID string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.views[sessionID]
}
