package gateway

import "sync"

// Hub is the presence table of one gateway process: at most one live
// session per principal.
type Hub struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[int64]*Session)}
}

// Swap makes s the session of id and returns the session it replaced.
func (h *Hub) Swap(id int64, s *Session) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.sessions[id]
	h.sessions[id] = s
	return old
}

// RemoveIf deletes the entry for id only while it still points to s, so a
// stale close cannot evict a newer session.
func (h *Hub) RemoveIf(id int64, s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[id] != s {
		return false
	}
	delete(h.sessions, id)
	return true
}

func (h *Hub) Get(id int64) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Each calls fn for a snapshot of the live sessions. fn runs without the
// lock held.
func (h *Hub) Each(fn func(*Session)) {
	h.mu.RLock()
	snapshot := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	for _, s := range snapshot {
		fn(s)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
