package memory

import (
	"sync"
	"time"

	"vlat-exam-service/internal/domain"
)

// DefaultSessionMaxAge is how long a cached in-progress session stays
// restorable before it is treated as expired and purged.
const DefaultSessionMaxAge = 24 * time.Hour

// SessionCache is an in-memory implementation of app.SessionCache. Session
// snapshots expire after maxAge; progress views never expire and are simply
// overwritten on every sync.
type SessionCache struct {
	maxAge time.Duration
	clock  func() time.Time

	mu       sync.RWMutex
	sessions map[int]cachedSession
	views    map[int]domain.ProgressView
}

type cachedSession struct {
	state   domain.SessionState
	savedAt time.Time
}

func NewSessionCache(maxAge time.Duration) *SessionCache {
	return NewSessionCacheWithClock(maxAge, time.Now)
}

// NewSessionCacheWithClock allows deterministic expiry in tests.
func NewSessionCacheWithClock(maxAge time.Duration, clock func() time.Time) *SessionCache {
	if maxAge <= 0 {
		maxAge = DefaultSessionMaxAge
	}
	return &SessionCache{
		maxAge:   maxAge,
		clock:    clock,
		sessions: make(map[int]cachedSession),
		views:    make(map[int]domain.ProgressView),
	}
}

func (c *SessionCache) SaveSession(setID int, state domain.SessionState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[setID] = cachedSession{state: state, savedAt: c.clock()}
	return nil
}

func (c *SessionCache) LoadSession(setID int) (domain.SessionState, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.sessions[setID]
	if !ok {
		return domain.SessionState{}, false, nil
	}
	if c.clock().Sub(entry.savedAt) >= c.maxAge {
		delete(c.sessions, setID)
		return domain.SessionState{}, false, nil
	}
	return entry.state, true, nil
}

func (c *SessionCache) ClearSession(setID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, setID)
	return nil
}

func (c *SessionCache) SaveProgressView(setID int, view domain.ProgressView) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[setID] = view
	return nil
}

func (c *SessionCache) LoadProgressView(setID int) (domain.ProgressView, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	view, ok := c.views[setID]
	return view, ok, nil
}

func (c *SessionCache) LoadAllProgressViews() (map[int]domain.ProgressView, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[int]domain.ProgressView, len(c.views))
	for setID, view := range c.views {
		out[setID] = view
	}
	return out, nil
}

func (c *SessionCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = make(map[int]cachedSession)
	c.views = make(map[int]domain.ProgressView)
	return nil
}
