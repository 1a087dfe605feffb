package automation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultSessionTTL is how long a user's tool session is reused.
const DefaultSessionTTL = time.Hour

// SessionCache hands out per-user tool sessions, reusing one until it is
// older than the TTL. Expiry is checked only on acquisition.
//
// Two concurrent acquisitions for the same user with an expired entry may
// both open a session; the last one stored wins.
//
// Thread Safety: All methods are safe for concurrent use.
type SessionCache struct {
	provider ToolProvider
	ttl      time.Duration
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*ToolSession
}

// NewSessionCache creates a cache over provider. A non-positive ttl selects
// DefaultSessionTTL.
func NewSessionCache(provider ToolProvider, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionCache{
		provider: provider,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*ToolSession),
	}
}

// SetClock replaces the time source. Intended for tests.
func (c *SessionCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Acquire returns a live session for userID, opening a new one when the
// cached entry is missing or expired. The provider call is made without
// holding the lock.
func (c *SessionCache) Acquire(ctx context.Context, userID string) (*ToolSession, error) {
	c.mu.Lock()
	now := c.now()
	if s, ok := c.sessions[userID]; ok && now.Sub(s.CreatedAt) < c.ttl {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	if c.provider == nil {
		return nil, ErrNoSession
	}
	session, err := c.provider.OpenSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoSession, err)
	}
	if session == nil {
		return nil, ErrNoSession
	}

	c.mu.Lock()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = c.now()
	}
	if session.UserID == "" {
		session.UserID = userID
	}
	c.sessions[userID] = session
	c.mu.Unlock()
	return session, nil
}

// Invalidate discards the cached session for userID.
func (c *SessionCache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.sessions, userID)
	c.mu.Unlock()
}

// Len returns the number of cached sessions, expired ones included.
func (c *SessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Provider returns the underlying tool provider.
func (c *SessionCache) Provider() ToolProvider {
	return c.provider
}
