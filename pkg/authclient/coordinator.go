package authclient

import (
	"context"
	"errors"
	"sync"
)

// ErrSessionEnded is delivered to refresh waiters when the session was
// cleared (logout) while their refresh cycle was in flight.
var ErrSessionEnded = errors.New("session ended")

// RefreshFunc performs the network refresh call and returns the new access
// token. The coordinator guarantees at most one concurrent invocation.
type RefreshFunc func(ctx context.Context) (string, error)

type refreshResult struct {
	token string
	err   error
}

// Coordinator owns the cached access token and the single in-flight-refresh
// slot. However many callers discover an expired token at once, exactly one
// of them performs the network refresh; the rest subscribe to its result.
// Subscribers are notified once, in arrival order, then the slot reopens.
type Coordinator struct {
	refresh RefreshFunc

	mu         sync.Mutex
	token      string
	refreshing bool
	waiters    []chan refreshResult

	// generation advances on Clear so a refresh that was in flight when
	// the session ended cannot repopulate the cache.
	generation uint64
}

func NewCoordinator(refresh RefreshFunc) *Coordinator {
	return &Coordinator{refresh: refresh}
}

// Current returns the cached access token without blocking. Empty string
// means no token is cached.
func (c *Coordinator) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// SetToken replaces the cached token, e.g. after login.
func (c *Coordinator) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Clear drops the cached token immediately. A refresh already in flight
// still resolves its subscribers, but with ErrSessionEnded rather than a
// token from the ended session.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.generation++
}

// EnsureFresh blocks until a token fresher than stale is available or the
// refresh fails. If the cache already moved past stale the current token is
// returned without a network call. Otherwise the first caller of a cycle
// issues the network call; concurrent callers wait for its outcome instead
// of spawning their own.
func (c *Coordinator) EnsureFresh(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.token != stale {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	if c.refreshing {
		ch := make(chan refreshResult, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case res := <-ch:
			return res.token, res.err
		}
	}

	c.refreshing = true
	startGen := c.generation
	c.mu.Unlock()

	token, err := c.refresh(ctx)

	c.mu.Lock()
	if err == nil {
		if c.generation == startGen {
			c.token = token
		} else {
			token, err = "", ErrSessionEnded
		}
	}
	waiters := c.waiters
	c.waiters = nil
	c.refreshing = false
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{token: token, err: err}
	}
	return token, err
}
