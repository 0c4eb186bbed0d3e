// Package bundle caches computed permission bundles in process, keyed by
// user and appointment, and revalidates them against the durable policy
// version on every lookup.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"garrison.org/internal/authz"
	"garrison.org/internal/obs"
)

// Source computes permission bundles and reports the current policy version.
// The policy version is read from durable storage, never from the cache, so a
// version bump on one instance invalidates every instance's entries.
type Source interface {
	ComputeBundle(ctx context.Context, userID, appointmentID string) (*authz.PermissionBundle, error)
	PolicyVersion(ctx context.Context) (int64, error)
}

// DefaultTTL bounds entry lifetime even when the policy version is unchanged.
const DefaultTTL = 5 * time.Minute

type entry struct {
	bundle    *authz.PermissionBundle
	expiresAt time.Time
	// staleServed marks that this entry already covered one failed
	// recompute; the next failure is surfaced to the caller.
	staleServed bool
}

// Cache is an in-process permission bundle cache. It satisfies
// authz.BundleSource.
type Cache struct {
	src Source
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the entry lifetime bound.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New builds a Cache over the given source.
func New(src Source, opts ...Option) *Cache {
	c := &Cache{
		src:     src,
		ttl:     DefaultTTL,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func cacheKey(userID, appointmentID string) string {
	return userID + "\x00" + appointmentID
}

// Get returns the permission bundle for the user acting under the given
// appointment. The cached copy is reused only while both the policy version
// and the TTL hold; otherwise the bundle is recomputed. When recompute fails
// an unexpired entry is served once with a warning; a cold cache fails
// closed.
func (c *Cache) Get(ctx context.Context, userID, appointmentID string) (*authz.PermissionBundle, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("bundle: userID is required")
	}
	key := cacheKey(userID, appointmentID)
	now := c.now()

	version, versionErr := c.src.PolicyVersion(ctx)

	c.mu.RLock()
	e := c.entries[key]
	c.mu.RUnlock()

	if e != nil && versionErr == nil && e.bundle.PolicyVersion == version && now.Before(e.expiresAt) {
		obs.ObserveBundleCache("hit")
		return e.bundle, nil
	}

	computeErr := versionErr
	if computeErr == nil {
		bundle, err := c.src.ComputeBundle(ctx, userID, appointmentID)
		if err == nil {
			bundle.PolicyVersion = version
			bundle.ComputedAt = now
			c.mu.Lock()
			c.entries[key] = &entry{bundle: bundle, expiresAt: now.Add(c.ttl)}
			c.mu.Unlock()
			obs.ObserveBundleCache("miss")
			return bundle, nil
		}
		computeErr = err
	}

	// Recompute failed. Serve an unexpired entry at most once so a flapping
	// store degrades gracefully without masking a sustained outage.
	if e != nil && now.Before(e.expiresAt) {
		c.mu.Lock()
		served := e.staleServed
		e.staleServed = true
		c.mu.Unlock()
		if !served {
			obs.Warn("serving stale permission bundle", map[string]any{
				"user_id":        userID,
				"appointment_id": appointmentID,
				"error":          computeErr.Error(),
			})
			obs.ObserveBundleCache("stale")
			return e.bundle, nil
		}
	}

	obs.ObserveBundleCache("error")
	return nil, fmt.Errorf("bundle: compute for user %s: %w", userID, computeErr)
}

// Invalidate drops every cached bundle for the user, across appointments.
// Used on appointment transfer so the next request recomputes immediately.
func (c *Cache) Invalidate(userID string) {
	prefix := userID + "\x00"
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// Purge drops all cached bundles.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
