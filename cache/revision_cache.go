package cache

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// RevisionCache remembers which document revisions were handled successfully,
// so a redelivered change for the same revision can be skipped.
type RevisionCache struct {
	cache *ttlcache.Cache[string, struct{}]
}

// NewRevisionCache creates a cache whose entries expire after ttl and starts
// the expiry goroutine. Call Close to stop it.
func NewRevisionCache(ttl time.Duration) *RevisionCache {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, struct{}](ttl),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)

	go cache.Start()

	return &RevisionCache{cache: cache}
}

func revisionKey(id, rev string) string {
	return id + "@" + rev
}

// Seen reports whether the revision was marked handled and has not expired.
func (c *RevisionCache) Seen(id, rev string) bool {
	if rev == "" {
		return false
	}
	return c.cache.Has(revisionKey(id, rev))
}

// Mark records a successfully handled revision.
func (c *RevisionCache) Mark(id, rev string) {
	if rev == "" {
		return
	}
	c.cache.Set(revisionKey(id, rev), struct{}{}, ttlcache.DefaultTTL)
}

// Len returns the number of remembered revisions.
func (c *RevisionCache) Len() int {
	return c.cache.Len()
}

// Close stops the expiry goroutine.
func (c *RevisionCache) Close() error {
	c.cache.Stop()

	return nil
}
