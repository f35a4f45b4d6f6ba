package proc

import (
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/jellydator/ttlcache/v3"
)

// Cooldowns gates how often a user may create a room. Each acquisition is a
// cache item that expires when its window ends.
type Cooldowns struct {
	mu       sync.Mutex
	items    *ttlcache.Cache[snowflake.ID, time.Time]
	stopOnce sync.Once
}

func NewCooldowns() *Cooldowns {
	items := ttlcache.New[snowflake.ID, time.Time](
		ttlcache.WithDisableTouchOnHit[snowflake.ID, time.Time](),
	)
	go items.Start()
	return &Cooldowns{items: items}
}

// active returns the live acquisition of userID, ignoring items that expired
// but have not been evicted yet.
func (c *Cooldowns) active(userID snowflake.ID) *ttlcache.Item[snowflake.ID, time.Time] {
	item := c.items.Get(userID)
	if item == nil || item.IsExpired() {
		return nil
	}
	return item
}

// TryAcquire records a creation for userID unless one happened less than
// window ago. The check and the write happen under one lock.
func (c *Cooldowns) TryAcquire(userID snowflake.ID, window time.Duration) bool {
	if window <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active(userID) != nil {
		return false
	}
	c.items.Set(userID, time.Now(), window)
	return true
}

// Remaining returns how long userID still has to wait, or zero.
func (c *Cooldowns) Remaining(userID snowflake.ID, window time.Duration) time.Duration {
	item := c.active(userID)
	if item == nil {
		return 0
	}
	left := min(time.Until(item.ExpiresAt()), window)
	if left < 0 {
		return 0
	}
	return left
}

// Release forgets the last acquisition, e.g. when room creation was rolled back.
func (c *Cooldowns) Release(userID snowflake.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Delete(userID)
}

// Len counts live acquisitions.
func (c *Cooldowns) Len() int {
	return c.items.Len()
}

// Stop ends the eviction loop and drops every acquisition.
func (c *Cooldowns) Stop() {
	c.stopOnce.Do(func() {
		c.items.Stop()
		c.items.DeleteAll()
	})
}
