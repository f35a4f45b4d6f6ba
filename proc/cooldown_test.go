package proc

import (
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
)

func TestCooldowns(t *testing.T) {
	user := snowflake.ID(1001)
	other := snowflake.ID(1002)

	t.Run("one acquisition per window", func(t *testing.T) {
		c := NewCooldowns()
		defer c.Stop()

		assert.True(t, c.TryAcquire(user, time.Minute))
		assert.False(t, c.TryAcquire(user, time.Minute))
		assert.True(t, c.TryAcquire(other, time.Minute))

		left := c.Remaining(user, time.Minute)
		assert.Greater(t, left, 58*time.Second)
		assert.LessOrEqual(t, left, time.Minute)
		assert.Equal(t, time.Duration(0), c.Remaining(snowflake.ID(9), time.Minute))
	})

	t.Run("window elapses", func(t *testing.T) {
		c := NewCooldowns()
		defer c.Stop()

		assert.True(t, c.TryAcquire(user, 20*time.Millisecond))
		assert.Eventually(t, func() bool {
			return c.TryAcquire(user, 20*time.Millisecond)
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("release allows an immediate retry", func(t *testing.T) {
		c := NewCooldowns()
		defer c.Stop()

		assert.True(t, c.TryAcquire(user, time.Minute))
		c.Release(user)
		assert.True(t, c.TryAcquire(user, time.Minute))
	})

	t.Run("expired entries are evicted", func(t *testing.T) {
		c := NewCooldowns()
		defer c.Stop()

		assert.True(t, c.TryAcquire(user, 10*time.Millisecond))
		assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	})

	t.Run("stop drops every acquisition", func(t *testing.T) {
		c := NewCooldowns()
		assert.True(t, c.TryAcquire(user, time.Hour))
		assert.True(t, c.TryAcquire(other, time.Hour))

		c.Stop()
		c.Stop()
		assert.Equal(t, 0, c.Len())
	})

	t.Run("zero window never blocks", func(t *testing.T) {
		c := NewCooldowns()
		defer c.Stop()

		assert.True(t, c.TryAcquire(user, 0))
		assert.True(t, c.TryAcquire(user, 0))
	})
}
