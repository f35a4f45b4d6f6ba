package proc

import (
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemberQueues(t *testing.T) {
	t.Run("jobs for one member run in push order", func(t *testing.T) {
		q := newMemberQueues()

		var mu sync.Mutex
		var got []int
		var wg sync.WaitGroup
		for i := range 50 {
			wg.Add(1)
			q.push(1, func() {
				defer wg.Done()
				mu.Lock()
				got = append(got, i)
				mu.Unlock()
			})
		}
		wg.Wait()

		require.Len(t, got, 50)
		for i, v := range got {
			assert.Equal(t, i, v)
		}
	})

	t.Run("members do not block each other", func(t *testing.T) {
		q := newMemberQueues()
		release := make(chan struct{})
		done := make(chan struct{})

		q.push(1, func() { <-release })
		q.push(2, func() { close(done) })

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("member 2 waited on member 1")
		}
		close(release)
	})

	t.Run("a panicking job does not stall the queue", func(t *testing.T) {
		q := newMemberQueues()
		done := make(chan struct{})

		q.push(3, func() { panic("boom") })
		q.push(3, func() { close(done) })

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("queue stalled after panic")
		}
	})

	t.Run("idle queues are dropped", func(t *testing.T) {
		q := newMemberQueues()
		done := make(chan struct{})
		q.push(snowflake.ID(4), func() { close(done) })
		<-done

		assert.Eventually(t, func() bool {
			q.mu.Lock()
			defer q.mu.Unlock()
			_, ok := q.queues[4]
			return !ok
		}, time.Second, 5*time.Millisecond)
	})
}
