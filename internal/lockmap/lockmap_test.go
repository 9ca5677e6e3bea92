package lockmap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireSerialisesSameKey(t *testing.T) {
	m := New()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		holders int
		max     int
	)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(ctx, "mutate:default")
			require.NoError(t, err)
			mu.Lock()
			holders++
			if holders > max {
				max = holders
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, max, "only one holder at a time")
}

func TestAcquireIndependentKeys(t *testing.T) {
	m := New()
	ctx := context.Background()

	r1, err := m.Acquire(ctx, "a")
	require.NoError(t, err)
	defer r1()

	// A different key must not block.
	done := make(chan struct{})
	go func() {
		r2, err := m.Acquire(ctx, "b")
		assert.NoError(t, err)
		r2()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("acquire on independent key blocked")
	}
}

func TestAcquireCancelled(t *testing.T) {
	m := New()

	release, err := m.Acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()

	// The key is usable again after the failed waiter gave up.
	release2, err := m.Acquire(context.Background(), "k")
	require.NoError(t, err)
	release2()
}
