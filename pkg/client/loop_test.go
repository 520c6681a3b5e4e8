package client

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLoopRunsInOrder(t *testing.T) {
	var l eventLoop
	var got []int

	for i := 0; i < 5; i++ {
		i := i
		l.post(func() { got = append(got, i) })
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestEventLoopReentrantPostRunsAfterCurrent(t *testing.T) {
	var l eventLoop
	var got []string

	l.post(func() {
		got = append(got, "outer-start")
		l.post(func() { got = append(got, "inner") })
		got = append(got, "outer-end")
	})

	assert.Equal(t, []string{"outer-start", "outer-end", "inner"}, got)
}

func TestEventLoopSurvivesPanic(t *testing.T) {
	var recovered any
	l := eventLoop{onPanic: func(r any, _ []byte) { recovered = r }}

	ran := false
	l.post(func() { panic("boom") })
	l.post(func() { ran = true })

	assert.Equal(t, "boom", recovered)
	assert.True(t, ran, "loop should keep draining after a panic")
}

func TestEventLoopConcurrentPosts(t *testing.T) {
	var l eventLoop
	var mu sync.Mutex
	count := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.post(func() {
				mu.Lock()
				count++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	// Every post either ran itself or was picked up by the drainer before it exited
	l.post(func() {})
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 50, count)
}

func TestSafeCall(t *testing.T) {
	assert.NoError(t, safeCall(func() {}))
	assert.Error(t, safeCall(func() { panic("x") }))
}
