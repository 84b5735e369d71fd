package runloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoopRunsInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := New(0)
	done := make(chan struct{})
	go func() {
		_ = l.Run(ctx)
		close(done)
	}()

	got := make(chan int, 3)
	for i := 0; i < 3; i++ {
		l.Post(func() { got <- i })
	}
	for i := 0; i < 3; i++ {
		select {
		case v := <-got:
			assert.Equal(t, i, v)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for posted closure")
		}
	}

	cancel()
	<-done
}

func TestManualDrainRunsNestedPosts(t *testing.T) {
	var m Manual
	var order []string
	m.Post(func() {
		order = append(order, "a")
		m.Post(func() { order = append(order, "c") })
	})
	m.Post(func() { order = append(order, "b") })

	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 3, m.Drain())
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 0, m.Len())
}
