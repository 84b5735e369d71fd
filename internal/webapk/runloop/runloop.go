// Package runloop provides the single control goroutine that owns update state.
// Asynchronous work posts its results back as closures instead of touching
// shared state directly.
package runloop

import (
	"context"
	"sync"
)

// Poster queues fn to run on the control goroutine.
type Poster interface {
	Post(fn func())
}

// Loop runs posted closures one at a time in submission order.
type Loop struct {
	queue chan func()
}

var _ Poster = (*Loop)(nil)

// New returns a loop whose queue holds up to size pending closures before
// Post blocks.
func New(size int) *Loop {
	if size <= 0 {
		size = 64
	}
	return &Loop{queue: make(chan func(), size)}
}

// Post enqueues fn.
func (l *Loop) Post(fn func()) {
	l.queue <- fn
}

// Run executes posted closures until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.queue:
			fn()
		}
	}
}

// Manual is a Poster that holds closures until Drain is called. Tests use it
// to play the role of the control goroutine deterministically.
type Manual struct {
	mu    sync.Mutex
	queue []func()
}

var _ Poster = (*Manual)(nil)

func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
}

// Drain runs queued closures, including any they post, until none remain.
// It returns how many ran.
func (m *Manual) Drain() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return n
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		fn()
		n++
	}
}

// Len returns the number of queued closures.
func (m *Manual) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Go is a Poster that runs every closure on a new goroutine. It is used for
// background work whose result is posted back to a Loop.
type Go struct{}

func (Go) Post(fn func()) { go fn() }
