// Package funnel is the single queue every poller feeds and the controller
// drains.
package funnel

import (
	"context"
	"errors"
	"sync"

	"github.com/eapache/queue"

	"github.com/Naxetee/oficit-FactuLink/internal/event"
)

// ErrClosed is returned by Enqueue after Close, and by Dequeue once the
// funnel is closed and drained.
var ErrClosed = errors.New("funnel closed")

// Funnel is an unbounded FIFO queue of events, safe for any number of
// concurrent producers and one consumer. Events from one producer come out
// in the order that producer put them in; nothing is promised across
// producers.
type Funnel struct {
	mu     sync.Mutex
	q      *queue.Queue
	closed bool
	// ready holds at most one token, set whenever the queue goes from
	// empty to non-empty or the funnel closes.
	ready chan struct{}

	onDepth func(depth int)
}

// Option configures a Funnel.
type Option func(*Funnel)

// WithDepthObserver registers fn to receive the queue depth after every
// change. fn runs under the funnel lock and must not block.
func WithDepthObserver(fn func(depth int)) Option {
	return func(f *Funnel) {
		f.onDepth = fn
	}
}

// New creates an empty funnel.
func New(opts ...Option) *Funnel {
	f := &Funnel{
		q:     queue.New(),
		ready: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Enqueue appends ev. It never blocks and only fails after Close.
func (f *Funnel) Enqueue(ev event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	f.q.Add(ev)
	f.observe()
	f.signal()
	return nil
}

// TryDequeue removes and returns the oldest event without blocking.
func (f *Funnel) TryDequeue() (event.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pop()
}

// Dequeue removes and returns the oldest event, blocking until one is
// available, ctx is done, or the funnel is closed and empty.
func (f *Funnel) Dequeue(ctx context.Context) (event.Event, error) {
	for {
		f.mu.Lock()
		ev, ok := f.pop()
		closed := f.closed
		f.mu.Unlock()

		if ok {
			return ev, nil
		}
		if closed {
			return event.Event{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return event.Event{}, ctx.Err()
		case <-f.ready:
		}
	}
}

// Len returns the number of queued events.
func (f *Funnel) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.q.Length()
}

// Close stops accepting events. Events already queued can still be
// dequeued. Close is idempotent.
func (f *Funnel) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.signal()
}

// pop must be called with f.mu held.
func (f *Funnel) pop() (event.Event, bool) {
	if f.q.Length() == 0 {
		return event.Event{}, false
	}
	ev := f.q.Remove().(event.Event)
	f.observe()
	if f.q.Length() > 0 {
		f.signal()
	}
	return ev, true
}

func (f *Funnel) signal() {
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

func (f *Funnel) observe() {
	if f.onDepth != nil {
		f.onDepth(f.q.Length())
	}
}
