// Package eventq provides the bounded event queue shared by the engines.
//
// A full queue makes room by evicting its oldest low-value item (for example a
// progress tick that a newer one supersedes). Items that are not low-value are
// never dropped: their producers wait until space frees up.
package eventq

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// PushResult reports what happened to a pushed item.
type PushResult struct {
	Queued  bool // The item was appended
	Evicted int  // Number of older low-value items evicted to make room
}

// Queue is a bounded FIFO queue safe for concurrent producers and consumers.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	lowValue func(T) bool
	closed   bool

	wake  chan struct{}
	space chan struct{}
	done  chan struct{}
}

// New creates a queue. lowValue may be nil, in which case nothing is evictable.
func New[T any](capacity int, lowValue func(T) bool) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	if lowValue == nil {
		lowValue = func(T) bool { return false }
	}
	return &Queue[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		lowValue: lowValue,
		wake:     make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push appends v, waiting for space only when v cannot be placed by evicting
// a low-value item. A low-value v is dropped instead of waiting.
func (q *Queue[T]) Push(ctx context.Context, v T) (PushResult, error) {
	for {
		res, wait, err := q.tryPush(v)
		if err != nil || !wait {
			return res, err
		}
		select {
		case <-q.space:
		case <-q.done:
			return PushResult{}, ErrClosed
		case <-ctx.Done():
			return PushResult{}, ctx.Err()
		}
	}
}

// TryPush is Push without waiting: v is dropped when it cannot be placed.
func (q *Queue[T]) TryPush(v T) (PushResult, error) {
	res, _, err := q.tryPush(v)
	return res, err
}

func (q *Queue[T]) tryPush(v T) (res PushResult, wait bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return PushResult{}, false, ErrClosed
	}

	if len(q.items) < q.capacity {
		q.items = append(q.items, v)
		notify(q.wake)
		if len(q.items) < q.capacity {
			// Pops may have coalesced into one signal
			notify(q.space)
		}
		return PushResult{Queued: true}, false, nil
	}

	for i, item := range q.items {
		if q.lowValue(item) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.items = append(q.items, v)
			notify(q.wake)
			return PushResult{Queued: true, Evicted: 1}, false, nil
		}
	}

	if q.lowValue(v) {
		return PushResult{}, false, nil
	}
	return PushResult{}, true, nil
}

// Pop removes and returns the oldest item, waiting until one is available.
// Items queued before Close are still returned.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			notify(q.space)
			if len(q.items) > 0 {
				notify(q.wake)
			}
			q.mu.Unlock()
			return v, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return zero, ErrClosed
		}

		select {
		case <-q.wake:
		case <-q.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// Close stops accepting items and wakes every waiter.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
