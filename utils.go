package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

var ErrChannelClosed = fmt.Errorf("channel closed")

func chanRecv[T any](ctx context.Context, c <-chan T) (t T, err error) {
	select {
	case <-ctx.Done():
		return t, ctx.Err()

	case t, ok := <-c:
		if !ok {
			err = ErrChannelClosed
		}
		return t, err
	}
}

// eventQueue is an unbounded FIFO in front of an unbuffered channel, so that
// producers (transport callbacks) never block on slow consumers.
type eventQueue[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}
	out    chan T
	done   chan struct{}
	once   sync.Once
}

func newEventQueue[T any]() *eventQueue[T] {
	q := &eventQueue[T]{
		signal: make(chan struct{}, 1),
		out:    make(chan T),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *eventQueue[T]) run() {
	defer close(q.out)

	for {
		select {
		case <-q.done:
			return
		case <-q.signal:
		}

		for {
			q.mu.Lock()
			if len(q.items) == 0 {
				q.mu.Unlock()
				break
			}
			t := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()

			select {
			case <-q.done:
				return
			case q.out <- t:
			}
		}
	}
}

// push reports false once the queue has been closed.
func (q *eventQueue[T]) push(t T) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

func (q *eventQueue[T]) C() <-chan T {
	return q.out
}

// close drops pending items and closes the output channel.
func (q *eventQueue[T]) close() {
	q.once.Do(func() {
		close(q.done)
		q.mu.Lock()
		q.items = nil
		q.mu.Unlock()
	})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
