package service

import (
	"context"
	"sync"
)

// keyQueue serialises work per key in arrival order. Different keys run
// independently.
type keyQueue struct {
	mx    sync.Mutex
	lines map[string]*line
}

type line struct {
	waiting []chan struct{}
}

func newKeyQueue() *keyQueue {
	return &keyQueue{lines: make(map[string]*line)}
}

// Do runs fn once every earlier call for key has finished. If ctx ends
// while waiting, fn is not run.
func (q *keyQueue) Do(ctx context.Context, key string, fn func() error) error {
	if err := q.acquire(ctx, key); err != nil {
		return err
	}
	defer q.release(key)
	return fn()
}

func (q *keyQueue) acquire(ctx context.Context, key string) error {
	q.mx.Lock()
	l, busy := q.lines[key]
	if !busy {
		q.lines[key] = &line{}
		q.mx.Unlock()
		return nil
	}
	turn := make(chan struct{})
	l.waiting = append(l.waiting, turn)
	q.mx.Unlock()

	select {
	case <-turn:
		return nil
	case <-ctx.Done():
		q.mx.Lock()
		for i, c := range l.waiting {
			if c == turn {
				l.waiting = append(l.waiting[:i], l.waiting[i+1:]...)
				q.mx.Unlock()
				return ctx.Err()
			}
		}
		q.mx.Unlock()
		// The turn was handed over concurrently; pass it on.
		q.release(key)
		return ctx.Err()
	}
}

func (q *keyQueue) release(key string) {
	q.mx.Lock()
	defer q.mx.Unlock()
	l := q.lines[key]
	if l == nil {
		return
	}
	if len(l.waiting) == 0 {
		delete(q.lines, key)
		return
	}
	next := l.waiting[0]
	l.waiting = l.waiting[1:]
	close(next)
}

func (q *keyQueue) len() int {
	q.mx.Lock()
	defer q.mx.Unlock()
	return len(q.lines)
}
