// Package queue serializes work per target path. Session creation, repair
// and deletion all take a ticket for the worktree path they touch, so two
// requests can never materialize or remove the same worktree at once.
// Tickets for one path are granted in FIFO order; different paths proceed
// concurrently.
package queue

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/Iron-Ham/grove/internal/errors"
)

// Queue hands out tickets per normalized key.
type Queue struct {
	mu    sync.Mutex
	lanes map[string][]*Ticket
	fold  bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithCaseFolding overrides whether keys compare case-insensitively. The
// default follows the platform's usual filesystem.
func WithCaseFolding(fold bool) Option {
	return func(q *Queue) { q.fold = fold }
}

// New creates an empty Queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		lanes: make(map[string][]*Ticket),
		fold:  runtime.GOOS == "darwin" || runtime.GOOS == "windows",
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Ticket grants exclusive use of a key until it is released.
type Ticket struct {
	q      *Queue
	key    string
	ready  chan struct{}
	waited bool
	once   sync.Once
}

// Key returns the normalized key the ticket holds.
func (t *Ticket) Key() string { return t.key }

// Waited reports whether the ticket had to queue behind another one. A
// caller that waited must re-check the state it is about to change.
func (t *Ticket) Waited() bool { return t.waited }

// Release hands the key to the next waiter. Calling it again does nothing.
func (t *Ticket) Release() {
	t.once.Do(func() { t.q.release(t) })
}

// Normalize returns the form of key used for queueing.
func (q *Queue) Normalize(key string) string {
	key = filepath.Clean(key)
	if q.fold {
		key = strings.ToLower(key)
	}
	return key
}

// Enqueue waits until every earlier ticket for key has been released and
// returns a ticket for it. If ctx ends first the caller leaves the queue
// without holding anything up.
func (q *Queue) Enqueue(ctx context.Context, key string) (*Ticket, error) {
	t := &Ticket{q: q, key: q.Normalize(key), ready: make(chan struct{})}

	q.mu.Lock()
	lane := append(q.lanes[t.key], t)
	q.lanes[t.key] = lane
	if len(lane) == 1 {
		close(t.ready)
	} else {
		t.waited = true
	}
	q.mu.Unlock()

	select {
	case <-t.ready:
		return t, nil
	case <-ctx.Done():
		t.Release()
		return nil, fmt.Errorf("%w: waiting for %s: %w", errors.ErrCanceled, key, ctx.Err())
	}
}

// Do runs fn while holding a ticket for key.
func (q *Queue) Do(ctx context.Context, key string, fn func(waited bool) error) error {
	t, err := q.Enqueue(ctx, key)
	if err != nil {
		return err
	}
	defer t.Release()
	return fn(t.Waited())
}

// Pending returns how many tickets, granted or waiting, exist for key.
func (q *Queue) Pending(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes[q.Normalize(key)])
}

func (q *Queue) release(t *Ticket) {
	q.mu.Lock()
	defer q.mu.Unlock()

	lane := q.lanes[t.key]
	i := -1
	for j, other := range lane {
		if other == t {
			i = j
			break
		}
	}
	if i < 0 {
		return
	}
	lane = append(lane[:i], lane[i+1:]...)
	if len(lane) == 0 {
		delete(q.lanes, t.key)
		return
	}
	q.lanes[t.key] = lane
	if i == 0 {
		close(lane[0].ready)
	}
}
