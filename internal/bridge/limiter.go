package bridge

import (
	"context"
	"sync"
)

// connLimiter bounds the number of connections a server serves at once.
// A limit of 0 admits every connection.
type connLimiter struct {
	mu     sync.Mutex
	cond   *sync.Cond
	limit  int
	active int
}

func newConnLimiter(limit int) *connLimiter {
	if limit < 0 {
		limit = 0
	}
	l := &connLimiter{limit: limit}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Acquire blocks until a slot is free or ctx is done.
func (l *connLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limit == 0 {
		l.active++
		return nil
	}

	// Wake waiters when ctx ends so they can observe the cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.cond.Broadcast()
			l.mu.Unlock()
		case <-done:
		}
	}()

	for l.active >= l.limit {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.active++
	return nil
}

// Release frees a slot.
func (l *connLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active > 0 {
		l.active--
	}
	l.cond.Signal()
}

// Active returns the number of held slots.
func (l *connLimiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}
