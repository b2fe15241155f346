package queue

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/grove/internal/errors"
)

func TestEnqueue_FirstTicketDoesNotWait(t *testing.T) {
	q := New()
	ticket, err := q.Enqueue(context.Background(), "/wt/a")
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if ticket.Waited() {
		t.Error("Waited() = true for the first ticket")
	}
	ticket.Release()
	ticket.Release()
	if n := q.Pending("/wt/a"); n != 0 {
		t.Errorf("Pending() = %d after release", n)
	}
}

func TestEnqueue_FIFO(t *testing.T) {
	q := New()
	ctx := context.Background()

	first, err := q.Enqueue(ctx, "/wt/a")
	if err != nil {
		t.Fatal(err)
	}

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ticket, err := q.Enqueue(ctx, "/wt/a")
			if err != nil {
				t.Error(err)
				return
			}
			if !ticket.Waited() {
				t.Errorf("ticket %d should have waited", i)
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			ticket.Release()
		}(i)
		// Make enqueue order deterministic.
		waitPending(t, q, "/wt/a", i+1)
	}

	first.Release()
	wg.Wait()

	if !slices.Equal(order, []int{1, 2, 3}) {
		t.Errorf("order = %v, want [1 2 3]", order)
	}
}

func TestEnqueue_DistinctKeysRunConcurrently(t *testing.T) {
	q := New()
	ctx := context.Background()

	a, err := q.Enqueue(ctx, "/wt/a")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Release()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	b, err := q.Enqueue(ctx, "/wt/b")
	if err != nil {
		t.Fatalf("Enqueue(b) blocked behind a: %v", err)
	}
	if b.Waited() {
		t.Error("b should not wait")
	}
	b.Release()
}

func TestEnqueue_CancelDoesNotStarve(t *testing.T) {
	q := New()
	first, err := q.Enqueue(context.Background(), "k")
	if err != nil {
		t.Fatal(err)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(cancelCtx, "k")
		errCh <- err
	}()
	waitPending(t, q, "k", 2)

	gotThird := make(chan *Ticket, 1)
	go func() {
		ticket, err := q.Enqueue(context.Background(), "k")
		if err != nil {
			t.Error(err)
			return
		}
		gotThird <- ticket
	}()
	waitPending(t, q, "k", 3)

	cancel()
	if err := <-errCh; !errors.Is(err, errors.ErrCanceled) || !errors.Is(err, context.Canceled) {
		t.Errorf("canceled Enqueue() error = %v", err)
	}

	first.Release()
	select {
	case ticket := <-gotThird:
		ticket.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("third ticket starved after the second was canceled")
	}
}

func TestEnqueue_CaseFolding(t *testing.T) {
	tests := []struct {
		fold     bool
		wantWait bool
	}{
		{fold: true, wantWait: true},
		{fold: false, wantWait: false},
	}

	for _, tt := range tests {
		q := New(WithCaseFolding(tt.fold))
		first, err := q.Enqueue(context.Background(), "/wt/Feature")
		if err != nil {
			t.Fatal(err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		second, err := q.Enqueue(ctx, "/wt/feature/")
		cancel()

		blocked := err != nil
		if blocked != tt.wantWait {
			t.Errorf("fold=%v: blocked = %v, want %v", tt.fold, blocked, tt.wantWait)
		}
		if second != nil {
			second.Release()
		}
		first.Release()
	}
}

func TestDo(t *testing.T) {
	q := New()
	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup

	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := q.Do(context.Background(), "/wt/x", func(bool) error {
				n := running.Add(1)
				for {
					m := maxRunning.Load()
					if n <= m || maxRunning.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if maxRunning.Load() != 1 {
		t.Errorf("max concurrent = %d, want 1", maxRunning.Load())
	}
	if q.Pending("/wt/x") != 0 {
		t.Error("tickets leaked")
	}
}

func TestDo_ReleasesOnError(t *testing.T) {
	q := New()
	boom := errors.New("boom")
	if err := q.Do(context.Background(), "k", func(bool) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("Do() error = %v", err)
	}
	if q.Pending("k") != 0 {
		t.Error("failed work should release its ticket")
	}
}

func waitPending(t *testing.T, q *Queue, key string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for q.Pending(key) < n {
		if time.Now().After(deadline) {
			t.Fatalf("Pending(%q) never reached %d", key, n)
		}
		time.Sleep(time.Millisecond)
	}
}
