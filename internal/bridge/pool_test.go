package bridge

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// pipeDialer serves every dial from an in-memory server for the root.
type pipeDialer struct {
	dials atomic.Int32
	delay time.Duration
}

func (d *pipeDialer) Dial(ctx context.Context, root string, opts ...ClientOption) (*Client, error) {
	d.dials.Add(1)
	time.Sleep(d.delay)

	serverSide, clientSide := net.Pipe()
	go func() { _ = NewServer(root, nil).ServeConn(context.Background(), serverSide) }()

	c := NewClient(clientSide, opts...)
	if _, err := c.Initialize(ctx, "test", root); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func TestPool_ConcurrentGetDialsOnce(t *testing.T) {
	d := &pipeDialer{delay: 50 * time.Millisecond}
	p := NewPool(d)
	defer func() { _ = p.Close() }()
	root := t.TempDir()

	var wg sync.WaitGroup
	clients := make([]*Client, 10)
	for i := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.Get(context.Background(), root)
			if err != nil {
				t.Errorf("Get() error = %v", err)
				return
			}
			clients[i] = c
		}()
	}
	wg.Wait()

	if got := d.dials.Load(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
	for i, c := range clients {
		if c != clients[0] {
			t.Errorf("client %d differs from client 0", i)
		}
	}
	if p.Len() != 1 {
		t.Errorf("Len() = %d, want 1", p.Len())
	}
}

func TestPool_RedialsAfterDisconnect(t *testing.T) {
	d := &pipeDialer{}
	p := NewPool(d)
	defer func() { _ = p.Close() }()
	root := t.TempDir()
	ctx := context.Background()

	first, err := p.Get(ctx, root)
	if err != nil {
		t.Fatal(err)
	}
	_ = first.Close()

	second, err := p.Get(ctx, root)
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Error("Get() returned the closed client")
	}
	if got := d.dials.Load(); got != 2 {
		t.Errorf("dials = %d, want 2", got)
	}
}

func TestPool_SeparateRoots(t *testing.T) {
	d := &pipeDialer{}
	p := NewPool(d)
	ctx := context.Background()

	a, err := p.Get(ctx, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Get(ctx, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("different roots share a client")
	}

	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if p.Len() != 0 {
		t.Errorf("Len() after Close = %d, want 0", p.Len())
	}
}
