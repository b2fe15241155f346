package bridge

import (
	"context"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Dialer produces initialized clients for a workspace root.
type Dialer interface {
	Dial(ctx context.Context, root string, opts ...ClientOption) (*Client, error)
}

// Pool caches one client per workspace root. Concurrent first callers for
// the same root share a single dial.
type Pool struct {
	dialer Dialer
	opts   []ClientOption

	mu      sync.RWMutex
	clients map[string]*Client
	group   singleflight.Group
}

// NewPool creates a pool; opts apply to every client it dials.
func NewPool(d Dialer, opts ...ClientOption) *Pool {
	return &Pool{
		dialer:  d,
		opts:    opts,
		clients: make(map[string]*Client),
	}
}

// Get returns the client for root, dialing it on first use or after the
// previous connection ended.
func (p *Pool) Get(ctx context.Context, root string) (*Client, error) {
	key := poolKey(root)
	if c := p.lookup(key); c != nil {
		return c, nil
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		// A caller that lost the race to an earlier flight finds its client here.
		if c := p.lookup(key); c != nil {
			return c, nil
		}

		c, err := p.dialer.Dial(ctx, key, p.opts...)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.clients[key] = c
		p.mu.Unlock()

		go func() {
			<-c.Done()
			p.mu.Lock()
			if p.clients[key] == c {
				delete(p.clients, key)
			}
			p.mu.Unlock()
		}()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

func (p *Pool) lookup(key string) *Client {
	p.mu.RLock()
	c, ok := p.clients[key]
	p.mu.RUnlock()
	if !ok {
		return nil
	}
	select {
	case <-c.Done():
		return nil
	default:
		return c
	}
}

// Len returns the number of live clients.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

// Close closes every client.
func (p *Pool) Close() error {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[string]*Client)
	p.mu.Unlock()

	var firstErr error
	for _, c := range clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func poolKey(root string) string {
	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}
	return filepath.Clean(root)
}
