package bridge

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/Iron-Ham/grove/internal/errors"
	"github.com/Iron-Ham/grove/internal/logging"
)

// NotificationHandler receives server notifications. It runs on the
// client's read goroutine and must not call back into the client
// synchronously.
type NotificationHandler func(method string, params json.RawMessage)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithNotificationHandler sets the handler for server notifications.
func WithNotificationHandler(h NotificationHandler) ClientOption {
	return func(c *Client) { c.onNotify = h }
}

// WithClientLogger sets the client logger.
func WithClientLogger(logger *logging.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// ErrClientClosed is returned by calls on a closed client.
var ErrClientClosed = errors.New("bridge client closed")

// Client issues requests over one connection.
type Client struct {
	codec    *Codec
	closer   io.Closer
	logger   *logging.Logger
	onNotify NotificationHandler

	mu      sync.Mutex
	pending map[string]chan *Message
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient starts reading responses from rwc.
func NewClient(rwc io.ReadWriteCloser, opts ...ClientOption) *Client {
	c := &Client{
		codec:   NewCodec(rwc, rwc),
		closer:  rwc,
		logger:  logging.NopLogger(),
		pending: make(map[string]chan *Message),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c
}

// Initialize performs the opening handshake.
func (c *Client) Initialize(ctx context.Context, clientVersion, root string) (*InitializeResult, error) {
	var out InitializeResult
	err := c.Call(ctx, MethodInitialize, InitializeParams{
		ClientVersion: clientVersion,
		WorkspaceRoot: root,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Call sends a request and decodes the result into result, which may be
// nil. A failed response is returned as *Error.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	ch := make(chan *Message, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.codec.Write(&Message{ID: id, Method: method, Params: raw}); err != nil {
		return errors.Wrapf(err, "failed to send %s", method)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		// A response may have landed just before the connection ended.
		select {
		case resp := <-ch:
			return decodeResult(resp, result)
		default:
		}
		return c.closedErr()
	case resp := <-ch:
		return decodeResult(resp, result)
	}
}

// Notify sends a notification.
func (c *Client) Notify(method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.codec.Write(&Message{Method: method, Params: raw})
}

// Shutdown asks the server to stop.
func (c *Client) Shutdown(ctx context.Context, reason string) error {
	return c.Call(ctx, MethodShutdown, ShutdownParams{Reason: reason}, nil)
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close ends the connection and fails every pending call.
func (c *Client) Close() error {
	err := c.closer.Close()
	c.finish(ErrClientClosed)
	return err
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrClientClosed
}

func (c *Client) finish(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Client) readLoop() {
	for {
		msg, err := c.codec.Read()
		if err != nil {
			var protoErr *errors.ProtocolError
			if errors.As(err, &protoErr) {
				c.logger.Warn("discarding malformed server message", "error", err)
				continue
			}
			if errors.Is(err, io.EOF) {
				err = ErrClientClosed
			}
			c.finish(err)
			_ = c.closer.Close()
			return
		}

		switch {
		case msg.IsResponse():
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			c.mu.Unlock()
			if !ok {
				c.logger.Debug("response for unknown request", "id", msg.ID)
				continue
			}
			select {
			case ch <- msg:
			default:
				c.logger.Debug("duplicate response", "id", msg.ID)
			}
		case msg.IsNotification():
			if c.onNotify != nil {
				c.onNotify(msg.Method, msg.Params)
			}
		case msg.Error != nil:
			c.logger.Warn("server reported an error", "code", msg.Error.Code, "message", msg.Error.Message)
		}
	}
}

func decodeResult(resp *Message, result any) error {
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return errors.Wrap(err, "failed to decode result")
	}
	return nil
}
