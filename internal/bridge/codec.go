package bridge

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sync"

	"github.com/Iron-Ham/grove/internal/errors"
)

// maxLineSize bounds a single message. Diffs are the largest payloads.
const maxLineSize = 64 << 20

// Codec reads and writes newline-delimited JSON messages. Reads must come
// from a single goroutine; writes may come from any.
type Codec struct {
	r *bufio.Reader

	wmu sync.Mutex
	w   io.Writer
}

// NewCodec wraps a byte stream.
func NewCodec(r io.Reader, w io.Writer) *Codec {
	return &Codec{r: bufio.NewReaderSize(r, 64<<10), w: w}
}

// Read returns the next message. Blank lines are skipped. A line that is
// not valid JSON yields a ProtocolError, after which reading can continue.
func (c *Codec) Read() (*Message, error) {
	for {
		line, err := c.readLine()
		var protoErr *errors.ProtocolError
		if errors.As(err, &protoErr) {
			return nil, err
		}
		if len(bytes.TrimSpace(line)) == 0 {
			if err != nil {
				return nil, err
			}
			continue
		}

		var msg Message
		if jsonErr := json.Unmarshal(line, &msg); jsonErr != nil {
			return nil, errors.NewProtocolError("malformed message", jsonErr)
		}
		return &msg, nil
	}
}

// readLine returns one line without its terminator. An oversized line is
// consumed and reported as a ProtocolError.
func (c *Codec) readLine() ([]byte, error) {
	var line []byte
	oversized := false
	for {
		chunk, isPrefix, err := c.r.ReadLine()
		if !oversized {
			line = append(line, chunk...)
			if len(line) > maxLineSize {
				oversized = true
				line = nil
			}
		}
		if err != nil {
			return line, err
		}
		if isPrefix {
			continue
		}
		if oversized {
			return nil, errors.NewProtocolError("message too large", nil)
		}
		return line, nil
	}
}

// Write encodes msg as one line.
func (c *Codec) Write(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "failed to encode message")
	}
	data = append(data, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.w.Write(data)
	return err
}

// marshalParams encodes params, leaving nil as absent.
func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode params")
	}
	return data, nil
}
