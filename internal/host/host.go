// Package host abstracts the terminal surface that agent sessions run in.
// The workspace service only talks to the Terminal interface; Tmux is the
// implementation used by the CLI and Nop serves headless callers.
package host

import (
	"context"

	"github.com/Iron-Ham/grove/internal/errors"
)

// ErrNoTerminal is returned by hosts that cannot open terminals.
var ErrNoTerminal = errors.New("no terminal host available")

// Terminal opens and drives named terminals.
type Terminal interface {
	// OpenTerminal starts cmd in a terminal called title with working
	// directory cwd. Opening a title that already exists focuses it.
	OpenTerminal(ctx context.Context, title, cwd, cmd string) error
	// SendText types text into the terminal followed by Enter.
	SendText(ctx context.Context, title, text string) error
	// Focus brings the terminal to the front.
	Focus(ctx context.Context, title string) error
}

// Closer is implemented by hosts that can tear a terminal down.
type Closer interface {
	CloseTerminal(ctx context.Context, title string) error
}

// Nop is a Terminal for callers without a terminal surface.
type Nop struct{}

func (Nop) OpenTerminal(context.Context, string, string, string) error { return ErrNoTerminal }
func (Nop) SendText(context.Context, string, string) error             { return ErrNoTerminal }
func (Nop) Focus(context.Context, string) error                        { return ErrNoTerminal }
