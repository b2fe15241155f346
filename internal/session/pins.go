package session

import (
	"context"
	"encoding/json"

	"github.com/Iron-Ham/grove/internal/errors"
)

// ListPinned returns the pinned session names in the order they were pinned.
func (r *Registry) ListPinned(ctx context.Context) ([]string, error) {
	r.pinMu.Lock()
	defer r.pinMu.Unlock()
	return r.loadPins(ctx)
}

// Pin adds name to the pin set. Pinning twice is a no-op.
func (r *Registry) Pin(ctx context.Context, name string) error {
	r.pinMu.Lock()
	defer r.pinMu.Unlock()

	pins, err := r.loadPins(ctx)
	if err != nil {
		return err
	}
	if indexOf(pins, name) >= 0 {
		return nil
	}
	return r.savePins(ctx, append(pins, name))
}

// Unpin removes name from the pin set. Unpinning a session that is not
// pinned is a no-op.
func (r *Registry) Unpin(ctx context.Context, name string) error {
	r.pinMu.Lock()
	defer r.pinMu.Unlock()

	pins, err := r.loadPins(ctx)
	if err != nil {
		return err
	}
	i := indexOf(pins, name)
	if i < 0 {
		return nil
	}
	return r.savePins(ctx, append(pins[:i], pins[i+1:]...))
}

// SortForDisplay orders sessions for presentation: pinned sessions first
// in pin order, then the rest in their input order. The input is not
// modified.
func (r *Registry) SortForDisplay(ctx context.Context, sessions []Session) ([]Session, error) {
	pins, err := r.ListPinned(ctx)
	if err != nil {
		return nil, err
	}
	return SortForDisplay(sessions, pins), nil
}

// SortForDisplay orders sessions with the names in pins first, in pins
// order, followed by the remaining sessions in input order. Applying it
// twice gives the same result as applying it once.
func SortForDisplay(sessions []Session, pins []string) []Session {
	byName := make(map[string]int, len(sessions))
	for i, s := range sessions {
		if _, dup := byName[NormalizeName(s.Name)]; !dup {
			byName[NormalizeName(s.Name)] = i
		}
	}

	out := make([]Session, 0, len(sessions))
	used := make([]bool, len(sessions))
	for _, p := range pins {
		i, ok := byName[NormalizeName(p)]
		if !ok || used[i] {
			continue
		}
		used[i] = true
		s := sessions[i]
		s.Pinned = true
		out = append(out, s)
	}
	for i, s := range sessions {
		if used[i] {
			continue
		}
		s.Pinned = false
		out = append(out, s)
	}
	return out
}

func (r *Registry) loadPins(ctx context.Context) ([]string, error) {
	data, err := r.store.Load(ctx, PinsFileName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var pins []string
	if err := json.Unmarshal(data, &pins); err != nil {
		r.logger.Warn("ignoring corrupted pin file", "error", err)
		return nil, nil
	}
	return pins, nil
}

func (r *Registry) savePins(ctx context.Context, pins []string) error {
	if pins == nil {
		pins = []string{}
	}
	data, err := json.MarshalIndent(pins, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal pins")
	}
	return r.store.Save(ctx, PinsFileName, data)
}

func indexOf(pins []string, name string) int {
	want := NormalizeName(name)
	for i, p := range pins {
		if NormalizeName(p) == want {
			return i
		}
	}
	return -1
}
