package session

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/grove/internal/errors"
	"github.com/Iron-Ham/grove/internal/logging"
	"github.com/Iron-Ham/grove/internal/status"
)

// DirLister reports the session directories present in the worktrees folder.
type DirLister interface {
	WorktreeDir() string
	SessionDirs() []string
}

// Registry is the set of sessions known for one repository.
type Registry struct {
	layout Layout
	store  *FileStore
	dirs   DirLister
	logger *logging.Logger

	pinMu sync.Mutex
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFs replaces the filesystem used for descriptors. Tests use
// afero.NewMemMapFs().
func WithFs(fs afero.Fs) RegistryOption {
	return func(r *Registry) {
		r.store = NewFileStore(fs, r.layout.StateDir)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates a Registry for layout. dirs supplies the session
// directories found in the worktrees folder.
func NewRegistry(layout Layout, dirs DirLister, opts ...RegistryOption) *Registry {
	r := &Registry{
		layout: layout,
		store:  NewFileStore(afero.NewOsFs(), layout.StateDir),
		dirs:   dirs,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("session")
	return r
}

// Layout returns the registry's layout.
func (r *Registry) Layout() Layout {
	return r.layout
}

// Fs returns the filesystem holding the state folder.
func (r *Registry) Fs() afero.Fs {
	return r.store.Fs()
}

func sessionKey(name, file string) string {
	return SessionsDirName + "/" + name + "/" + file
}

// Save writes the descriptor of a session.
func (r *Registry) Save(ctx context.Context, d Descriptor) error {
	if d.Name == "" {
		return errors.NewValidationError("session name is required").WithField("name")
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal session descriptor")
	}
	return r.store.Save(ctx, sessionKey(d.Name, DescriptorFileName), data)
}

// Get returns the descriptor of a session.
func (r *Registry) Get(ctx context.Context, name string) (*Descriptor, error) {
	data, err := r.store.Load(ctx, sessionKey(name, DescriptorFileName))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errors.NewNotFoundError("session", name).WithCause(errors.ErrSessionNotFound)
		}
		return nil, err
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, errors.Wrapf(errors.ErrStateCorrupted, "session %s: %v", name, err)
	}
	if d.Name == "" {
		d.Name = name
	}
	return &d, nil
}

// Remove deletes everything the registry holds for a session: its state
// folder, its prompt file and its pin.
func (r *Registry) Remove(ctx context.Context, name string) error {
	if err := r.store.DeleteAll(ctx, SessionsDirName+"/"+name); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, PromptsDirName+"/"+name+".md"); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return r.Unpin(ctx, name)
}

// Clear resets a session to a fresh state: its workflow state, status
// descriptor and agent-session identifier are deleted. Missing files are
// fine.
func (r *Registry) Clear(ctx context.Context, name string) error {
	for _, file := range []string{WorkflowStateFile, StatusFileName, AgentSessionFileName} {
		if err := r.store.Delete(ctx, sessionKey(name, file)); err != nil && !errors.Is(err, ErrNotFound) {
			return errors.Wrapf(err, "failed to clear %s of session %s", file, name)
		}
	}
	r.logger.Info("session cleared", "session", name)
	return nil
}

// AgentSessionID returns the identifier the agent reported for its own
// session, or "" if it has not reported one.
func (r *Registry) AgentSessionID(ctx context.Context, name string) string {
	data, err := r.store.Load(ctx, sessionKey(name, AgentSessionFileName))
	if err != nil {
		return ""
	}
	var payload struct {
		SessionID string `json:"session_id"`
		Alt       string `json:"sessionId"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		r.logger.Debug("unreadable agent session file", "session", name, "error", err)
		return ""
	}
	if payload.SessionID != "" {
		return payload.SessionID
	}
	return payload.Alt
}

// SavePrompt stores the initial prompt of a session and returns its path.
func (r *Registry) SavePrompt(ctx context.Context, name, prompt string) (string, error) {
	if err := r.store.Save(ctx, PromptsDirName+"/"+name+".md", []byte(prompt)); err != nil {
		return "", err
	}
	return r.layout.PromptPath(name), nil
}

// Discover lists the sessions in the worktrees folder in name order. A
// directory without a descriptor is reported as an untracked idle session.
func (r *Registry) Discover(ctx context.Context) ([]Session, error) {
	pins, err := r.ListPinned(ctx)
	if err != nil {
		return nil, err
	}
	pinned := make(map[string]bool, len(pins))
	for _, p := range pins {
		pinned[NormalizeName(p)] = true
	}

	base := r.dirs.WorktreeDir()
	var sessions []Session
	for _, dir := range r.dirs.SessionDirs() {
		rel, err := filepath.Rel(base, dir)
		if err != nil {
			continue
		}
		name := filepath.ToSlash(rel)

		s := Session{Status: status.Idle}
		d, err := r.Get(ctx, name)
		switch {
		case err == nil:
			s.Descriptor = *d
			s.Tracked = true
		case errors.Is(err, errors.ErrSessionNotFound):
			s.Descriptor = Descriptor{Name: name, WorktreePath: dir}
		default:
			r.logger.Warn("skipping unreadable session descriptor", "session", name, "error", err)
			s.Descriptor = Descriptor{Name: name, WorktreePath: dir}
		}
		s.Name = name
		s.Pinned = pinned[NormalizeName(name)]
		r.applyStatus(ctx, &s)
		sessions = append(sessions, s)
	}

	sort.SliceStable(sessions, func(i, j int) bool { return sessions[i].Name < sessions[j].Name })
	return sessions, nil
}

// Descriptors returns every stored session descriptor in name order,
// whether or not its worktree directory still exists.
func (r *Registry) Descriptors(ctx context.Context) ([]Descriptor, error) {
	keys, err := r.store.List(ctx, SessionsDirName)
	if err != nil {
		return nil, err
	}

	var out []Descriptor
	for _, key := range keys {
		dir, ok := strings.CutSuffix(key, "/"+DescriptorFileName)
		if !ok {
			continue
		}
		name := strings.TrimPrefix(dir, SessionsDirName+"/")
		d, err := r.Get(ctx, name)
		if err != nil {
			r.logger.Warn("skipping unreadable session descriptor", "session", name, "error", err)
			continue
		}
		out = append(out, *d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Find returns the discovered session called name.
func (r *Registry) Find(ctx context.Context, name string) (*Session, error) {
	sessions, err := r.Discover(ctx)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if NormalizeName(sessions[i].Name) == NormalizeName(name) {
			return &sessions[i], nil
		}
	}
	return nil, errors.NewNotFoundError("session", name).WithCause(errors.ErrSessionNotFound)
}

func (r *Registry) applyStatus(ctx context.Context, s *Session) {
	data, err := r.store.Load(ctx, sessionKey(s.Name, StatusFileName))
	if err != nil {
		return
	}
	if d := status.ParseDescriptor(data); d != nil {
		s.Status = d.Status
		s.StatusMessage = d.Message
		s.StatusTimestamp = d.Timestamp
	}
}

// NameTaken reports whether name collides with an existing session,
// descriptor or worktree directory.
func (r *Registry) NameTaken(ctx context.Context, name string) (bool, error) {
	want := NormalizeName(name)

	sessions, err := r.Discover(ctx)
	if err != nil {
		return false, err
	}
	for _, s := range sessions {
		if NormalizeName(s.Name) == want {
			return true, nil
		}
	}

	keys, err := r.store.List(ctx, SessionsDirName)
	if err != nil {
		return false, err
	}
	for _, key := range keys {
		dir, ok := strings.CutSuffix(key, "/"+DescriptorFileName)
		if !ok {
			continue
		}
		if NormalizeName(strings.TrimPrefix(dir, SessionsDirName+"/")) == want {
			return true, nil
		}
	}
	return false, nil
}
