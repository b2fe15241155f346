package session

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/grove/internal/errors"
	"github.com/Iron-Ham/grove/internal/status"
)

// fakeDirs is a DirLister over a fixed set of session names.
type fakeDirs struct {
	base  string
	names []string
}

func (f *fakeDirs) WorktreeDir() string { return f.base }

func (f *fakeDirs) SessionDirs() []string {
	dirs := make([]string, 0, len(f.names))
	for _, n := range f.names {
		dirs = append(dirs, filepath.Join(f.base, filepath.FromSlash(n)))
	}
	return dirs
}

func newTestRegistry(t *testing.T, names ...string) (*Registry, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	layout := NewLayout("/repo", "")
	dirs := &fakeDirs{base: filepath.Join("/repo", ".grove", "worktrees"), names: names}
	return NewRegistry(layout, dirs, WithFs(fs)), fs
}

func names(sessions []Session) []string {
	out := make([]string, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Name)
	}
	return out
}

func TestRegistry_SaveGetRemove(t *testing.T) {
	ctx := context.Background()
	r, fs := newTestRegistry(t)

	d := Descriptor{
		Name:         "feat",
		WorktreePath: "/repo/.grove/worktrees/feat",
		SourceBranch: "main",
		CreatedAt:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		AgentName:    "claude",
		SessionID:    "7d7c0a3e-5f0b-4a39-9d53-6f1c1d7d2f11",
	}
	if err := r.Save(ctx, d); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := r.Get(ctx, "feat")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.CreatedAt.Equal(d.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, d.CreatedAt)
	}
	gotCopy, wantCopy := *got, d
	gotCopy.CreatedAt, wantCopy.CreatedAt = time.Time{}, time.Time{}
	if gotCopy != wantCopy {
		t.Errorf("Get() = %+v, want %+v", gotCopy, wantCopy)
	}

	if _, err := r.SavePrompt(ctx, "feat", "do the thing"); err != nil {
		t.Fatal(err)
	}
	if err := r.Pin(ctx, "feat"); err != nil {
		t.Fatal(err)
	}

	if err := r.Remove(ctx, "feat"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := r.Get(ctx, "feat"); !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("Get() after Remove error = %v", err)
	}
	if ok, _ := afero.Exists(fs, r.Layout().PromptPath("feat")); ok {
		t.Error("prompt file should be removed")
	}
	if pins, _ := r.ListPinned(ctx); len(pins) != 0 {
		t.Errorf("pins after Remove = %v", pins)
	}
}

func TestRegistry_SaveRequiresName(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.Save(context.Background(), Descriptor{}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Save() error = %v, want validation error", err)
	}
}

func TestRegistry_GetCorrupted(t *testing.T) {
	r, fs := newTestRegistry(t)
	if err := afero.WriteFile(fs, r.Layout().DescriptorPath("bad"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get(context.Background(), "bad"); !errors.Is(err, errors.ErrStateCorrupted) {
		t.Errorf("Get() error = %v, want ErrStateCorrupted", err)
	}
}

func TestRegistry_Discover(t *testing.T) {
	ctx := context.Background()
	r, fs := newTestRegistry(t, "zeta", "alpha", "feat/login")

	if err := r.Save(ctx, Descriptor{Name: "zeta", AgentName: "codex"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Save(ctx, Descriptor{Name: "feat/login", AgentName: "claude"}); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, r.Layout().StatusPath("zeta"),
		[]byte(`{"status":"waiting_for_user","message":"approve?"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, r.Layout().StatusPath("feat/login"), []byte(`garbage`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := r.Pin(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}

	sessions, err := r.Discover(ctx)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if got, want := names(sessions), []string{"alpha", "feat/login", "zeta"}; !slices.Equal(got, want) {
		t.Fatalf("Discover() = %v, want %v", got, want)
	}

	alpha, login, zeta := sessions[0], sessions[1], sessions[2]
	if alpha.Tracked || alpha.Status != status.Idle || !alpha.Pinned {
		t.Errorf("alpha = %+v, want untracked idle pinned", alpha)
	}
	if alpha.WorktreePath != filepath.Join("/repo", ".grove", "worktrees", "alpha") {
		t.Errorf("alpha.WorktreePath = %q", alpha.WorktreePath)
	}
	if !login.Tracked || login.Status != status.Idle || login.AgentName != "claude" {
		t.Errorf("feat/login = %+v", login)
	}
	if login.Branch() != "feat/login" {
		t.Errorf("Branch() = %q", login.Branch())
	}
	if !zeta.Tracked || zeta.Status != status.WaitingForUser || zeta.StatusMessage != "approve?" {
		t.Errorf("zeta = %+v", zeta)
	}
}

func TestRegistry_Find(t *testing.T) {
	r, _ := newTestRegistry(t, "feat")
	if _, err := r.Find(context.Background(), "feat"); err != nil {
		t.Errorf("Find() error = %v", err)
	}
	if _, err := r.Find(context.Background(), "other"); !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("Find() error = %v, want ErrSessionNotFound", err)
	}
}

func TestRegistry_Clear(t *testing.T) {
	ctx := context.Background()
	r, fs := newTestRegistry(t, "feat")
	l := r.Layout()

	if err := r.Save(ctx, Descriptor{Name: "feat"}); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{l.StatusPath("feat"), l.AgentSessionPath("feat"), l.WorkflowStatePath("feat")} {
		if err := afero.WriteFile(fs, p, []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := r.Clear(ctx, "feat"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	for _, p := range []string{l.StatusPath("feat"), l.AgentSessionPath("feat"), l.WorkflowStatePath("feat")} {
		if ok, _ := afero.Exists(fs, p); ok {
			t.Errorf("%s should be removed", p)
		}
	}
	if ok, _ := afero.Exists(fs, l.DescriptorPath("feat")); !ok {
		t.Error("descriptor should survive Clear")
	}

	// Clearing an already clean session is fine.
	if err := r.Clear(ctx, "feat"); err != nil {
		t.Errorf("second Clear() error = %v", err)
	}
}

func TestRegistry_AgentSessionID(t *testing.T) {
	ctx := context.Background()
	r, fs := newTestRegistry(t)
	path := r.Layout().AgentSessionPath("feat")

	if got := r.AgentSessionID(ctx, "feat"); got != "" {
		t.Errorf("AgentSessionID() = %q before file exists", got)
	}

	if err := afero.WriteFile(fs, path, []byte(`{"session_id":"abc","hook_event_name":"SessionStart"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := r.AgentSessionID(ctx, "feat"); got != "abc" {
		t.Errorf("AgentSessionID() = %q, want abc", got)
	}

	if err := afero.WriteFile(fs, path, []byte(`not json`), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := r.AgentSessionID(ctx, "feat"); got != "" {
		t.Errorf("AgentSessionID() = %q for garbage", got)
	}
}

func TestRegistry_NameTaken(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t, "on-disk")
	if err := r.Save(ctx, Descriptor{Name: "orphan-descriptor"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		want bool
	}{
		{"on-disk", true},
		{"orphan-descriptor", true},
		{"fresh", false},
		{"ON-DISK", FoldCase()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.NameTaken(ctx, tt.name)
			if err != nil {
				t.Fatalf("NameTaken() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("NameTaken(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestRegistry_Descriptors(t *testing.T) {
	ctx := context.Background()
	// Only "present" has a directory; "gone/nested" exists only as a descriptor.
	r, _ := newTestRegistry(t, "present")

	for _, name := range []string{"present", "gone/nested"} {
		if err := r.Save(ctx, Descriptor{Name: name, WorktreePath: "/repo/.grove/worktrees/" + name}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := r.Descriptors(ctx)
	if err != nil {
		t.Fatalf("Descriptors() error = %v", err)
	}
	var gotNames []string
	for _, d := range got {
		gotNames = append(gotNames, d.Name)
	}
	if !slices.Equal(gotNames, []string{"gone/nested", "present"}) {
		t.Errorf("Descriptors() = %v", gotNames)
	}
}
