package session

import (
	"context"
	"slices"
	"testing"

	"github.com/Iron-Ham/grove/internal/errors"
	"github.com/spf13/afero"
)

func newMemStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(afero.NewMemMapFs(), "/state")
}

func TestFileStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)

	if err := s.Save(ctx, "a/b/c.json", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := s.Load(ctx, "a/b/c.json")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(got) != `{"v":1}` {
		t.Errorf("Load() = %q", got)
	}

	if err := s.Save(ctx, "a/b/c.json", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("overwrite Save() error = %v", err)
	}
	got, _ = s.Load(ctx, "a/b/c.json")
	if string(got) != `{"v":2}` {
		t.Errorf("Load() after overwrite = %q", got)
	}
}

func TestFileStore_Missing(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)

	if _, err := s.Load(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
	if ok, err := s.Exists(ctx, "nope"); ok || err != nil {
		t.Errorf("Exists() = %v, %v", ok, err)
	}
	if err := s.DeleteAll(ctx, "nope"); err != nil {
		t.Errorf("DeleteAll() error = %v", err)
	}
	keys, err := s.List(ctx, "nope")
	if err != nil || len(keys) != 0 {
		t.Errorf("List() = %v, %v", keys, err)
	}
}

func TestFileStore_ListAndDeleteAll(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)

	for _, key := range []string{"x/2.json", "x/1.json", "x/sub/3.json", "y/4.json"} {
		if err := s.Save(ctx, key, []byte("{}")); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := s.List(ctx, "x")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"x/1.json", "x/2.json", "x/sub/3.json"}
	if !slices.Equal(keys, want) {
		t.Errorf("List() = %v, want %v", keys, want)
	}

	if err := s.DeleteAll(ctx, "x"); err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}
	keys, _ = s.List(ctx, "")
	if !slices.Equal(keys, []string{"y/4.json"}) {
		t.Errorf("List() after DeleteAll = %v", keys)
	}
}

func TestWriteFileAtomic_LeavesNoTempFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/d", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := writeFileAtomic(fs, "/d/f.json", []byte("x"), 0o600); err != nil {
		t.Fatalf("writeFileAtomic() error = %v", err)
	}

	entries, err := afero.ReadDir(fs, "/d")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "f.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("entries = %v", names)
	}
	if entries[0].Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", entries[0].Mode().Perm())
	}
}
