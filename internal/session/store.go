package session

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/grove/internal/errors"
)

// ErrNotFound is returned by FileStore when a key has no data.
var ErrNotFound = errors.New("not found")

// FileStore is a key-value store where each key is a file below a base
// directory. Keys use "/" as separator. Writes are atomic: data goes to a
// temporary file in the same folder which is then renamed into place.
type FileStore struct {
	fs      afero.Fs
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a FileStore rooted at baseDir on fs.
func NewFileStore(fs afero.Fs, baseDir string) *FileStore {
	return &FileStore{fs: fs, baseDir: filepath.Clean(baseDir)}
}

// Fs returns the filesystem the store writes to.
func (s *FileStore) Fs() afero.Fs {
	return s.fs
}

// Save persists data under key.
func (s *FileStore) Save(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.keyToPath(key)
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create directory")
	}
	return writeFileAtomic(s.fs, path, data, 0o644)
}

// Load returns the data stored under key.
func (s *FileStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := afero.ReadFile(s.fs, s.keyToPath(key))
	if err != nil {
		if isNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to read file")
	}
	return data, nil
}

// Delete removes the data stored under key.
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.Remove(s.keyToPath(key)); err != nil {
		if isNotExist(err) {
			return ErrNotFound
		}
		return errors.Wrap(err, "failed to delete file")
	}
	return nil
}

// DeleteAll removes key and everything below it. Missing keys are ignored.
func (s *FileStore) DeleteAll(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.RemoveAll(s.keyToPath(key)); err != nil {
		return errors.Wrap(err, "failed to delete directory")
	}
	return nil
}

// Exists reports whether key has data.
func (s *FileStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := s.fs.Stat(s.keyToPath(key))
	if err != nil {
		if isNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "failed to check file existence")
	}
	return true, nil
}

// List returns every key below prefix in lexical order.
func (s *FileStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	err := afero.Walk(s.fs, s.keyToPath(prefix), func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			if isNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list keys")
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) keyToPath(key string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(key))
}

// writeFileAtomic writes data to a temporary sibling of path and renames it
// over path.
func writeFileAtomic(fsys afero.Fs, path string, data []byte, perm os.FileMode) error {
	tmp, err := afero.TempFile(fsys, filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = fsys.Remove(tmpPath)
		return errors.Wrap(err, "failed to write temp file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = fsys.Remove(tmpPath)
		return errors.Wrap(err, "failed to sync temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = fsys.Remove(tmpPath)
		return errors.Wrap(err, "failed to close temp file")
	}
	if err := fsys.Chmod(tmpPath, perm); err != nil {
		_ = fsys.Remove(tmpPath)
		return errors.Wrap(err, "failed to set permissions")
	}
	if err := fsys.Rename(tmpPath, path); err != nil {
		_ = fsys.Remove(tmpPath)
		return errors.Wrap(err, "failed to rename temp file")
	}
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err)
}
