package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// LocalStore keeps assets on the local filesystem under a root directory.
// Writes go through a temp file and an atomic rename so concurrent readers
// never see partial content.
type LocalStore struct {
	root    string
	baseURL string
}

// NewLocalStore creates a LocalStore rooted at dir. baseURL, when non-empty,
// prefixes the URLs reported for stored keys.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving assets dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating assets dir: %w", err)
	}
	return &LocalStore{root: abs, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// resolve maps a storage key to an absolute path, rejecting traversal.
func (s *LocalStore) resolve(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(s.root, cleaned), nil
}

// Put writes data under key atomically.
func (s *LocalStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating asset directory: %w", err)
	}
	if err := renameio.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("writing asset %s: %w", key, err)
	}
	return nil
}

// PutFile copies the local file at src under key atomically.
func (s *LocalStore) PutFile(ctx context.Context, key string, src string, contentType string) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating asset directory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer in.Close()

	pending, err := renameio.NewPendingFile(target, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer pending.Cleanup()

	if _, err := io.Copy(pending, in); err != nil {
		return fmt.Errorf("copying asset %s: %w", key, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("publishing asset %s: %w", key, err)
	}
	return nil
}

// Open returns a reader over the whole object.
func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	return s.OpenRange(ctx, key, 0, -1)
}

// OpenRange returns a reader over length bytes starting at offset.
func (s *LocalStore) OpenRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, ObjectInfo, error) {
	target, err := s.resolve(key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}

	f, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ObjectInfo{}, ErrNotFound
		}
		return nil, ObjectInfo{}, fmt.Errorf("opening asset %s: %w", key, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ObjectInfo{}, fmt.Errorf("statting asset %s: %w", key, err)
	}
	info := infoFromFile(key, fi)

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, ObjectInfo{}, fmt.Errorf("seeking asset %s: %w", key, err)
		}
	}
	if length < 0 {
		return f, info, nil
	}
	return &limitedReadCloser{Reader: io.LimitReader(f, length), closer: f}, info, nil
}

// Stat returns object metadata.
func (s *LocalStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	target, err := s.resolve(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	fi, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectInfo{}, ErrNotFound
		}
		return ObjectInfo{}, fmt.Errorf("statting asset %s: %w", key, err)
	}
	return infoFromFile(key, fi), nil
}

// URL returns the externally resolvable location for key.
func (s *LocalStore) URL(key string) string {
	if s.baseURL == "" {
		return "/" + key
	}
	return s.baseURL + "/" + key
}

// Root returns the absolute root directory of the store.
func (s *LocalStore) Root() string {
	return s.root
}

func infoFromFile(key string, fi fs.FileInfo) ObjectInfo {
	return ObjectInfo{
		Size:        fi.Size(),
		ModTime:     fi.ModTime(),
		ContentType: mime.TypeByExtension(filepath.Ext(key)),
	}
}

type limitedReadCloser struct {
	io.Reader
	closer io.Closer
}

func (l *limitedReadCloser) Close() error {
	return l.closer.Close()
}

var _ Store = (*LocalStore)(nil)
