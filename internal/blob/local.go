package blob

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// LocalStore implements Store on a plain directory. Used by the local
// runner command and tests.
type LocalStore struct {
	root string
}

// NewLocal creates a LocalStore rooted at dir, creating it if needed.
func NewLocal(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "blob: create root %s", dir)
	}
	return &LocalStore{root: dir}, nil
}

// path maps a key to a file under root, rejecting traversal outside it.
func (s *LocalStore) path(key string) (string, error) {
	if key == "" {
		return "", errKeyRequired
	}
	p := filepath.Join(s.root, filepath.FromSlash(key))
	if !strings.HasPrefix(p, filepath.Clean(s.root)+string(filepath.Separator)) {
		return "", eris.Errorf("blob: key escapes root: %s", key)
	}
	return p, nil
}

func (s *LocalStore) Upload(_ context.Context, key string, r io.Reader) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", eris.Wrapf(err, "blob: create dir for %s", key)
	}

	f, err := os.Create(p)
	if err != nil {
		return "", eris.Wrapf(err, "blob: create %s", key)
	}
	defer f.Close()

	hash, err := uploadWithHash(r, func(hr io.Reader) error {
		_, err := io.Copy(f, hr)
		return err
	})
	if err != nil {
		return "", eris.Wrapf(err, "blob: write %s", key)
	}
	return hash, nil
}

func (s *LocalStore) Download(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, eris.Wrapf(err, "blob: read %s", key)
	}
	return data, nil
}

// SignedURL returns a file:// URL. Local mode has no access control, so
// the expiry is informational only.
func (s *LocalStore) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		return "", eris.Wrapf(err, "blob: stat %s", key)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", eris.Wrapf(err, "blob: resolve %s", key)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "blob: delete %s", key)
	}
	return nil
}
