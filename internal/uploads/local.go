package uploads

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps uploads in a directory served under a URL prefix.
type LocalStore struct {
	dir    string
	prefix string
}

func NewLocalStore(dir, prefix string) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve uploads dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &LocalStore{dir: abs, prefix: "/" + strings.Trim(prefix, "/") + "/"}, nil
}

func (s *LocalStore) Dir() string {
	return s.dir
}

func (s *LocalStore) Prefix() string {
	return s.prefix
}

// Path maps an upload URL to its file on disk.
func (s *LocalStore) Path(fileURL string) (string, error) {
	name, err := objectName(fileURL, s.prefix)
	if err != nil {
		return "", err
	}
	full := filepath.Join(s.dir, filepath.FromSlash(name))
	if rel, err := filepath.Rel(s.dir, full); err != nil || strings.HasPrefix(rel, "..") {
		return "", ErrNotUploaded
	}
	return full, nil
}

// Remove deletes the file behind fileURL. A file already gone is not an error.
func (s *LocalStore) Remove(_ context.Context, fileURL string) error {
	full, err := s.Path(fileURL)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}

// Handler serves uploaded files. Directory listings are refused.
func (s *LocalStore) Handler() http.Handler {
	files := http.StripPrefix(strings.TrimSuffix(s.prefix, "/"), http.FileServer(http.Dir(s.dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
