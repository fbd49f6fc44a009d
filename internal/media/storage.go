// Package media stores uploaded attachments on an afero filesystem.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

var ErrInvalidPath = errors.New("invalid media path")

// Storage is what the record store needs from media persistence.
type Storage interface {
	// Store writes content under dir and returns the relative path.
	Store(ctx context.Context, dir, filename string, content []byte) (string, error)
	// Delete removes a stored file. Deleting a missing file is not an error.
	Delete(ctx context.Context, p string) error
	// Open reads a stored file.
	Open(ctx context.Context, p string) (io.ReadCloser, error)
}

// LocalStorage keeps files under a root directory.
type LocalStorage struct {
	fs   afero.Fs
	root string
}

// Option configures LocalStorage.
type Option func(*LocalStorage)

// WithFs swaps the filesystem, e.g. afero.NewMemMapFs() in tests.
func WithFs(fs afero.Fs) Option {
	return func(s *LocalStorage) { s.fs = fs }
}

// NewLocalStorage roots storage at dir on the OS filesystem unless WithFs is given.
func NewLocalStorage(root string, opts ...Option) (*LocalStorage, error) {
	s := &LocalStorage{fs: afero.NewOsFs(), root: root}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return s, nil
}

// Fs exposes the underlying filesystem for static serving.
func (s *LocalStorage) Fs() afero.Fs {
	return s.fs
}

func (s *LocalStorage) Root() string { return s.root }

func (s *LocalStorage) Store(ctx context.Context, dir, filename string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir = strings.Trim(path.Clean("/"+dir), "/")
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 10 {
		ext = ""
	}
	rel := path.Join(dir, uuid.NewString()+ext)

	full := s.full(rel)
	if err := s.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	if err := afero.WriteFile(s.fs, full, content, 0o644); err != nil {
		return "", fmt.Errorf("write media: %w", err)
	}
	return rel, nil
}

func (s *LocalStorage) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete media %s: %w", p, err)
	}
	return nil
}

func (s *LocalStorage) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	return s.fs.Open(full)
}

// Exists reports whether p is stored.
func (s *LocalStorage) Exists(p string) bool {
	full, err := s.resolve(p)
	if err != nil {
		return false
	}
	ok, _ := afero.Exists(s.fs, full)
	return ok
}

func (s *LocalStorage) resolve(p string) (string, error) {
	clean := path.Clean("/" + p)
	if p == "" || clean == "/" || strings.Contains(p, "..") {
		return "", ErrInvalidPath
	}
	return s.full(strings.TrimPrefix(clean, "/")), nil
}

func (s *LocalStorage) full(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}
