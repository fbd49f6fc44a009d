package media

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func newMemStorage(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage("/media", WithFs(afero.NewMemMapFs()))
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	return s
}

func TestStoreOpenDelete(t *testing.T) {
	s := newMemStorage(t)
	ctx := context.Background()

	p, err := s.Store(ctx, "incidents/abc", "photo.JPG", []byte("data"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !strings.HasPrefix(p, "incidents/abc/") || !strings.HasSuffix(p, ".jpg") {
		t.Fatalf("unexpected path %q", p)
	}
	if !s.Exists(p) {
		t.Fatalf("stored file %q missing", p)
	}

	rc, err := s.Open(ctx, p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b, _ := io.ReadAll(rc)
	rc.Close()
	if string(b) != "data" {
		t.Errorf("content = %q, want %q", b, "data")
	}

	if err := s.Delete(ctx, p); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Exists(p) {
		t.Errorf("file still present after Delete")
	}
	if err := s.Delete(ctx, p); err != nil {
		t.Errorf("second Delete should be a no-op, got %v", err)
	}
}

func TestStoreSanitizesDir(t *testing.T) {
	s := newMemStorage(t)
	p, err := s.Store(context.Background(), "../../etc", "x.png", []byte("x"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if strings.Contains(p, "..") {
		t.Errorf("path escaped the root: %q", p)
	}
}

func TestDeleteRejectsTraversal(t *testing.T) {
	s := newMemStorage(t)
	if err := s.Delete(context.Background(), "../secret"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("Delete(../secret) = %v, want ErrInvalidPath", err)
	}
	if err := s.Delete(context.Background(), ""); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("Delete(\"\") = %v, want ErrInvalidPath", err)
	}
}
