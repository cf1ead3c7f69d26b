package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects as files under a base directory. Content types
// are stored in a sidecar file next to each object.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %q: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

// path rejects names that would escape the base directory.
func (s *LocalStore) path(name string) (string, error) {
	cleaned := filepath.Clean(name)
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid object name %q", name)
	}
	return filepath.Join(s.dir, cleaned), nil
}

func (s *LocalStore) Save(ctx context.Context, name string, data []byte, contentType string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write object %q: %w", name, err)
	}
	if err := os.WriteFile(p+".ctype", []byte(contentType), 0o644); err != nil {
		return fmt.Errorf("write content type for %q: %w", name, err)
	}
	return nil
}

func (s *LocalStore) Read(ctx context.Context, name string) ([]byte, string, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("read object %q: %w", name, err)
	}
	contentType := "application/octet-stream"
	if ct, err := os.ReadFile(p + ".ctype"); err == nil {
		contentType = string(ct)
	}
	return data, contentType, nil
}

func (s *LocalStore) Remove(ctx context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove object %q: %w", name, err)
	}
	_ = os.Remove(p + ".ctype")
	return nil
}
