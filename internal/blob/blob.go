// Package blob abstracts the ciphertext object store. Objects are written
// once under a caller-chosen path and are immutable afterwards.
package blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrExists   = errors.New("blob: object already exists")
	ErrNotFound = errors.New("blob: object not found")
)

type Store interface {
	// Write persists the bytes under path. Writing an existing path fails
	// with ErrExists.
	Write(path string, data []byte) error
	Read(path string) ([]byte, error)
	Exists(path string) (bool, error)
	// Remove deletes best-effort; removing a missing object is not an error.
	Remove(path string) error
}

// Local stores blobs on the filesystem below a root directory with owner-only
// permissions.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, errors.New("blob: empty root directory")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	return &Local{root: root}, nil
}

func (l *Local) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("blob: invalid path %q", path)
	}
	return filepath.Join(l.root, clean), nil
}

func (l *Local) Write(path string, data []byte) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return fmt.Errorf("blob: create dir: %w", err)
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return ErrExists
		}
		return fmt.Errorf("blob: open: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("blob: write: %w", err)
	}
	return f.Close()
}

func (l *Local) Read(path string) ([]byte, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blob: read: %w", err)
	}
	return data, nil
}

func (l *Local) Exists(path string) (bool, error) {
	full, err := l.resolve(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("blob: stat: %w", err)
	}
	return true, nil
}

func (l *Local) Remove(path string) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob: remove: %w", err)
	}
	return nil
}

var _ Store = (*Local)(nil)
