package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// File keeps the payload in a single file and replaces it with
// write-to-temp, fsync, rename.
type File struct {
	path string
}

func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("blob: file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("blob: create directory: %w", err)
	}
	return &File{path: path}, nil
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blob: read %s: %w", f.path, err)
	}
	return data, nil
}

func (f *File) Save(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("blob: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	// Removing after a successful rename is a no-op error we ignore.
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("blob: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("blob: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("blob: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("blob: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("blob: replace %s: %w", f.path, err)
	}
	return nil
}
