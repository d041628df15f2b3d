// Package file writes watermarked results under the output directory.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrIOWrite marks a result that could not be written to disk.
var ErrIOWrite = errors.New("failed to write output")

// Storage stores files under a root directory. Subdirectories in a file name
// are created on demand.
type Storage struct {
	root string
}

// NewStorage creates the root directory if needed and returns a Storage for it.
func NewStorage(root string) (*Storage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create output directory: %v", ErrIOWrite, err)
	}

	return &Storage{root: root}, nil
}

// Save writes src to name under the root and returns the written path.
// The data goes to a temporary file in the target directory first and is
// renamed into place, so a failed write never leaves a partial output.
func (s *Storage) Save(ctx context.Context, name string, src io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dst, err := s.path(name)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrIOWrite, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIOWrite, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: %s: %v", ErrIOWrite, name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: %s: %v", ErrIOWrite, name, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: %s: %v", ErrIOWrite, name, err)
	}

	return dst, nil
}

// path resolves name under the root, refusing names that escape it.
func (s *Storage) path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: invalid output name %q", ErrIOWrite, name)
	}

	return filepath.Join(s.root, clean), nil
}
