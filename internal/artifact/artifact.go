// Package artifact persists captured artifacts like screenshots.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var ErrWrite = errors.New("write error")

// Save writes data to path, creating missing parent directories. An existing
// file at path is overwritten: every run targets a fixed, known path and the
// latest capture wins.
func Save(data []byte, path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrWrite)
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: refusing to write empty artifact to %s", ErrWrite, path)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: failed to create directory %s: %w", ErrWrite, dir, err)
		}
	}
	// write to a temporary file first so that readers never see a partial image
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}
