// Package fsutil holds file helpers shared by the state stores.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotDurable is returned when the new content is in place but the
// directory entry could not be flushed. Readers already see the new file, so
// callers should treat the write as committed.
var ErrNotDurable = errors.New("replaced file but directory sync failed")

var syncDirectory = syncDir

// WriteFileAtomic replaces path with data. The previous content stays intact
// until the rename succeeds, so a crash mid-write never leaves a torn file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := f.Name()

	cleanup := func(cause error) error {
		f.Close()
		_ = os.Remove(tmpPath)
		return cause
	}

	if _, err := f.Write(data); err != nil {
		return cleanup(fmt.Errorf("write %s: %w", tmpPath, err))
	}
	if err := f.Chmod(perm); err != nil {
		return cleanup(fmt.Errorf("chmod %s: %w", tmpPath, err))
	}
	if err := f.Sync(); err != nil {
		return cleanup(fmt.Errorf("sync %s: %w", tmpPath, err))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	if err := syncDirectory(dir); err != nil {
		return fmt.Errorf("%w: %w", ErrNotDurable, err)
	}
	return nil
}

// ReadFileIfExists returns nil data and no error when path is missing.
func ReadFileIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}
	return nil
}
