package manager

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// TrashTimestampFormat is the format used for trash batch directory names
const TrashTimestampFormat = "20060102-150405"

// Trash is the holding area for displaced folders. Folders are moved
// here instead of deleted, so a mistaken replace or remove can always
// be undone by hand.
type Trash struct {
	dir string
}

// NewTrash creates a trash rooted at dir.
func NewTrash(dir string) *Trash {
	return &Trash{dir: dir}
}

// Dir returns the trash root.
func (t *Trash) Dir() string { return t.dir }

// Put moves the given paths into a timestamped batch directory and
// returns its path. Missing paths are skipped.
func (t *Trash) Put(paths ...string) (string, error) {
	batch := filepath.Join(t.dir, time.Now().Format(TrashTimestampFormat))
	if err := os.MkdirAll(batch, 0755); err != nil {
		return "", fmt.Errorf("failed to create trash directory: %w", err)
	}

	for _, src := range paths {
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		dest := filepath.Join(batch, filepath.Base(src))
		// Deduplicate names within one batch
		for i := 1; ; i++ {
			if _, err := os.Stat(dest); os.IsNotExist(err) {
				break
			}
			dest = filepath.Join(batch, fmt.Sprintf("%s.%d", filepath.Base(src), i))
		}
		if err := os.Rename(src, dest); err != nil {
			// Rename fails across filesystems; fall back to copy+remove.
			if err := copyDir(src, dest); err != nil {
				return "", fmt.Errorf("failed to trash %s: %w", src, err)
			}
			if err := os.RemoveAll(src); err != nil {
				return "", fmt.Errorf("failed to remove %s after trashing: %w", src, err)
			}
		}
	}
	return batch, nil
}

// copyDir recursively copies a directory
func copyDir(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dst, srcInfo.Mode()); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		if entry.IsDir() {
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
		} else {
			if err := copyFile(srcPath, dstPath); err != nil {
				return err
			}
		}
	}

	return nil
}

// copyFile copies a single file
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = srcFile.Close() }()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode())
	if err != nil {
		return err
	}
	defer func() { _ = dstFile.Close() }()

	_, err = io.Copy(dstFile, srcFile)
	return err
}
