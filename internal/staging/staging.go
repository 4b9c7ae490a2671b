// Package staging writes output files atomically: content goes to a temp file
// next to the destination and is renamed into place only when complete.
package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const tmpSuffix = ".tmp"

// WriteFile streams fn's output to path. On any error the destination is
// left untouched and the temp file removed. Returns the bytes written.
func WriteFile(path string, fn func(w io.Writer) error) (int64, error) {
	// Create parent directories
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return 0, fmt.Errorf("creating directories: %w", err)
	}

	tmpPath := path + tmpSuffix
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	cw := &countingWriter{w: f}
	err = fn(cw)
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("writing file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("renaming temp file: %w", err)
	}

	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
