// Package archive stores generated export files (recount snapshots, shift reports)
// under a directory tree and purges files older than the retention window.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store writes export files below a root directory, one subdirectory per category.
type Store struct {
	root      string
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New constructs Store. A zero retention disables purging.
func New(root string, retention time.Duration, logger *slog.Logger) *Store {
	if root == "" {
		root = filepath.Join(os.TempDir(), "lubepos-exports")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, retention: retention, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Store) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Root returns the archive directory.
func (s *Store) Root() string { return s.root }

// Write creates category/name through write and returns the file path. The file
// appears atomically; expired files are purged afterwards.
func (s *Store) Write(ctx context.Context, category, name string, write func(io.Writer) error) (string, error) {
	if err := checkName(category); err != nil {
		return "", err
	}
	if err := checkName(name); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("archive: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("archive: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("archive: close: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("archive: rename: %w", err)
	}
	if _, err := s.Purge(ctx); err != nil {
		s.logger.Warn("archive purge", slog.Any("error", err))
	}
	return path, nil
}

// Purge removes files whose modification time is older than the retention window.
// It returns the number of files removed.
func (s *Store) Purge(ctx context.Context) (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.retention)
	removed := 0
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("archive: invalid name %q", name)
	}
	return nil
}
