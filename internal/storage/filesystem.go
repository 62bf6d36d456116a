package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"transcription/internal/domain"
)

// FileStore keeps artifacts on the local filesystem, one directory per
// collection. Locators are "<collection>/<name>" relative to the root.
type FileStore struct {
	basePath string
	now      func() time.Time
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath, now: time.Now}, nil
}

// WithClock overrides the clock used for retention decisions.
func (s *FileStore) WithClock(now func() time.Time) *FileStore {
	s.now = now
	return s
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Put writes data as collection/name, replacing any previous content, and
// returns the locator.
func (s *FileStore) Put(ctx context.Context, collection, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	locator, err := locatorFor(collection, name)
	if err != nil {
		return "", err
	}
	fullPath := s.fullPath(locator)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".put-*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return "", fmt.Errorf("storage: move file: %w", err)
	}
	return locator, nil
}

// Get reads the artifact at locator.
func (s *FileStore) Get(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, err := sanitizeKey(locator)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.fullPath(clean))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("storage: %s: %w", clean, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: read file: %w", err)
	}
	return data, nil
}

// Lookup returns the locator of the artifact named stem, with or without an
// extension. The first match in lexical order wins.
func (s *FileStore) Lookup(ctx context.Context, collection, stem string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := locatorFor(collection, stem); err != nil {
		return "", err
	}
	entries, err := os.ReadDir(filepath.Join(s.basePath, collection))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("storage: list %s: %w", collection, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == stem || strings.TrimSuffix(name, filepath.Ext(name)) == stem {
			return path.Join(collection, name), nil
		}
	}
	return "", fmt.Errorf("storage: %s/%s: %w", collection, stem, domain.ErrNotFound)
}

// Delete removes collection/name. Missing files are ignored.
func (s *FileStore) Delete(ctx context.Context, collection, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	locator, err := locatorFor(collection, name)
	if err != nil {
		return err
	}
	if err := os.Remove(s.fullPath(locator)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: delete %s: %w", locator, err)
	}
	return nil
}

// DeleteOlderThan removes files in collection last modified more than days
// ago and returns how many were removed.
func (s *FileStore) DeleteOlderThan(ctx context.Context, collection string, days int) (int, error) {
	if days < 0 {
		return 0, fmt.Errorf("storage: negative retention %d", days)
	}
	if _, err := locatorFor(collection, "x"); err != nil {
		return 0, err
	}
	dir := filepath.Join(s.basePath, collection)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("storage: list %s: %w", collection, err)
	}

	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	removed := 0
	var errs []error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func (s *FileStore) fullPath(locator string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(locator))
}

func locatorFor(collection, name string) (string, error) {
	if collection == "" || strings.ContainsAny(collection, `/\`) || collection == "." || collection == ".." {
		return "", fmt.Errorf("storage: invalid collection %q", collection)
	}
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("storage: invalid name %q", name)
	}
	return collection + "/" + name, nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

var _ domain.ArtifactStore = (*FileStore)(nil)
