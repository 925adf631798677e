// Package store keeps cutout results on disk under ksuid names so
// they can be fetched after the request that produced them.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
)

// 结果可能是 PNG，也可能是原样保存的上传文件
const ext = ".img"

var ErrNotFound = errors.New("result not found")

type Store struct {
	dir string
	now func() time.Time
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Put writes data under a fresh id.
func (s *Store) Put(data []byte) (string, error) {
	id := ksuid.New().String()

	// 先写临时文件再改名，Get 不会读到半个文件
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write result: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close result: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(id)); err != nil {
		return "", fmt.Errorf("rename result: %w", err)
	}
	return id, nil
}

// Get reads the result stored under id. Malformed ids report ErrNotFound.
func (s *Store) Get(id string) ([]byte, error) {
	if _, err := ksuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	return data, nil
}

// Exists reports whether id is still stored.
func (s *Store) Exists(id string) bool {
	if _, err := ksuid.Parse(id); err != nil {
		return false
	}
	_, err := os.Stat(s.path(id))
	return err == nil
}

// Prune removes results whose ksuid timestamp is older than olderThan and
// returns how many were removed.
func (s *Store) Prune(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read store dir: %w", err)
	}

	cutoff := s.now().Add(-olderThan)
	removed := 0
	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ext) {
			continue
		}
		id, err := ksuid.Parse(strings.TrimSuffix(name, ext))
		if err != nil {
			continue
		}
		if !id.Time().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+ext)
}
