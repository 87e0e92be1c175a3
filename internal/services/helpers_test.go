package services

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"testing"
	"time"

	"github.com/Lllllllleong/pdfingest/internal/models"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"
)

var testPattern = regexp.MustCompile(`^[A-Za-z0-9-]+_[A-Za-z0-9-]+_[A-Za-z0-9-]+_[0-9]+(_[A-Za-z0-9.-]+)*\.pdf$`)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock() time.Time {
	return time.Date(2024, time.March, 7, 10, 30, 0, 0, time.Local)
}

// fakeStore serves zip archives built in memory.
type fakeStore struct {
	archives  map[string]map[string]string
	raw       map[string][]byte
	truncated bool
	fetched   []string
	fetchErr  map[string]error
	listErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		archives: make(map[string]map[string]string),
		raw:      make(map[string][]byte),
		fetchErr: make(map[string]error),
	}
}

func (s *fakeStore) ListArchiveKeys(ctx context.Context, container string) (models.Listing, error) {
	if s.listErr != nil {
		return models.Listing{}, s.listErr
	}
	var keys []string
	for key := range s.archives {
		keys = append(keys, key)
	}
	for key := range s.raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return models.Listing{Container: container, Keys: keys, Truncated: s.truncated}, nil
}

func (s *fakeStore) FetchArchive(ctx context.Context, container, key, destPath string) error {
	if err := s.fetchErr[key]; err != nil {
		return err
	}
	s.fetched = append(s.fetched, key)
	if data, ok := s.raw[key]; ok {
		return os.WriteFile(destPath, data, 0o644)
	}
	entries, ok := s.archives[key]
	if !ok {
		return errors.Errorf("no such key %q", key)
	}
	return os.WriteFile(destPath, buildZip(entries), 0o644)
}

func buildZip(entries map[string]string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f, err := w.Create(name)
		if err != nil {
			panic(err)
		}
		if _, err := f.Write([]byte(entries[name])); err != nil {
			panic(err)
		}
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// fakeCounter derives page counts from file contents of the form "pages:N"
// or from a fixed map keyed by base name.
type fakeCounter struct {
	pages map[string]int
	err   map[string]error
	calls int
}

func (c *fakeCounter) PageCount(path string) (int, error) {
	c.calls++
	name := filepath.Base(path)
	if err := c.err[name]; err != nil {
		return 0, err
	}
	if n, ok := c.pages[name]; ok {
		return n, nil
	}
	return 0, errors.Errorf("no page count for %s", name)
}

// fakeLister serves directory listings from memory.
type fakeLister struct {
	dirs map[string][]string
	err  error
}

func (l *fakeLister) List(dir, pattern string) ([]string, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.dirs[dir], nil
}

func newTestLayout(t *testing.T) Layout {
	t.Helper()
	layout := NewLayout(t.TempDir())
	require.NoError(t, EnsureLayout(layout, 0))
	return layout
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func listNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}
