package gcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"
)

func TestStore_Matches(t *testing.T) {
	s := NewStoreWithClient(nil, StoreConfig{}, nil)
	assert.Equal(t, "*.zip", s.config.ArchiveGlob)
	assert.Equal(t, 4, s.config.DownloadRetries)

	for key, want := range map[string]bool{
		"a.zip":           true,
		"incoming/b.zip":  true,
		"incoming/":       false,
		"incoming/c.json": false,
	} {
		got, err := s.matches(key)
		require.NoError(t, err)
		assert.Equal(t, want, got, key)
	}
}

func TestStore_InvalidGlob(t *testing.T) {
	s := NewStoreWithClient(nil, StoreConfig{ArchiveGlob: "["}, nil)
	_, err := s.matches("a.zip")
	require.Error(t, err)
}

// fakeGCS serves the JSON listing API and XML object reads for one bucket.
type fakeGCS struct {
	mu      sync.Mutex
	pages   [][]string
	objects map[string]string
	gets    map[string]int
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if strings.HasPrefix(r.URL.Path, "/storage/v1/b/scans/o") {
		page := 0
		if token := r.URL.Query().Get("pageToken"); token != "" {
			page, _ = strconv.Atoi(token)
		}
		items := make([]map[string]string, 0, len(f.pages[page]))
		for _, name := range f.pages[page] {
			items = append(items, map[string]string{"name": name, "bucket": "scans"})
		}
		body := map[string]any{"kind": "storage#objects", "items": items}
		if page+1 < len(f.pages) {
			body["nextPageToken"] = strconv.Itoa(page + 1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/scans/")
	f.gets[key]++
	content, ok := f.objects[key]
	if !ok {
		http.Error(w, "NoSuchKey", http.StatusNotFound)
		return
	}
	_, _ = io.WriteString(w, content)
}

func newFakeGCSStore(t *testing.T, fake *fakeGCS, config StoreConfig) *Store {
	t.Helper()
	if fake.gets == nil {
		fake.gets = make(map[string]int)
	}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	config.Endpoint = srv.URL + "/storage/v1/"
	config.WithoutAuthentication = true
	store, err := NewStore(context.Background(), config, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_ListArchiveKeys(t *testing.T) {
	fake := &fakeGCS{pages: [][]string{
		{"a.zip", "notes.txt"},
		{"incoming/b.zip", "incoming/"},
		{"c.zip"},
	}}
	store := newFakeGCSStore(t, fake, StoreConfig{ListPageSize: 2})

	listing, err := store.ListArchiveKeys(context.Background(), "scans")
	require.NoError(t, err)
	assert.Equal(t, "scans", listing.Container)
	assert.Equal(t, []string{"a.zip", "incoming/b.zip", "c.zip"}, listing.Keys)
	assert.False(t, listing.Truncated)
}

func TestStore_ListArchiveKeysTruncated(t *testing.T) {
	fake := &fakeGCS{pages: [][]string{
		{"a.zip", "b.zip"},
		{"c.zip"},
	}}
	store := newFakeGCSStore(t, fake, StoreConfig{ListPageSize: 2, MaxListPages: 1})

	listing, err := store.ListArchiveKeys(context.Background(), "scans")
	require.NoError(t, err)
	assert.True(t, listing.Truncated)
	assert.Equal(t, []string{"a.zip", "b.zip"}, listing.Keys)
}

func TestStore_FetchArchive(t *testing.T) {
	fake := &fakeGCS{objects: map[string]string{"incoming/a.zip": "zip bytes"}}
	store := newFakeGCSStore(t, fake, StoreConfig{})
	dest := filepath.Join(t.TempDir(), "a.zip")

	require.NoError(t, store.FetchArchive(context.Background(), "scans", "incoming/a.zip", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "zip bytes", string(data))
	assert.NoFileExists(t, dest+".part")
	assert.Equal(t, 1, fake.gets["incoming/a.zip"])
}

func TestStore_FetchMissingObjectIsNotRetried(t *testing.T) {
	fake := &fakeGCS{objects: map[string]string{}}
	store := newFakeGCSStore(t, fake, StoreConfig{DownloadRetries: 3, InitialBackoff: time.Millisecond})

	err := store.FetchArchive(context.Background(), "scans", "missing.zip", filepath.Join(t.TempDir(), "missing.zip"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrObjectNotExist))
	assert.Equal(t, 1, fake.gets["missing.zip"])
}

func TestStore_FetchRetriesWithBackoff(t *testing.T) {
	fake := &fakeGCS{objects: map[string]string{"a.zip": "zip bytes"}}
	store := newFakeGCSStore(t, fake, StoreConfig{DownloadRetries: 3, InitialBackoff: time.Millisecond})
	dest := filepath.Join(t.TempDir(), "no-such-dir", "a.zip")

	err := store.FetchArchive(context.Background(), "scans", "a.zip", dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after all retries")
	assert.Equal(t, 3, fake.gets["a.zip"])
	assert.NoFileExists(t, dest)
}

func TestStore_FetchStopsOnCancel(t *testing.T) {
	fake := &fakeGCS{objects: map[string]string{"a.zip": "zip bytes"}}
	store := newFakeGCSStore(t, fake, StoreConfig{DownloadRetries: 3, InitialBackoff: time.Hour})
	dest := filepath.Join(t.TempDir(), "no-such-dir", "a.zip")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- store.FetchArchive(ctx, "scans", "a.zip", dest) }()
	require.Eventually(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return fake.gets["a.zip"] == 1
	}, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not stop after cancel")
	}
}
