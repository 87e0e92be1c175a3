package services

import (
	"archive/zip"
	"context"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/pdfingest/internal/models"
	"gitlab.com/tozd/go/errors"
)

// ArchiveStore is the remote object store holding the archives.
type ArchiveStore interface {
	ListArchiveKeys(ctx context.Context, container string) (models.Listing, error)
	FetchArchive(ctx context.Context, container, key, destPath string) error
}

// Fetcher downloads archives into the staging directory and extracts their
// documents into the flat working directory.
type Fetcher struct {
	store     ArchiveStore
	container string
	layout    Layout
	extracted *ExtractionLedger
	logger    *slog.Logger
}

func NewFetcher(store ArchiveStore, container string, layout Layout, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		store:     store,
		container: container,
		layout:    layout,
		extracted: NewExtractionLedger(layout.Staging),
		logger:    logger,
	}
}

// Fetch downloads every key into staging under its base name and returns the
// local archive names. An archive an earlier run already extracted and left
// in staging is not downloaded again. It stops at the first failure.
func (f *Fetcher) Fetch(ctx context.Context, keys []string) ([]string, error) {
	logCtx := f.logger.With("stage", "fetch", "container", f.container)
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		name := models.ArchiveName(key)
		dest := filepath.Join(f.layout.Staging, name)
		done, err := f.extracted.Done(name)
		if err != nil {
			return names, &TransferError{Key: key, Err: err}
		}
		if done {
			if _, err := os.Stat(dest); err == nil {
				logCtx.Info("Archive already staged and extracted. Skipping download.", "archive", key)
				names = append(names, name)
				continue
			}
		}
		if err := f.store.FetchArchive(ctx, f.container, key, dest); err != nil {
			logCtx.Error("Failed to download archive.", "archive", key, "error", err)
			return names, &TransferError{Key: key, Err: err}
		}
		logCtx.Info("Downloaded archive.", "archive", key, "path", dest)
		names = append(names, name)
	}
	return names, nil
}

// Extract unpacks every staged archive into the working directory and returns
// the extracted document names. Entry paths are flattened to their base name.
// A name produced by two archives of the same batch is a DuplicateDocumentError.
// Archives extracted by an interrupted earlier run are skipped: their documents
// are already in the working, bad or finished directory.
func (f *Fetcher) Extract(ctx context.Context, archives []string) ([]string, error) {
	logCtx := f.logger.With("stage", "extract")
	origin := make(map[string]string)
	var extracted []string
	for _, archive := range archives {
		if err := ctx.Err(); err != nil {
			return extracted, err
		}
		done, err := f.extracted.Done(archive)
		if err != nil {
			return extracted, &ExtractionError{Archive: archive, Err: err}
		}
		if done {
			logCtx.Info("Archive was extracted by an earlier run. Skipping.", "archive", archive)
			continue
		}
		names, err := f.extractArchive(filepath.Join(f.layout.Staging, archive), archive, origin)
		extracted = append(extracted, names...)
		if err != nil {
			logCtx.Error("Failed to extract archive.", "archive", archive, "error", err)
			return extracted, err
		}
		if err := f.extracted.Mark(archive); err != nil {
			return extracted, &ExtractionError{Archive: archive, Err: err}
		}
		logCtx.Info("Files extracted from archive.", "archive", archive, "count", len(names))
	}
	return extracted, nil
}

func (f *Fetcher) extractArchive(archivePath, archive string, origin map[string]string) ([]string, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, &ExtractionError{Archive: archive, Err: err}
	}
	defer reader.Close()

	var names []string
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() || strings.HasSuffix(entry.Name, "/") {
			continue
		}
		name, err := entryName(entry.Name)
		if err != nil {
			return names, &ExtractionError{Archive: archive, Entry: entry.Name, Err: err}
		}
		if first, ok := origin[name]; ok {
			return names, &DuplicateDocumentError{Name: name, First: first, Conflict: archive}
		}
		origin[name] = archive
		if err := writeEntry(entry, filepath.Join(f.layout.Working, name)); err != nil {
			return names, &ExtractionError{Archive: archive, Entry: entry.Name, Err: err}
		}
		names = append(names, name)
	}
	return names, nil
}

func entryName(raw string) (string, error) {
	clean := strings.ReplaceAll(raw, "\\", "/")
	if path.IsAbs(clean) || filepath.IsAbs(raw) {
		return "", errors.New("absolute entry path")
	}
	for _, part := range strings.Split(clean, "/") {
		if part == ".." {
			return "", errors.New("entry path escapes the archive")
		}
	}
	name := path.Base(clean)
	if name == "." || name == "/" || name == "" {
		return "", errors.New("entry has no file name")
	}
	return name, nil
}

func writeEntry(entry *zip.File, dest string) error {
	src, err := entry.Open()
	if err != nil {
		return errors.Errorf("failed to open entry: %w", err)
	}
	defer src.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return errors.Errorf("failed to copy entry to %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return errors.Errorf("failed to finalize %s: %w", dest, err)
	}
	return nil
}
