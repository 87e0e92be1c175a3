package services

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"gitlab.com/tozd/go/errors"
)

// StageMover relocates files between the layout's directories and records
// finished documents in the daily manifest.
type StageMover struct {
	layout   Layout
	manifest *Manifest
	logger   *slog.Logger
}

func NewStageMover(layout Layout, manifest *Manifest, logger *slog.Logger) *StageMover {
	return &StageMover{layout: layout, manifest: manifest, logger: logger}
}

// Move renames from to to, copying across filesystems when a rename is not
// possible. Failures are returned as RelocationError and never retried.
func (m *StageMover) Move(from, to string) error {
	err := os.Rename(from, to)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return &RelocationError{From: from, To: to, Err: err}
	}
	if err := copyFile(from, to); err != nil {
		return &RelocationError{From: from, To: to, Err: err}
	}
	if err := os.Remove(from); err != nil {
		return &RelocationError{From: from, To: to, Err: err}
	}
	return nil
}

// Finalize moves a validated document from the working directory into the
// finished directory and appends its name to today's manifest. If the append
// fails the document is moved back so the next run finalizes it again.
func (m *StageMover) Finalize(name string) error {
	from := filepath.Join(m.layout.Working, name)
	to := filepath.Join(m.layout.Finished, name)
	if err := m.Move(from, to); err != nil {
		return err
	}
	if err := m.manifest.Append(name); err != nil {
		if rollbackErr := m.Move(to, from); rollbackErr != nil {
			return errors.Join(err, rollbackErr)
		}
		return err
	}
	m.logger.Info("Document moved to finished directory.", "stage", "finalize", "document", name, "destination", to)
	return nil
}

// Archive moves a staged archive into the processed-archive directory. Once
// there, the archive is never planned again.
func (m *StageMover) Archive(name string) error {
	from := filepath.Join(m.layout.Staging, name)
	to := filepath.Join(m.layout.Processed, name)
	if err := m.Move(from, to); err != nil {
		return err
	}
	m.logger.Info("Archive moved to processed directory.", "stage", "archive", "archive", name, "destination", to)
	return nil
}

func copyFile(from, to string) error {
	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}
	dst, err := os.OpenFile(to, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	if err := dst.Sync(); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}
