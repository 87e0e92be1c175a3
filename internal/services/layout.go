package services

import (
	"io/fs"
	"os"
	"path/filepath"

	"gitlab.com/tozd/go/errors"
)

// DefaultDirMode matches the permissions the directory tree has always been created with.
const DefaultDirMode fs.FileMode = 0o744

// Layout names every directory the pipeline reads or writes below a base directory.
type Layout struct {
	Base      string
	Working   string
	Bad       string
	Staging   string
	Processed string
	Finished  string
	Archive   string
	Logs      string
}

// NewLayout returns the directory tree rooted at base.
func NewLayout(base string) Layout {
	manual := filepath.Join(base, "manual")
	return Layout{
		Base:      base,
		Working:   filepath.Join(manual, "working"),
		Bad:       filepath.Join(manual, "working", "bad_pdf"),
		Staging:   filepath.Join(manual, "zip"),
		Processed: filepath.Join(manual, "zip", "processed"),
		Finished:  filepath.Join(manual, "finished"),
		Archive:   filepath.Join(manual, "archive"),
		Logs:      filepath.Join(manual, "logs"),
	}
}

// Dirs lists the layout's directories, parents before children.
func (l Layout) Dirs() []string {
	return []string{l.Working, l.Bad, l.Staging, l.Processed, l.Logs, l.Archive, l.Finished}
}

// EnsureLayout creates any missing directory of the layout.
func EnsureLayout(l Layout, mode fs.FileMode) error {
	if mode == 0 {
		mode = DefaultDirMode
	}
	for _, dir := range l.Dirs() {
		if err := os.MkdirAll(dir, mode); err != nil {
			return errors.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
