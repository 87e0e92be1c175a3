package services

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gitlab.com/tozd/go/errors"
)

// DirLister returns the base names of regular files in dir matching a glob pattern.
type DirLister interface {
	List(dir, pattern string) ([]string, error)
}

// OSDirLister lists directories on the local disk.
type OSDirLister struct{}

func (OSDirLister) List(dir, pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, errors.Errorf("invalid glob pattern %q", pattern)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Errorf("failed to list %s: %w", dir, err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		ok, err := doublestar.Match(pattern, entry.Name())
		if err != nil {
			return nil, errors.Errorf("matching %q against %q: %w", entry.Name(), pattern, err)
		}
		if ok {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ProcessedSet holds the base names of archives that have been fully processed.
type ProcessedSet map[string]struct{}

// Contains reports whether name has already been processed.
func (s ProcessedSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// ProcessedLedger derives the processed-archive set from the contents of the
// processed-archive directory. There is no separate index.
type ProcessedLedger struct {
	lister  DirLister
	dir     string
	pattern string
}

func NewProcessedLedger(lister DirLister, dir, pattern string) *ProcessedLedger {
	return &ProcessedLedger{lister: lister, dir: dir, pattern: pattern}
}

// Processed returns the current processed-archive set.
func (l *ProcessedLedger) Processed() (ProcessedSet, error) {
	names, err := l.lister.List(l.dir, l.pattern)
	if err != nil {
		return nil, errors.Errorf("failed to read processed archives: %w", err)
	}
	set := make(ProcessedSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set, nil
}

// ExtractionLedger records, next to each staged archive, that all of its
// entries were written to the working directory. A resumed run skips
// re-extracting such archives so renamed or finalized documents are not
// brought back.
type ExtractionLedger struct {
	dir string
}

func NewExtractionLedger(dir string) *ExtractionLedger {
	return &ExtractionLedger{dir: dir}
}

func (l *ExtractionLedger) markerPath(archive string) string {
	return filepath.Join(l.dir, "."+archive+".extracted")
}

// Done reports whether archive was fully extracted by an earlier run.
func (l *ExtractionLedger) Done(archive string) (bool, error) {
	_, err := os.Stat(l.markerPath(archive))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Errorf("failed to check extraction marker for %s: %w", archive, err)
}

// Mark records that archive has been fully extracted.
func (l *ExtractionLedger) Mark(archive string) error {
	if err := os.WriteFile(l.markerPath(archive), nil, 0o644); err != nil {
		return errors.Errorf("failed to write extraction marker for %s: %w", archive, err)
	}
	return nil
}

// Clear removes the marker once the archive has left staging.
func (l *ExtractionLedger) Clear(archive string) error {
	if err := os.Remove(l.markerPath(archive)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Errorf("failed to remove extraction marker for %s: %w", archive, err)
	}
	return nil
}
