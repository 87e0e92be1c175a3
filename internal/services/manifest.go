package services

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gitlab.com/tozd/go/errors"
)

// Clock returns the current local time.
type Clock func() time.Time

// Manifest appends finished document names to one text file per calendar day.
type Manifest struct {
	dir   string
	clock Clock
}

func NewManifest(dir string, clock Clock) *Manifest {
	if clock == nil {
		clock = time.Now
	}
	return &Manifest{dir: dir, clock: clock}
}

// Path returns the manifest file for the day containing t.
func (m *Manifest) Path(t time.Time) string {
	return filepath.Join(m.dir, fmt.Sprintf("processed_pdfs_list_%s.txt", t.Format("01-02-2006")))
}

// Append writes name as a new line of today's manifest, creating it if needed.
// Existing lines are never rewritten.
func (m *Manifest) Append(name string) error {
	path := m.Path(m.clock())
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Errorf("failed to open manifest %s: %w", path, err)
	}
	if _, err := f.WriteString(name + "\n"); err != nil {
		_ = f.Close()
		return errors.Errorf("failed to append to manifest %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return errors.Errorf("failed to close manifest %s: %w", path, err)
	}
	return nil
}
