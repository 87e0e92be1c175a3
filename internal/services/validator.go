package services

import (
	"log/slog"
	"path/filepath"
	"regexp"

	"github.com/Lllllllleong/pdfingest/internal/models"
	"gitlab.com/tozd/go/errors"
)

// NameValidator quarantines working documents whose names do not match the
// configured naming pattern.
type NameValidator struct {
	pattern *regexp.Regexp
	lister  DirLister
	mover   *StageMover
	layout  Layout
	glob    string
	logger  *slog.Logger
}

func NewNameValidator(pattern *regexp.Regexp, lister DirLister, mover *StageMover, layout Layout, glob string, logger *slog.Logger) *NameValidator {
	return &NameValidator{pattern: pattern, lister: lister, mover: mover, layout: layout, glob: glob, logger: logger}
}

// Matches reports whether a base name satisfies the naming pattern.
func (v *NameValidator) Matches(name string) bool {
	return v.pattern.MatchString(name)
}

// Validate classifies every document in the working directory. Good names are
// returned; bad ones are moved to the bad-document directory and returned as
// quarantine events.
func (v *NameValidator) Validate() ([]string, []models.Quarantine, error) {
	logCtx := v.logger.With("stage", "validate")
	names, err := v.lister.List(v.layout.Working, v.glob)
	if err != nil {
		return nil, nil, errors.Errorf("failed to list working documents: %w", err)
	}

	var good []string
	var bad []models.Quarantine
	for _, name := range names {
		if v.Matches(name) {
			logCtx.Info("Document name is valid.", "document", name)
			good = append(good, name)
			continue
		}
		if err := v.mover.Move(filepath.Join(v.layout.Working, name), filepath.Join(v.layout.Bad, name)); err != nil {
			return good, bad, stageError("validate", name, err)
		}
		logCtx.Warn("Bad document name. Moved to bad document directory.", "document", name, "pattern", v.pattern.String())
		bad = append(bad, models.Quarantine{Name: name, Reason: "name does not match " + v.pattern.String()})
	}
	return good, bad, nil
}
