package services

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Lllllllleong/pdfingest/internal/models"
	"gitlab.com/tozd/go/errors"
)

// PieceCountReconciler corrects the piece-count field of working document
// names so that it equals ceil(pages/2).
type PieceCountReconciler struct {
	counter PageCounter
	lister  DirLister
	mover   *StageMover
	layout  Layout
	glob    string
	logger  *slog.Logger
}

func NewPieceCountReconciler(counter PageCounter, lister DirLister, mover *StageMover, layout Layout, glob string, logger *slog.Logger) *PieceCountReconciler {
	return &PieceCountReconciler{counter: counter, lister: lister, mover: mover, layout: layout, glob: glob, logger: logger}
}

// ReconcileAll reconciles every document still in the working directory.
// Every remaining document is assumed to have passed name validation.
func (r *PieceCountReconciler) ReconcileAll() ([]models.Rename, error) {
	names, err := r.lister.List(r.layout.Working, r.glob)
	if err != nil {
		return nil, errors.Errorf("failed to list working documents: %w", err)
	}
	var renames []models.Rename
	for _, name := range names {
		rename, err := r.Reconcile(name)
		if err != nil {
			return renames, stageError("reconcile", name, err)
		}
		if rename != nil {
			renames = append(renames, *rename)
		}
	}
	return renames, nil
}

// Reconcile checks one working document and renames it in place when the
// declared piece count is wrong. It returns nil when the name already matches.
func (r *PieceCountReconciler) Reconcile(name string) (*models.Rename, error) {
	logCtx := r.logger.With("stage", "reconcile", "document", name)

	parsed := models.ParseDocumentName(name)
	declared, err := parsed.PieceCount()
	if err != nil {
		return nil, &MalformedNameError{Name: name, Err: err}
	}

	path := filepath.Join(r.layout.Working, name)
	pages, err := r.counter.PageCount(path)
	if err != nil {
		return nil, &ContentReadError{Path: path, Err: err}
	}
	expected := models.ExpectedPieceCount(pages)

	if declared == expected {
		logCtx.Info("Piece count matches.", "pages", pages, "pieces", declared)
		return nil, nil
	}

	newName := parsed.WithPieceCount(expected).String()
	newPath := filepath.Join(r.layout.Working, newName)
	if _, err := os.Stat(newPath); err == nil {
		same, err := sameContent(path, newPath)
		if err != nil {
			return nil, &ContentReadError{Path: newPath, Err: err}
		}
		if !same {
			return nil, &RelocationError{From: path, To: newPath, Err: os.ErrExist}
		}
		if err := os.Remove(path); err != nil {
			return nil, &RelocationError{From: path, To: newPath, Err: err}
		}
		logCtx.Warn("Corrected document already present. Dropped duplicate copy.", "from", name, "to", newName)
		return &models.Rename{From: name, To: newName, Pages: pages, Declared: declared, Corrected: expected}, nil
	}
	if err := r.mover.Move(path, newPath); err != nil {
		return nil, err
	}
	logCtx.Warn("Piece count mismatch. Document renamed.", "from", name, "to", newName, "pages", pages, "declared", declared, "corrected", expected)
	return &models.Rename{From: name, To: newName, Pages: pages, Declared: declared, Corrected: expected}, nil
}

func sameContent(a, b string) (bool, error) {
	hashA, err := calculateFileHash(a)
	if err != nil {
		return false, err
	}
	hashB, err := calculateFileHash(b)
	if err != nil {
		return false, err
	}
	return hashA == hashB, nil
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
