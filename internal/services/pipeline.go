package services

import (
	"context"
	"io/fs"
	"log/slog"
	"regexp"
	"time"

	"github.com/Lllllllleong/pdfingest/internal/models"
	"gitlab.com/tozd/go/errors"
)

// PipelineConfig holds everything one pipeline run needs.
type PipelineConfig struct {
	Container    string
	BaseDir      string
	NamePattern  *regexp.Regexp
	DocumentGlob string
	ArchiveGlob  string
	DirMode      fs.FileMode
	DryRun       bool
}

// Pipeline runs the ingestion stages in a fixed order. Each stage completes
// for the whole batch before the next one starts.
type Pipeline struct {
	config     PipelineConfig
	layout     Layout
	store      ArchiveStore
	lister     DirLister
	ledger     *ProcessedLedger
	fetcher    *Fetcher
	validator  *NameValidator
	reconciler *PieceCountReconciler
	mover      *StageMover
	clock      Clock
	logger     *slog.Logger
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithDirLister replaces the directory lister used for the processed ledger
// and the working directory scans.
func WithDirLister(lister DirLister) Option {
	return func(p *Pipeline) {
		p.lister = lister
		p.ledger.lister = lister
		p.validator.lister = lister
		p.reconciler.lister = lister
	}
}

// WithPageCounter replaces the pdfcpu page counter.
func WithPageCounter(counter PageCounter) Option {
	return func(p *Pipeline) { p.reconciler.counter = counter }
}

// WithClock sets the clock used for manifest file names and the run report.
func WithClock(clock Clock) Option {
	return func(p *Pipeline) {
		p.clock = clock
		p.mover.manifest.clock = clock
	}
}

// NewPipeline wires the stages over the directory layout rooted at config.BaseDir.
func NewPipeline(config PipelineConfig, store ArchiveStore, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	if config.Container == "" {
		return nil, errors.New("container must be set")
	}
	if config.NamePattern == nil {
		return nil, errors.New("name pattern must be set")
	}
	if store == nil {
		return nil, errors.New("archive store must be set")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.DocumentGlob == "" {
		config.DocumentGlob = "*.pdf"
	}
	if config.ArchiveGlob == "" {
		config.ArchiveGlob = "*.zip"
	}

	layout := NewLayout(config.BaseDir)
	lister := OSDirLister{}
	mover := NewStageMover(layout, NewManifest(layout.Archive, time.Now), logger)
	p := &Pipeline{
		config:     config,
		layout:     layout,
		store:      store,
		lister:     lister,
		ledger:     NewProcessedLedger(lister, layout.Processed, config.ArchiveGlob),
		fetcher:    NewFetcher(store, config.Container, layout, logger),
		validator:  NewNameValidator(config.NamePattern, lister, mover, layout, config.DocumentGlob, logger),
		reconciler: NewPieceCountReconciler(NewPDFPageCounter(), lister, mover, layout, config.DocumentGlob, logger),
		mover:      mover,
		clock:      time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Layout returns the directory layout the pipeline operates on.
func (p *Pipeline) Layout() Layout {
	return p.layout
}

// Run executes one pass of the pipeline. Any fatal error stops the run and
// leaves the filesystem in a state the next run resumes from.
func (p *Pipeline) Run(ctx context.Context) (*models.RunReport, error) {
	report := &models.RunReport{
		Container: p.config.Container,
		StartedAt: p.clock(),
		DryRun:    p.config.DryRun,
	}
	logCtx := p.logger.With("container", p.config.Container, "baseDir", p.config.BaseDir)
	logCtx.Info("Starting pipeline run.", "dryRun", p.config.DryRun)

	if err := EnsureLayout(p.layout, p.config.DirMode); err != nil {
		return report, stageError("layout", p.layout.Base, err)
	}

	work, err := p.plan(ctx)
	if err != nil {
		return report, err
	}
	report.Planned = work
	if p.config.DryRun {
		report.FinishedAt = p.clock()
		logCtx.Info("Dry run complete. No archives fetched.", "planned", len(work))
		return report, nil
	}

	fetched, err := p.fetcher.Fetch(ctx, work)
	report.Fetched = fetched
	if err != nil {
		return report, stageError("fetch", failedItem(work, len(fetched)), err)
	}

	extracted, err := p.fetcher.Extract(ctx, fetched)
	report.Extracted = extracted
	if err != nil {
		return report, stageError("extract", "", err)
	}

	_, quarantined, err := p.validator.Validate()
	report.Quarantined = quarantined
	if err != nil {
		return report, err
	}

	renamed, err := p.reconciler.ReconcileAll()
	report.Renamed = renamed
	if err != nil {
		return report, err
	}

	finalized, err := p.finalize(ctx)
	report.Finalized = finalized
	if err != nil {
		return report, err
	}

	for _, name := range fetched {
		if err := p.mover.Archive(name); err != nil {
			return report, stageError("archive", name, err)
		}
		if err := p.fetcher.extracted.Clear(name); err != nil {
			return report, stageError("archive", name, err)
		}
		report.Archived = append(report.Archived, name)
	}

	report.FinishedAt = p.clock()
	logCtx.Info("Pipeline run complete.",
		"planned", len(report.Planned),
		"extracted", len(report.Extracted),
		"quarantined", len(report.Quarantined),
		"renamed", len(report.Renamed),
		"finalized", len(report.Finalized),
		"archived", len(report.Archived),
	)
	return report, nil
}

// Plan lists the remote container and returns the keys not yet processed,
// without touching the filesystem beyond reading the processed directory.
func (p *Pipeline) Plan(ctx context.Context) ([]string, error) {
	return p.plan(ctx)
}

func (p *Pipeline) plan(ctx context.Context) ([]string, error) {
	logCtx := p.logger.With("stage", "plan")
	listing, err := p.store.ListArchiveKeys(ctx, p.config.Container)
	if err != nil {
		return nil, stageError("plan", p.config.Container, errors.Errorf("failed to list remote archives: %w", err))
	}
	processed, err := p.ledger.Processed()
	if err != nil {
		return nil, stageError("plan", p.layout.Processed, err)
	}
	work, err := Plan(listing, processed)
	if err != nil {
		return nil, stageError("plan", p.config.Container, err)
	}
	logCtx.Info("Compared remote archives with processed archives.",
		"remote", len(listing.Keys), "processed", len(processed), "new", len(work), "archives", work)
	return work, nil
}

func (p *Pipeline) finalize(ctx context.Context) ([]string, error) {
	names, err := p.lister.List(p.layout.Working, p.config.DocumentGlob)
	if err != nil {
		return nil, stageError("finalize", p.layout.Working, err)
	}
	var finalized []string
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return finalized, stageError("finalize", name, err)
		}
		if err := p.mover.Finalize(name); err != nil {
			return finalized, stageError("finalize", name, err)
		}
		finalized = append(finalized, name)
	}
	return finalized, nil
}

func failedItem(items []string, index int) string {
	if index < len(items) {
		return items[index]
	}
	return ""
}
