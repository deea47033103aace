package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/jan-enricher/internal/models"
	"github.com/maltedev/jan-enricher/internal/parser"
	"github.com/maltedev/jan-enricher/internal/resolver"
	"github.com/maltedev/jan-enricher/internal/scraper"
	"github.com/maltedev/jan-enricher/internal/sheets"
)

var (
	errEmptySource  = errors.New("empty source link")
	errNoIdentifier = errors.New("no identifier in listing url")
)

// Recorder keeps a journal of runs and their rows. Failures are logged by
// the pipeline and never stop a run.
type Recorder interface {
	StartRun(ctx context.Context, run *models.Run) error
	Record(ctx context.Context, run *models.Run, rec *models.CodeRecord) error
	FinishRun(ctx context.Context, run *models.Run) error
}

type Pacer interface {
	Wait(ctx context.Context) error
}

type Options struct {
	Sheet        string
	SourceColumn string
	// OutputColumn is the first of the four contiguous output columns.
	OutputColumn string
	StartRow     int
	// EndRow 0 processes every row with data.
	EndRow   int
	Strategy string
}

// Pipeline enriches one sheet row at a time: image, visual search,
// identifier, code, write-back. A failing stage leaves the remaining fields
// empty but the row is still written.
type Pipeline struct {
	sheet    sheets.Spreadsheet
	images   scraper.ImageSource
	finder   scraper.ListingFinder
	codes    resolver.Resolver
	recorder Recorder
	pacer    Pacer
	opts     Options
	logger   *slog.Logger
}

func New(sheet sheets.Spreadsheet, images scraper.ImageSource, finder scraper.ListingFinder, codes resolver.Resolver, opts Options, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		sheet:    sheet,
		images:   images,
		finder:   finder,
		codes:    codes,
		recorder: NopRecorder{},
		opts:     opts,
		logger:   logger.With("component", "pipeline"),
	}
}

func (p *Pipeline) WithRecorder(r Recorder) *Pipeline {
	if r != nil {
		p.recorder = r
	}
	return p
}

func (p *Pipeline) WithPacer(pc Pacer) *Pipeline {
	p.pacer = pc
	return p
}

// Listings reads the source links for the configured row range.
func (p *Pipeline) Listings(ctx context.Context) ([]models.ListingRef, error) {
	values, err := p.sheet.ReadColumn(ctx, p.opts.Sheet, p.opts.SourceColumn, p.opts.StartRow, p.opts.EndRow)
	if err != nil {
		return nil, err
	}

	refs := make([]models.ListingRef, len(values))
	for i, v := range values {
		refs[i] = models.ListingRef{Row: p.opts.StartRow + i, URL: v}
	}
	return refs, nil
}

// Run processes every listing in order and returns the run totals. The
// error is non-nil only when the sheet could not be read or ctx was
// cancelled; per-row failures are reflected in the totals.
func (p *Pipeline) Run(ctx context.Context) (*models.Run, error) {
	run := models.NewRun(p.opts.Strategy)
	logger := p.logger.With("run_id", run.ID)

	listings, err := p.Listings(ctx)
	if err != nil {
		return run, fmt.Errorf("failed to read listings: %w", err)
	}

	logger.Info("run started",
		"rows", len(listings),
		"start_row", p.opts.StartRow,
		"end_row", p.opts.EndRow,
		"strategy", p.opts.Strategy,
	)
	if err := p.recorder.StartRun(ctx, run); err != nil {
		logger.Warn("failed to journal run start", "error", err)
	}

	var runErr error
	for i, ref := range listings {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if i > 0 && p.pacer != nil {
			if err := p.pacer.Wait(ctx); err != nil {
				runErr = err
				break
			}
		}

		rec := p.ProcessRow(ctx, run.ID, ref)
		run.Add(rec)

		// The row is finished; persist it even if shutdown started meanwhile.
		writeCtx := context.WithoutCancel(ctx)
		if err := p.sheet.WriteRow(writeCtx, p.opts.Sheet, ref.Row, p.opts.OutputColumn, rec.Values()); err != nil {
			run.WriteFails++
			logger.Error("failed to write row", "row", ref.Row, "error", err)
		} else {
			logger.Info("row written",
				"row", ref.Row,
				"jan", rec.JAN,
				"identifier", rec.Identifier,
				"stage", rec.Stage,
			)
		}

		if err := p.recorder.Record(writeCtx, run, rec); err != nil {
			logger.Warn("failed to journal row", "row", ref.Row, "error", err)
		}
	}

	run.FinishedAt = time.Now()
	if err := p.recorder.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("failed to journal run finish", "error", err)
	}

	logger.Info("run finished",
		"rows", run.Rows,
		"resolved", run.Resolved,
		"degraded", run.Degraded,
		"write_failures", run.WriteFails,
		"duration", run.FinishedAt.Sub(run.StartedAt),
	)

	return run, runErr
}

// ProcessRow runs the stages for one listing and always returns a record.
// Stages stop at the first missing value; fields from earlier stages are kept.
func (p *Pipeline) ProcessRow(ctx context.Context, runID uuid.UUID, ref models.ListingRef) (rec *models.CodeRecord) {
	rec = &models.CodeRecord{
		RunID:     runID,
		Row:       ref.Row,
		SourceURL: ref.URL,
		Stage:     models.StageImage,
		CreatedAt: time.Now(),
	}
	logger := p.logger.With("row", ref.Row)

	fail := func(stage models.Stage, err error) *models.CodeRecord {
		rec.Stage = stage
		rec.Error = err.Error()
		logger.Warn("row degraded", "stage", stage, "error", err)
		return rec
	}

	defer func() {
		if r := recover(); r != nil {
			fail(rec.Stage, fmt.Errorf("panic: %v", r))
		}
	}()

	if ref.URL == "" {
		return fail(models.StageImage, errEmptySource)
	}

	imageURL, err := p.images.Resolve(ctx, ref.URL)
	if err != nil {
		return fail(models.StageImage, err)
	}
	rec.ImageURL = imageURL
	rec.Stage = models.StageSearch
	logger.Debug("image resolved", "image_url", imageURL)

	targetURL, err := p.finder.FindListing(ctx, imageURL)
	if err != nil {
		return fail(models.StageSearch, err)
	}
	rec.TargetURL = targetURL
	rec.Stage = models.StageIdentifier
	logger.Debug("listing found", "target_url", targetURL)

	identifier, ok := parser.ExtractIdentifier(targetURL)
	if !ok {
		return fail(models.StageIdentifier, fmt.Errorf("%w: %s", errNoIdentifier, targetURL))
	}
	rec.Identifier = identifier
	rec.Stage = models.StageCode

	res, err := p.codes.Resolve(ctx, resolver.Target{Identifier: identifier, ListingURL: targetURL})
	if err != nil {
		return fail(models.StageCode, err)
	}
	rec.LookupURL = res.SourceURL
	rec.JAN = res.Code
	rec.Stage = models.StageDone

	return rec
}

type NopRecorder struct{}

func (NopRecorder) StartRun(context.Context, *models.Run) error { return nil }

func (NopRecorder) Record(context.Context, *models.Run, *models.CodeRecord) error { return nil }

func (NopRecorder) FinishRun(context.Context, *models.Run) error { return nil }
