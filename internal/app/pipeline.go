// Package app wires the pipeline stages together from one loaded configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/shpitdev/sdmx-dataflow-sync/internal/archive"
	"github.com/shpitdev/sdmx-dataflow-sync/internal/catalog"
	"github.com/shpitdev/sdmx-dataflow-sync/internal/config"
	"github.com/shpitdev/sdmx-dataflow-sync/internal/diff"
	"github.com/shpitdev/sdmx-dataflow-sync/internal/download"
	"github.com/shpitdev/sdmx-dataflow-sync/internal/logging"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/core"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/io/local"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/worker"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/sdmx"
)

// Stage names, as they appear in logs and reports.
const (
	StageFetch    = "fetch"
	StageDiff     = "diff"
	StagePromote  = "promote"
	StageDownload = "download"
)

// Pipeline holds every stage, built once from a Config.
type Pipeline struct {
	cfg        config.Config
	logger     *slog.Logger
	archiver   *archive.Archiver
	fetcher    catalog.Fetcher
	differ     diff.Differ
	downloader download.Downloader
}

// New builds the stages. A nil logger discards output; a nil clock uses the real clock.
func New(cfg config.Config, logger *slog.Logger, clock clockwork.Clock) (*Pipeline, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	client, err := sdmx.NewClient(sdmx.ClientConfig{
		Timeout:   cfg.API.Timeout,
		CAPath:    cfg.API.CAPath,
		UserAgent: cfg.API.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("sdmx client: %w", err)
	}
	arch := archive.New(clock, logger)

	p := &Pipeline{cfg: cfg, logger: logger, archiver: arch}
	p.fetcher = catalog.Fetcher{
		Client:     client,
		Archiver:   arch,
		CatalogURL: cfg.API.DataflowInfo,
		NewPath:    cfg.Paths.NewFile,
		ArchiveDir: cfg.Paths.ArchiveFolder,
		Logger:     logger,
	}
	p.differ = diff.Differ{
		Archiver:   arch,
		ArchiveDir: cfg.Paths.ArchiveFolder,
		Options: diff.Options{
			JoinKeys:      cfg.Diff.JoinKeys,
			TrackedFields: cfg.Diff.TrackedFields,
			SortKeys:      cfg.Diff.SortKeys,
		},
		Logger: logger,
	}
	p.downloader = download.Downloader{
		Client:         client,
		DataQuery:      cfg.API.DataQuery,
		StructureQuery: cfg.API.StructureQuery,
		OutputDir:      cfg.Paths.OutputFolder,
		Worker: worker.Options{
			RequestTimeout: cfg.API.Timeout,
			RateLimitRPS:   cfg.API.RateLimitRPS,
		},
		Logger: logger,
	}
	return p, nil
}

// Config returns the configuration the pipeline was built from.
func (p *Pipeline) Config() config.Config { return p.cfg }

// withLogger returns a copy whose stages all log through logger.
func (p *Pipeline) withLogger(logger *slog.Logger) *Pipeline {
	cp := *p
	cp.logger = logger
	cp.archiver = &archive.Archiver{Clock: p.archiver.Clock, Logger: logger}
	cp.fetcher.Logger, cp.fetcher.Archiver = logger, cp.archiver
	cp.differ.Logger, cp.differ.Archiver = logger, cp.archiver
	cp.downloader.Logger = logger
	return &cp
}

// Fetch downloads the catalog into the new snapshot.
func (p *Pipeline) Fetch(ctx context.Context) (catalog.Result, error) {
	return p.fetcher.Fetch(ctx)
}

// Diff compares the old and new snapshots and writes the change-set when non-empty.
func (p *Pipeline) Diff(ctx context.Context) (diff.Result, error) {
	return p.differ.Run(ctx, p.cfg.Paths.OldFile, p.cfg.Paths.NewFile, p.cfg.Paths.ResultFile)
}

// Promote makes the new snapshot the baseline for the next cycle.
func (p *Pipeline) Promote(ctx context.Context) (archive.PromoteResult, error) {
	if err := ctx.Err(); err != nil {
		return archive.PromoteResult{}, err
	}
	return p.archiver.Promote(p.cfg.Paths.NewFile, p.cfg.Paths.OldFile, p.cfg.Paths.ArchiveFolder)
}

// Download fetches artifacts for the finalized new inserts in the change-set file.
func (p *Pipeline) Download(ctx context.Context) (download.Report, error) {
	return p.downloader.Run(ctx, p.cfg.Paths.DataChangesFile)
}

// CycleReport describes one RunCycle.
type CycleReport struct {
	RunID  string
	Stages []core.StageReport
	Fetch  catalog.Result
	// Diff is nil on the first run, when there is no baseline to compare against.
	Diff    *diff.Result
	Promote archive.PromoteResult
	// Download is nil unless the diff produced changes.
	Download *download.Report
}

// RunCycle fetches, diffs against the baseline when there is one, promotes the new
// snapshot and downloads the finalized new inserts. It stops at the first failing
// stage and returns a *core.StageError; a failed diff never promotes.
func (p *Pipeline) RunCycle(ctx context.Context) (CycleReport, error) {
	rep := CycleReport{RunID: uuid.NewString()}
	log := p.logger.With("run", rep.RunID)
	run := p.withLogger(log)
	start := time.Now()
	log.Info("starting cycle")

	fetch := core.StageFunc{StageName: StageFetch, Fn: func(ctx context.Context) (core.Outcome, error) {
		res, err := run.Fetch(ctx)
		if err != nil {
			return core.Outcome{}, err
		}
		rep.Fetch = res
		return core.Outcome{Status: core.StatusOK, Detail: fmt.Sprintf("%d dataflows", res.Dataflows)}, nil
	}}
	compare := core.StageFunc{StageName: StageDiff, Fn: func(ctx context.Context) (core.Outcome, error) {
		ok, err := local.Exists(run.cfg.Paths.OldFile)
		if err != nil {
			return core.Outcome{}, err
		}
		if !ok {
			log.Info("old snapshot not found, creating baseline", "path", run.cfg.Paths.OldFile)
			return core.Outcome{Status: core.StatusSkipped, Detail: "no baseline"}, nil
		}
		res, err := run.Diff(ctx)
		if err != nil {
			return core.Outcome{}, err
		}
		rep.Diff = &res
		if res.Outcome == diff.NoChanges {
			return core.Outcome{Status: core.StatusNoChanges}, nil
		}
		c := res.Counts
		return core.Outcome{
			Status: core.StatusOK,
			Detail: fmt.Sprintf("%d deleted, %d inserted, %d updated", c.Deleted, c.Inserted, c.Updated),
		}, nil
	}}
	promote := core.StageFunc{StageName: StagePromote, Fn: func(ctx context.Context) (core.Outcome, error) {
		res, err := run.Promote(ctx)
		if err != nil {
			return core.Outcome{}, err
		}
		rep.Promote = res
		if res.Baseline {
			return core.Outcome{Status: core.StatusOK, Detail: "baseline created"}, nil
		}
		return core.Outcome{Status: core.StatusOK}, nil
	}}
	fetchArtifacts := core.StageFunc{StageName: StageDownload, Fn: func(ctx context.Context) (core.Outcome, error) {
		res, err := run.Download(ctx)
		if err != nil {
			return core.Outcome{}, err
		}
		rep.Download = &res
		if res.Failed() {
			log.Warn("some artifacts failed to download", "failed", len(res.Failures))
		}
		return core.Outcome{
			Status: core.StatusOK,
			Detail: fmt.Sprintf("%d saved, %d failed", len(res.Saved), len(res.Failures)),
		}, nil
	}}

	next := func(done core.StageReport) []core.Stage {
		if done.Stage != StageDiff {
			return nil
		}
		if done.Outcome.Status == core.StatusOK {
			return []core.Stage{promote, fetchArtifacts}
		}
		return []core.Stage{promote}
	}
	onDone := func(sr core.StageReport) {
		attrs := []any{"stage", sr.Stage, "status", sr.Outcome.Status, "detail", sr.Outcome.Detail, "duration", sr.Duration}
		if sr.Outcome.Status == core.StatusFailed {
			log.Error("stage failed", attrs...)
			return
		}
		log.Info("stage complete", attrs...)
	}

	stages, err := core.Sequence(ctx, []core.Stage{fetch, compare}, next, onDone)
	rep.Stages = stages
	if err != nil {
		log.Error("cycle failed", "err", err, "duration", time.Since(start))
		return rep, err
	}
	log.Info("cycle complete", "duration", time.Since(start))
	return rep, nil
}
