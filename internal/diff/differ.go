package diff

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/shpitdev/sdmx-dataflow-sync/internal/archive"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/io/local"
)

// Kind classifies a diff failure.
type Kind string

const (
	// SchemaMismatch means the snapshots do not share one column layout.
	SchemaMismatch Kind = "schema_mismatch"
	// IOFailure covers unreadable snapshots and failed result writes.
	IOFailure Kind = "io_failure"
)

// Error reports a failed diff. No change-set file is written when it is returned.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Path != "" {
		return fmt.Sprintf("diff %s (%s): %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("diff (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Outcome tells callers whether a change-set was produced.
type Outcome string

const (
	NoChanges Outcome = "no_changes"
	Changed   Outcome = "changed"
)

// Result is returned by Differ.Run.
type Result struct {
	Outcome Outcome
	Counts  Counts
	// Path is the written change-set; empty for NoChanges.
	Path string
	// Archived is the archive copy of the replaced change-set, if one existed.
	Archived string
}

// Differ runs Compute over snapshot files and persists the change-set.
type Differ struct {
	Archiver   *archive.Archiver
	ArchiveDir string
	Options    Options
	Logger     *slog.Logger
}

func (d *Differ) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return d.Logger
}

// Run diffs oldPath against newPath. A non-empty change-set replaces resultPath after
// the existing file is archived; an empty one leaves resultPath untouched.
func (d *Differ) Run(ctx context.Context, oldPath, newPath, resultPath string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	log := d.logger()

	log.Info("loading old snapshot", "path", oldPath)
	old, err := local.ReadTableFile(oldPath)
	if err != nil {
		return Result{}, &Error{Kind: IOFailure, Path: oldPath, Err: err}
	}
	log.Info("loading new snapshot", "path", newPath)
	cur, err := local.ReadTableFile(newPath)
	if err != nil {
		return Result{}, &Error{Kind: IOFailure, Path: newPath, Err: err}
	}

	cs, err := Compute(old, cur, d.Options)
	if err != nil {
		log.Error("comparison failed", "err", err)
		return Result{}, err
	}
	counts := cs.Counts()
	if cs.Empty() {
		log.Info("no changes detected", "old_rows", len(old.Rows), "new_rows", len(cur.Rows))
		return Result{Outcome: NoChanges}, nil
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	archived, err := d.Archiver.Archive(resultPath, d.ArchiveDir, archive.PrefixChangeSet)
	if err != nil {
		return Result{}, &Error{Kind: IOFailure, Path: resultPath, Err: err}
	}
	if err := local.WriteTableFile(resultPath, cs.Table()); err != nil {
		return Result{}, &Error{Kind: IOFailure, Path: resultPath, Err: err}
	}

	log.Info("changes saved",
		"path", resultPath,
		"deleted", counts.Deleted,
		"inserted", counts.Inserted,
		"updated", counts.Updated,
	)
	return Result{Outcome: Changed, Counts: counts, Path: resultPath, Archived: archived}, nil
}
