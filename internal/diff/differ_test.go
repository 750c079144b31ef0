package diff_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/shpitdev/sdmx-dataflow-sync/internal/archive"
	"github.com/shpitdev/sdmx-dataflow-sync/internal/diff"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/io/local"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/schema"
)

type fixture struct {
	dir        string
	oldPath    string
	newPath    string
	resultPath string
	archiveDir string
	differ     *diff.Differ
}

func newFixture(t *testing.T, ext string) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:        dir,
		oldPath:    filepath.Join(dir, "all_dataflows_old"+ext),
		newPath:    filepath.Join(dir, "all_dataflows_new"+ext),
		resultPath: filepath.Join(dir, "data_changes"+ext),
		archiveDir: filepath.Join(dir, "archive"),
	}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	f.differ = &diff.Differ{
		Archiver:   archive.New(clock, nil),
		ArchiveDir: f.archiveDir,
	}
	return f
}

func (f fixture) write(t *testing.T, path string, tbl schema.Table) {
	t.Helper()
	if err := local.WriteTableFile(path, tbl); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDiffer_NoChangesWritesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ".xlsx")
	s := snapshot(row("DF1", "OECD", "1.0", "true", "N", "R"))
	f.write(t, f.oldPath, s)
	f.write(t, f.newPath, s)

	res, err := f.differ.Run(context.Background(), f.oldPath, f.newPath, f.resultPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != diff.NoChanges || res.Path != "" {
		t.Fatalf("unexpected result: %#v", res)
	}
	if _, err := os.Stat(f.resultPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("result file must not be created, stat err=%v", err)
	}
}

func TestDiffer_NoChangesKeepsPreviousChangeSet(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ".csv")
	if err := os.WriteFile(f.resultPath, []byte("previous\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := snapshot(row("DF1", "OECD", "1.0", "true", "N", "R"))
	f.write(t, f.oldPath, s)
	f.write(t, f.newPath, s)

	if _, err := f.differ.Run(context.Background(), f.oldPath, f.newPath, f.resultPath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := os.ReadFile(f.resultPath)
	if err != nil || string(b) != "previous\n" {
		t.Fatalf("previous change-set touched: %q, %v", b, err)
	}
	if entries, _ := os.ReadDir(f.archiveDir); len(entries) != 0 {
		t.Fatalf("nothing should be archived, got %d entries", len(entries))
	}
}

func TestDiffer_ChangedArchivesThenWrites(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ".xlsx")
	f.write(t, f.resultPath, schema.Table{Header: []string{"stale"}, Rows: [][]string{{"x"}}})
	f.write(t, f.oldPath, snapshot(row("DF1", "OECD", "1.0", "true", "N", "R")))
	f.write(t, f.newPath, snapshot(
		row("DF1", "OECD", "1.1", "true", "N", "R"),
		row("DF2", "OECD", "1.0", "true", "M", ""),
	))

	res, err := f.differ.Run(context.Background(), f.oldPath, f.newPath, f.resultPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != diff.Changed || res.Counts != (diff.Counts{Inserted: 1, Updated: 1}) {
		t.Fatalf("unexpected result: %#v", res)
	}
	if want := filepath.Join(f.archiveDir, "data_changes_20250601_120000.xlsx"); res.Archived != want {
		t.Fatalf("Archived=%q want %q", res.Archived, want)
	}

	stale, err := local.ReadTableFile(res.Archived)
	if err != nil || len(stale.Header) != 1 || stale.Header[0] != "stale" {
		t.Fatalf("archived change-set wrong: %#v, %v", stale, err)
	}
	got, err := local.ReadTableFile(f.resultPath)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if len(got.Rows) != 2 || got.Value(0, diff.ColChangeType) != "Updated" || got.Value(1, diff.ColChangeType) != "New Insert" {
		t.Fatalf("unexpected change-set: %#v", got)
	}
	if got.Value(1, "Is Final_new") != "true" {
		t.Fatalf("expected Is Final_new on insert row, got %#v", got)
	}
}

func TestDiffer_Failures(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ".csv")
	f.write(t, f.oldPath, snapshot(row("DF1", "OECD", "1.0", "true", "N", "R")))
	f.write(t, f.newPath, schema.Table{Header: []string{"Dataflow ID"}, Rows: [][]string{{"DF1"}}})

	_, err := f.differ.Run(context.Background(), f.oldPath, f.newPath, f.resultPath)
	var de *diff.Error
	if !errors.As(err, &de) || de.Kind != diff.SchemaMismatch {
		t.Fatalf("expected SchemaMismatch, got %v", err)
	}
	if _, err := os.Stat(f.resultPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("no result file expected on failure")
	}

	_, err = f.differ.Run(context.Background(), filepath.Join(f.dir, "missing.csv"), f.newPath, f.resultPath)
	if !errors.As(err, &de) || de.Kind != diff.IOFailure {
		t.Fatalf("expected IOFailure, got %v", err)
	}
}
