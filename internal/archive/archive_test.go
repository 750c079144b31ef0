package archive_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"

	"github.com/shpitdev/sdmx-dataflow-sync/internal/archive"
)

func newArchiver() (*archive.Archiver, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	return archive.New(clock, nil), clock
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

func TestArchive_MissingSourceIsNoop(t *testing.T) {
	dir := t.TempDir()
	a, _ := newArchiver()

	got, err := a.Archive(filepath.Join(dir, "missing.xlsx"), filepath.Join(dir, "archive"), "old_data")
	if err != nil || got != "" {
		t.Fatalf("Archive()=(%q, %v), want no-op", got, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "archive")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("archive dir should not be created, stat err=%v", err)
	}
}

func TestArchive_BeforeOverwriteKeepsOriginalBytes(t *testing.T) {
	dir := t.TempDir()
	archiveDir := filepath.Join(dir, "archive")
	path := filepath.Join(dir, "data_changes.xlsx")
	original := "PK\x03\x04original workbook bytes\x00\xff"
	writeFile(t, path, original)
	a, _ := newArchiver()

	archived, err := a.Archive(path, archiveDir, archive.PrefixChangeSet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	writeFile(t, path, "replacement")

	if want := filepath.Join(archiveDir, "data_changes_20250102_030405.xlsx"); archived != want {
		t.Fatalf("archived=%q want %q", archived, want)
	}
	entries, err := os.ReadDir(archiveDir)
	if err != nil {
		t.Fatalf("read archive dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one archive file, got %d", len(entries))
	}
	got, err := os.ReadFile(archived)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if !bytes.Equal(got, []byte(original)) {
		t.Fatalf("archive content differs from original: %q", got)
	}
}

func TestArchive_SameSecondNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	archiveDir := filepath.Join(dir, "archive")
	path := filepath.Join(dir, "new.csv")
	a, clock := newArchiver()

	var got []string
	for _, body := range []string{"first", "second", "third"} {
		writeFile(t, path, body)
		p, err := a.Archive(path, archiveDir, "all_dataflows")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, filepath.Base(p))
	}
	clock.Advance(time.Second)
	writeFile(t, path, "fourth")
	p, err := a.Archive(path, archiveDir, "all_dataflows")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got = append(got, filepath.Base(p))

	want := []string{
		"all_dataflows_20250102_030405.csv",
		"all_dataflows_20250102_030405_1.csv",
		"all_dataflows_20250102_030405_2.csv",
		"all_dataflows_20250102_030406.csv",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("archive names (-want +got):\n%s", diff)
	}
	if body := readFile(t, filepath.Join(archiveDir, want[0])); body != "first" {
		t.Fatalf("first archive overwritten: %q", body)
	}

	listed, err := archive.List(archiveDir, "all_dataflows")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 4 {
		t.Fatalf("List()=%v", listed)
	}
}

func TestArchive_DirectoryIsIOFailure(t *testing.T) {
	dir := t.TempDir()
	a, _ := newArchiver()

	_, err := a.Archive(dir, filepath.Join(dir, "archive"), "x")
	var ae *archive.Error
	if !errors.As(err, &ae) || ae.Kind != archive.IOFailure {
		t.Fatalf("expected IOFailure, got %v", err)
	}
}

func TestPromote_Baseline(t *testing.T) {
	dir := t.TempDir()
	newPath := filepath.Join(dir, "all_dataflows_new.csv")
	oldPath := filepath.Join(dir, "all_dataflows_old.csv")
	writeFile(t, newPath, "snapshot")
	a, _ := newArchiver()

	res, err := a.Promote(newPath, oldPath, filepath.Join(dir, "archive"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Baseline || res.Archived != "" {
		t.Fatalf("unexpected result: %#v", res)
	}
	if body := readFile(t, oldPath); body != "snapshot" {
		t.Fatalf("old=%q", body)
	}
	if _, err := os.Stat(newPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("new snapshot should be gone, stat err=%v", err)
	}
}

func TestPromote_ArchivesPreviousBaseline(t *testing.T) {
	dir := t.TempDir()
	archiveDir := filepath.Join(dir, "archive")
	newPath := filepath.Join(dir, "new.csv")
	oldPath := filepath.Join(dir, "old.csv")
	writeFile(t, newPath, "next")
	writeFile(t, oldPath, "previous")
	a, _ := newArchiver()

	res, err := a.Promote(newPath, oldPath, archiveDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Baseline {
		t.Fatalf("unexpected baseline result")
	}
	if want := filepath.Join(archiveDir, "old_data_20250102_030405.csv"); res.Archived != want {
		t.Fatalf("Archived=%q want %q", res.Archived, want)
	}
	if body := readFile(t, res.Archived); body != "previous" {
		t.Fatalf("archived=%q", body)
	}
	if body := readFile(t, oldPath); body != "next" {
		t.Fatalf("old=%q", body)
	}
}

func TestPromote_MissingNewIsError(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.csv")
	writeFile(t, oldPath, "previous")
	a, _ := newArchiver()

	if _, err := a.Promote(filepath.Join(dir, "new.csv"), oldPath, filepath.Join(dir, "archive")); err == nil {
		t.Fatalf("expected error")
	}
	if body := readFile(t, oldPath); body != "previous" {
		t.Fatalf("old snapshot must be untouched, got %q", body)
	}
}
