package logging_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/shpitdev/sdmx-dataflow-sync/internal/logging"
)

func TestNew_WritesConsoleAndDailyFile(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC))
	var console bytes.Buffer

	logger, closer, err := logging.New(logging.Options{Dir: dir, Console: &console, Clock: clock})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("fetched catalog", "dataflows", 3)
	logger.Debug("hidden without verbose")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !strings.Contains(console.String(), "fetched catalog") {
		t.Fatalf("console missing record: %q", console.String())
	}
	b, err := os.ReadFile(filepath.Join(dir, "job_execution_20250314.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	got := string(b)
	if !strings.Contains(got, "msg=\"fetched catalog\"") || !strings.Contains(got, "dataflows=3") {
		t.Fatalf("unexpected file contents: %q", got)
	}
	if strings.Contains(got, "hidden without verbose") {
		t.Fatalf("debug record written without verbose: %q", got)
	}
}

func TestDailyFile_RollsOverAtMidnight(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 14, 23, 59, 0, 0, time.UTC))

	w, err := logging.NewDailyFile(dir, clock)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("before\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	clock.Advance(2 * time.Minute)
	if _, err := w.Write([]byte("after\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got, want := w.Path(), filepath.Join(dir, "job_execution_20250315.log"); got != want {
		t.Fatalf("Path()=%q want %q", got, want)
	}

	for name, want := range map[string]string{
		"job_execution_20250314.log": "before\n",
		"job_execution_20250315.log": "after\n",
	} {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(b) != want {
			t.Fatalf("%s=%q want %q", name, b, want)
		}
	}
}

func TestNew_VerboseEnablesDebug(t *testing.T) {
	var console bytes.Buffer
	logger, closer, err := logging.New(logging.Options{Console: &console, Verbose: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closer.Close()

	logger.With("run", "abc").Debug("request", "url", "https://example.test")
	if !strings.Contains(console.String(), "request") || !strings.Contains(console.String(), "abc") {
		t.Fatalf("expected debug record with attrs, got %q", console.String())
	}
}
