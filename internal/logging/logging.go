// Package logging builds the process logger: a colored console handler plus a
// plain-text file handler that rolls over to a new file each calendar day.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
)

// FilePrefix and FileDateLayout name the daily log files: job_execution_20250101.log.
const (
	FilePrefix     = "job_execution_"
	FileDateLayout = "20060102"
)

// Options configures New.
type Options struct {
	// Dir receives the daily log files. Empty disables file logging.
	Dir     string
	Verbose bool
	// Console defaults to os.Stderr.
	Console io.Writer
	// Clock defaults to the real clock; it decides which daily file a record lands in.
	Clock clockwork.Clock
}

// New returns a logger writing to the console and, when Dir is set, to the daily file.
// The returned closer releases the open log file.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	handlers := []slog.Handler{
		tint.NewHandler(console, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if s, ok := a.Value.Any().(string); ok && s == "" {
					return slog.Attr{}
				}
				return a
			},
		}),
	}

	var closer io.Closer = nopCloser{}
	if opts.Dir != "" {
		w, err := NewDailyFile(opts.Dir, opts.Clock)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
		closer = w
	}
	return slog.New(Fanout(handlers...)), closer, nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// DailyFile appends to Dir/job_execution_<date>.log, switching files when the date changes.
type DailyFile struct {
	dir   string
	clock clockwork.Clock

	mu   sync.Mutex
	day  string
	file *os.File
}

// NewDailyFile creates dir if needed and opens today's file.
func NewDailyFile(dir string, clock clockwork.Clock) (*DailyFile, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	d := &DailyFile{dir: dir, clock: clock}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.rotateLocked(); err != nil {
		return nil, err
	}
	return d, nil
}

// Path returns the file currently written to.
func (d *DailyFile) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return filepath.Join(d.dir, FilePrefix+d.day+".log")
}

func (d *DailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.rotateLocked(); err != nil {
		return 0, err
	}
	return d.file.Write(p)
}

// Close closes the current file.
func (d *DailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

func (d *DailyFile) rotateLocked() error {
	day := d.clock.Now().Format(FileDateLayout)
	if d.file != nil && day == d.day {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(d.dir, FilePrefix+day+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if d.file != nil {
		_ = d.file.Close()
	}
	d.file = f
	d.day = day
	return nil
}

// Fanout returns a handler that passes each record to every handler enabled for its level.
func Fanout(handlers ...slog.Handler) slog.Handler {
	return fanout(handlers)
}

type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
