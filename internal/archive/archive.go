// Package archive keeps timestamped, write-once copies of managed files and promotes
// the freshly fetched snapshot to become the next baseline.
package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"
)

// TimestampLayout is the second-granularity stamp in archive names.
const TimestampLayout = "20060102_150405"

// Prefixes used by the pipeline stages.
const (
	PrefixNewSnapshot = "all_dataflows"
	PrefixOldSnapshot = "old_data"
	PrefixChangeSet   = "data_changes"
)

// Kind classifies an archive failure.
type Kind string

const (
	// VerificationFailure means the archived copy does not match the source size.
	VerificationFailure Kind = "verification_failure"
	// IOFailure covers filesystem errors while copying or renaming.
	IOFailure Kind = "io_failure"
)

// Error reports a failed archive or promotion.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("archive %s (%s): %v", e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Archiver copies files into an archive directory before they are replaced.
type Archiver struct {
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// New returns an Archiver. A nil clock uses the real clock; a nil logger discards output.
func New(clock clockwork.Clock, logger *slog.Logger) *Archiver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Archiver{Clock: clock, Logger: logger}
}

// Archive copies path to dir/<prefix>_<timestamp><ext> and returns the archive path.
// It is a no-op returning "" when path does not exist. Existing archives are never
// overwritten: a name already taken gets a _1, _2, ... suffix.
func (a *Archiver) Archive(path, dir, prefix string) (string, error) {
	src, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", &Error{Kind: IOFailure, Path: path, Err: err}
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", &Error{Kind: IOFailure, Path: path, Err: err}
	}
	if info.IsDir() {
		return "", &Error{Kind: IOFailure, Path: path, Err: fmt.Errorf("is a directory")}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &Error{Kind: IOFailure, Path: path, Err: err}
	}

	dst, dstPath, err := a.create(dir, prefix, filepath.Ext(path))
	if err != nil {
		return "", &Error{Kind: IOFailure, Path: path, Err: err}
	}
	n, err := io.Copy(dst, src)
	if err == nil {
		err = dst.Sync()
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dstPath)
		return "", &Error{Kind: IOFailure, Path: path, Err: err}
	}

	got, err := os.Stat(dstPath)
	if err != nil {
		return "", &Error{Kind: VerificationFailure, Path: path, Err: err}
	}
	if got.Size() != info.Size() || n != info.Size() {
		return "", &Error{
			Kind: VerificationFailure,
			Path: path,
			Err:  fmt.Errorf("archived %d bytes to %s, source has %d", got.Size(), dstPath, info.Size()),
		}
	}

	a.Logger.Info("archived file", "path", path, "archive", dstPath, "bytes", n)
	return dstPath, nil
}

// create opens a fresh archive file, adding a counter when the timestamped name exists.
func (a *Archiver) create(dir, prefix, ext string) (*os.File, string, error) {
	base := prefix + "_" + a.Clock.Now().Format(TimestampLayout)
	for i := 0; ; i++ {
		name := base
		if i > 0 {
			name += "_" + strconv.Itoa(i)
		}
		p := filepath.Join(dir, name+ext)
		f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return f, p, nil
	}
}

// PromoteResult describes what Promote did.
type PromoteResult struct {
	// Baseline is true when no previous old snapshot existed.
	Baseline bool
	// Archived is the archive copy of the replaced old snapshot, if any.
	Archived string
}

// Promote replaces oldPath with newPath. The previous oldPath, when present, is archived
// first under PrefixOldSnapshot. The rename replaces oldPath in one step, so a crash
// leaves either the previous baseline or the new one in place.
func (a *Archiver) Promote(newPath, oldPath, archiveDir string) (PromoteResult, error) {
	if _, err := os.Stat(newPath); err != nil {
		return PromoteResult{}, &Error{Kind: IOFailure, Path: newPath, Err: fmt.Errorf("new snapshot: %w", err)}
	}

	archived, err := a.Archive(oldPath, archiveDir, PrefixOldSnapshot)
	if err != nil {
		return PromoteResult{}, err
	}
	res := PromoteResult{Baseline: archived == "", Archived: archived}

	if err := os.MkdirAll(filepath.Dir(oldPath), 0o755); err != nil {
		return PromoteResult{}, &Error{Kind: IOFailure, Path: oldPath, Err: err}
	}
	if err := os.Rename(newPath, oldPath); err != nil {
		return PromoteResult{}, &Error{Kind: IOFailure, Path: newPath, Err: err}
	}

	if res.Baseline {
		a.Logger.Info("created baseline snapshot", "path", oldPath)
	} else {
		a.Logger.Info("promoted snapshot", "from", newPath, "to", oldPath)
	}
	return res, nil
}

// List returns the archive files in dir carrying prefix, oldest name first.
func List(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix+"_") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}
