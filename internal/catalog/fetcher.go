// Package catalog fetches the remote dataflow catalog and persists it as the new snapshot.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/shpitdev/sdmx-dataflow-sync/internal/archive"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/io/local"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/redact"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/sdmx"
)

// Kind classifies a fetch failure.
type Kind string

const (
	// RemoteFailure covers transport errors and non-success responses.
	RemoteFailure Kind = "remote_failure"
	// ParseFailure means the response was not a usable structure message.
	ParseFailure Kind = "parse_failure"
	// Timeout means the request did not finish within the configured timeout.
	Timeout Kind = "timeout"
	// IOFailure covers archiving or writing the snapshot locally.
	IOFailure Kind = "io_failure"
)

// FetchError reports a failed fetch. The new snapshot is not replaced when it is returned.
type FetchError struct {
	Kind Kind
	Err  error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("fetch catalog (%s): %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Getter downloads the raw catalog document.
type Getter interface {
	GetCatalog(ctx context.Context, catalogURL string) ([]byte, error)
}

// Fetcher downloads the catalog and writes it to NewPath.
type Fetcher struct {
	Client     Getter
	Archiver   *archive.Archiver
	CatalogURL string
	NewPath    string
	ArchiveDir string
	Logger     *slog.Logger
}

// Result summarizes a successful fetch. Downstream stages read the snapshot from Path.
type Result struct {
	Dataflows int
	Path      string
	// Archived is the copy of a new snapshot left behind by an incomplete run.
	Archived string
}

// Fetch performs one GET against the catalog endpoint, parses the response and
// atomically replaces the new snapshot. A new snapshot that is already on disk was
// left by a run that did not finish; it is archived before being replaced.
func (f *Fetcher) Fetch(ctx context.Context) (Result, error) {
	log := f.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	leftover, err := local.Exists(f.NewPath)
	if err != nil {
		return Result{}, &FetchError{Kind: IOFailure, Err: err}
	}
	if leftover {
		log.Warn("new snapshot from an incomplete run found", "path", f.NewPath)
	}

	log.Info("fetching dataflow catalog", "url", redact.URL(f.CatalogURL))
	body, err := f.Client.GetCatalog(ctx, f.CatalogURL)
	if err != nil {
		return Result{}, &FetchError{Kind: classify(err), Err: err}
	}
	dataflows, err := sdmx.ParseCatalog(body)
	if err != nil {
		return Result{}, &FetchError{Kind: ParseFailure, Err: err}
	}
	log.Debug("parsed catalog", "bytes", len(body), "dataflows", len(dataflows))

	res := Result{Dataflows: len(dataflows), Path: f.NewPath}
	if leftover {
		res.Archived, err = f.Archiver.Archive(f.NewPath, f.ArchiveDir, archive.PrefixNewSnapshot)
		if err != nil {
			return Result{}, &FetchError{Kind: IOFailure, Err: err}
		}
	}
	if err := local.WriteTableFile(f.NewPath, sdmx.SnapshotTable(dataflows)); err != nil {
		return Result{}, &FetchError{Kind: IOFailure, Err: fmt.Errorf("write snapshot: %w", err)}
	}

	log.Info("saved new snapshot", "path", f.NewPath, "dataflows", len(dataflows))
	return res, nil
}

func classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Timeout
	}
	return RemoteFailure
}
