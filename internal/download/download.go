// Package download fetches the data export and structure document of every finalized
// dataflow that a change-set marks as newly inserted.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/shpitdev/sdmx-dataflow-sync/internal/diff"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/io/local"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/redact"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/schema"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/worker"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/sdmx"
)

// Artifact names one of the two downloads made per dataflow.
type Artifact string

const (
	ArtifactData      Artifact = "data"
	ArtifactStructure Artifact = "structure"
)

// Kind classifies a download failure.
type Kind string

const (
	// RemoteFailure covers transport errors and non-success responses.
	RemoteFailure Kind = "remote_failure"
	// IOFailure means the response could not be saved.
	IOFailure Kind = "io_failure"
)

// Error reports one failed artifact. It never aborts the rest of the batch.
type Error struct {
	Kind     Kind
	Dataflow sdmx.Dataflow
	Artifact Artifact
	URL      string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("download %s for %s/%s (%s) from %s: %v",
		e.Artifact, e.Dataflow.AgencyID, e.Dataflow.ID, e.Kind, redact.URL(e.URL), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Getter downloads an opaque artifact.
type Getter interface {
	Download(ctx context.Context, op, rawURL string) ([]byte, error)
}

// Downloader saves data and structure exports into OutputDir.
type Downloader struct {
	Client Getter
	// DataQuery and StructureQuery are URL templates; see sdmx.ExpandTemplate.
	DataQuery      string
	StructureQuery string
	OutputDir      string
	// Worker controls pacing. Workers is forced to 1 so downloads stay sequential.
	Worker worker.Options
	Logger *slog.Logger
}

// Report summarizes a download batch.
type Report struct {
	Selected []sdmx.Dataflow
	Saved    []string
	Failures []*Error
}

// Failed reports whether any artifact could not be saved.
func (r Report) Failed() bool { return len(r.Failures) > 0 }

type job struct {
	dataflow sdmx.Dataflow
	artifact Artifact
	url      string
	path     string
}

func (d *Downloader) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return d.Logger
}

// Run loads the change-set at changeSetPath and downloads its finalized new inserts.
// A missing change-set file means there is nothing to do.
func (d *Downloader) Run(ctx context.Context, changeSetPath string) (Report, error) {
	ok, err := local.Exists(changeSetPath)
	if err != nil {
		return Report{}, err
	}
	if !ok {
		d.logger().Info("no data changes file found", "path", changeSetPath)
		return Report{}, nil
	}
	d.logger().Info("loading data changes file", "path", changeSetPath)
	tbl, err := local.ReadTableFile(changeSetPath)
	if err != nil {
		return Report{}, err
	}
	return d.DownloadNewInserts(ctx, tbl)
}

// DownloadNewInserts downloads both artifacts for every row Select picks. Each artifact
// is attempted once; failures are collected in the report and the batch continues.
func (d *Downloader) DownloadNewInserts(ctx context.Context, changes schema.Table) (Report, error) {
	log := d.logger()
	selected := Select(changes)
	rep := Report{Selected: selected}
	if len(selected) == 0 {
		log.Info("no finalized new inserts to download")
		return rep, nil
	}

	jobs := make([]job, 0, 2*len(selected))
	for _, df := range selected {
		prefix := fileSafe(df.AgencyID) + "_" + fileSafe(df.ID)
		jobs = append(jobs,
			job{dataflow: df, artifact: ArtifactData, url: sdmx.ExpandTemplate(d.DataQuery, df), path: filepath.Join(d.OutputDir, prefix+"_ALL.csv")},
			job{dataflow: df, artifact: ArtifactStructure, url: sdmx.ExpandTemplate(d.StructureQuery, df), path: filepath.Join(d.OutputDir, prefix+"_metadata.xml")},
		)
	}

	opts := d.Worker
	opts.Workers = 1
	opts.FailurePolicy = worker.FailurePolicyPartialOutput

	_, err := worker.ProcessAllWithCallback(ctx, jobs, d.fetch, func(r worker.Result[job, string]) error {
		j := r.Input
		if r.Err != nil {
			log.Error("download failed", "artifact", j.artifact, "dataflow", j.dataflow.ID, "agency", j.dataflow.AgencyID, "err", r.Err)
			rep.Failures = append(rep.Failures, asError(j, r.Err))
			return nil
		}
		log.Info("saved artifact", "artifact", j.artifact, "dataflow", j.dataflow.ID, "path", r.Output)
		rep.Saved = append(rep.Saved, r.Output)
		return nil
	}, opts)
	if err != nil {
		return rep, err
	}

	log.Info("download batch complete", "dataflows", len(selected), "saved", len(rep.Saved), "failed", len(rep.Failures))
	return rep, nil
}

func (d *Downloader) fetch(ctx context.Context, j job) (string, error) {
	d.logger().Info("downloading", "artifact", j.artifact, "url", redact.URL(j.url))
	body, err := d.Client.Download(ctx, string(j.artifact), j.url)
	if err != nil {
		return "", &Error{Kind: RemoteFailure, Dataflow: j.dataflow, Artifact: j.artifact, URL: j.url, Err: err}
	}
	if err := local.WriteBytesAtomic(j.path, body); err != nil {
		return "", &Error{Kind: IOFailure, Dataflow: j.dataflow, Artifact: j.artifact, URL: j.url, Err: err}
	}
	return j.path, nil
}

func asError(j job, err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	// Limiter waits fail before the request is made.
	return &Error{Kind: RemoteFailure, Dataflow: j.dataflow, Artifact: j.artifact, URL: j.url, Err: err}
}

// Select returns the dataflows of rows labelled New Insert whose Is Final value is true.
// Other rows are skipped without logging. Values are read from the plain column or,
// when a column was compared, from its _new side.
func Select(changes schema.Table) []sdmx.Dataflow {
	col := func(name string) int {
		if i := changes.Index(name); i >= 0 {
			return i
		}
		return changes.Index(name + diff.SuffixNew)
	}
	idx := struct{ typ, id, agency, version, final int }{
		typ:     changes.Index(diff.ColChangeType),
		id:      col(sdmx.ColDataflowID),
		agency:  col(sdmx.ColAgencyID),
		version: col(sdmx.ColVersion),
		final:   col(sdmx.ColIsFinal),
	}
	if idx.typ < 0 || idx.id < 0 || idx.agency < 0 || idx.final < 0 {
		return nil
	}

	var out []sdmx.Dataflow
	for _, row := range changes.Rows {
		if strings.TrimSpace(at(row, idx.typ)) != string(diff.NewInsert) {
			continue
		}
		final, err := sdmx.ParseBool(at(row, idx.final))
		if err != nil || !final {
			continue
		}
		out = append(out, sdmx.Dataflow{
			ID:       strings.TrimSpace(at(row, idx.id)),
			AgencyID: strings.TrimSpace(at(row, idx.agency)),
			Version:  strings.TrimSpace(at(row, idx.version)),
			IsFinal:  true,
		})
	}
	return out
}

func at(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// fileSafe keeps identifiers from escaping OutputDir.
func fileSafe(s string) string {
	return strings.NewReplacer("/", "_", `\`, "_", "..", "_").Replace(strings.TrimSpace(s))
}
