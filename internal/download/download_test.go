package download_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/shpitdev/sdmx-dataflow-sync/internal/diff"
	"github.com/shpitdev/sdmx-dataflow-sync/internal/download"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/mocksdmx"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/io/local"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/schema"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/sdmx"
)

var registry = []sdmx.Dataflow{
	{ID: "DF_A", AgencyID: "OECD", Version: "1.0", IsFinal: true},
	{ID: "DF_B", AgencyID: "OECD", Version: "1.0", IsFinal: false},
	{ID: "DF_C", AgencyID: "IMF", Version: "2.0", IsFinal: true},
	{ID: "DF_D", AgencyID: "ECB", Version: "1.0", IsFinal: true},
}

// changeSet has the flattened layout the differ writes with default options.
func changeSet(rows ...[]string) schema.Table {
	return schema.Table{
		Header: []string{
			"Dataflow ID", "Agency ID",
			"Version_old", "Version_new",
			"Is Final_old", "Is Final_new",
			"Name (en)", "Ref ID", "Change_Type",
		},
		Rows: rows,
	}
}

func newDownloader(t *testing.T, srv *mocksdmx.Server) *download.Downloader {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	client, err := sdmx.NewClient(sdmx.ClientConfig{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return &download.Downloader{
		Client:         client,
		DataQuery:      mocksdmx.DataURLTemplate(ts.URL),
		StructureQuery: mocksdmx.StructureURLTemplate(ts.URL),
		OutputDir:      filepath.Join(t.TempDir(), "output"),
	}
}

func TestDownloadNewInserts_OnlyFinalizedInserts(t *testing.T) {
	t.Parallel()

	srv := mocksdmx.New(registry)
	d := newDownloader(t, srv)
	changes := changeSet(
		[]string{"DF_A", "OECD", "", "1.0", "", "true", "", "", "New Insert"},
		[]string{"DF_B", "OECD", "", "1.0", "", "false", "", "", "New Insert"},
		[]string{"DF_C", "IMF", "1.0", "2.0", "true", "true", "", "", "Updated"},
		[]string{"DF_D", "ECB", "1.0", "", "true", "", "", "", "Deleted"},
	)

	rep, err := d.DownloadNewInserts(context.Background(), changes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Failed() {
		t.Fatalf("unexpected failures: %v", rep.Failures)
	}

	var paths []string
	for _, c := range srv.Calls() {
		paths = append(paths, c.Path)
	}
	want := []string{
		"/rest/data/OECD,DF_A,/all",
		"/rest/dataflow/OECD/DF_A/1.0",
	}
	if delta := cmp.Diff(want, paths); delta != "" {
		t.Fatalf("calls (-want +got):\n%s", delta)
	}

	data, err := os.ReadFile(filepath.Join(d.OutputDir, "OECD_DF_A_ALL.csv"))
	if err != nil {
		t.Fatalf("read data: %v", err)
	}
	if !strings.Contains(string(data), "OECD:DF_A(1.0)") {
		t.Fatalf("unexpected data: %q", data)
	}
	if _, err := os.Stat(filepath.Join(d.OutputDir, "OECD_DF_A_metadata.xml")); err != nil {
		t.Fatalf("metadata not saved: %v", err)
	}
}

func TestDownloadNewInserts_FailuresAreIsolated(t *testing.T) {
	t.Parallel()

	srv := mocksdmx.New(registry)
	srv.FailPath("/rest/data/OECD,DF_A,/all", http.StatusInternalServerError)
	d := newDownloader(t, srv)
	changes := changeSet(
		[]string{"DF_A", "OECD", "", "1.0", "", "true", "", "", "New Insert"},
		[]string{"DF_C", "IMF", "", "2.0", "", "true", "", "", "New Insert"},
	)

	rep, err := d.DownloadNewInserts(context.Background(), changes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rep.Failures) != 1 {
		t.Fatalf("expected one failure, got %v", rep.Failures)
	}
	f := rep.Failures[0]
	if f.Kind != download.RemoteFailure || f.Artifact != download.ArtifactData || f.Dataflow.ID != "DF_A" {
		t.Fatalf("unexpected failure: %#v", f)
	}
	if len(rep.Saved) != 3 {
		t.Fatalf("expected 3 saved artifacts, got %v", rep.Saved)
	}
	for _, name := range []string{"OECD_DF_A_metadata.xml", "IMF_DF_C_ALL.csv", "IMF_DF_C_metadata.xml"} {
		if _, err := os.Stat(filepath.Join(d.OutputDir, name)); err != nil {
			t.Fatalf("%s not saved: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(d.OutputDir, "OECD_DF_A_ALL.csv")); err == nil {
		t.Fatalf("failed artifact must not be written")
	}
}

func TestRun_MissingChangeSetIsNoop(t *testing.T) {
	t.Parallel()

	srv := mocksdmx.New(registry)
	d := newDownloader(t, srv)
	rep, err := d.Run(context.Background(), filepath.Join(t.TempDir(), "data_changes.xlsx"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rep.Selected) != 0 || len(srv.Calls()) != 0 {
		t.Fatalf("expected no work, got %#v", rep)
	}
}

func TestRun_ReadsChangeSetFile(t *testing.T) {
	t.Parallel()

	srv := mocksdmx.New(registry)
	d := newDownloader(t, srv)
	path := filepath.Join(t.TempDir(), "data_changes.xlsx")
	if err := local.WriteTableFile(path, changeSet(
		[]string{"DF_C", "IMF", "", "2.0", "", "true", "", "", "New Insert"},
	)); err != nil {
		t.Fatalf("write: %v", err)
	}

	rep, err := d.Run(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rep.Selected) != 1 || len(rep.Saved) != 2 {
		t.Fatalf("unexpected report: %#v", rep)
	}
}

func TestSelect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tbl  schema.Table
		want []string
	}{
		{
			name: "suffixed columns",
			tbl: changeSet(
				[]string{"DF_A", "OECD", "", "1.0", "", "yes", "", "", "New Insert"},
				[]string{"DF_B", "OECD", "", "1.0", "", "", "", "", "New Insert"},
				[]string{"DF_C", "IMF", "", "1.0", "", "maybe", "", "", "New Insert"},
			),
			want: []string{"DF_A"},
		},
		{
			name: "unsuffixed columns",
			tbl: schema.Table{
				Header: []string{"Dataflow ID", "Agency ID", "Version", "Is Final", "Change_Type"},
				Rows: [][]string{
					{"DF_A", "OECD", "1.0", "True", "New Insert"},
					{"DF_B", "OECD", "1.0", "true", "Updated"},
				},
			},
			want: []string{"DF_A"},
		},
		{
			name: "no change type column",
			tbl:  schema.Table{Header: []string{"Dataflow ID"}, Rows: [][]string{{"DF_A"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, df := range download.Select(tt.tbl) {
				got = append(got, df.ID)
			}
			if d := cmp.Diff(tt.want, got); d != "" {
				t.Fatalf("selected (-want +got):\n%s", d)
			}
		})
	}
}

func TestSelect_MatchesDifferOutput(t *testing.T) {
	t.Parallel()

	old := sdmx.SnapshotTable(registry[:1])
	cur := sdmx.SnapshotTable(registry)
	cs, err := diff.Compute(old, cur, diff.Options{})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	var got []string
	for _, df := range download.Select(cs.Table()) {
		got = append(got, df.AgencyID+"/"+df.ID+"/"+df.Version)
	}
	if d := cmp.Diff([]string{"IMF/DF_C/2.0", "ECB/DF_D/1.0"}, got); d != "" {
		t.Fatalf("selected (-want +got):\n%s", d)
	}
}
