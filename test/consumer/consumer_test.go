package consumer

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/shpitdev/sdmx-dataflow-sync/pkg/mocksdmx"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/core"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/io/local"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/schema"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/worker"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/sdmx"
)

func TestPublicPackagesCompile(t *testing.T) {
	t.Parallel()

	_ = schema.Table{}
	srv := mocksdmx.New([]sdmx.Dataflow{{ID: "DF", AgencyID: "OECD", Version: "1.0", IsFinal: true}})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client, err := sdmx.NewClient(sdmx.ClientConfig{})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	var dataflows []sdmx.Dataflow
	fetch := core.StageFunc{StageName: "fetch", Fn: func(ctx context.Context) (core.Outcome, error) {
		body, err := client.GetCatalog(ctx, mocksdmx.CatalogURL(ts.URL))
		if err != nil {
			return core.Outcome{}, err
		}
		dataflows, err = sdmx.ParseCatalog(body)
		return core.Outcome{Status: core.StatusOK}, err
	}}
	if _, err := core.Sequence(context.Background(), []core.Stage{fetch}, nil, nil); err != nil {
		t.Fatalf("Sequence failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "snapshot.xlsx")
	if err := local.WriteTableFile(path, sdmx.SnapshotTable(dataflows)); err != nil {
		t.Fatalf("WriteTableFile failed: %v", err)
	}

	_, err = worker.ProcessAll(context.Background(), dataflows, func(ctx context.Context, df sdmx.Dataflow) ([]byte, error) {
		return client.Download(ctx, "data", sdmx.ExpandTemplate(mocksdmx.DataURLTemplate(ts.URL), df))
	}, worker.Options{})
	if err != nil {
		t.Fatalf("ProcessAll failed: %v", err)
	}
}
