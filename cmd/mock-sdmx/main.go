package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/shpitdev/sdmx-dataflow-sync/pkg/mocksdmx"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/io/local"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/sdmx"
)

func main() {
	addr := defaultString("MOCK_SDMX_ADDR", ":8080")
	catalogPath := defaultString("MOCK_SDMX_CATALOG", "")
	failPaths := defaultString("MOCK_SDMX_FAIL_PATHS", "")

	fs := flag.NewFlagSet("mock-sdmx", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&catalogPath, "catalog", catalogPath, "Snapshot file (.csv or .xlsx) whose rows are served as the dataflow catalog")
	fs.StringVar(&failPaths, "fail-paths", failPaths, "Comma-separated URL paths that answer 503 (also supports env: MOCK_SDMX_FAIL_PATHS)")
	_ = fs.Parse(os.Args[1:])

	var dataflows []sdmx.Dataflow
	if catalogPath != "" {
		tbl, err := local.ReadTableFile(catalogPath)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "read catalog: %v\n", err)
			os.Exit(2)
		}
		dataflows, err = sdmx.DataflowsFromTable(tbl)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "decode catalog: %v\n", err)
			os.Exit(2)
		}
	}

	srv := mocksdmx.New(dataflows)
	for _, p := range splitCSV(failPaths) {
		srv.FailPath(p, http.StatusServiceUnavailable)
	}

	_, _ = fmt.Fprintf(os.Stdout, "mock-sdmx listening on %s (dataflows=%d catalog=%s)\n", addr, len(dataflows), mocksdmx.CatalogPath)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
