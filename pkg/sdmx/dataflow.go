package sdmx

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/schema"
)

// Snapshot column names, in file order.
const (
	ColDataflowID = "Dataflow ID"
	ColAgencyID   = "Agency ID"
	ColVersion    = "Version"
	ColIsFinal    = "Is Final"
	ColNameEN     = "Name (en)"
	ColRefID      = "Ref ID"
)

// Dataflow is one catalog entry. (ID, AgencyID, Version) is the natural key;
// the registry is assumed to keep it unique.
type Dataflow struct {
	ID       string
	AgencyID string
	Version  string
	IsFinal  bool
	NameEN   *string
	RefID    *string
}

// Header returns the stable snapshot header.
func Header() []string {
	return []string{
		ColDataflowID,
		ColAgencyID,
		ColVersion,
		ColIsFinal,
		ColNameEN,
		ColRefID,
	}
}

// Row renders d in Header order. Null optional fields become empty cells.
func (d Dataflow) Row() []string {
	return []string{
		d.ID,
		d.AgencyID,
		d.Version,
		strconv.FormatBool(d.IsFinal),
		deref(d.NameEN),
		deref(d.RefID),
	}
}

// SnapshotTable renders dataflows as a snapshot table.
func SnapshotTable(dfs []Dataflow) schema.Table {
	t := schema.Table{Header: Header(), Rows: make([][]string, 0, len(dfs))}
	for _, d := range dfs {
		t.Rows = append(t.Rows, d.Row())
	}
	return t
}

// DataflowsFromTable parses a snapshot table back into dataflows.
func DataflowsFromTable(t schema.Table) ([]Dataflow, error) {
	for _, col := range []string{ColDataflowID, ColAgencyID, ColVersion, ColIsFinal} {
		if t.Index(col) < 0 {
			return nil, fmt.Errorf("missing required column %q", col)
		}
	}
	out := make([]Dataflow, 0, len(t.Rows))
	for i := range t.Rows {
		isFinal, err := ParseBool(t.Value(i, ColIsFinal))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		out = append(out, Dataflow{
			ID:       t.Value(i, ColDataflowID),
			AgencyID: t.Value(i, ColAgencyID),
			Version:  t.Value(i, ColVersion),
			IsFinal:  isFinal,
			NameEN:   optional(t.Value(i, ColNameEN)),
			RefID:    optional(t.Value(i, ColRefID)),
		})
	}
	return out, nil
}

// ParseBool accepts the spellings spreadsheets and SDMX use for booleans.
// An empty cell is false.
func ParseBool(s string) (bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return false, nil
	}
	switch strings.ToLower(s) {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", s)
	}
	return b, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
