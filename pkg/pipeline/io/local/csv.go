package local

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/schema"
)

// ReadTableCSV reads a CSV document with a header row into a Table.
// Short rows are padded with empty cells; long rows are an error.
func ReadTableCSV(r io.Reader) (schema.Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return schema.Table{}, fmt.Errorf("missing header row")
	}
	if err != nil {
		return schema.Table{}, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	t := schema.Table{Header: header}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return schema.Table{}, fmt.Errorf("read row: %w", err)
		}
		row, err := fitRow(rec, len(header))
		if err != nil {
			return schema.Table{}, fmt.Errorf("row %d: %w", len(t.Rows)+1, err)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// WriteTableCSV writes the header and rows of t as CSV.
func WriteTableCSV(w io.Writer, t schema.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	for _, row := range t.Rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func fitRow(rec []string, width int) ([]string, error) {
	if len(rec) > width {
		return nil, fmt.Errorf("has %d columns, header has %d", len(rec), width)
	}
	if len(rec) == width {
		return rec, nil
	}
	out := make([]string, width)
	copy(out, rec)
	return out, nil
}
