package local

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/schema"
)

const defaultSheet = "Sheet1"

// ReadTableXLSX reads the first worksheet of a workbook into a Table.
// The first row is the header.
func ReadTableXLSX(r io.Reader) (schema.Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return schema.Table{}, fmt.Errorf("open workbook: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return schema.Table{}, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return schema.Table{}, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return schema.Table{}, fmt.Errorf("missing header row")
	}

	t := schema.Table{Header: rows[0]}
	for i, rec := range rows[1:] {
		// excelize drops trailing empty cells, so short rows are expected here.
		row, err := fitRow(rec, len(t.Header))
		if err != nil {
			return schema.Table{}, fmt.Errorf("row %d: %w", i+1, err)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// WriteTableXLSX writes t as a single-sheet workbook.
func WriteTableXLSX(w io.Writer, t schema.Table) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	sw, err := f.NewStreamWriter(defaultSheet)
	if err != nil {
		return err
	}
	write := func(rowIdx int, cells []string) error {
		cell, err := excelize.CoordinatesToCellName(1, rowIdx)
		if err != nil {
			return err
		}
		vals := make([]any, len(cells))
		for i, c := range cells {
			vals[i] = c
		}
		return sw.SetRow(cell, vals)
	}

	if err := write(1, t.Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range t.Rows {
		if err := write(i+2, row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}
