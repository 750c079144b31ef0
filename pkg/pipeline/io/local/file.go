package local

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/schema"
)

// ReadTableFile reads a table, choosing CSV or XLSX from the path extension.
func ReadTableFile(path string) (schema.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return schema.Table{}, err
	}
	defer func() {
		_ = f.Close()
	}()

	var t schema.Table
	switch schema.FormatForPath(path) {
	case schema.FileFormatXLSX:
		t, err = ReadTableXLSX(f)
	default:
		t, err = ReadTableCSV(f)
	}
	if err != nil {
		return schema.Table{}, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}

// WriteTableFile atomically replaces path with t, encoded per the path extension.
func WriteTableFile(path string, t schema.Table) error {
	return WriteFileAtomic(path, func(w io.Writer) error {
		switch schema.FormatForPath(path) {
		case schema.FileFormatXLSX:
			return WriteTableXLSX(w, t)
		default:
			return WriteTableCSV(w, t)
		}
	})
}

// WriteBytesAtomic atomically replaces path with b.
func WriteBytesAtomic(path string, b []byte) error {
	return WriteFileAtomic(path, func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(b))
		return err
	})
}

// WriteFileAtomic writes to a temporary file next to path and renames it into place,
// so readers see either the previous content or the complete new content.
func WriteFileAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmpName, path); err != nil {
		return err
	}
	return nil
}

// Exists reports whether path names an existing regular file.
func Exists(path string) (bool, error) {
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if fi.IsDir() {
		return false, fmt.Errorf("%s is a directory", path)
	}
	return true, nil
}
