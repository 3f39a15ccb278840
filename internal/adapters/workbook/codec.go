package workbook

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Format names a table encoding.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// SheetName is the worksheet written on export.
const SheetName = "scores"

// ErrUnsupportedFormat is returned for encodings other than xlsx and csv.
var ErrUnsupportedFormat = errors.New("workbook: unsupported format")

// ParseFormat accepts "xlsx" or "csv" in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatXLSX, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// FormatFromFilename infers the format from the file extension.
func FormatFromFilename(name string) (Format, error) {
	return ParseFormat(strings.TrimPrefix(filepath.Ext(name), "."))
}

// Filename returns the download name for role, e.g. export_主任.xlsx.
func Filename(role string, format Format) string {
	return fmt.Sprintf("export_%s.%s", role, format)
}

// ContentType returns the MIME type of format.
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatCSV:
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}

// Encode writes t to w.
func Encode(w io.Writer, t Table, format Format) error {
	switch format {
	case FormatXLSX:
		return encodeXLSX(w, t)
	case FormatCSV:
		writer := csv.NewWriter(w)
		if err := writer.WriteAll(t.Strings()); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func encodeXLSX(w io.Writer, t Table) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	header := make([]any, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range t.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := append([]any(nil), row...)
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

// Decode reads a table from r and parses it. For xlsx the first worksheet is
// used whatever its name.
func Decode(r io.Reader, format Format) (ImportResult, error) {
	var records [][]string
	switch format {
	case FormatXLSX:
		file, err := excelize.OpenReader(r)
		if err != nil {
			return ImportResult{}, fmt.Errorf("open xlsx: %w", err)
		}
		defer func() { _ = file.Close() }()

		sheetName := file.GetSheetName(0)
		if sheetName == "" {
			return ImportResult{}, fmt.Errorf("no worksheet found")
		}
		records, err = file.GetRows(sheetName)
		if err != nil {
			return ImportResult{}, fmt.Errorf("read sheet %s: %w", sheetName, err)
		}
	case FormatCSV:
		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		var err error
		records, err = reader.ReadAll()
		if err != nil {
			return ImportResult{}, fmt.Errorf("read csv: %w", err)
		}
	default:
		return ImportResult{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return ParseTable(records), nil
}
