package batchimport

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Format identifies the encoding of an import source
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// DetectFormat derives the format from a file name extension
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filename)
}

// ParseFormat parses a format name as given by a client
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatXLSX, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Parse reads all rows of a source in the given format
func Parse(format Format, r io.Reader, maxRows int) ([]*Row, error) {
	var (
		rows []*Row
		err  error
	)
	switch format {
	case FormatCSV:
		rows, err = ParseCSV(r, maxRows)
	case FormatXLSX:
		rows, err = ParseXLSX(r, maxRows)
	case FormatJSON:
		rows, err = ParseJSON(r, maxRows)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoDataRows
	}
	return rows, nil
}
