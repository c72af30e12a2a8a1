package batchimport

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ParseXLSX reads the first worksheet of a workbook. The first non-empty
// row is the header.
func ParseXLSX(r io.Reader, maxRows int) ([]*Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}

	it, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	defer func() { _ = it.Close() }()

	var (
		headers []string
		rows    []*Row
		line    int
	)
	for it.Next() {
		line++
		cols, err := it.Columns()
		if err != nil {
			return nil, fmt.Errorf("error reading row %d: %w", line, err)
		}
		if headers == nil {
			if allBlank(cols) {
				continue
			}
			headers = NormalizeHeaders(cols)
			continue
		}
		row := newRow(line, headers, cols)
		if row.IsEmpty() {
			continue
		}
		if maxRows > 0 && len(rows) >= maxRows {
			return nil, ErrTooManyRows
		}
		rows = append(rows, row)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate sheet: %w", err)
	}
	if headers == nil {
		return nil, ErrEmptyFile
	}
	return rows, nil
}

func allBlank(cols []string) bool {
	for _, c := range cols {
		if trimSpaces(c) != "" {
			return false
		}
	}
	return true
}
