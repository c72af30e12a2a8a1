package batchimport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"
)

// ParseJSON accepts either an array of objects or {"entries": [...]}. Row
// numbers are 1-based positions in the array. Scalar values are kept in
// their textual form so they go through the same validation as sheet cells.
func ParseJSON(r io.Reader, maxRows int) ([]*Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	data = bytes.TrimSpace(bytes.TrimPrefix(data, []byte(utf8BOM)))
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	var items []map[string]json.RawMessage
	if data[0] == '[' {
		err = json.Unmarshal(data, &items)
	} else {
		var wrapper struct {
			Entries []map[string]json.RawMessage `json:"entries"`
		}
		err = json.Unmarshal(data, &wrapper)
		items = wrapper.Entries
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if maxRows > 0 && len(items) > maxRows {
		return nil, ErrTooManyRows
	}

	rows := make([]*Row, 0, len(items))
	for i, item := range items {
		row := &Row{LineNumber: i + 1, Data: make(map[string]string, len(item))}
		for k, raw := range item {
			keys := NormalizeHeaders([]string{k})
			row.Data[keys[0]] = jsonScalar(raw)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func jsonScalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return trimSpaces(s)
		}
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return strconv.FormatBool(b)
		}
	default:
		// numbers go through decimal to avoid float formatting like 1e+06
		if d, err := decimal.NewFromString(string(raw)); err == nil {
			return d.String()
		}
	}
	return string(raw)
}
