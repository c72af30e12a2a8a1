package batchimport

// Row is one entry of an import source keyed by normalized column name.
// LineNumber is 1-based and counts the header for tabular sources, so it
// matches what a user sees in a spreadsheet.
type Row struct {
	LineNumber int
	Data       map[string]string
}

// Get returns the value for a column
func (r *Row) Get(column string) string {
	return r.Data[column]
}

// IsEmpty returns true if the row has no non-empty values
func (r *Row) IsEmpty() bool {
	for _, v := range r.Data {
		if v != "" {
			return false
		}
	}
	return true
}

// newRow maps positional values onto headers; missing trailing cells are empty
func newRow(line int, headers, values []string) *Row {
	row := &Row{LineNumber: line, Data: make(map[string]string, len(headers))}
	for i, h := range headers {
		if h == "" {
			continue
		}
		v := ""
		if i < len(values) {
			v = trimSpaces(values[i])
		}
		row.Data[h] = v
	}
	return row
}
