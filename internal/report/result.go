package report

import (
	"strings"
)

// ErrorMarker replaces the value of a query that failed when extraction is
// configured to continue past query errors.
const ErrorMarker = "ERROR"

// Result maps query labels to their reduced value.
type Result struct {
	values map[string]string
	failed []string
}

func NewResult() *Result {
	return &Result{values: map[string]string{}}
}

// Set stores the value for label.
func (r *Result) Set(label, value string) {
	r.values[label] = value
}

// MarkFailed records label as failed and stores ErrorMarker as its value.
func (r *Result) MarkFailed(label string) {
	r.values[label] = ErrorMarker
	r.failed = append(r.failed, label)
}

// Get returns the value stored for label.
func (r *Result) Get(label string) (string, bool) {
	v, ok := r.values[label]
	return v, ok
}

// Failed returns the labels marked as failed, in the order they failed.
func (r *Result) Failed() []string {
	return append([]string(nil), r.failed...)
}

func (r *Result) Len() int {
	return len(r.values)
}

// Row is the single persisted report line.
type Row struct {
	Header []string
	Values []string
}

// BuildRow orders the result by the declaration order of set. Labels missing
// from the result produce an empty cell.
func BuildRow(date Date, set QuerySet, result *Result) Row {
	row := Row{
		Header: make([]string, 0, len(set.Queries)+1),
		Values: make([]string, 0, len(set.Queries)+1),
	}
	row.Header = append(row.Header, DateHeader)
	row.Values = append(row.Values, date.String())
	for _, q := range set.Queries {
		row.Header = append(row.Header, q.Label)
		value := ""
		if result != nil {
			value, _ = result.Get(q.Label)
		}
		row.Values = append(row.Values, value)
	}
	return row
}

// Flatten reduces a query's rows to one string. No rows yield "", a single
// one-column row yields that value, anything else joins columns with ": "
// and rows with "; ".
func Flatten(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	if len(rows) == 1 && len(rows[0]) == 1 {
		return rows[0][0]
	}
	parts := make([]string, 0, len(rows))
	for _, row := range rows {
		parts = append(parts, strings.Join(row, ": "))
	}
	return strings.Join(parts, "; ")
}
