package decoder

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"text/tabwriter"

	"github.com/mahmudsudo/encrypted-sql/internal/program"
	"github.com/mahmudsudo/encrypted-sql/internal/schema"
)

// Strings returns the answer as a grid of cells, header row first.
// Rows mode yields one line per matching row. Scalar mode yields a count
// column followed by sum(col) for every column that has a sum.
func (a *Answer) Strings() [][]string {
	if a.Kind == program.ProjectScalar {
		header := []string{"count"}
		line := []string{fmt.Sprint(a.Count)}
		for i, c := range a.Columns {
			if a.Sums[i] == nil {
				continue
			}
			header = append(header, "sum("+c.Name+")")
			line = append(line, a.Sums[i].String())
		}
		return [][]string{header, line}
	}

	out := make([][]string, 0, 1+len(a.Rows))
	header := make([]string, len(a.Columns))
	for i, c := range a.Columns {
		header[i] = c.Name
	}
	out = append(out, header)
	for _, row := range a.Rows {
		line := make([]string, len(row))
		for i, v := range row {
			line[i] = v.String()
		}
		out = append(out, line)
	}
	return out
}

// String renders the answer as an aligned table with a trailing summary.
func (a *Answer) String() string {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	for _, line := range a.Strings() {
		fmt.Fprintln(tw, strings.Join(line, "\t"))
	}
	tw.Flush()
	if a.Kind == program.ProjectRows {
		fmt.Fprintf(&b, "(%d of %d rows)", a.Count, a.Scanned)
	} else {
		fmt.Fprintf(&b, "(%d rows scanned)", a.Scanned)
	}
	return b.String()
}

type answerJSON struct {
	QueryID string          `json:"query_id"`
	Kind    string          `json:"kind"`
	Columns []schema.Column `json:"columns"`
	Rows    [][]any         `json:"rows,omitempty"`
	Count   int             `json:"count"`
	Sums    []columnSum     `json:"sums,omitempty"`
	Scanned int             `json:"scanned"`
}

// columnSum is one projected column's sum. Index is the projection
// position, so a column projected twice yields two entries.
type columnSum struct {
	Index  int      `json:"index"`
	Column string   `json:"column"`
	Sum    *big.Int `json:"sum"`
}

// MarshalJSON renders cells as their natural JSON types. Sums are listed
// in projection order and encoded as JSON numbers; text columns have none.
func (a *Answer) MarshalJSON() ([]byte, error) {
	out := answerJSON{
		QueryID: a.QueryID,
		Kind:    a.Kind.String(),
		Columns: a.Columns,
		Count:   a.Count,
		Scanned: a.Scanned,
	}
	for _, row := range a.Rows {
		line := make([]any, len(row))
		for i, v := range row {
			line[i] = v
		}
		out.Rows = append(out.Rows, line)
	}
	for i, s := range a.Sums {
		if s == nil {
			continue
		}
		out.Sums = append(out.Sums, columnSum{Index: i, Column: a.Columns[i].Name, Sum: s})
	}
	return json.Marshal(out)
}
