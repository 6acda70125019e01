package harness

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/mahmudsudo/encrypted-sql/internal/decoder"
	"github.com/mahmudsudo/encrypted-sql/internal/program"
	"github.com/mahmudsudo/encrypted-sql/internal/qerr"
	"github.com/mahmudsudo/encrypted-sql/internal/queryir"
	"github.com/mahmudsudo/encrypted-sql/internal/querysql"
	"github.com/mahmudsudo/encrypted-sql/internal/schema"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type  string // Assertion type for categorization
	Query string // Query name
	SQL   string
	Diff  string // go-cmp diff, -want +got
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Query: %s: %s\n", e.Query, e.SQL)
	fmt.Fprintf(&buf, "  Diff (-want +got):\n")
	for _, line := range strings.Split(strings.TrimRight(e.Diff, "\n"), "\n") {
		fmt.Fprintf(&buf, "    %s\n", line)
	}

	return buf.String()
}

// EvaluateAssertions evaluates all assertions against one successful
// query outcome. Returns a slice of error messages for failed assertions.
func EvaluateAssertions(ctx context.Context, h *Harness, q Query, kind program.ProjectionKind, out Outcome, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertMatchesReference:
			err = h.assertMatchesReference(q, kind, out)
		case AssertOblivious:
			err = assertOblivious(q, out)
		case AssertIdempotent:
			err = h.assertIdempotent(ctx, q, kind, out)
		case AssertReencode:
			err = h.assertReencode(ctx, q, kind, out)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// assertMatchesReference checks the decoded answer against the plaintext
// filter of the same table.
func (h *Harness) assertMatchesReference(q Query, kind program.ProjectionKind, out Outcome) error {
	want, err := h.Reference(q.SQL, kind)
	if err != nil {
		return fmt.Errorf("query %s: reference: %w", q.Name, err)
	}
	if diff := diffAnswers(want, out.Answer); diff != "" {
		return &AssertionError{Type: AssertMatchesReference, Query: q.Name, SQL: q.SQL, Diff: diff}
	}
	return nil
}

// assertOblivious checks that every row ran the same operation sequence.
func assertOblivious(q Query, out Outcome) error {
	if len(out.Traces) == 0 {
		return nil
	}
	first := out.Traces[0].Ops
	for i, tr := range out.Traces[1:] {
		if diff := cmp.Diff(first, tr.Ops); diff != "" {
			return &AssertionError{
				Type:  AssertOblivious,
				Query: q.Name,
				SQL:   q.SQL,
				Diff:  fmt.Sprintf("row 0 vs row %d:\n%s", i+1, diff),
			}
		}
	}
	return nil
}

// assertIdempotent evaluates the same program again and compares decodings.
func (h *Harness) assertIdempotent(ctx context.Context, q Query, kind program.ProjectionKind, out Outcome) error {
	again, _, err := h.evaluate(ctx, h.eval, out.program, kind)
	if err != nil {
		return fmt.Errorf("query %s: second evaluation: %w", q.Name, err)
	}
	if diff := diffAnswers(out.Answer, again); diff != "" {
		return &AssertionError{Type: AssertIdempotent, Query: q.Name, SQL: q.SQL, Diff: diff}
	}
	return nil
}

// assertReencode encodes the query again with fresh ciphertexts and
// compares decodings.
func (h *Harness) assertReencode(ctx context.Context, q Query, kind program.ProjectionKind, out Outcome) error {
	_, again, _, err := h.execute(ctx, h.eval, q.SQL, kind)
	if err != nil {
		return fmt.Errorf("query %s: re-encoded run: %w", q.Name, err)
	}
	if diff := diffAnswers(out.Answer, again); diff != "" {
		return &AssertionError{Type: AssertReencode, Query: q.Name, SQL: q.SQL, Diff: diff}
	}
	return nil
}

// Reference computes the answer to sql over the plaintext of the loaded
// tables, using queryir.Eval as the filter.
func (h *Harness) Reference(sql string, kind program.ProjectionKind) (*decoder.Answer, error) {
	q, err := querysql.ParseQuery(sql)
	if err != nil {
		return nil, err
	}
	pt, ok := h.plain[strings.ToLower(q.From)]
	if !ok {
		return nil, qerr.TableNotFound(q.From)
	}
	return reference(q, pt, kind)
}

func reference(q *queryir.Select, pt *plainTable, kind program.ProjectionKind) (*decoder.Answer, error) {
	tbl := pt.schema

	var positions []int
	if q.Star {
		for i := range tbl.Columns {
			positions = append(positions, i)
		}
	} else {
		for _, name := range q.Columns {
			_, pos, ok := tbl.Lookup(name)
			if !ok {
				return nil, qerr.SchemaMismatch(tbl.Name, name, "no such column")
			}
			positions = append(positions, pos)
		}
	}

	ans := &decoder.Answer{Kind: kind, Scanned: len(pt.rows)}
	for _, pos := range positions {
		ans.Columns = append(ans.Columns, tbl.Columns[pos])
	}
	if kind == program.ProjectRows {
		ans.Rows = [][]schema.Value{}
	} else {
		ans.Sums = make([]*big.Int, len(positions))
		for i, pos := range positions {
			if tbl.Columns[pos].Type.Kind != schema.KindText {
				ans.Sums[i] = new(big.Int)
			}
		}
	}

	for _, row := range pt.rows {
		mr := make(queryir.MapRow, len(row))
		for i, v := range row {
			mr[tbl.Columns[i].Name] = v
		}
		match, err := queryir.Eval(q.Filter, mr)
		if err != nil {
			return nil, err
		}
		if !match {
			continue
		}
		ans.Count++

		if kind == program.ProjectRows {
			line := make([]schema.Value, len(positions))
			for i, pos := range positions {
				line[i] = row[pos]
			}
			ans.Rows = append(ans.Rows, line)
			continue
		}
		for i, pos := range positions {
			if ans.Sums[i] == nil {
				continue
			}
			ans.Sums[i].Add(ans.Sums[i], bigValue(row[pos]))
		}
	}
	return ans, nil
}

func bigValue(v schema.Value) *big.Int {
	switch x := v.(type) {
	case schema.IntValue:
		return big.NewInt(int64(x))
	case schema.UintValue:
		return new(big.Int).SetUint64(uint64(x))
	case schema.BoolValue:
		if x {
			return big.NewInt(1)
		}
	}
	return new(big.Int)
}

// answerView is the comparable part of an answer. The query ID is left
// out: re-encoding issues a new one.
type answerView struct {
	Kind    string
	Columns []schema.Column
	Rows    [][]string
	Count   int
	Sums    []string
	Scanned int
}

func viewOf(a *decoder.Answer) answerView {
	v := answerView{Kind: a.Kind.String(), Columns: a.Columns, Count: a.Count, Scanned: a.Scanned}
	if a.Kind == program.ProjectRows {
		v.Rows = a.Strings()[1:]
	}
	for _, s := range a.Sums {
		if s == nil {
			v.Sums = append(v.Sums, "")
			continue
		}
		v.Sums = append(v.Sums, s.String())
	}
	return v
}

// diffAnswers returns a -want +got diff, or "" when the answers agree.
func diffAnswers(want, got *decoder.Answer) string {
	return cmp.Diff(viewOf(want), viewOf(got))
}

// matchExpect checks an answer against an expect clause.
func matchExpect(e *ExpectClause, ans *decoder.Answer) error {
	if e.Rows != nil {
		if ans.Kind != program.ProjectRows {
			return fmt.Errorf("expect rows on a %s query", ans.Kind)
		}
		want := make([][]string, len(e.Rows))
		for i, raw := range e.Rows {
			if len(raw) != len(ans.Columns) {
				return fmt.Errorf("expected row %d has %d values for %d columns", i, len(raw), len(ans.Columns))
			}
			want[i] = make([]string, len(raw))
			for j, cell := range raw {
				v, err := parseCell(cell, ans.Columns[j].Type)
				if err != nil {
					return fmt.Errorf("expected row %d column %s: %w", i, ans.Columns[j].Name, err)
				}
				want[i][j] = v.String()
			}
		}
		if diff := cmp.Diff(want, ans.Strings()[1:]); diff != "" {
			return fmt.Errorf("rows mismatch (-want +got):\n%s", diff)
		}
	}

	if e.Count != nil && *e.Count != ans.Count {
		return fmt.Errorf("expected %d matching rows, got %d", *e.Count, ans.Count)
	}

	if e.Sums != nil {
		names := make([]string, 0, len(e.Sums))
		for name := range e.Sums {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			got, ok := sumOf(ans, name)
			if !ok {
				return fmt.Errorf("no sum for column %s", name)
			}
			if got != e.Sums[name] {
				return fmt.Errorf("sum(%s) = %s, expected %s", name, got, e.Sums[name])
			}
		}
	}
	return nil
}

func sumOf(ans *decoder.Answer, column string) (string, bool) {
	for i, c := range ans.Columns {
		if strings.EqualFold(c.Name, column) && i < len(ans.Sums) && ans.Sums[i] != nil {
			return ans.Sums[i].String(), true
		}
	}
	return "", false
}
