// Package predicate parses and evaluates row filter expressions.
//
// # Grammar
//
// Expressions use the govaluate grammar over column names: comparisons
// (== != < <= > >=), boolean operators (&& || !), arithmetic, parentheses and
// numeric, string and boolean literals. The single-character spellings &, |
// and ~ are accepted for &&, || and ! so conditions written for numexpr-style
// engines work unchanged:
//
//	(energy > 10.5) & (flag == true)
//	name == "muon" || ~(charge < 0)
//
// Numeric columns evaluate as float64, string columns as their unpadded
// value. An expression whose result is not boolean is rejected at evaluation.
package predicate

import (
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/ajitpratap0/tabular/pkg/batch"
	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/schema"
	"github.com/apache/arrow-go/v18/arrow"
)

// Predicate is a parsed, side-effect-free boolean row expression.
type Predicate struct {
	source  string
	expr    *govaluate.EvaluableExpression
	columns []string
}

// Parse compiles an expression. Malformed input fails with InvalidPredicate.
func Parse(text string) (*Predicate, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New(errors.ErrorTypeInvalidPredicate, "empty expression")
	}
	expr, err := govaluate.NewEvaluableExpression(normalize(text))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInvalidPredicate, "malformed expression").
			WithDetail("expression", text)
	}
	p := &Predicate{source: text, expr: expr}
	seen := make(map[string]bool)
	for _, v := range expr.Vars() {
		if !seen[v] {
			seen[v] = true
			p.columns = append(p.columns, v)
		}
	}
	return p, nil
}

// String returns the expression as written.
func (p *Predicate) String() string { return p.source }

// Columns returns the referenced column names in order of first use.
func (p *Predicate) Columns() []string {
	out := make([]string, len(p.columns))
	copy(out, p.columns)
	return out
}

// Bind checks every referenced column against the schema.
func (p *Predicate) Bind(s *schema.Schema) error {
	for _, c := range p.columns {
		if _, _, ok := s.Lookup(c); !ok {
			return errors.New(errors.ErrorTypeInvalidPredicate, "expression references an unknown column").
				WithColumn(c).WithDetail("expression", p.source)
		}
	}
	return nil
}

// Evaluate returns the indices of rows of b for which the expression holds.
// b must contain every referenced column.
func (p *Predicate) Evaluate(b *batch.Batch) (*roaring.Bitmap, error) {
	if err := p.Bind(b.Schema()); err != nil {
		return nil, err
	}
	type binding struct {
		name  string
		field schema.Field
		arr   arrow.Array
	}
	bindings := make([]binding, len(p.columns))
	for i, c := range p.columns {
		f, _, _ := b.Schema().Lookup(c)
		arr, _ := b.Column(c)
		bindings[i] = binding{name: c, field: f, arr: arr}
	}

	sel := roaring.New()
	params := make(map[string]interface{}, len(bindings))
	n := b.NumRows()
	for row := 0; row < n; row++ {
		for _, bd := range bindings {
			params[bd.name] = parameter(bd.field, bd.arr, row)
		}
		out, err := p.expr.Evaluate(params)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInvalidPredicate, "expression failed to evaluate").
				WithDetail("expression", p.source).WithDetail(errors.DetailRows, row)
		}
		keep, ok := out.(bool)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeInvalidPredicate, "expression yields %T, not bool", out).
				WithDetail("expression", p.source)
		}
		if keep {
			sel.Add(uint32(row))
		}
	}
	return sel, nil
}

// Filter evaluates the expression and keeps the matching rows in order.
func (p *Predicate) Filter(b *batch.Batch) (*batch.Batch, error) {
	sel, err := p.Evaluate(b)
	if err != nil {
		return nil, err
	}
	return b.Select(sel)
}

func parameter(f schema.Field, arr arrow.Array, row int) interface{} {
	switch {
	case f.Type == schema.Bool:
		return f.Value(arr, row)
	case f.Type == schema.String:
		return f.Value(arr, row)
	default:
		v, _ := schema.Float(arr, row)
		return v
	}
}

// normalize rewrites single &, | and ~ outside string literals into the
// govaluate spellings. The regex operators =~ and !~ are left alone.
// Operators are separated by whitespace from the surrounding symbols, e.g.
// "a > -5" rather than "a>-5".
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 8)
	var quote byte
	for i := 0; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			b.WriteByte(c)
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
			b.WriteByte(c)
		case '&', '|':
			doubled := (i+1 < len(text) && text[i+1] == c) || (i > 0 && text[i-1] == c)
			if doubled {
				b.WriteByte(c)
			} else {
				// the lexer reads runs of symbols as one token, so keep
				// the rewritten operator apart from its neighbours
				b.WriteByte(' ')
				b.WriteByte(c)
				b.WriteByte(c)
				b.WriteByte(' ')
			}
		case '~':
			if i > 0 && (text[i-1] == '=' || text[i-1] == '!') {
				b.WriteByte(c)
			} else {
				b.WriteString(" ! ")
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
