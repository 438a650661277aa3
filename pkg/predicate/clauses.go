package predicate

import (
	"github.com/Knetic/govaluate"
)

// Clause is a "column op constant" conjunct of an expression.
type Clause struct {
	Column string
	Op     string
	Value  float64
}

// Clauses extracts the comparisons that every matching row must satisfy.
// It returns nil unless the expression is a pure conjunction; conjuncts that
// are not a simple column-to-number comparison are left out, which only
// weakens the result.
func (p *Predicate) Clauses() []Clause {
	tokens := p.expr.Tokens()
	for _, t := range tokens {
		switch t.Kind {
		case govaluate.LOGICALOP:
			if t.Value != "&&" {
				return nil
			}
		case govaluate.PREFIX:
			if t.Value != "-" {
				return nil
			}
		case govaluate.TERNARY:
			return nil
		}
	}

	var clauses []Clause
	var segment []govaluate.ExpressionToken
	flush := func() {
		if c, ok := clauseOf(segment); ok {
			clauses = append(clauses, c)
		}
		segment = segment[:0]
	}
	for _, t := range tokens {
		switch t.Kind {
		case govaluate.CLAUSE, govaluate.CLAUSE_CLOSE:
			continue
		case govaluate.LOGICALOP:
			flush()
		default:
			segment = append(segment, t)
		}
	}
	flush()
	return clauses
}

var flipped = map[string]string{
	"<":  ">",
	"<=": ">=",
	">":  "<",
	">=": "<=",
	"==": "==",
	"!=": "!=",
}

func clauseOf(seg []govaluate.ExpressionToken) (Clause, bool) {
	// fold a leading minus into the following number
	var folded []govaluate.ExpressionToken
	for i := 0; i < len(seg); i++ {
		t := seg[i]
		if t.Kind == govaluate.PREFIX && i+1 < len(seg) && seg[i+1].Kind == govaluate.NUMERIC {
			folded = append(folded, govaluate.ExpressionToken{Kind: govaluate.NUMERIC, Value: -seg[i+1].Value.(float64)})
			i++
			continue
		}
		folded = append(folded, t)
	}
	if len(folded) != 3 || folded[1].Kind != govaluate.COMPARATOR {
		return Clause{}, false
	}
	op, ok := folded[1].Value.(string)
	if !ok {
		return Clause{}, false
	}
	if _, known := flipped[op]; !known {
		return Clause{}, false
	}
	left, right := folded[0], folded[2]
	switch {
	case left.Kind == govaluate.VARIABLE && right.Kind == govaluate.NUMERIC:
		return Clause{Column: left.Value.(string), Op: op, Value: right.Value.(float64)}, true
	case left.Kind == govaluate.NUMERIC && right.Kind == govaluate.VARIABLE:
		return Clause{Column: right.Value.(string), Op: flipped[op], Value: left.Value.(float64)}, true
	default:
		return Clause{}, false
	}
}

// MayMatch reports whether some value in [min, max] can satisfy the clause.
// != never prunes since a range cannot prove every value equal.
func (c Clause) MayMatch(min, max float64) bool {
	switch c.Op {
	case ">":
		return max > c.Value
	case ">=":
		return max >= c.Value
	case "<":
		return min < c.Value
	case "<=":
		return min <= c.Value
	case "==":
		return min <= c.Value && c.Value <= max
	default:
		return true
	}
}
