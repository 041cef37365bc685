package parser

import (
	"fmt"
	"math"
	"strings"
)

// Query is a node of the parsed query tree.
type Query interface {
	String() string
}

// TermQuery matches an analyzed term under one indexed path. With AnyPath
// set it matches the term under every path nested in Path.
type TermQuery struct {
	Path    string
	Term    string
	AnyPath bool
}

func (q *TermQuery) String() string {
	if q.AnyPath {
		return fmt.Sprintf("%s.*:%q", q.Path, q.Term)
	}
	return fmt.Sprintf("%s:%q", q.Path, q.Term)
}

// RangeQuery matches numeric values under one path. It does not score.
type RangeQuery struct {
	Path        string
	Lo, Hi      float64
	LoInclusive bool
	HiInclusive bool
}

func (q *RangeQuery) String() string {
	left, right := "{", "}"
	if q.LoInclusive {
		left = "["
	}
	if q.HiInclusive {
		right = "]"
	}
	return fmt.Sprintf("%s:%s%s TO %s%s", q.Path, left, bound(q.Lo), bound(q.Hi), right)
}

func bound(v float64) string {
	if math.IsInf(v, 0) {
		return "*"
	}
	return fmt.Sprintf("%g", v)
}

// BoolQuery combines clauses. A document matches when it matches every Must
// and Filter clause and no MustNot clause; when there are neither Must nor
// Filter clauses it must match at least one Should clause. A query holding
// only MustNot clauses matches every other document. Scores are summed over
// the matching Must and Should clauses.
type BoolQuery struct {
	Must    []Query
	Should  []Query
	MustNot []Query
	Filter  []Query
}

func (q *BoolQuery) String() string {
	var parts []string
	for _, c := range q.Must {
		parts = append(parts, "+"+c.String())
	}
	for _, c := range q.Filter {
		parts = append(parts, "#"+c.String())
	}
	for _, c := range q.Should {
		parts = append(parts, c.String())
	}
	for _, c := range q.MustNot {
		parts = append(parts, "-"+c.String())
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// AllQuery matches every live document.
type AllQuery struct{}

func (AllQuery) String() string { return "*" }

// NoneQuery matches nothing. It results from values that analyze to no terms.
type NoneQuery struct{}

func (NoneQuery) String() string { return "<none>" }

// Terms returns every TermQuery in q, for collecting scoring statistics.
func Terms(q Query) []*TermQuery {
	var out []*TermQuery
	var walk func(Query)
	walk = func(q Query) {
		switch n := q.(type) {
		case *TermQuery:
			out = append(out, n)
		case *BoolQuery:
			for _, group := range [][]Query{n.Must, n.Should, n.MustNot, n.Filter} {
				for _, c := range group {
					walk(c)
				}
			}
		}
	}
	walk(q)
	return out
}
