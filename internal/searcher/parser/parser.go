// Package parser turns a query string into a Query tree bound to a schema.
//
// Syntax: bare words search the default fields; field:value and
// field:"quoted value" target one field, with dotted paths reaching inside
// nested fields (features.lang:zh). Clauses may be prefixed with + (must),
// - or NOT (must not) and joined with AND / OR; parentheses group. Numeric
// paths accept field:[a TO b], field:{a TO b}, field:>=n, field:<n and so
// on, with * as an open bound.
package parser

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/analyzer"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/schema"
)

var (
	ErrSyntax       = errors.New("syntax error")
	ErrUnknownField = errors.New("unknown field")
)

// QueryError reports a rejected query and the rune offset where parsing
// failed.
type QueryError struct {
	Pos int
	Err error
	Msg string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query: %s at position %d: %s", e.Err.Error(), e.Pos, e.Msg)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Options binds parsing to an index.
type Options struct {
	Schema        *schema.Schema
	Analyzers     *analyzer.Registry
	DefaultFields []string
}

type occur int

const (
	occurShould occur = iota
	occurMust
	occurMustNot
)

type clause struct {
	occur occur
	query Query
}

type parser struct {
	input    []rune
	pos      int
	opts     Options
	defaults []schema.Resolved
}

// Parse parses query. An empty query matches nothing.
func Parse(query string, opts Options) (Query, error) {
	p := &parser{input: []rune(query), opts: opts}
	for _, name := range opts.DefaultFields {
		r, err := opts.Schema.Resolve(name)
		if err != nil {
			return nil, &QueryError{Pos: 0, Err: ErrUnknownField, Msg: fmt.Sprintf("default field %q", name)}
		}
		p.defaults = append(p.defaults, r)
	}
	q, err := p.parseClauses(0)
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.input) {
		return nil, p.errorf(ErrSyntax, "unexpected %q", string(p.input[p.pos]))
	}
	return q, nil
}

func (p *parser) errorf(kind error, format string, args ...any) error {
	return &QueryError{Pos: p.pos, Err: kind, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) eof() bool {
	return p.pos >= len(p.input)
}

func (p *parser) peek() rune {
	if p.eof() {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) skipSpace() {
	for !p.eof() && unicode.IsSpace(p.input[p.pos]) {
		p.pos++
	}
}

func isDelimiter(r rune) bool {
	return unicode.IsSpace(r) || r == '(' || r == ')' || r == '"'
}

// keyword consumes word if it appears at the cursor as a standalone token.
func (p *parser) keyword(word string) bool {
	n := len([]rune(word))
	if p.pos+n > len(p.input) || string(p.input[p.pos:p.pos+n]) != word {
		return false
	}
	if p.pos+n < len(p.input) && !isDelimiter(p.input[p.pos+n]) {
		return false
	}
	p.pos += n
	return true
}

func (p *parser) parseClauses(depth int) (Query, error) {
	var clauses []clause
	for {
		p.skipSpace()
		if p.eof() {
			if depth > 0 {
				return nil, p.errorf(ErrSyntax, "missing closing parenthesis")
			}
			break
		}
		if p.peek() == ')' {
			if depth == 0 {
				return nil, p.errorf(ErrSyntax, "unbalanced closing parenthesis")
			}
			p.pos++
			break
		}

		conjStart := p.pos
		conj := ""
		switch {
		case p.keyword("AND"), p.keyword("&&"):
			conj = "AND"
		case p.keyword("OR"), p.keyword("||"):
			conj = "OR"
		}
		if conj != "" {
			if len(clauses) == 0 {
				p.pos = conjStart
				return nil, p.errorf(ErrSyntax, "%s without a left operand", conj)
			}
			p.skipSpace()
		}

		c, err := p.parseClause()
		if err != nil {
			return nil, err
		}
		if conj == "AND" {
			if prev := &clauses[len(clauses)-1]; prev.occur == occurShould {
				prev.occur = occurMust
			}
			if c.occur == occurShould {
				c.occur = occurMust
			}
		}
		clauses = append(clauses, c)
	}
	return combine(clauses), nil
}

func (p *parser) parseClause() (clause, error) {
	c := clause{occur: occurShould}
	switch {
	case p.peek() == '+':
		c.occur = occurMust
		p.pos++
	case p.peek() == '-' || p.peek() == '!':
		c.occur = occurMustNot
		p.pos++
	case p.keyword("NOT"):
		c.occur = occurMustNot
		p.skipSpace()
	}
	if p.eof() || unicode.IsSpace(p.peek()) || p.peek() == ')' {
		return c, p.errorf(ErrSyntax, "expected a term")
	}
	q, err := p.parsePrimary()
	if err != nil {
		return c, err
	}
	c.query = q
	return c, nil
}

func (p *parser) parsePrimary() (Query, error) {
	switch p.peek() {
	case '(':
		p.pos++
		return p.parseClauses(1)
	case '"':
		text, err := p.readQuoted()
		if err != nil {
			return nil, err
		}
		return p.defaultQuery(text), nil
	}

	if name, ok := p.readFieldName(); ok {
		return p.parseFieldValue(name)
	}
	start := p.pos
	word := p.readWord()
	if word == "*" {
		return AllQuery{}, nil
	}
	if word == "" {
		p.pos = start
		return nil, p.errorf(ErrSyntax, "expected a term")
	}
	return p.defaultQuery(word), nil
}

// readFieldName consumes "name:" when the cursor is at a field prefix.
func (p *parser) readFieldName() (string, bool) {
	start := p.pos
	i := p.pos
	for i < len(p.input) {
		r := p.input[i]
		if r == ':' {
			break
		}
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '-') {
			return "", false
		}
		i++
	}
	if i >= len(p.input) || i == start {
		return "", false
	}
	p.pos = i + 1
	return string(p.input[start:i]), true
}

func (p *parser) readWord() string {
	start := p.pos
	for !p.eof() && !isDelimiter(p.peek()) {
		p.pos++
	}
	return string(p.input[start:p.pos])
}

func (p *parser) readQuoted() (string, error) {
	start := p.pos
	p.pos++
	var sb strings.Builder
	for !p.eof() {
		r := p.input[p.pos]
		switch {
		case r == '\\' && p.pos+1 < len(p.input):
			sb.WriteRune(p.input[p.pos+1])
			p.pos += 2
		case r == '"':
			p.pos++
			return sb.String(), nil
		default:
			sb.WriteRune(r)
			p.pos++
		}
	}
	p.pos = start
	return "", p.errorf(ErrSyntax, "unterminated quote")
}

func (p *parser) parseFieldValue(name string) (Query, error) {
	namePos := p.pos - len([]rune(name)) - 1
	r, err := p.opts.Schema.Resolve(name)
	if err != nil {
		return nil, &QueryError{Pos: namePos, Err: ErrUnknownField, Msg: fmt.Sprintf("%q is not declared", name)}
	}

	switch p.peek() {
	case '[', '{':
		return p.parseRange(r)
	case '>', '<':
		return p.parseComparison(r)
	case '"':
		text, err := p.readQuoted()
		if err != nil {
			return nil, err
		}
		return p.fieldQuery(r, text, true)
	}
	if p.eof() || isDelimiter(p.peek()) {
		return nil, p.errorf(ErrSyntax, "field %q has no value", name)
	}
	return p.fieldQuery(r, p.readWord(), true)
}

func numericPath(r schema.Resolved) bool {
	return r.Field.Kind == schema.Integer64 || r.Dynamic()
}

func (p *parser) parseRange(r schema.Resolved) (Query, error) {
	if !numericPath(r) {
		return nil, p.errorf(ErrSyntax, "range on non-numeric field %q", r.Path)
	}
	q := &RangeQuery{Path: r.Path, LoInclusive: p.peek() == '['}
	p.pos++
	end := -1
	for i := p.pos; i < len(p.input); i++ {
		if p.input[i] == ']' || p.input[i] == '}' {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, p.errorf(ErrSyntax, "unterminated range")
	}
	parts := strings.Fields(string(p.input[p.pos:end]))
	if len(parts) != 3 || parts[1] != "TO" {
		return nil, p.errorf(ErrSyntax, "range must look like [lo TO hi]")
	}
	lo, err := parseBound(parts[0], math.Inf(-1))
	if err != nil {
		return nil, p.errorf(ErrSyntax, "bad range bound %q", parts[0])
	}
	hi, err := parseBound(parts[2], math.Inf(1))
	if err != nil {
		return nil, p.errorf(ErrSyntax, "bad range bound %q", parts[2])
	}
	q.Lo, q.Hi = lo, hi
	q.HiInclusive = p.input[end] == ']'
	p.pos = end + 1
	return q, nil
}

func (p *parser) parseComparison(r schema.Resolved) (Query, error) {
	if !numericPath(r) {
		return nil, p.errorf(ErrSyntax, "comparison on non-numeric field %q", r.Path)
	}
	op := string(p.peek())
	p.pos++
	if p.peek() == '=' {
		op += "="
		p.pos++
	}
	text := p.readWord()
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, p.errorf(ErrSyntax, "bad number %q", text)
	}
	q := &RangeQuery{Path: r.Path, Lo: math.Inf(-1), Hi: math.Inf(1), LoInclusive: true, HiInclusive: true}
	switch op {
	case ">":
		q.Lo, q.LoInclusive = v, false
	case ">=":
		q.Lo = v
	case "<":
		q.Hi, q.HiInclusive = v, false
	case "<=":
		q.Hi = v
	}
	return q, nil
}

func parseBound(text string, open float64) (float64, error) {
	if text == "*" {
		return open, nil
	}
	return strconv.ParseFloat(text, 64)
}

// fieldQuery builds the query for one value against one resolved path. In
// strict mode an unparsable number for an Integer64 field is an error;
// otherwise the field is skipped.
func (p *parser) fieldQuery(r schema.Resolved, text string, strict bool) (Query, error) {
	switch {
	case r.Field.Kind == schema.ExactString:
		return &TermQuery{Path: r.Path, Term: text}, nil
	case r.Field.Kind == schema.Integer64:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			if strict {
				return nil, p.errorf(ErrSyntax, "field %q expects a number, got %q", r.Path, text)
			}
			return NoneQuery{}, nil
		}
		return exact(r.Path, v), nil
	case r.Dynamic():
		textQuery, err := p.analyzed(r, text, false)
		if err != nil {
			return nil, err
		}
		v, numErr := strconv.ParseFloat(text, 64)
		if numErr != nil {
			return textQuery, nil
		}
		if _, none := textQuery.(NoneQuery); none {
			return exact(r.Path, v), nil
		}
		return &BoolQuery{Should: []Query{exact(r.Path, v), textQuery}}, nil
	case r.Field.Kind == schema.NestedDynamic:
		return p.analyzed(r, text, true)
	default:
		return p.analyzed(r, text, false)
	}
}

func exact(path string, v float64) *RangeQuery {
	return &RangeQuery{Path: path, Lo: v, Hi: v, LoInclusive: true, HiInclusive: true}
}

// analyzed runs text through the field's analyzer; several tokens must all
// match.
func (p *parser) analyzed(r schema.Resolved, text string, anyPath bool) (Query, error) {
	tokens, err := p.opts.Analyzers.Analyze(r.Field.Analyzer, text)
	if err != nil {
		return nil, fmt.Errorf("analyzing %q for field %q: %w", text, r.Path, err)
	}
	seen := make(map[string]struct{}, len(tokens))
	terms := make([]Query, 0, len(tokens))
	for _, tok := range tokens {
		if _, dup := seen[tok.Term]; dup {
			continue
		}
		seen[tok.Term] = struct{}{}
		terms = append(terms, &TermQuery{Path: r.Path, Term: tok.Term, AnyPath: anyPath})
	}
	switch len(terms) {
	case 0:
		return NoneQuery{}, nil
	case 1:
		return terms[0], nil
	default:
		return &BoolQuery{Must: terms}, nil
	}
}

// defaultQuery searches text across the default fields.
func (p *parser) defaultQuery(text string) Query {
	var should []Query
	for _, r := range p.defaults {
		q, err := p.fieldQuery(r, text, false)
		if err != nil {
			continue
		}
		if _, none := q.(NoneQuery); none {
			continue
		}
		should = append(should, q)
	}
	switch len(should) {
	case 0:
		return NoneQuery{}
	case 1:
		return should[0]
	default:
		return &BoolQuery{Should: should}
	}
}

// combine folds clauses into a query, moving required ranges into the
// non-scoring filter list.
func combine(clauses []clause) Query {
	if len(clauses) == 0 {
		return NoneQuery{}
	}
	if len(clauses) == 1 && clauses[0].occur != occurMustNot {
		if _, isRange := clauses[0].query.(*RangeQuery); !isRange || clauses[0].occur == occurShould {
			return clauses[0].query
		}
	}
	b := &BoolQuery{}
	for _, c := range clauses {
		switch c.occur {
		case occurMust:
			if _, isRange := c.query.(*RangeQuery); isRange {
				b.Filter = append(b.Filter, c.query)
			} else {
				b.Must = append(b.Must, c.query)
			}
		case occurMustNot:
			b.MustNot = append(b.MustNot, c.query)
		default:
			b.Should = append(b.Should, c.query)
		}
	}
	return b
}
