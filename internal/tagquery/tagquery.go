// Package tagquery implements the boolean tag-query language used by
// dynamic device groups and list filters:
//
//	expr      := term ( ('AND' | 'OR') term )*
//	term      := predicate | '(' expr ')' | 'NOT' predicate
//	predicate := atom | atom '=' value
//
// AND binds tighter than OR. Values may contain '*' wildcards. A bare
// device tag matches a bare predicate of the same value, or any
// key=value predicate whose value matches.
package tagquery

import (
	"fmt"
	"strings"

	"github.com/signalbeam/signalbeam/internal/sberrors"
)

// Expr is a parsed tag-query node.
type Expr interface {
	// Matches evaluates the expression against a canonicalized tag set.
	Matches(tags TagSet) bool
}

type andExpr struct{ left, right Expr }
type orExpr struct{ left, right Expr }
type notExpr struct{ inner Expr }

// Predicate matches a single tag. Key is empty for bare predicates.
type Predicate struct {
	Key        string
	Value      string
	IsWildcard bool
}

func (e andExpr) Matches(tags TagSet) bool { return e.left.Matches(tags) && e.right.Matches(tags) }
func (e orExpr) Matches(tags TagSet) bool  { return e.left.Matches(tags) || e.right.Matches(tags) }
func (e notExpr) Matches(tags TagSet) bool { return !e.inner.Matches(tags) }

func (p Predicate) Matches(tags TagSet) bool {
	for _, tag := range tags {
		if p.matchesTag(tag) {
			return true
		}
	}
	return false
}

func (p Predicate) matchesTag(tag Tag) bool {
	if p.Key != "" {
		// key=value predicate: matches the same key, or a bare device
		// tag whose value matches.
		if tag.Key != "" && tag.Key != p.Key {
			return false
		}
		return matchValue(p.Value, tag.Value, p.IsWildcard)
	}
	// bare predicate: matches any tag whose value matches, keyed or not
	return matchValue(p.Value, tag.Value, p.IsWildcard)
}

func matchValue(pattern, value string, wildcard bool) bool {
	if !wildcard {
		return pattern == value
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(value, parts[0]) {
		return false
	}
	value = value[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(value, part)
		if idx < 0 {
			return false
		}
		value = value[idx+len(part):]
	}
	return strings.HasSuffix(value, parts[len(parts)-1])
}

// Tag is a canonicalized device tag; Key is empty for bare tags.
type Tag struct {
	Key   string
	Value string
}

type TagSet []Tag

// ParseTags canonicalizes raw tag atoms ("value" or "key=value") into a
// TagSet. Invalid atoms are dropped rather than rejected; tags are
// validated on write by the registry.
func ParseTags(raw []string) TagSet {
	tags := make(TagSet, 0, len(raw))
	for _, r := range raw {
		tag, ok := ParseTag(r)
		if !ok {
			continue
		}
		tags = append(tags, tag)
	}
	return tags
}

// ParseTag canonicalizes a single tag atom.
func ParseTag(raw string) (Tag, bool) {
	raw = Canonicalize(raw)
	if raw == "" {
		return Tag{}, false
	}
	if key, value, found := strings.Cut(raw, "="); found {
		if !isAtom(key) || !isAtom(value) {
			return Tag{}, false
		}
		return Tag{Key: key, Value: value}, true
	}
	if !isAtom(raw) {
		return Tag{}, false
	}
	return Tag{Value: raw}, true
}

// Canonicalize lower-cases and trims a tag or query token.
func Canonicalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func isAtom(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c == '-') {
			return false
		}
	}
	return true
}

func isValue(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c == '-' || c == '*') {
			return false
		}
	}
	return true
}

// ParseError reports the byte offset of the offending token.
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid tag query at position %d: %s", e.Pos, e.Msg)
}

func (e *ParseError) Unwrap() error { return sberrors.ErrInvalidTagQuery }

// Parse parses a tag-query expression. The parser is total: every input
// either yields an Expr or a *ParseError wrapping ErrInvalidTagQuery.
func Parse(input string) (Expr, error) {
	p := &parser{input: input}
	p.next()
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, &ParseError{Pos: p.tok.pos, Msg: fmt.Sprintf("unexpected %q", p.tok.text)}
	}
	return expr, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokAtom
	tokAnd
	tokOr
	tokNot
	tokEq
	tokLParen
	tokRParen
	tokInvalid
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type parser struct {
	input string
	pos   int
	tok   token
}

func (p *parser) next() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
	start := p.pos
	if p.pos >= len(p.input) {
		p.tok = token{kind: tokEOF, pos: start}
		return
	}
	switch c := p.input[p.pos]; {
	case c == '(':
		p.pos++
		p.tok = token{kind: tokLParen, text: "(", pos: start}
	case c == ')':
		p.pos++
		p.tok = token{kind: tokRParen, text: ")", pos: start}
	case c == '=':
		p.pos++
		p.tok = token{kind: tokEq, text: "=", pos: start}
	default:
		end := p.pos
		for end < len(p.input) && isWordChar(p.input[end]) {
			end++
		}
		if end == p.pos {
			p.tok = token{kind: tokInvalid, text: string(c), pos: start}
			p.pos++
			return
		}
		word := p.input[p.pos:end]
		p.pos = end
		switch strings.ToUpper(word) {
		case "AND":
			p.tok = token{kind: tokAnd, text: word, pos: start}
		case "OR":
			p.tok = token{kind: tokOr, text: word, pos: start}
		case "NOT":
			p.tok = token{kind: tokNot, text: word, pos: start}
		default:
			p.tok = token{kind: tokAtom, text: word, pos: start}
		}
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '_' || c == '-' || c == '*'
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orExpr{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokAnd {
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = andExpr{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (Expr, error) {
	switch p.tok.kind {
	case tokLParen:
		p.next()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, &ParseError{Pos: p.tok.pos, Msg: "expected ')'"}
		}
		p.next()
		return expr, nil
	case tokNot:
		p.next()
		pred, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		return notExpr{inner: pred}, nil
	case tokAtom:
		return p.parsePredicate()
	default:
		return nil, &ParseError{Pos: p.tok.pos, Msg: fmt.Sprintf("expected predicate, got %q", p.tok.text)}
	}
}

func (p *parser) parsePredicate() (Expr, error) {
	if p.tok.kind != tokAtom {
		return nil, &ParseError{Pos: p.tok.pos, Msg: fmt.Sprintf("expected predicate, got %q", p.tok.text)}
	}
	atomPos := p.tok.pos
	atom := Canonicalize(p.tok.text)
	p.next()

	if p.tok.kind == tokEq {
		p.next()
		if p.tok.kind != tokAtom {
			return nil, &ParseError{Pos: p.tok.pos, Msg: "expected value after '='"}
		}
		if !isAtom(atom) {
			return nil, &ParseError{Pos: atomPos, Msg: fmt.Sprintf("invalid key %q", atom)}
		}
		value := Canonicalize(p.tok.text)
		if !isValue(value) {
			return nil, &ParseError{Pos: p.tok.pos, Msg: fmt.Sprintf("invalid value %q", value)}
		}
		p.next()
		return Predicate{Key: atom, Value: value, IsWildcard: strings.Contains(value, "*")}, nil
	}

	if !isValue(atom) {
		return nil, &ParseError{Pos: atomPos, Msg: fmt.Sprintf("invalid predicate %q", atom)}
	}
	return Predicate{Value: atom, IsWildcard: strings.Contains(atom, "*")}, nil
}
