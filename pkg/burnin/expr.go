package burnin

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/Sumatoshi-tech/gwinfer/pkg/sampler"
)

// Parse errors.
var (
	ErrMalformedExpression = errors.New("malformed burn-in expression")
	ErrUnknownTest         = errors.New("unknown burn-in test")
)

// Node is a node of a parsed burn-in expression.
type Node interface {
	Evaluate(state *sampler.RunState) Result
	String() string
}

type testNode struct {
	name string
	test Test
}

func (n *testNode) Evaluate(state *sampler.RunState) Result {
	return n.test(state)
}

func (n *testNode) String() string {
	return n.name
}

// andNode passes when both sides pass and reports the later iteration.
type andNode struct {
	left, right Node
}

func (n *andNode) Evaluate(state *sampler.RunState) Result {
	l := n.left.Evaluate(state)
	r := n.right.Evaluate(state)

	if !l.BurnedIn || !r.BurnedIn {
		return Result{}
	}

	return Result{BurnedIn: true, Iteration: max(l.Iteration, r.Iteration)}
}

func (n *andNode) String() string {
	return "(" + n.left.String() + " & " + n.right.String() + ")"
}

// orNode passes when either side passes and reports the earlier passing iteration.
type orNode struct {
	left, right Node
}

func (n *orNode) Evaluate(state *sampler.RunState) Result {
	l := n.left.Evaluate(state)
	r := n.right.Evaluate(state)

	switch {
	case l.BurnedIn && r.BurnedIn:
		return Result{BurnedIn: true, Iteration: min(l.Iteration, r.Iteration)}
	case l.BurnedIn:
		return l
	case r.BurnedIn:
		return r
	default:
		return Result{}
	}
}

func (n *orNode) String() string {
	return "(" + n.left.String() + " | " + n.right.String() + ")"
}

type tokenKind int

const (
	tokName tokenKind = iota
	tokAnd
	tokOr
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) describe() string {
	if t.kind == tokEOF {
		return "end of expression"
	}

	return fmt.Sprintf("%q at offset %d", t.text, t.pos)
}

func tokenize(expr string) ([]token, error) {
	var tokens []token

	runes := []rune(expr)

	for i := 0; i < len(runes); {
		r := runes[i]

		switch {
		case unicode.IsSpace(r):
			i++
		case r == '&':
			tokens = append(tokens, token{kind: tokAnd, text: "&", pos: i})
			i++
		case r == '|':
			tokens = append(tokens, token{kind: tokOr, text: "|", pos: i})
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case isNameRune(r, true):
			start := i
			for i < len(runes) && isNameRune(runes[i], false) {
				i++
			}

			tokens = append(tokens, token{kind: tokName, text: string(runes[start:i]), pos: start})
		default:
			return nil, fmt.Errorf("%w: unexpected character %q at offset %d", ErrMalformedExpression, r, i)
		}
	}

	return append(tokens, token{kind: tokEOF, pos: len(runes)}), nil
}

func isNameRune(r rune, first bool) bool {
	if r == '_' || unicode.IsLetter(r) {
		return true
	}

	return !first && unicode.IsDigit(r)
}

// parser is a recursive-descent parser; & binds tighter than |.
type parser struct {
	tokens   []token
	pos      int
	registry Registry
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}

	return tok
}

func (p *parser) parseExpr() (Node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	for p.peek().kind == tokOr {
		p.next()

		right, termErr := p.parseTerm()
		if termErr != nil {
			return nil, termErr
		}

		left = &orNode{left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseTerm() (Node, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}

	for p.peek().kind == tokAnd {
		p.next()

		right, factorErr := p.parseFactor()
		if factorErr != nil {
			return nil, factorErr
		}

		left = &andNode{left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseFactor() (Node, error) {
	tok := p.next()

	switch tok.kind {
	case tokName:
		test, ok := p.registry[tok.text]
		if !ok {
			return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownTest, tok.text, strings.Join(p.registry.Names(), ", "))
		}

		return &testNode{name: tok.text, test: test}, nil
	case tokLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}

		closing := p.next()
		if closing.kind != tokRParen {
			return nil, fmt.Errorf("%w: expected ')' but found %s", ErrMalformedExpression, closing.describe())
		}

		return inner, nil
	default:
		return nil, fmt.Errorf("%w: expected test name or '(' but found %s", ErrMalformedExpression, tok.describe())
	}
}

// ParseExpression parses expr into a tree over the tests in registry.
func ParseExpression(expr string, registry Registry) (Node, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens, registry: registry}

	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %s", ErrMalformedExpression, tok.describe())
	}

	return node, nil
}
