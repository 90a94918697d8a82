// Package burnin decides when sampler chains have lost memory of their
// starting positions. Tests are combined with & and | into an expression
// such as "nacl & max_posterior".
package burnin

import (
	"github.com/Sumatoshi-tech/gwinfer/pkg/sampler"
)

// Evaluator evaluates a parsed burn-in expression. Results are recomputed
// on every call.
type Evaluator struct {
	source   string
	root     Node
	registry Registry
	names    []string
}

// NewEvaluator parses expr against registry.
func NewEvaluator(expr string, registry Registry) (*Evaluator, error) {
	root, err := ParseExpression(expr, registry)
	if err != nil {
		return nil, err
	}

	return &Evaluator{
		source:   expr,
		root:     root,
		registry: registry,
		names:    collectNames(root),
	}, nil
}

// Evaluate runs the expression against state.
func (e *Evaluator) Evaluate(state *sampler.RunState) Result {
	return e.root.Evaluate(state)
}

// Details evaluates each test named in the expression on its own.
func (e *Evaluator) Details(state *sampler.RunState) map[string]Result {
	out := make(map[string]Result, len(e.names))
	for _, name := range e.names {
		out[name] = e.registry[name](state)
	}

	return out
}

// Expression returns the source expression.
func (e *Evaluator) Expression() string {
	return e.source
}

// String returns the fully parenthesized form of the parsed expression.
func (e *Evaluator) String() string {
	return e.root.String()
}

func collectNames(node Node) []string {
	seen := map[string]bool{}

	var (
		names []string
		walk  func(Node)
	)

	walk = func(n Node) {
		switch typed := n.(type) {
		case *testNode:
			if !seen[typed.name] {
				seen[typed.name] = true
				names = append(names, typed.name)
			}
		case *andNode:
			walk(typed.left)
			walk(typed.right)
		case *orNode:
			walk(typed.left)
			walk(typed.right)
		}
	}

	walk(node)

	return names
}
