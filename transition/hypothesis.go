package transition

import (
	"fmt"

	"github.com/astbeam/astbeam/ast"
)

// Hypothesis is a partial or complete derivation: the tree built so far, the
// ordered action history, the cumulative log score, and the step counter.
// The frontier is a weak reference into the tree, recomputed after every
// apply by a pre-order, left-to-right, depth-first search for the first
// open field.
type Hypothesis struct {
	tree    *ast.Node
	entries []*ActionEntry
	score   float64
	t       int

	frontierNode  *ast.Node
	frontierField *ast.RealizedField
}

func New() *Hypothesis {
	return &Hypothesis{}
}

func (h *Hypothesis) Tree() *ast.Node {
	return h.tree
}

func (h *Hypothesis) Entries() []*ActionEntry {
	return h.entries
}

func (h *Hypothesis) Actions() []Action {
	actions := make([]Action, len(h.entries))
	for i, e := range h.entries {
		actions[i] = e.Action
	}
	return actions
}

func (h *Hypothesis) LastEntry() *ActionEntry {
	if len(h.entries) == 0 {
		return nil
	}
	return h.entries[len(h.entries)-1]
}

func (h *Hypothesis) Score() float64 {
	return h.score
}

func (h *Hypothesis) SetScore(score float64) {
	h.score = score
}

func (h *Hypothesis) T() int {
	return h.t
}

func (h *Hypothesis) FrontierNode() *ast.Node {
	return h.frontierNode
}

func (h *Hypothesis) FrontierField() *ast.RealizedField {
	return h.frontierField
}

// Completed reports whether the derivation is finished: a tree exists and no
// field remains open.
func (h *Hypothesis) Completed() bool {
	return h.tree != nil && h.frontierNode == nil
}

// Apply advances the hypothesis in place by one action. The transition
// system is the authority on legality; Apply only rejects continuations of a
// completed hypothesis.
func (h *Hypothesis) Apply(e *ActionEntry) error {
	if h.Completed() {
		return fmt.Errorf("%w: cannot apply %v at step %v", ErrInvalidGrammarState, e.Action, h.t)
	}

	switch a := e.Action.(type) {
	case *ApplyRuleAction:
		node := ast.NewNode(a.Production, h.t)
		if h.tree == nil {
			h.tree = node
		} else {
			h.frontierField.AddNode(node)
		}
	case *ReduceAction:
		if h.frontierField == nil {
			return fmt.Errorf("%w: reduce with no open field", ErrInvalidGrammarState)
		}
		h.frontierField.Close()
	case *GenTokenAction:
		if h.frontierField == nil {
			return fmt.Errorf("%w: gen token with no open field", ErrInvalidGrammarState)
		}
		h.frontierField.AddToken(a.Token)
	default:
		return fmt.Errorf("unknown action type: %T", e.Action)
	}

	h.entries = append(h.entries, e)
	h.t++
	h.frontierNode, h.frontierField = findFrontier(h.tree)

	return nil
}

// Clone duplicates the hypothesis for beam branching. The tree is deep
// copied and the history slice is duplicated; entries themselves are
// immutable and shared.
func (h *Hypothesis) Clone() *Hypothesis {
	c := &Hypothesis{
		score: h.score,
		t:     h.t,
	}
	c.entries = make([]*ActionEntry, len(h.entries))
	copy(c.entries, h.entries)
	if h.tree != nil {
		c.tree = h.tree.Copy()
		c.frontierNode, c.frontierField = findFrontier(c.tree)
	}
	return c
}

func (h *Hypothesis) CloneAndApply(e *ActionEntry) (*Hypothesis, error) {
	c := h.Clone()
	if err := c.Apply(e); err != nil {
		return nil, err
	}
	return c, nil
}

// findFrontier returns the node and field the next action applies at. Open
// descendants of a field's children take precedence over the field itself,
// so a child subtree is completed before its parent field accepts another
// value or a Reduce.
func findFrontier(n *ast.Node) (*ast.Node, *ast.RealizedField) {
	if n == nil {
		return nil, nil
	}
	for _, f := range n.Fields() {
		for _, child := range f.Nodes() {
			if fn, ff := findFrontier(child); fn != nil {
				return fn, ff
			}
		}
		if !f.Finished() {
			return n, f
		}
	}
	return nil, nil
}
