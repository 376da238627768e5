package transition

import (
	"errors"
	"fmt"

	"github.com/astbeam/astbeam/grammar"
	"github.com/astbeam/astbeam/spec"
)

// ErrInvalidGrammarState is returned when a continuation is requested for a
// hypothesis that has no open frontier. It signals a caller bug.
var ErrInvalidGrammarState = errors.New("invalid grammar state")

// System is the sole authority on which actions may legally continue a
// hypothesis. Legality depends only on the type and cardinality of the open
// frontier field.
type System struct {
	grammar *grammar.Grammar
}

func NewSystem(g *grammar.Grammar) *System {
	return &System{
		grammar: g,
	}
}

func (s *System) Grammar() *grammar.Grammar {
	return s.grammar
}

// ValidActionKinds returns the legal continuation kinds for h.
//
// A composite frontier field accepts ApplyRule; a primitive one accepts
// GenToken. An optional field additionally accepts Reduce while it is empty
// (a filled optional field is finished and never the frontier), and a
// sequence field accepts Reduce once it holds at least one value.
func (s *System) ValidActionKinds(h *Hypothesis) ([]ActionKind, error) {
	if h.Tree() == nil {
		return []ActionKind{ActionKindApplyRule}, nil
	}

	rf := h.FrontierField()
	if rf == nil {
		return nil, fmt.Errorf("%w: the hypothesis is already completed", ErrInvalidGrammarState)
	}

	f := rf.Field()
	var kind ActionKind
	if f.Type().IsPrimitive() {
		kind = ActionKindGenToken
	} else {
		kind = ActionKindApplyRule
	}
	switch f.Cardinality() {
	case spec.CardinalityOptional:
		return []ActionKind{kind, ActionKindReduce}, nil
	case spec.CardinalityMultiple:
		if rf.Len() > 0 {
			return []ActionKind{kind, ActionKindReduce}, nil
		}
	}
	return []ActionKind{kind}, nil
}

// ValidProductions returns the productions applicable at the frontier: those
// whose left-hand side is the frontier field's declared type, or the root
// type's productions when no tree exists yet. For a primitive frontier the
// result is empty.
func (s *System) ValidProductions(h *Hypothesis) ([]*grammar.Production, error) {
	if h.Tree() == nil {
		return s.grammar.ProductionsOfType(s.grammar.Root()), nil
	}

	rf := h.FrontierField()
	if rf == nil {
		return nil, fmt.Errorf("%w: the hypothesis is already completed", ErrInvalidGrammarState)
	}
	if rf.Field().Type().IsPrimitive() {
		return nil, nil
	}
	return s.grammar.ProductionsOfType(rf.Field().Type()), nil
}
