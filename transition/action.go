package transition

import (
	"fmt"

	"github.com/astbeam/astbeam/grammar"
)

type ActionKind string

const (
	ActionKindApplyRule = ActionKind("apply rule")
	ActionKindReduce    = ActionKind("reduce")
	ActionKindGenToken  = ActionKind("gen token")
)

// Action is the closed union of the three action variants: ApplyRuleAction,
// ReduceAction, and GenTokenAction. The transition system and the decoder
// switch exhaustively over Kind.
type Action interface {
	Kind() ActionKind
	String() string
}

// ApplyRuleAction instantiates a production at the open frontier field.
type ApplyRuleAction struct {
	Production *grammar.Production
}

func (a *ApplyRuleAction) Kind() ActionKind {
	return ActionKindApplyRule
}

func (a *ApplyRuleAction) String() string {
	return fmt.Sprintf("ApplyRule[%v]", a.Production.Constructor())
}

// ReduceAction closes an open optional or sequence field.
type ReduceAction struct {
}

func (a *ReduceAction) Kind() ActionKind {
	return ActionKindReduce
}

func (a *ReduceAction) String() string {
	return "Reduce"
}

// GenTokenAction emits a primitive token, generated from the vocabulary or
// copied from the utterance. The token is plain text, not grammar-typed.
type GenTokenAction struct {
	Token string
}

func (a *GenTokenAction) Kind() ActionKind {
	return ActionKindGenToken
}

func (a *GenTokenAction) String() string {
	return fmt.Sprintf("GenToken[%v]", a.Token)
}
