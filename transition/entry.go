package transition

import (
	"github.com/astbeam/astbeam/grammar"
)

// ActionEntry is one applied action plus the decoding metadata the scorer
// needs at later steps: the step the action was taken at, the creation step
// of the frontier node it was applied under (for parent-state lookup), the
// frontier production and field, and copy provenance.
//
// Provenance is metadata only. A token that also occurs in the utterance is
// marked copied regardless of whether the generate or the copy path produced
// it; nothing downstream branches on it.
type ActionEntry struct {
	Action Action
	T      int

	ParentT       int
	FrontierProd  *grammar.Production
	FrontierField *grammar.Field

	CopiedFromSource bool
	SourcePositions  []int
}

func NewActionEntry(action Action, t int) *ActionEntry {
	return &ActionEntry{
		Action: action,
		T:      t,
	}
}
