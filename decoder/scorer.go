package decoder

import (
	"fmt"
	"math"

	"github.com/astbeam/astbeam/grammar"
	"github.com/astbeam/astbeam/transition"
)

// State is one decoder time-step state: the recurrent hidden and cell
// vectors plus the attentional output vector. The engine never inspects the
// vectors; it only stores them per hypothesis lineage and hands them back to
// the scorer.
type State struct {
	Hidden []float64
	Cell   []float64
	Output []float64
}

// Encoding is the encoded utterance. It is read-only after Encode and shared
// by all hypotheses of one decode call.
type Encoding struct {
	Source [][]float64 // one vector per utterance token
	Init   *State
}

// StepQuery describes one live hypothesis at one decoding step. A scorer is
// free to ignore parts of it, e.g. ParentState when parent-state
// conditioning is disabled, or the frontier fields when the corresponding
// embeddings are disabled.
type StepQuery struct {
	PrevAction    transition.Action   // nil at t=0
	PrevState     *State              // lineage state at t-1; Encoding.Init at t=0
	ParentState   *State              // state recorded at the frontier node's creation step; nil at t=0
	FrontierProd  *grammar.Production // nil at t=0
	FrontierField *grammar.Field      // nil at t=0
}

// Gate is the binary generate/copy gating distribution. Gen and Copy sum
// to 1.
type Gate struct {
	Gen  float64
	Copy float64
}

// StepResult is the scorer output for one hypothesis at one step.
// ActionLogProbs holds log probabilities over all productions plus the
// reduce sentinel (indexed by grammar.ProductionNum, reduce last); GenProbs
// holds probabilities over the vocabulary; CopyAttn is the copy-attention
// distribution over utterance positions, nil when copying is disabled.
type StepResult struct {
	State          *State
	ActionLogProbs []float64
	GenProbs       []float64
	Gate           Gate
	CopyAttn       []float64
}

// Scorer is the numeric collaborator excluded from this package's scope.
// Encode is called once per decode call; Step once per decoding step,
// batched over all live hypotheses. Implementations must behave as pure
// functions: batched scoring must be indistinguishable from scoring each
// query independently.
type Scorer interface {
	Encode(tokens []string) (*Encoding, error)
	Step(queries []*StepQuery, enc *Encoding) ([]*StepResult, error)
}

func checkEncoding(enc *Encoding, srcLen int) error {
	if enc == nil || enc.Init == nil {
		return fmt.Errorf("scorer returned no initial decoder state")
	}
	if len(enc.Source) != srcLen {
		return fmt.Errorf("scorer returned %v source encodings for %v tokens", len(enc.Source), srcLen)
	}
	return nil
}

// checkStepResults enforces the scorer precondition contract. Violations are
// caller bugs and are never clamped or repaired.
func (d *Decoder) checkStepResults(results []*StepResult, queryCount, srcLen int) error {
	if len(results) != queryCount {
		return fmt.Errorf("scorer returned %v step results for %v queries", len(results), queryCount)
	}
	for i, res := range results {
		if res.State == nil {
			return fmt.Errorf("step result %v has no decoder state", i)
		}
		if want := d.grammar.Count() + 1; len(res.ActionLogProbs) != want {
			return fmt.Errorf("step result %v has %v action log probs, want %v", i, len(res.ActionLogProbs), want)
		}
		if want := d.vocab.Size(); len(res.GenProbs) != want {
			return fmt.Errorf("step result %v has %v generation probs, want %v", i, len(res.GenProbs), want)
		}
		if d.copyEnabled && len(res.CopyAttn) != srcLen {
			return fmt.Errorf("step result %v has %v copy attention weights, want %v", i, len(res.CopyAttn), srcLen)
		}
		for _, lp := range res.ActionLogProbs {
			if math.IsNaN(lp) || math.IsInf(lp, 1) {
				return fmt.Errorf("step result %v has a non-finite action log prob", i)
			}
		}
		for _, p := range res.GenProbs {
			if math.IsNaN(p) || p < 0 {
				return fmt.Errorf("step result %v has an invalid generation prob", i)
			}
		}
		if math.IsNaN(res.Gate.Gen) || math.IsNaN(res.Gate.Copy) {
			return fmt.Errorf("step result %v has an invalid generate/copy gate", i)
		}
	}
	return nil
}
