package decoder

import (
	"fmt"

	"github.com/astbeam/astbeam/transition"
)

// Score computes the total log probability the scorer assigns to a known
// gold action sequence for the utterance. It replays the actions through the
// same legality checks and probability aggregation as beam search, without
// any search: exactly one hypothesis is advanced, and an action that is
// illegal at its step is an error, not a skip.
func (d *Decoder) Score(tokens []string, gold []transition.Action) (float64, error) {
	if len(gold) == 0 {
		return 0, fmt.Errorf("cannot score an empty action sequence")
	}

	enc, err := d.scorer.Encode(tokens)
	if err != nil {
		return 0, fmt.Errorf("encode: %w", err)
	}
	if err := checkEncoding(enc, len(tokens)); err != nil {
		return 0, err
	}

	srcPositions := map[string][]int{}
	for pos, text := range tokens {
		srcPositions[text] = append(srcPositions[text], pos)
	}

	h := transition.New()
	var (
		states []*State
		total  float64
	)
	for t, action := range gold {
		q := &StepQuery{
			PrevState: enc.Init,
		}
		if t > 0 {
			q.PrevState = states[t-1]
			q.PrevAction = h.LastEntry().Action
			q.ParentState = states[h.FrontierNode().CreatedTime()]
			q.FrontierProd = h.FrontierNode().Production()
			q.FrontierField = h.FrontierField().Field()
		}

		results, err := d.scorer.Step([]*StepQuery{q}, enc)
		if err != nil {
			return 0, fmt.Errorf("score step %v: %w", t, err)
		}
		if err := d.checkStepResults(results, 1, len(tokens)); err != nil {
			return 0, err
		}
		res := results[0]

		kinds, err := d.system.ValidActionKinds(h)
		if err != nil {
			return 0, err
		}
		if !containsKind(kinds, action.Kind()) {
			return 0, fmt.Errorf("%w: %v is not a legal continuation at step %v", transition.ErrInvalidGrammarState, action, t)
		}

		switch a := action.(type) {
		case *transition.ApplyRuleAction:
			if err := d.checkGoldProduction(h, a); err != nil {
				return 0, fmt.Errorf("step %v: %w", t, err)
			}
			total += res.ActionLogProbs[a.Production.Num()]
		case *transition.ReduceAction:
			total += res.ActionLogProbs[d.grammar.ReduceNum()]
		case *transition.GenTokenAction:
			// The gold token's own probability is the marginal over both
			// paths, so an out-of-vocabulary gold token is scored by its copy
			// mass rather than by the unknown slot's best-candidate value.
			var p float64
			if d.copyEnabled {
				p = res.Gate.Gen * res.GenProbs[d.vocab.Index(a.Token)]
				if positions, ok := srcPositions[a.Token]; ok {
					var mass float64
					for _, pos := range positions {
						mass += res.CopyAttn[pos]
					}
					p += res.Gate.Copy * mass
				}
			} else {
				p = res.GenProbs[d.vocab.Index(a.Token)]
			}
			total += safeLog(p)
		}

		entry := transition.NewActionEntry(action, t)
		if t > 0 {
			entry.ParentT = h.FrontierNode().CreatedTime()
			entry.FrontierProd = h.FrontierNode().Production()
			entry.FrontierField = h.FrontierField().Field()
		}
		if err := h.Apply(entry); err != nil {
			return 0, err
		}
		states = append(states, res.State)
	}

	return total, nil
}

func (d *Decoder) checkGoldProduction(h *transition.Hypothesis, a *transition.ApplyRuleAction) error {
	prods, err := d.system.ValidProductions(h)
	if err != nil {
		return err
	}
	for _, p := range prods {
		if p == a.Production {
			return nil
		}
	}
	return fmt.Errorf("%w: production %v does not derive the frontier type", transition.ErrInvalidGrammarState, a.Production)
}

func containsKind(kinds []transition.ActionKind, kind transition.ActionKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
