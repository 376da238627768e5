package decoder

import (
	"math"

	"github.com/astbeam/astbeam/vocab"
)

// negligibleProb replaces a probability that would otherwise be zero before
// a logarithm, so that masked continuations rank last instead of propagating
// non-finite scores into the beam.
const negligibleProb = 1e-7

func safeLog(p float64) float64 {
	if p < negligibleProb {
		p = negligibleProb
	}
	return math.Log(p)
}

// sourceToken is one distinct utterance token together with all of its
// occurrence positions. Distinct tokens are kept in first-occurrence order.
type sourceToken struct {
	text      string
	positions []int
}

func collectSourceTokens(tokens []string) []*sourceToken {
	var src []*sourceToken
	index := map[string]*sourceToken{}
	for pos, text := range tokens {
		st, ok := index[text]
		if !ok {
			st = &sourceToken{
				text: text,
			}
			index[text] = st
			src = append(src, st)
		}
		st.positions = append(st.positions, pos)
	}
	return src
}

// tokenDist is the marginalized GenToken distribution for one hypothesis at
// one step: a probability per vocabulary slot, where the unknown slot stands
// for unkToken when it is non-empty and for the literal unknown word
// otherwise.
type tokenDist struct {
	probs    []float64
	unkToken string
}

// aggregateTokenProbs marginalizes the generate and copy paths into a single
// distribution over vocabulary slots.
//
// Generation probabilities are scaled by the generate gate. For each distinct
// source token, the copy-attention mass of all its occurrences is summed and
// scaled by the copy gate; in-vocabulary tokens add that mass to their slot,
// while among out-of-vocabulary tokens only the single best candidate
// survives, its mass assigned (not added) to the unknown slot. The chosen
// surface form is recorded so the slot materializes as that token.
func aggregateTokenProbs(res *StepResult, src []*sourceToken, v *vocab.Vocab, copyEnabled bool) *tokenDist {
	probs := make([]float64, len(res.GenProbs))
	if !copyEnabled {
		copy(probs, res.GenProbs)
		return &tokenDist{
			probs: probs,
		}
	}

	for slot, p := range res.GenProbs {
		probs[slot] = res.Gate.Gen * p
	}

	var (
		unkToken string
		unkFound bool
	)
	unkMass := math.Inf(-1)
	for _, st := range src {
		var mass float64
		for _, pos := range st.positions {
			mass += res.CopyAttn[pos]
		}
		mass *= res.Gate.Copy
		if v.Contains(st.text) {
			probs[v.Index(st.text)] += mass
			continue
		}
		if mass > unkMass {
			unkToken = st.text
			unkMass = mass
			unkFound = true
		}
	}
	if unkFound {
		probs[v.Unk()] = unkMass
	}

	return &tokenDist{
		probs:    probs,
		unkToken: unkToken,
	}
}
