package decoder

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/astbeam/astbeam/grammar"
	"github.com/astbeam/astbeam/transition"
	"github.com/astbeam/astbeam/vocab"
)

// ErrEmptyBeam is returned when every candidate continuation of every live
// hypothesis has a non-finite score and no hypothesis has completed yet.
var ErrEmptyBeam = errors.New("empty beam")

const (
	defaultBeamSize = 5
	defaultMaxSteps = 100
)

// Decoder runs grammar-constrained beam search over the action space of a
// grammar, using a Scorer for all numeric judgments.
type Decoder struct {
	grammar *grammar.Grammar
	system  *transition.System
	vocab   *vocab.Vocab
	scorer  Scorer

	beamSize    int
	maxSteps    int
	copyEnabled bool
	keepStates  bool
	logger      *slog.Logger
}

type DecoderOption func(d *Decoder) error

// BeamSize sets the number of hypotheses kept per step and the maximum
// number of results returned.
func BeamSize(k int) DecoderOption {
	return func(d *Decoder) error {
		if k < 1 {
			return fmt.Errorf("beam size must be >= 1: %v", k)
		}
		d.beamSize = k
		return nil
	}
}

// MaxSteps bounds the number of decoding steps of one decode call.
func MaxSteps(n int) DecoderOption {
	return func(d *Decoder) error {
		if n < 1 {
			return fmt.Errorf("max steps must be >= 1: %v", n)
		}
		d.maxSteps = n
		return nil
	}
}

// DisableCopy turns the copy path off. Token probabilities are then taken
// from the generation distribution alone and the gate is ignored.
func DisableCopy() DecoderOption {
	return func(d *Decoder) error {
		d.copyEnabled = false
		return nil
	}
}

// KeepStates records the per-step decoder state history on each result so
// that decoding can later be resumed from it.
func KeepStates() DecoderOption {
	return func(d *Decoder) error {
		d.keepStates = true
		return nil
	}
}

func WithLogger(l *slog.Logger) DecoderOption {
	return func(d *Decoder) error {
		if l == nil {
			return fmt.Errorf("logger must not be nil")
		}
		d.logger = l
		return nil
	}
}

func New(g *grammar.Grammar, v *vocab.Vocab, s Scorer, opts ...DecoderOption) (*Decoder, error) {
	d := &Decoder{
		grammar:     g,
		system:      transition.NewSystem(g),
		vocab:       v,
		scorer:      s,
		beamSize:    defaultBeamSize,
		maxSteps:    defaultMaxSteps,
		copyEnabled: true,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Result is one decoded hypothesis. States holds the per-step decoder state
// history when the decoder was built with KeepStates; it can seed Resume.
type Result struct {
	Hypothesis *transition.Hypothesis
	States     []*State
}

type candidateKind int

const (
	candidateRule candidateKind = iota
	candidateToken
)

// candidate is one scored continuation of one live hypothesis. Rule
// candidates cover ApplyRule and Reduce (prodNum is the reduce sentinel);
// token candidates address one vocabulary slot.
type candidate struct {
	kind    candidateKind
	hypID   int
	prodNum grammar.ProductionNum
	slot    int
	score   float64
}

// Decode runs beam search over the utterance and returns up to BeamSize
// completed hypotheses in descending score order. When the step bound is
// reached before any hypothesis completes, the incomplete beam is returned
// instead.
func (d *Decoder) Decode(tokens []string) ([]*Result, error) {
	return d.decode(tokens, nil, nil)
}

// Resume continues decoding from a partial hypothesis and the decoder state
// history recorded for it by a KeepStates decoder. The hypothesis is not
// mutated; continuations branch off clones. An already completed hypothesis
// is returned as is.
func (d *Decoder) Resume(tokens []string, h *transition.Hypothesis, states []*State) ([]*Result, error) {
	if h == nil {
		return nil, fmt.Errorf("cannot resume without a hypothesis")
	}
	if h.Completed() {
		r := &Result{
			Hypothesis: h,
		}
		if d.keepStates {
			r.States = states
		}
		return []*Result{r}, nil
	}
	if h.T() == 0 {
		return d.decode(tokens, nil, nil)
	}
	if len(states) < h.T() {
		return nil, fmt.Errorf("resume needs %v recorded states, got %v", h.T(), len(states))
	}
	return d.decode(tokens, h, states[:h.T()])
}

func (d *Decoder) decode(tokens []string, seed *transition.Hypothesis, seedStates []*State) ([]*Result, error) {
	logger := d.logger.With(slog.String("decode_id", uuid.NewString()))

	enc, err := d.scorer.Encode(tokens)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if err := checkEncoding(enc, len(tokens)); err != nil {
		return nil, err
	}

	src := collectSourceTokens(tokens)
	srcPositions := make(map[string][]int, len(src))
	for _, st := range src {
		srcPositions[st.text] = st.positions
	}

	var (
		hyps   []*transition.Hypothesis
		states [][]*State
		t      int
	)
	if seed == nil {
		hyps = []*transition.Hypothesis{transition.New()}
		states = [][]*State{nil}
	} else {
		hyps = []*transition.Hypothesis{seed}
		states = [][]*State{seedStates}
		t = seed.T()
	}

	var completed []*Result
	for len(completed) < d.beamSize && t < d.maxSteps {
		queries := make([]*StepQuery, len(hyps))
		for i, h := range hyps {
			q := &StepQuery{
				PrevState: enc.Init,
			}
			if h.T() > 0 {
				hist := states[i]
				q.PrevState = hist[len(hist)-1]
				q.PrevAction = h.LastEntry().Action
				q.ParentState = hist[h.FrontierNode().CreatedTime()]
				q.FrontierProd = h.FrontierNode().Production()
				q.FrontierField = h.FrontierField().Field()
			}
			queries[i] = q
		}

		results, err := d.scorer.Step(queries, enc)
		if err != nil {
			return nil, fmt.Errorf("score step %v: %w", t, err)
		}
		if err := d.checkStepResults(results, len(queries), len(tokens)); err != nil {
			return nil, err
		}

		// Candidates are enumerated rules first, then token slots, in
		// hypothesis order. The stable sort below preserves this order among
		// equal scores, which makes tie-breaking deterministic.
		var ruleCands, tokCands []*candidate
		dists := make([]*tokenDist, len(hyps))
		for i, h := range hyps {
			kinds, err := d.system.ValidActionKinds(h)
			if err != nil {
				return nil, err
			}
			res := results[i]
			for _, kind := range kinds {
				switch kind {
				case transition.ActionKindApplyRule:
					prods, err := d.system.ValidProductions(h)
					if err != nil {
						return nil, err
					}
					for _, p := range prods {
						ruleCands = append(ruleCands, &candidate{
							kind:    candidateRule,
							hypID:   i,
							prodNum: p.Num(),
							score:   h.Score() + res.ActionLogProbs[p.Num()],
						})
					}
				case transition.ActionKindReduce:
					ruleCands = append(ruleCands, &candidate{
						kind:    candidateRule,
						hypID:   i,
						prodNum: d.grammar.ReduceNum(),
						score:   h.Score() + res.ActionLogProbs[d.grammar.ReduceNum()],
					})
				case transition.ActionKindGenToken:
					dist := aggregateTokenProbs(res, src, d.vocab, d.copyEnabled)
					dists[i] = dist
					for slot, p := range dist.probs {
						tokCands = append(tokCands, &candidate{
							kind:  candidateToken,
							hypID: i,
							slot:  slot,
							score: h.Score() + safeLog(p),
						})
					}
				}
			}
		}

		cands := make([]*candidate, 0, len(ruleCands)+len(tokCands))
		cands = append(cands, ruleCands...)
		cands = append(cands, tokCands...)
		sort.SliceStable(cands, func(a, b int) bool {
			return cands[a].score > cands[b].score
		})

		want := d.beamSize - len(completed)
		var top []*candidate
		for _, c := range cands {
			if len(top) == want {
				break
			}
			if math.IsInf(c.score, -1) {
				continue
			}
			top = append(top, c)
		}
		if len(top) == 0 {
			if len(completed) > 0 {
				break
			}
			return nil, fmt.Errorf("%w: no finite continuation at step %v", ErrEmptyBeam, t)
		}

		var (
			liveHyps   []*transition.Hypothesis
			liveStates [][]*State
		)
		for _, c := range top {
			prev := hyps[c.hypID]
			entry := transition.NewActionEntry(nil, t)
			switch c.kind {
			case candidateRule:
				if c.prodNum == d.grammar.ReduceNum() {
					entry.Action = &transition.ReduceAction{}
				} else {
					prod, ok := d.grammar.Production(c.prodNum)
					if !ok {
						return nil, fmt.Errorf("unknown production number: %v", c.prodNum)
					}
					entry.Action = &transition.ApplyRuleAction{
						Production: prod,
					}
				}
			case candidateToken:
				text := d.vocab.Word(c.slot)
				if c.slot == d.vocab.Unk() && dists[c.hypID].unkToken != "" {
					text = dists[c.hypID].unkToken
				}
				entry.Action = &transition.GenTokenAction{
					Token: text,
				}
				if positions, ok := srcPositions[text]; ok {
					entry.CopiedFromSource = true
					entry.SourcePositions = positions
				}
			}
			if prev.T() > 0 {
				entry.ParentT = prev.FrontierNode().CreatedTime()
				entry.FrontierProd = prev.FrontierNode().Production()
				entry.FrontierField = prev.FrontierField().Field()
			}

			h, err := prev.CloneAndApply(entry)
			if err != nil {
				return nil, err
			}
			h.SetScore(c.score)

			hist := appendState(states[c.hypID], results[c.hypID].State)
			if h.Completed() {
				r := &Result{
					Hypothesis: h,
				}
				if d.keepStates {
					r.States = hist
				}
				completed = append(completed, r)
			} else {
				liveHyps = append(liveHyps, h)
				liveStates = append(liveStates, hist)
			}
		}

		logger.Debug("beam step",
			slog.Int("step", t),
			slog.Int("live", len(liveHyps)),
			slog.Int("completed", len(completed)))

		if len(liveHyps) == 0 {
			break
		}
		hyps = liveHyps
		states = liveStates
		t++
	}

	results := completed
	if len(results) == 0 {
		// The step bound was hit before anything completed. The incomplete
		// beam still carries the best partial derivations.
		results = make([]*Result, len(hyps))
		for i, h := range hyps {
			results[i] = &Result{
				Hypothesis: h,
			}
			if d.keepStates {
				results[i].States = states[i]
			}
		}
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Hypothesis.Score() > results[b].Hypothesis.Score()
	})

	logger.Debug("decode finished",
		slog.Int("steps", t),
		slog.Int("completed", len(completed)),
		slog.Int("returned", len(results)))

	return results, nil
}

// appendState extends a state history without sharing backing arrays between
// hypotheses branched from the same parent.
func appendState(hist []*State, s *State) []*State {
	next := make([]*State, len(hist)+1)
	copy(next, hist)
	next[len(hist)] = s
	return next
}
