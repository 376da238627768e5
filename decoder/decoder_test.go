package decoder

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/astbeam/astbeam/grammar"
	"github.com/astbeam/astbeam/transition"
	"github.com/astbeam/astbeam/vocab"
)

// stubScorer derives every step result from the query alone, so the same
// instance can serve fresh decodes and resumed ones.
type stubScorer struct {
	step    func(q *StepQuery) *StepResult
	queries []*StepQuery
	batches []int
	calls   int
}

func (s *stubScorer) Encode(tokens []string) (*Encoding, error) {
	return &Encoding{
		Source: make([][]float64, len(tokens)),
		Init:   &State{},
	}, nil
}

func (s *stubScorer) Step(queries []*StepQuery, enc *Encoding) ([]*StepResult, error) {
	s.batches = append(s.batches, len(queries))
	rs := make([]*StepResult, len(queries))
	for i, q := range queries {
		s.queries = append(s.queries, q)
		rs[i] = s.step(q)
		rs[i].State = &State{
			Hidden: []float64{float64(s.calls)},
		}
		s.calls++
	}
	return rs, nil
}

func testGrammar(t *testing.T, src string) *grammar.Grammar {
	t.Helper()
	g, err := grammar.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	return g
}

// logs builds an action log-prob vector of size n filled with -inf except
// for the given slots.
func logs(n int, probs map[int]float64) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = math.Inf(-1)
	}
	for i, p := range probs {
		v[i] = math.Log(p)
	}
	return v
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// replayLegality re-derives the legality of a decoded action sequence from
// scratch. Every decoded hypothesis must pass it.
func replayLegality(t *testing.T, g *grammar.Grammar, h *transition.Hypothesis) {
	t.Helper()
	sys := transition.NewSystem(g)
	r := transition.New()
	for i, action := range h.Actions() {
		kinds, err := sys.ValidActionKinds(r)
		if err != nil {
			t.Fatalf("step %v: %v", i, err)
		}
		found := false
		for _, k := range kinds {
			if k == action.Kind() {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("step %v: %v is not a legal continuation", i, action)
		}
		if err := r.Apply(transition.NewActionEntry(action, i)); err != nil {
			t.Fatalf("step %v: %v", i, err)
		}
	}
}

func TestDecoder_Decode_singleProduction(t *testing.T) {
	g := testGrammar(t, `stmt = Pass;`)
	v := vocab.New(nil)
	s := &stubScorer{
		step: func(q *StepQuery) *StepResult {
			return &StepResult{
				ActionLogProbs: logs(2, map[int]float64{0: 1.0}),
				GenProbs:       make([]float64, v.Size()),
				CopyAttn:       []float64{1.0},
			}
		},
	}
	d, err := New(g, v, s)
	if err != nil {
		t.Fatal(err)
	}

	rs, err := d.Decode([]string{"pass"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 1 {
		t.Fatalf("unexpected result count: want: %v, got: %v", 1, len(rs))
	}
	h := rs[0].Hypothesis
	if !h.Completed() {
		t.Fatal("the hypothesis must be completed")
	}
	if h.Tree().String() != "(Pass)" {
		t.Fatalf("unexpected tree: got: %v", h.Tree())
	}
	if !almostEqual(h.Score(), 0) {
		t.Fatalf("unexpected score: want: %v, got: %v", 0.0, h.Score())
	}
	replayLegality(t, g, h)
}

func TestDecoder_Decode_copyAggregation(t *testing.T) {
	g := testGrammar(t, `phrase = Words(string* words);`)
	v := vocab.New([]string{"b"})
	s := &stubScorer{
		step: func(q *StepQuery) *StepResult {
			if q.FrontierField == nil {
				// Root choice.
				return &StepResult{
					ActionLogProbs: logs(2, map[int]float64{0: 1.0}),
					GenProbs:       make([]float64, v.Size()),
					CopyAttn:       []float64{0, 0, 0},
				}
			}
			return &StepResult{
				ActionLogProbs: logs(2, map[int]float64{1: 0.9}),
				GenProbs:       []float64{0, 0.2},
				Gate:           Gate{Gen: 0.5, Copy: 0.5},
				CopyAttn:       []float64{0.3, 0.3, 0.4},
			}
		},
	}
	d, err := New(g, v, s, BeamSize(1))
	if err != nil {
		t.Fatal(err)
	}

	// The token "a" occurs at positions 0 and 2, is out of vocabulary, and
	// its summed copy mass (0.5 * 0.7 = 0.35) beats both the in-vocabulary
	// "b" (0.5*0.2 + 0.5*0.3 = 0.25) and an immediate reduce.
	rs, err := d.Decode([]string{"a", "b", "a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 1 {
		t.Fatalf("unexpected result count: want: %v, got: %v", 1, len(rs))
	}
	h := rs[0].Hypothesis
	if !h.Completed() {
		t.Fatal("the hypothesis must be completed")
	}
	if h.Tree().String() != "(Words (words 'a'))" {
		t.Fatalf("unexpected tree: got: %v", h.Tree())
	}

	expectedScore := math.Log(1.0) + math.Log(0.35) + math.Log(0.9)
	if !almostEqual(h.Score(), expectedScore) {
		t.Fatalf("unexpected score: want: %v, got: %v", expectedScore, h.Score())
	}

	// The unknown-slot token must carry copy provenance.
	gen := h.Entries()[1]
	if gen.Action.Kind() != transition.ActionKindGenToken {
		t.Fatalf("unexpected action: got: %v", gen.Action)
	}
	if !gen.CopiedFromSource {
		t.Fatal("the token must be marked as copied")
	}
	if len(gen.SourcePositions) != 2 || gen.SourcePositions[0] != 0 || gen.SourcePositions[1] != 2 {
		t.Fatalf("unexpected source positions: got: %v", gen.SourcePositions)
	}
	replayLegality(t, g, h)
}

func TestDecoder_Decode_disableCopy(t *testing.T) {
	g := testGrammar(t, `phrase = Words(string* words);`)
	v := vocab.New([]string{"b"})
	s := &stubScorer{
		step: func(q *StepQuery) *StepResult {
			if q.FrontierField == nil {
				return &StepResult{
					ActionLogProbs: logs(2, map[int]float64{0: 1.0}),
					GenProbs:       make([]float64, v.Size()),
				}
			}
			return &StepResult{
				ActionLogProbs: logs(2, map[int]float64{1: 0.9}),
				GenProbs:       []float64{0, 0.8},
			}
		},
	}
	d, err := New(g, v, s, BeamSize(1), DisableCopy())
	if err != nil {
		t.Fatal(err)
	}

	rs, err := d.Decode([]string{"a", "b", "a"})
	if err != nil {
		t.Fatal(err)
	}
	h := rs[0].Hypothesis
	if h.Tree().String() != "(Words (words 'b'))" {
		t.Fatalf("unexpected tree: got: %v", h.Tree())
	}
	expectedScore := math.Log(0.8) + math.Log(0.9)
	if !almostEqual(h.Score(), expectedScore) {
		t.Fatalf("unexpected score: want: %v, got: %v", expectedScore, h.Score())
	}
}

func TestDecoder_Decode_beamOrdering(t *testing.T) {
	g := testGrammar(t, `stmt = Pa | Pb;`)
	v := vocab.New(nil)
	s := &stubScorer{
		step: func(q *StepQuery) *StepResult {
			return &StepResult{
				ActionLogProbs: logs(3, map[int]float64{0: 0.6, 1: 0.4}),
				GenProbs:       make([]float64, v.Size()),
				CopyAttn:       []float64{1.0},
			}
		},
	}
	d, err := New(g, v, s, BeamSize(2))
	if err != nil {
		t.Fatal(err)
	}

	rs, err := d.Decode([]string{"x"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 2 {
		t.Fatalf("unexpected result count: want: %v, got: %v", 2, len(rs))
	}
	if rs[0].Hypothesis.Tree().String() != "(Pa)" || rs[1].Hypothesis.Tree().String() != "(Pb)" {
		t.Fatalf("results must be ordered by score: got: %v, %v", rs[0].Hypothesis.Tree(), rs[1].Hypothesis.Tree())
	}
	if rs[0].Hypothesis.Score() < rs[1].Hypothesis.Score() {
		t.Fatal("results must be in descending score order")
	}
}

func TestDecoder_Decode_beamWidth(t *testing.T) {
	g := testGrammar(t, `
expr = Pair(expr a, expr b)
     | One(expr x)
     | Leaf
     ;
`)
	v := vocab.New(nil)
	s := &stubScorer{
		step: func(q *StepQuery) *StepResult {
			return &StepResult{
				ActionLogProbs: logs(4, map[int]float64{0: 0.5, 1: 0.3, 2: 0.2}),
				GenProbs:       make([]float64, v.Size()),
				CopyAttn:       []float64{1.0},
			}
		},
	}
	d, err := New(g, v, s, BeamSize(3), MaxSteps(4))
	if err != nil {
		t.Fatal(err)
	}

	rs, err := d.Decode([]string{"x"})
	if err != nil {
		t.Fatal(err)
	}

	// Leaf completes at step 0. From then on the completed hypothesis keeps
	// its beam slot, so at most two live hypotheses may be stepped.
	expectedBatches := []int{1, 2, 2, 2}
	if len(s.batches) != len(expectedBatches) {
		t.Fatalf("unexpected step count: want: %v, got: %v", len(expectedBatches), len(s.batches))
	}
	completedBefore := []int{0, 1, 1, 1}
	for i, n := range s.batches {
		if n != expectedBatches[i] {
			t.Fatalf("unexpected batch size at step %v: want: %v, got: %v", i, expectedBatches[i], n)
		}
		if n+completedBefore[i] > 3 {
			t.Fatalf("live and completed hypotheses exceed the beam width at step %v: %v + %v", i, n, completedBefore[i])
		}
	}

	if len(rs) != 1 {
		t.Fatalf("unexpected result count: want: %v, got: %v", 1, len(rs))
	}
	h := rs[0].Hypothesis
	if !h.Completed() {
		t.Fatal("the hypothesis must be completed")
	}
	if h.Tree().String() != "(Leaf)" {
		t.Fatalf("unexpected tree: got: %v", h.Tree())
	}
	if !almostEqual(h.Score(), math.Log(0.2)) {
		t.Fatalf("unexpected score: want: %v, got: %v", math.Log(0.2), h.Score())
	}
	replayLegality(t, g, h)
}

func TestDecoder_Decode_stepBound(t *testing.T) {
	g := testGrammar(t, `
expr = Apply(expr fn, expr* args)
     | Name(string text)
     ;
`)
	v := vocab.New([]string{"x"})
	// Name is masked out, so every surviving hypothesis keeps nesting Apply
	// and can never complete.
	s := &stubScorer{
		step: func(q *StepQuery) *StepResult {
			return &StepResult{
				ActionLogProbs: logs(3, map[int]float64{0: 0.9}),
				GenProbs:       []float64{0, 1.0},
				Gate:           Gate{Gen: 1.0},
				CopyAttn:       []float64{1.0},
			}
		},
	}
	d, err := New(g, v, s, BeamSize(2), MaxSteps(3))
	if err != nil {
		t.Fatal(err)
	}

	rs, err := d.Decode([]string{"x"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) == 0 || len(rs) > 2 {
		t.Fatalf("unexpected result count: got: %v", len(rs))
	}
	for _, r := range rs {
		if r.Hypothesis.Completed() {
			t.Fatal("no hypothesis can complete within the step bound")
		}
		if r.Hypothesis.T() != 3 {
			t.Fatalf("unexpected step counter: want: %v, got: %v", 3, r.Hypothesis.T())
		}
	}
	for i := 1; i < len(rs); i++ {
		if rs[i-1].Hypothesis.Score() < rs[i].Hypothesis.Score() {
			t.Fatal("results must be in descending score order")
		}
	}
}

func TestDecoder_Decode_emptyBeam(t *testing.T) {
	g := testGrammar(t, `stmt = Pass;`)
	v := vocab.New(nil)
	s := &stubScorer{
		step: func(q *StepQuery) *StepResult {
			return &StepResult{
				ActionLogProbs: logs(2, nil),
				GenProbs:       make([]float64, v.Size()),
				CopyAttn:       []float64{1.0},
			}
		},
	}
	d, err := New(g, v, s)
	if err != nil {
		t.Fatal(err)
	}

	_, err = d.Decode([]string{"x"})
	if !errors.Is(err, ErrEmptyBeam) {
		t.Fatalf("unexpected error: want: %v, got: %v", ErrEmptyBeam, err)
	}
}

func TestDecoder_Decode_scorerContractViolation(t *testing.T) {
	g := testGrammar(t, `stmt = Pass;`)
	v := vocab.New(nil)
	s := &stubScorer{
		step: func(q *StepQuery) *StepResult {
			return &StepResult{
				ActionLogProbs: logs(5, map[int]float64{0: 1.0}),
				GenProbs:       make([]float64, v.Size()),
				CopyAttn:       []float64{1.0},
			}
		},
	}
	d, err := New(g, v, s)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := d.Decode([]string{"x"}); err == nil {
		t.Fatal("an expected error didn't occur")
	}
}

func TestDecoder_Decode_parentStateLookup(t *testing.T) {
	g := testGrammar(t, `
expr = Apply(expr fn, expr* args)
     | Name(string text)
     ;
`)
	v := vocab.New([]string{"x"})
	s := &stubScorer{}
	s.step = func(q *StepQuery) *StepResult {
		if q.FrontierField == nil {
			// Choose Apply at the root.
			return &StepResult{
				ActionLogProbs: logs(3, map[int]float64{0: 0.9, 1: 0.1}),
				GenProbs:       []float64{0, 1.0},
				Gate:           Gate{Gen: 1.0},
				CopyAttn:       []float64{1.0},
			}
		}
		if q.FrontierField.Type().IsPrimitive() {
			return &StepResult{
				ActionLogProbs: logs(3, nil),
				GenProbs:       []float64{0, 1.0},
				Gate:           Gate{Gen: 1.0},
				CopyAttn:       []float64{1.0},
			}
		}
		// Composite frontier: prefer reduce where it is legal, Name otherwise.
		return &StepResult{
			ActionLogProbs: logs(3, map[int]float64{0: 0.05, 1: 0.35, 2: 0.6}),
			GenProbs:       []float64{0, 1.0},
			Gate:           Gate{Gen: 1.0},
			CopyAttn:       []float64{1.0},
		}
	}
	d, err := New(g, v, s, BeamSize(1))
	if err != nil {
		t.Fatal(err)
	}

	rs, err := d.Decode([]string{"x"})
	if err != nil {
		t.Fatal(err)
	}
	h := rs[0].Hypothesis
	if !h.Completed() {
		t.Fatal("the hypothesis must be completed")
	}
	// Steps: Apply, Name, gen x, Name, gen x, reduce.
	expected := "(Apply (fn (Name (text 'x'))) (args (Name (text 'x'))))"
	if h.Tree().String() != expected {
		t.Fatalf("unexpected tree:\nwant: %v\ngot:  %v", expected, h.Tree())
	}

	// With a beam of one, query i belongs to step i. The frontier node at
	// step 2 is the Name node created at step 1, so its parent state must be
	// the state emitted at step 1.
	q := s.queries[2]
	if q.ParentState == nil || q.ParentState.Hidden[0] != 1 {
		t.Fatalf("unexpected parent state: got: %+v", q.ParentState)
	}
	if q.PrevState == nil || q.PrevState.Hidden[0] != 1 {
		t.Fatalf("unexpected previous state: got: %+v", q.PrevState)
	}
	if q.FrontierProd == nil || q.FrontierProd.Constructor() != "Name" {
		t.Fatalf("unexpected frontier production: got: %v", q.FrontierProd)
	}
	// At step 3 the frontier is back at the root's args field, so the parent
	// state is the one emitted at step 0.
	q = s.queries[3]
	if q.ParentState == nil || q.ParentState.Hidden[0] != 0 {
		t.Fatalf("unexpected parent state: got: %+v", q.ParentState)
	}
	if q.FrontierProd == nil || q.FrontierProd.Constructor() != "Apply" {
		t.Fatalf("unexpected frontier production: got: %v", q.FrontierProd)
	}
	if q.FrontierField == nil || q.FrontierField.Name() != "args" {
		t.Fatalf("unexpected frontier field: got: %v", q.FrontierField)
	}
}

func TestDecoder_Resume(t *testing.T) {
	g := testGrammar(t, `phrase = Words(string* words);`)
	v := vocab.New([]string{"b"})
	step := func(q *StepQuery) *StepResult {
		if q.FrontierField == nil {
			return &StepResult{
				ActionLogProbs: logs(2, map[int]float64{0: 1.0}),
				GenProbs:       make([]float64, v.Size()),
				CopyAttn:       []float64{0, 0, 0},
			}
		}
		return &StepResult{
			ActionLogProbs: logs(2, map[int]float64{1: 0.9}),
			GenProbs:       []float64{0, 0.2},
			Gate:           Gate{Gen: 0.5, Copy: 0.5},
			CopyAttn:       []float64{0.3, 0.3, 0.4},
		}
	}
	tokens := []string{"a", "b", "a"}

	bounded, err := New(g, v, &stubScorer{step: step}, BeamSize(1), MaxSteps(1), KeepStates())
	if err != nil {
		t.Fatal(err)
	}
	rs, err := bounded.Decode(tokens)
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 1 || rs[0].Hypothesis.Completed() {
		t.Fatal("the bounded decode must return one incomplete hypothesis")
	}
	if len(rs[0].States) != 1 {
		t.Fatalf("unexpected state count: want: %v, got: %v", 1, len(rs[0].States))
	}

	d, err := New(g, v, &stubScorer{step: step}, BeamSize(1), KeepStates())
	if err != nil {
		t.Fatal(err)
	}
	resumed, err := d.Resume(tokens, rs[0].Hypothesis, rs[0].States)
	if err != nil {
		t.Fatal(err)
	}
	direct, err := d.Decode(tokens)
	if err != nil {
		t.Fatal(err)
	}

	if len(resumed) != 1 || !resumed[0].Hypothesis.Completed() {
		t.Fatal("the resumed decode must complete")
	}
	if resumed[0].Hypothesis.Tree().String() != direct[0].Hypothesis.Tree().String() {
		t.Fatalf("a resumed decode must match a direct one:\nwant: %v\ngot:  %v",
			direct[0].Hypothesis.Tree(), resumed[0].Hypothesis.Tree())
	}
	if !almostEqual(resumed[0].Hypothesis.Score(), direct[0].Hypothesis.Score()) {
		t.Fatalf("unexpected score: want: %v, got: %v", direct[0].Hypothesis.Score(), resumed[0].Hypothesis.Score())
	}
	if len(resumed[0].States) != resumed[0].Hypothesis.T() {
		t.Fatalf("unexpected state count: want: %v, got: %v", resumed[0].Hypothesis.T(), len(resumed[0].States))
	}

	// The seed hypothesis itself must stay untouched.
	if rs[0].Hypothesis.T() != 1 {
		t.Fatal("resuming must not mutate the seed hypothesis")
	}

	// Resuming a completed hypothesis returns it as is.
	again, err := d.Resume(tokens, resumed[0].Hypothesis, resumed[0].States)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 1 || again[0].Hypothesis != resumed[0].Hypothesis {
		t.Fatal("resuming a completed hypothesis must return it unchanged")
	}
}

func TestDecoder_Score(t *testing.T) {
	g := testGrammar(t, `phrase = Words(string* words);`)
	v := vocab.New([]string{"b"})
	words, _ := g.ProductionByConstructor("Words")
	step := func(q *StepQuery) *StepResult {
		if q.FrontierField == nil {
			return &StepResult{
				ActionLogProbs: logs(2, map[int]float64{0: 1.0}),
				GenProbs:       make([]float64, v.Size()),
				CopyAttn:       []float64{0, 0, 0},
			}
		}
		return &StepResult{
			ActionLogProbs: logs(2, map[int]float64{1: 0.9}),
			GenProbs:       []float64{0, 0.2},
			Gate:           Gate{Gen: 0.5, Copy: 0.5},
			CopyAttn:       []float64{0.3, 0.3, 0.4},
		}
	}
	tokens := []string{"a", "b", "a"}

	d, err := New(g, v, &stubScorer{step: step}, BeamSize(1))
	if err != nil {
		t.Fatal(err)
	}

	t.Run("the gold derivation scores like the decoded one", func(t *testing.T) {
		rs, err := d.Decode(tokens)
		if err != nil {
			t.Fatal(err)
		}
		score, err := d.Score(tokens, rs[0].Hypothesis.Actions())
		if err != nil {
			t.Fatal(err)
		}
		if !almostEqual(score, rs[0].Hypothesis.Score()) {
			t.Fatalf("unexpected score: want: %v, got: %v", rs[0].Hypothesis.Score(), score)
		}
	})

	t.Run("an out-of-vocabulary gold token is scored by its own copy mass", func(t *testing.T) {
		score, err := d.Score(tokens, []transition.Action{
			&transition.ApplyRuleAction{Production: words},
			&transition.GenTokenAction{Token: "a"},
			&transition.ReduceAction{},
		})
		if err != nil {
			t.Fatal(err)
		}
		expected := math.Log(1.0) + math.Log(0.5*0.7) + math.Log(0.9)
		if !almostEqual(score, expected) {
			t.Fatalf("unexpected score: want: %v, got: %v", expected, score)
		}
	})

	t.Run("an in-vocabulary gold token marginalizes both paths", func(t *testing.T) {
		score, err := d.Score(tokens, []transition.Action{
			&transition.ApplyRuleAction{Production: words},
			&transition.GenTokenAction{Token: "b"},
			&transition.ReduceAction{},
		})
		if err != nil {
			t.Fatal(err)
		}
		expected := math.Log(1.0) + math.Log(0.5*0.2+0.5*0.3) + math.Log(0.9)
		if !almostEqual(score, expected) {
			t.Fatalf("unexpected score: want: %v, got: %v", expected, score)
		}
	})

	t.Run("the cumulative score never increases as the derivation grows", func(t *testing.T) {
		gold := []transition.Action{
			&transition.ApplyRuleAction{Production: words},
			&transition.GenTokenAction{Token: "a"},
			&transition.GenTokenAction{Token: "b"},
			&transition.ReduceAction{},
		}
		prev := 0.0
		for n := 1; n <= len(gold); n++ {
			score, err := d.Score(tokens, gold[:n])
			if err != nil {
				t.Fatal(err)
			}
			if score > prev+1e-9 {
				t.Fatalf("the score increased at step %v: %v -> %v", n-1, prev, score)
			}
			prev = score
		}
	})

	t.Run("an illegal gold action is an error", func(t *testing.T) {
		_, err := d.Score(tokens, []transition.Action{
			&transition.ApplyRuleAction{Production: words},
			&transition.ReduceAction{},
		})
		if !errors.Is(err, transition.ErrInvalidGrammarState) {
			t.Fatalf("unexpected error: want: %v, got: %v", transition.ErrInvalidGrammarState, err)
		}
	})

	t.Run("an empty gold sequence is an error", func(t *testing.T) {
		if _, err := d.Score(tokens, nil); err == nil {
			t.Fatal("an expected error didn't occur")
		}
	})
}
