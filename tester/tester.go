package tester

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/astbeam/astbeam/ast"
	"github.com/astbeam/astbeam/grammar"
	tspec "github.com/astbeam/astbeam/spec/test"
	"github.com/astbeam/astbeam/transition"
)

type TestResult struct {
	TestCasePath string
	Error        error
	Diffs        []*tspec.TreeDiff
}

func (r *TestResult) String() string {
	if r.Error != nil {
		const indent1 = "    "
		const indent2 = indent1 + indent1

		msgLines := strings.Split(r.Error.Error(), "\n")
		msg := fmt.Sprintf("Failed %v:\n%v%v", r.TestCasePath, indent1, strings.Join(msgLines, "\n"+indent1))
		if len(r.Diffs) == 0 {
			return msg
		}
		var diffLines []string
		for _, diff := range r.Diffs {
			diffLines = append(diffLines, diff.Message)
			diffLines = append(diffLines, fmt.Sprintf("%vexpected path: %v", indent1, diff.ExpectedPath))
			diffLines = append(diffLines, fmt.Sprintf("%vactual path:   %v", indent1, diff.ActualPath))
		}
		return fmt.Sprintf("%v\n%v%v", msg, indent2, strings.Join(diffLines, "\n"+indent2))
	}
	return fmt.Sprintf("Passed %v", r.TestCasePath)
}

type TestCaseWithMetadata struct {
	TestCase *tspec.TestCase
	FilePath string
	Error    error
}

func ListTestCases(testPath string) []*TestCaseWithMetadata {
	fi, err := os.Stat(testPath)
	if err != nil {
		return []*TestCaseWithMetadata{
			{
				FilePath: testPath,
				Error:    err,
			},
		}
	}
	if !fi.IsDir() {
		c, err := parseTestCase(testPath)
		return []*TestCaseWithMetadata{
			{
				TestCase: c,
				FilePath: testPath,
				Error:    err,
			},
		}
	}

	es, err := os.ReadDir(testPath)
	if err != nil {
		return []*TestCaseWithMetadata{
			{
				FilePath: testPath,
				Error:    err,
			},
		}
	}
	var cases []*TestCaseWithMetadata
	for _, e := range es {
		cs := ListTestCases(filepath.Join(testPath, e.Name()))
		cases = append(cases, cs...)
	}
	return cases
}

func parseTestCase(testCasePath string) (*tspec.TestCase, error) {
	f, err := os.Open(testCasePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return tspec.ParseTestCase(f)
}

// Tester replays each test case's action script through the transition
// system and diffs the derived tree against the expected one. An action that
// is illegal at its step fails the case, so the scripts double as legality
// checks on the grammar.
type Tester struct {
	Grammar *grammar.Grammar
	Cases   []*TestCaseWithMetadata
}

func (t *Tester) Run() []*TestResult {
	var rs []*TestResult
	for _, c := range t.Cases {
		rs = append(rs, runTest(t.Grammar, c))
	}
	return rs
}

func runTest(g *grammar.Grammar, c *TestCaseWithMetadata) *TestResult {
	tree, err := replay(g, c.TestCase)
	if err != nil {
		return &TestResult{
			TestCasePath: c.FilePath,
			Error:        err,
		}
	}

	diffs := tspec.DiffTree(c.TestCase.Output, genTree(tree).Fill())
	if len(diffs) > 0 {
		return &TestResult{
			TestCasePath: c.FilePath,
			Error:        fmt.Errorf("output mismatch"),
			Diffs:        diffs,
		}
	}
	return &TestResult{
		TestCasePath: c.FilePath,
	}
}

func replay(g *grammar.Grammar, c *tspec.TestCase) (*ast.Node, error) {
	srcTokens := map[string]struct{}{}
	for _, tok := range c.Utterance {
		srcTokens[tok] = struct{}{}
	}

	sys := transition.NewSystem(g)
	h := transition.New()
	for t, sa := range c.Actions {
		action, err := resolveAction(g, sa)
		if err != nil {
			return nil, fmt.Errorf("step %v: %w", t, err)
		}

		kinds, err := sys.ValidActionKinds(h)
		if err != nil {
			return nil, fmt.Errorf("step %v: %w", t, err)
		}
		if !containsKind(kinds, action.Kind()) {
			return nil, fmt.Errorf("step %v: %v is not a legal continuation", t, action)
		}
		if a, ok := action.(*transition.ApplyRuleAction); ok {
			prods, err := sys.ValidProductions(h)
			if err != nil {
				return nil, fmt.Errorf("step %v: %w", t, err)
			}
			if !containsProduction(prods, a.Production) {
				return nil, fmt.Errorf("step %v: production %v does not derive the frontier type", t, a.Production)
			}
		}

		entry := transition.NewActionEntry(action, t)
		if h.Tree() != nil {
			entry.ParentT = h.FrontierNode().CreatedTime()
			entry.FrontierProd = h.FrontierNode().Production()
			entry.FrontierField = h.FrontierField().Field()
		}
		if a, ok := action.(*transition.GenTokenAction); ok {
			if _, ok := srcTokens[a.Token]; ok {
				entry.CopiedFromSource = true
			}
		}
		if err := h.Apply(entry); err != nil {
			return nil, fmt.Errorf("step %v: %w", t, err)
		}
	}

	if !h.Completed() {
		return nil, fmt.Errorf("the action script does not derive a complete tree")
	}
	return h.Tree(), nil
}

func resolveAction(g *grammar.Grammar, sa *tspec.Action) (transition.Action, error) {
	switch sa.Name {
	case "apply":
		prod, ok := g.ProductionByConstructor(sa.Constructor)
		if !ok {
			return nil, fmt.Errorf("unknown constructor: %v", sa.Constructor)
		}
		return &transition.ApplyRuleAction{
			Production: prod,
		}, nil
	case "gen":
		return &transition.GenTokenAction{
			Token: sa.Token,
		}, nil
	case "reduce":
		return &transition.ReduceAction{}, nil
	}
	return nil, fmt.Errorf("unknown action: %v", sa.Name)
}

func containsKind(kinds []transition.ActionKind, kind transition.ActionKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func containsProduction(prods []*grammar.Production, prod *grammar.Production) bool {
	for _, p := range prods {
		if p == prod {
			return true
		}
	}
	return false
}

func genTree(n *ast.Node) *tspec.Tree {
	children := make([]*tspec.Tree, len(n.Fields()))
	for i, f := range n.Fields() {
		var vals []*tspec.Tree
		for _, child := range f.Nodes() {
			vals = append(vals, genTree(child))
		}
		for _, tok := range f.Tokens() {
			vals = append(vals, tspec.NewTerminalTree(tok))
		}
		children[i] = tspec.NewTree(f.Field().Name(), vals...)
	}
	return tspec.NewTree(n.Production().Constructor(), children...)
}
