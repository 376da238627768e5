package test

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

type TreeDiff struct {
	ExpectedPath string
	ActualPath   string
	Message      string
}

func newTreeDiff(expected, actual *Tree, message string) *TreeDiff {
	return &TreeDiff{
		ExpectedPath: expected.path(),
		ActualPath:   actual.path(),
		Message:      message,
	}
}

// Tree is the comparison form of a decoded AST. A node tree carries the
// constructor in Kind and one child per field (the field tree carries the
// field name in Kind); a terminal tree carries a token in Lexeme.
type Tree struct {
	Parent   *Tree
	Offset   int
	Kind     string
	Children []*Tree
	Lexeme   string
	Terminal bool
}

func NewTree(kind string, children ...*Tree) *Tree {
	return &Tree{
		Kind:     kind,
		Children: children,
	}
}

func NewTerminalTree(lexeme string) *Tree {
	return &Tree{
		Lexeme:   lexeme,
		Terminal: true,
	}
}

func (t *Tree) Fill() *Tree {
	for i, c := range t.Children {
		c.Parent = t
		c.Offset = i
		c.Fill()
	}
	return t
}

func (t *Tree) path() string {
	if t.Parent == nil {
		return t.Kind
	}
	if t.Terminal {
		return fmt.Sprintf("%v.[%v]'%v'", t.Parent.path(), t.Offset, t.Lexeme)
	}
	return fmt.Sprintf("%v.[%v]%v", t.Parent.path(), t.Offset, t.Kind)
}

func (t *Tree) Format() []byte {
	var b bytes.Buffer
	t.format(&b, 0)
	return b.Bytes()
}

func (t *Tree) format(buf *bytes.Buffer, depth int) {
	for i := 0; i < depth; i++ {
		buf.WriteString("    ")
	}
	if t.Terminal {
		buf.WriteString("'")
		buf.WriteString(escapeLexeme(t.Lexeme))
		buf.WriteString("'")
		return
	}
	buf.WriteString("(")
	buf.WriteString(t.Kind)
	if len(t.Children) > 0 {
		buf.WriteString("\n")
		for i, c := range t.Children {
			c.format(buf, depth+1)
			if i < len(t.Children)-1 {
				buf.WriteString("\n")
			}
		}
	}
	buf.WriteString(")")
}

func escapeLexeme(lexeme string) string {
	lexeme = strings.ReplaceAll(lexeme, `\`, `\\`)
	return strings.ReplaceAll(lexeme, `'`, `\'`)
}

// DiffTree compares two trees structurally. The kind '_' in the expected
// tree matches any node.
func DiffTree(expected, actual *Tree) []*TreeDiff {
	if expected == nil && actual == nil {
		return nil
	}
	if expected.Terminal != actual.Terminal {
		msg := fmt.Sprintf("unexpected value: expected '%v' but got '%v'", expected.describe(), actual.describe())
		return []*TreeDiff{
			newTreeDiff(expected, actual, msg),
		}
	}
	if expected.Terminal {
		if expected.Lexeme != actual.Lexeme {
			msg := fmt.Sprintf("unexpected token: expected '%v' but got '%v'", expected.Lexeme, actual.Lexeme)
			return []*TreeDiff{
				newTreeDiff(expected, actual, msg),
			}
		}
		return nil
	}
	if expected.Kind != "_" && actual.Kind != expected.Kind {
		msg := fmt.Sprintf("unexpected kind: expected '%v' but got '%v'", expected.Kind, actual.Kind)
		return []*TreeDiff{
			newTreeDiff(expected, actual, msg),
		}
	}
	if len(actual.Children) != len(expected.Children) {
		msg := fmt.Sprintf("unexpected node count: expected %v but got %v", len(expected.Children), len(actual.Children))
		return []*TreeDiff{
			newTreeDiff(expected, actual, msg),
		}
	}
	var diffs []*TreeDiff
	for i, exp := range expected.Children {
		if ds := DiffTree(exp, actual.Children[i]); len(ds) > 0 {
			diffs = append(diffs, ds...)
		}
	}
	return diffs
}

func (t *Tree) describe() string {
	if t.Terminal {
		return t.Lexeme
	}
	return t.Kind
}

// Action is one line of a test case's action script.
type Action struct {
	Name        string // "apply", "gen", or "reduce"
	Constructor string // apply only
	Token       string // gen only
}

// TestCase is one decoding scenario: an utterance, the action script to
// replay, and the tree the script must derive.
type TestCase struct {
	Description string
	Utterance   []string
	Actions     []*Action
	Output      *Tree
}

// ParseTestCase reads a test case consisting of four parts delimited by
// lines of hyphens: a description, a whitespace-separated utterance, an
// action script with one action per line, and the expected tree as an
// s-expression.
func ParseTestCase(r io.Reader) (*TestCase, error) {
	parts, err := splitIntoParts(r)
	if err != nil {
		return nil, err
	}
	if len(parts) != 4 {
		return nil, fmt.Errorf("too many or too few part delimiters: a test case consists of just four parts: %v parts found", len(parts))
	}

	actions, err := parseActionScript(parts[2].buf)
	if err != nil {
		return nil, err
	}

	tp := &treeParser{
		lineOffset: parts[0].lineCount + parts[1].lineCount + parts[2].lineCount + 3,
	}
	tree, err := tp.parseTree(bytes.NewReader(parts[3].buf))
	if err != nil {
		return nil, err
	}

	return &TestCase{
		Description: string(parts[0].buf),
		Utterance:   strings.Fields(string(parts[1].buf)),
		Actions:     actions,
		Output:      tree,
	}, nil
}

func parseActionScript(src []byte) ([]*Action, error) {
	var actions []*Action
	for i, line := range strings.Split(string(src), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch name {
		case "apply":
			if arg == "" {
				return nil, fmt.Errorf("action script line %v: apply needs a constructor name", i+1)
			}
			actions = append(actions, &Action{
				Name:        name,
				Constructor: arg,
			})
		case "gen":
			if arg == "" {
				return nil, fmt.Errorf("action script line %v: gen needs a token", i+1)
			}
			actions = append(actions, &Action{
				Name:  name,
				Token: arg,
			})
		case "reduce":
			if arg != "" {
				return nil, fmt.Errorf("action script line %v: reduce takes no argument", i+1)
			}
			actions = append(actions, &Action{
				Name: name,
			})
		default:
			return nil, fmt.Errorf("action script line %v: unknown action: %v", i+1, name)
		}
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("an action script must contain at least one action")
	}
	return actions, nil
}

type testCasePart struct {
	buf       []byte
	lineCount int
}

func splitIntoParts(r io.Reader) ([]*testCasePart, error) {
	var bufs []*testCasePart
	s := bufio.NewScanner(r)
	for {
		buf, lineCount, err := readPart(s)
		if err != nil {
			return nil, err
		}
		if buf == nil {
			break
		}
		bufs = append(bufs, &testCasePart{
			buf:       buf,
			lineCount: lineCount,
		})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return bufs, nil
}

var reDelim = regexp.MustCompile(`^\s*---+\s*$`)

func readPart(s *bufio.Scanner) ([]byte, int, error) {
	if !s.Scan() {
		return nil, 0, s.Err()
	}
	buf := &bytes.Buffer{}
	line := s.Bytes()
	if reDelim.Match(line) {
		// Return an empty slice because (*bytes.Buffer).Bytes() returns nil if we have never written data.
		return []byte{}, 0, nil
	}
	_, err := buf.Write(line)
	if err != nil {
		return nil, 0, err
	}
	lineCount := 1
	for s.Scan() {
		line := s.Bytes()
		if reDelim.Match(line) {
			return buf.Bytes(), lineCount, nil
		}
		_, err := buf.Write([]byte("\n"))
		if err != nil {
			return nil, 0, err
		}
		_, err = buf.Write(line)
		if err != nil {
			return nil, 0, err
		}
		lineCount++
	}
	if err := s.Err(); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), lineCount, nil
}
