package test

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// treeParser parses the expected-tree part of a test case:
//
//	tree    ::= '(' kind value* ')'
//	value   ::= tree | '\'' lexeme '\''
//
// A lexeme may contain any character; '\' and '\'' are escaped with a
// backslash. lineOffset translates positions back into the test case file.
type treeParser struct {
	lineOffset int
}

func (tp *treeParser) parseTree(src io.Reader) (*Tree, error) {
	l := &treeLexer{
		src: bufio.NewReader(src),
		col: -1,
	}
	t, err := tp.parseNode(l)
	if err != nil {
		return nil, err
	}
	tok, err := l.next()
	if err != nil {
		return nil, err
	}
	if tok.kind != treeTokenKindEOF {
		return nil, tp.errorf(tok, "only one tree may appear")
	}
	return t.Fill(), nil
}

func (tp *treeParser) parseNode(l *treeLexer) (*Tree, error) {
	tok, err := l.next()
	if err != nil {
		return nil, err
	}
	if tok.kind != treeTokenKindLParen {
		return nil, tp.errorf(tok, "a tree must start with '('")
	}
	tok, err = l.next()
	if err != nil {
		return nil, err
	}
	if tok.kind != treeTokenKindID {
		return nil, tp.errorf(tok, "a kind name must follow '('")
	}
	t := NewTree(tok.text)
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		switch tok.kind {
		case treeTokenKindRParen:
			return t, nil
		case treeTokenKindLParen:
			l.unread(tok)
			child, err := tp.parseNode(l)
			if err != nil {
				return nil, err
			}
			t.Children = append(t.Children, child)
		case treeTokenKindLexeme:
			t.Children = append(t.Children, NewTerminalTree(tok.text))
		default:
			return nil, tp.errorf(tok, "a tree must end with ')'")
		}
	}
}

func (tp *treeParser) errorf(tok *treeToken, format string, a ...interface{}) error {
	head := fmt.Sprintf("%v:%v: ", tp.lineOffset+tok.row+1, tok.col+1)
	return fmt.Errorf(head+format, a...)
}

type treeTokenKind string

const (
	treeTokenKindLParen  = treeTokenKind("(")
	treeTokenKindRParen  = treeTokenKind(")")
	treeTokenKindID      = treeTokenKind("id")
	treeTokenKindLexeme  = treeTokenKind("lexeme")
	treeTokenKindEOF     = treeTokenKind("eof")
	treeTokenKindInvalid = treeTokenKind("invalid")
)

type treeToken struct {
	kind treeTokenKind
	text string
	row  int
	col  int
}

type treeLexer struct {
	src      *bufio.Reader
	row      int
	col      int
	peeked   *treeToken
	lastChar rune
	prevRow  int
	prevCol  int
}

func (l *treeLexer) next() (*treeToken, error) {
	if l.peeked != nil {
		tok := l.peeked
		l.peeked = nil
		return tok, nil
	}

	for {
		c, eof, err := l.read()
		if err != nil {
			return nil, err
		}
		if eof {
			return &treeToken{
				kind: treeTokenKindEOF,
				row:  l.row,
				col:  l.col,
			}, nil
		}
		if c == ' ' || c == '\t' || c == '\n' {
			continue
		}

		row := l.row
		col := l.col
		switch {
		case c == '(':
			return &treeToken{
				kind: treeTokenKindLParen,
				row:  row,
				col:  col,
			}, nil
		case c == ')':
			return &treeToken{
				kind: treeTokenKindRParen,
				row:  row,
				col:  col,
			}, nil
		case c == '\'':
			text, err := l.readLexeme()
			if err != nil {
				return nil, err
			}
			return &treeToken{
				kind: treeTokenKindLexeme,
				text: text,
				row:  row,
				col:  col,
			}, nil
		case isKindChar(c):
			text, err := l.readID(c)
			if err != nil {
				return nil, err
			}
			return &treeToken{
				kind: treeTokenKindID,
				text: text,
				row:  row,
				col:  col,
			}, nil
		default:
			return &treeToken{
				kind: treeTokenKindInvalid,
				text: string(c),
				row:  row,
				col:  col,
			}, nil
		}
	}
}

func (l *treeLexer) unread(tok *treeToken) {
	l.peeked = tok
}

func (l *treeLexer) readLexeme() (string, error) {
	var b strings.Builder
	for {
		c, eof, err := l.read()
		if err != nil {
			return "", err
		}
		if eof {
			return "", fmt.Errorf("a lexeme must be closed with '")
		}
		switch c {
		case '\'':
			return b.String(), nil
		case '\\':
			e, eof, err := l.read()
			if err != nil {
				return "", err
			}
			if eof {
				return "", fmt.Errorf("a lexeme must be closed with '")
			}
			if e != '\\' && e != '\'' {
				return "", fmt.Errorf("invalid escape sequence: \\%v", string(e))
			}
			b.WriteRune(e)
		default:
			b.WriteRune(c)
		}
	}
}

func (l *treeLexer) readID(head rune) (string, error) {
	var b strings.Builder
	b.WriteRune(head)
	for {
		c, eof, err := l.read()
		if err != nil {
			return "", err
		}
		if eof {
			break
		}
		if !isKindChar(c) {
			l.restore()
			break
		}
		b.WriteRune(c)
	}
	return b.String(), nil
}

func (l *treeLexer) read() (rune, bool, error) {
	c, _, err := l.src.ReadRune()
	if err != nil {
		if err == io.EOF {
			return 0, true, nil
		}
		return 0, false, err
	}
	l.prevRow = l.row
	l.prevCol = l.col
	if l.lastChar == '\n' {
		l.row++
		l.col = 0
	} else {
		l.col++
	}
	l.lastChar = c
	return c, false, nil
}

// restore puts the last read character back. Only one character can be
// restored, which is all the kind scanner needs.
func (l *treeLexer) restore() {
	_ = l.src.UnreadRune()
	l.row = l.prevRow
	l.col = l.prevCol
	l.lastChar = 0
}

func isKindChar(c rune) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '_'
}
