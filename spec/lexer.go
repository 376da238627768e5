package spec

import (
	"bufio"
	"io"
	"strings"

	verr "github.com/astbeam/astbeam/error"
)

type tokenKind string

const (
	tokenKindID        = tokenKind("id")
	tokenKindEqual     = tokenKind("=")
	tokenKindOr        = tokenKind("|")
	tokenKindLParen    = tokenKind("(")
	tokenKindRParen    = tokenKind(")")
	tokenKindComma     = tokenKind(",")
	tokenKindSemicolon = tokenKind(";")
	tokenKindMultiple  = tokenKind("*")
	tokenKindOptional  = tokenKind("?")
	tokenKindEOF       = tokenKind("eof")
	tokenKindInvalid   = tokenKind("invalid")
)

type Position struct {
	Row int
	Col int
}

func newPosition(row, col int) Position {
	return Position{
		Row: row,
		Col: col,
	}
}

type token struct {
	kind tokenKind
	text string
	pos  Position
}

func newSymbolToken(kind tokenKind, pos Position) *token {
	return &token{
		kind: kind,
		pos:  pos,
	}
}

func newIDToken(text string, pos Position) *token {
	return &token{
		kind: tokenKindID,
		text: text,
		pos:  pos,
	}
}

func newEOFToken(pos Position) *token {
	return &token{
		kind: tokenKindEOF,
		pos:  pos,
	}
}

func newInvalidToken(text string, pos Position) *token {
	return &token{
		kind: tokenKindInvalid,
		text: text,
		pos:  pos,
	}
}

const nullChar = '\x00'

type lexer struct {
	src        *bufio.Reader
	row        int
	col        int
	lastChar   rune
	reachedEOF bool
	prevRow    int
	prevCol    int
}

func newLexer(src io.Reader) *lexer {
	return &lexer{
		src:      bufio.NewReader(src),
		row:      1,
		col:      0,
		lastChar: nullChar,
	}
}

func (l *lexer) next() (*token, error) {
	c, eof, err := l.skipWSsAndComments()
	if err != nil {
		return nil, err
	}
	if eof {
		return newEOFToken(newPosition(l.row, l.col)), nil
	}

	pos := newPosition(l.row, l.col)
	switch c {
	case '=':
		return newSymbolToken(tokenKindEqual, pos), nil
	case '|':
		return newSymbolToken(tokenKindOr, pos), nil
	case '(':
		return newSymbolToken(tokenKindLParen, pos), nil
	case ')':
		return newSymbolToken(tokenKindRParen, pos), nil
	case ',':
		return newSymbolToken(tokenKindComma, pos), nil
	case ';':
		return newSymbolToken(tokenKindSemicolon, pos), nil
	case '*':
		return newSymbolToken(tokenKindMultiple, pos), nil
	case '?':
		return newSymbolToken(tokenKindOptional, pos), nil
	}
	if isIDChar(c) && !isDigit(c) {
		text, err := l.readID(c)
		if err != nil {
			return nil, err
		}
		return newIDToken(text, pos), nil
	}

	return newInvalidToken(string(c), pos), nil
}

func (l *lexer) skipWSsAndComments() (rune, bool, error) {
	for {
		c, eof, err := l.read()
		if err != nil || eof {
			return nullChar, eof, err
		}
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			continue
		case c == '/':
			c2, eof, err := l.read()
			if err != nil {
				return nullChar, false, err
			}
			if eof || c2 != '/' {
				return nullChar, false, &verr.SpecError{
					Cause:  synErrInvalidChar,
					Detail: "/",
					Row:    l.row,
					Col:    l.col - 1,
				}
			}
			for {
				c, eof, err := l.read()
				if err != nil {
					return nullChar, false, err
				}
				if eof || c == '\n' {
					break
				}
			}
			continue
		}
		return c, false, nil
	}
}

func (l *lexer) readID(head rune) (string, error) {
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
		if !isIDChar(c) {
			l.restore()
			break
		}
		b.WriteRune(c)
	}
	return b.String(), nil
}

func (l *lexer) read() (rune, bool, error) {
	c, _, err := l.src.ReadRune()
	if err != nil {
		if err == io.EOF {
			l.reachedEOF = true
			return nullChar, true, nil
		}
		return nullChar, false, err
	}
	l.prevRow = l.row
	l.prevCol = l.col
	if l.lastChar == '\n' {
		l.row++
		l.col = 1
	} else {
		l.col++
	}
	l.lastChar = c
	return c, false, nil
}

// restore puts the last read character back. Only one character can be
// restored, which is all the ID scanner needs.
func (l *lexer) restore() {
	_ = l.src.UnreadRune()
	l.row = l.prevRow
	l.col = l.prevCol
	l.lastChar = nullChar
}

func isIDChar(c rune) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' || isDigit(c)
}

func isDigit(c rune) bool {
	return c >= '0' && c <= '9'
}
