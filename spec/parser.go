package spec

import (
	"io"

	verr "github.com/astbeam/astbeam/error"
)

type Cardinality string

const (
	CardinalitySingle   = Cardinality("single")
	CardinalityOptional = Cardinality("optional")
	CardinalityMultiple = Cardinality("multiple")
)

type RootNode struct {
	TypeDefs []*TypeDefNode
}

type TypeDefNode struct {
	Name         string
	Constructors []*ConstructorNode
	Pos          Position
}

type ConstructorNode struct {
	Name   string
	Fields []*FieldNode
	Pos    Position
}

type FieldNode struct {
	TypeName    string
	Cardinality Cardinality
	Name        string
	Pos         Position
}

// Parse reads a grammar written in the ASDL-like surface syntax:
//
//	expr = Apply(expr fn, expr* args)
//	     | Lit(string value)
//	     ;
//
// A type name that never appears on a left-hand side denotes a primitive
// type. The cardinality markers * and ? mark sequence and optional fields.
func Parse(src io.Reader) (*RootNode, error) {
	p := newParser(src)
	return p.parse()
}

type parser struct {
	lex       *lexer
	peekedTok *token
	lastTok   *token
}

func newParser(src io.Reader) *parser {
	return &parser{
		lex: newLexer(src),
	}
}

func (p *parser) raiseSyntaxError(synErr *SyntaxError) {
	row, col := p.pos()
	panic(&verr.SpecError{
		Cause: synErr,
		Row:   row,
		Col:   col,
	})
}

func (p *parser) parse() (root *RootNode, retErr error) {
	defer func() {
		err := recover()
		if err != nil {
			var ok bool
			retErr, ok = err.(error)
			if !ok {
				panic(err)
			}
			return
		}
	}()
	return p.parseRoot(), nil
}

func (p *parser) parseRoot() *RootNode {
	def := p.parseTypeDef()
	if def == nil {
		p.raiseSyntaxError(synErrNoTypeDef)
	}
	root := &RootNode{
		TypeDefs: []*TypeDefNode{def},
	}
	for {
		def := p.parseTypeDef()
		if def == nil {
			break
		}
		root.TypeDefs = append(root.TypeDefs, def)
	}
	return root
}

func (p *parser) parseTypeDef() *TypeDefNode {
	if p.consume(tokenKindEOF) {
		return nil
	}
	if !p.consume(tokenKindID) {
		p.raiseSyntaxError(synErrNoTypeName)
	}
	name := p.lastTok.text
	pos := p.lastTok.pos
	if !p.consume(tokenKindEqual) {
		p.raiseSyntaxError(synErrNoEqual)
	}
	ctor := p.parseConstructor()
	ctors := []*ConstructorNode{ctor}
	for {
		if !p.consume(tokenKindOr) {
			break
		}
		ctor := p.parseConstructor()
		ctors = append(ctors, ctor)
	}
	if !p.consume(tokenKindSemicolon) {
		p.raiseSyntaxError(synErrNoSemicolon)
	}
	return &TypeDefNode{
		Name:         name,
		Constructors: ctors,
		Pos:          pos,
	}
}

func (p *parser) parseConstructor() *ConstructorNode {
	if !p.consume(tokenKindID) {
		p.raiseSyntaxError(synErrNoConstructor)
	}
	ctor := &ConstructorNode{
		Name: p.lastTok.text,
		Pos:  p.lastTok.pos,
	}
	if !p.consume(tokenKindLParen) {
		return ctor
	}
	if p.consume(tokenKindRParen) {
		return ctor
	}
	field := p.parseField()
	ctor.Fields = []*FieldNode{field}
	for {
		if !p.consume(tokenKindComma) {
			break
		}
		field := p.parseField()
		ctor.Fields = append(ctor.Fields, field)
	}
	if !p.consume(tokenKindRParen) {
		p.raiseSyntaxError(synErrUnclosedField)
	}
	return ctor
}

func (p *parser) parseField() *FieldNode {
	if !p.consume(tokenKindID) {
		p.raiseSyntaxError(synErrNoFieldName)
	}
	typeName := p.lastTok.text
	pos := p.lastTok.pos
	card := CardinalitySingle
	switch {
	case p.consume(tokenKindMultiple):
		card = CardinalityMultiple
	case p.consume(tokenKindOptional):
		card = CardinalityOptional
	}
	if !p.consume(tokenKindID) {
		p.raiseSyntaxError(synErrNoFieldName)
	}
	return &FieldNode{
		TypeName:    typeName,
		Cardinality: card,
		Name:        p.lastTok.text,
		Pos:         pos,
	}
}

func (p *parser) consume(expected tokenKind) bool {
	var tok *token
	var err error
	if p.peekedTok != nil {
		tok = p.peekedTok
		p.peekedTok = nil
	} else {
		tok, err = p.lex.next()
		if err != nil {
			panic(err)
		}
	}
	p.lastTok = tok
	if tok.kind == tokenKindInvalid {
		p.raiseSyntaxError(synErrInvalidToken)
	}
	if tok.kind == expected {
		return true
	}
	p.peekedTok = tok
	p.lastTok = nil

	return false
}

func (p *parser) pos() (int, int) {
	if p.peekedTok != nil {
		return p.peekedTok.pos.Row, p.peekedTok.pos.Col
	}
	if p.lastTok != nil {
		return p.lastTok.pos.Row, p.lastTok.pos.Col
	}
	return p.lex.row, p.lex.col
}
