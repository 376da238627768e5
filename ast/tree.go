package ast

import (
	"bytes"
	"strings"

	"github.com/astbeam/astbeam/grammar"
	"github.com/astbeam/astbeam/spec"
)

// Node is an AST node instantiated from a production by an ApplyRule action.
type Node struct {
	production  *grammar.Production
	createdTime int
	fields      []*RealizedField
}

// NewNode creates a node with one empty realized field per production field.
// createdTime is the decoding step at which the node was created; the
// decoder uses it to look up the decoder state recorded for that step.
func NewNode(prod *grammar.Production, createdTime int) *Node {
	fields := make([]*RealizedField, len(prod.Fields()))
	for i, f := range prod.Fields() {
		fields[i] = &RealizedField{
			field: f,
		}
	}
	return &Node{
		production:  prod,
		createdTime: createdTime,
		fields:      fields,
	}
}

func (n *Node) Production() *grammar.Production {
	return n.production
}

func (n *Node) CreatedTime() int {
	return n.createdTime
}

func (n *Node) Fields() []*RealizedField {
	return n.fields
}

func (n *Node) Field(name string) (*RealizedField, bool) {
	for _, f := range n.fields {
		if f.field.Name() == name {
			return f, true
		}
	}
	return nil, false
}

// Copy deep-copies the node. Child nodes are copied recursively; tokens are
// shared because they are immutable.
func (n *Node) Copy() *Node {
	c := &Node{
		production:  n.production,
		createdTime: n.createdTime,
		fields:      make([]*RealizedField, len(n.fields)),
	}
	for i, f := range n.fields {
		c.fields[i] = f.copy()
	}
	return c
}

// Size counts the nodes and tokens of the tree.
func (n *Node) Size() int {
	size := 1
	for _, f := range n.fields {
		for _, child := range f.nodes {
			size += child.Size()
		}
		size += len(f.tokens)
	}
	return size
}

// Format renders the tree as an s-expression:
//
//	(Apply (fn (Name (text 'add'))) (args (Lit (value '1'))))
//
// An unfinished or explicitly closed empty field renders as (name).
func (n *Node) Format() []byte {
	var b bytes.Buffer
	n.format(&b)
	return b.Bytes()
}

func (n *Node) format(buf *bytes.Buffer) {
	buf.WriteString("(")
	buf.WriteString(n.production.Constructor())
	for _, f := range n.fields {
		buf.WriteString(" (")
		buf.WriteString(f.field.Name())
		for _, child := range f.nodes {
			buf.WriteString(" ")
			child.format(buf)
		}
		for _, tok := range f.tokens {
			buf.WriteString(" '")
			buf.WriteString(escapeToken(tok))
			buf.WriteString("'")
		}
		buf.WriteString(")")
	}
	buf.WriteString(")")
}

func (n *Node) String() string {
	return string(n.Format())
}

func escapeToken(tok string) string {
	tok = strings.ReplaceAll(tok, `\`, `\\`)
	return strings.ReplaceAll(tok, `'`, `\'`)
}

// RealizedField is a production field attached to a node and filled with
// values. A composite field holds child nodes, a primitive field holds
// tokens.
type RealizedField struct {
	field *grammar.Field

	nodes  []*Node
	tokens []string

	// closed records an explicit Reduce on an optional or sequence field.
	closed bool
}

func (f *RealizedField) Field() *grammar.Field {
	return f.field
}

func (f *RealizedField) Nodes() []*Node {
	return f.nodes
}

func (f *RealizedField) Tokens() []string {
	return f.tokens
}

func (f *RealizedField) Len() int {
	return len(f.nodes) + len(f.tokens)
}

func (f *RealizedField) AddNode(n *Node) {
	f.nodes = append(f.nodes, n)
}

func (f *RealizedField) AddToken(tok string) {
	f.tokens = append(f.tokens, tok)
}

// Close finishes an optional or sequence field without adding further
// values.
func (f *RealizedField) Close() {
	f.closed = true
}

func (f *RealizedField) Closed() bool {
	return f.closed
}

// Finished reports whether the field accepts no more values: a single field
// once it holds its value, an optional field once it holds a value or was
// closed, a sequence field only once it was closed.
func (f *RealizedField) Finished() bool {
	switch f.field.Cardinality() {
	case spec.CardinalitySingle:
		return f.Len() > 0
	case spec.CardinalityOptional:
		return f.Len() > 0 || f.closed
	default:
		return f.closed
	}
}

func (f *RealizedField) copy() *RealizedField {
	c := &RealizedField{
		field:  f.field,
		closed: f.closed,
	}
	if len(f.nodes) > 0 {
		c.nodes = make([]*Node, len(f.nodes))
		for i, child := range f.nodes {
			c.nodes[i] = child.Copy()
		}
	}
	if len(f.tokens) > 0 {
		c.tokens = make([]string, len(f.tokens))
		copy(c.tokens, f.tokens)
	}
	return c
}
