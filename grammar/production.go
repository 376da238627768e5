package grammar

import (
	"fmt"
	"strings"

	"github.com/astbeam/astbeam/spec"
)

type TypeNum int

func (n TypeNum) Int() int {
	return int(n)
}

// Type is a grammar type. A composite type is defined by a set of
// productions; a primitive type has no productions and its fields are
// realized by GenToken actions.
type Type struct {
	name      string
	primitive bool
	num       TypeNum
}

func (t *Type) Name() string {
	return t.name
}

func (t *Type) IsPrimitive() bool {
	return t.primitive
}

func (t *Type) Num() TypeNum {
	return t.num
}

func (t *Type) String() string {
	return t.name
}

type FieldNum int

func (n FieldNum) Int() int {
	return int(n)
}

// Field is a typed slot of a production. Fields are deduplicated by their
// (type, cardinality, name) signature, so the same Field instance may be
// referenced by multiple productions and its number is stable across them.
type Field struct {
	name string
	typ  *Type
	card spec.Cardinality
	num  FieldNum
}

func (f *Field) Name() string {
	return f.name
}

func (f *Field) Type() *Type {
	return f.typ
}

func (f *Field) Cardinality() spec.Cardinality {
	return f.card
}

func (f *Field) Num() FieldNum {
	return f.num
}

func (f *Field) String() string {
	return fmt.Sprintf("%v%v %v", f.typ.name, cardinalityMark(f.card), f.name)
}

func fieldSignature(typeName string, card spec.Cardinality, name string) string {
	return fmt.Sprintf("%v%v %v", typeName, cardinalityMark(card), name)
}

func cardinalityMark(card spec.Cardinality) string {
	switch card {
	case spec.CardinalityMultiple:
		return "*"
	case spec.CardinalityOptional:
		return "?"
	}
	return ""
}

type ProductionNum int

func (n ProductionNum) Int() int {
	return int(n)
}

// Production is an immutable rule Type -> Constructor(Field...). Its number
// is issued in definition order starting at 0 and also indexes the scorer's
// action distribution.
type Production struct {
	typ    *Type
	ctor   string
	fields []*Field
	num    ProductionNum
}

func (p *Production) Type() *Type {
	return p.typ
}

func (p *Production) Constructor() string {
	return p.ctor
}

func (p *Production) Fields() []*Field {
	return p.fields
}

func (p *Production) Num() ProductionNum {
	return p.num
}

func (p *Production) String() string {
	if len(p.fields) == 0 {
		return fmt.Sprintf("%v = %v", p.typ.name, p.ctor)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%v = %v(", p.typ.name, p.ctor)
	for i, f := range p.fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.String())
	}
	b.WriteString(")")
	return b.String()
}
