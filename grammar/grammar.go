package grammar

import (
	"io"

	verr "github.com/astbeam/astbeam/error"
	"github.com/astbeam/astbeam/spec"
)

// Grammar holds the productions, the deduplicated field table, and the type
// table of one ASDL definition, all carrying stable numbers usable as
// embedding-table indices by a scorer.
type Grammar struct {
	types       []*Type
	typeTable   map[string]*Type
	prods       []*Production
	prodsByType map[TypeNum][]*Production
	ctorTable   map[string]*Production
	fields      []*Field
	root        *Type
}

type GrammarBuilder struct {
	AST *spec.RootNode

	errs verr.SpecErrors
}

func (b *GrammarBuilder) Build() (*Grammar, error) {
	if len(b.AST.TypeDefs) == 0 {
		return nil, verr.SpecErrors{
			{
				Cause: semErrNoTypeDef,
			},
		}
	}

	g := &Grammar{
		typeTable:   map[string]*Type{},
		prodsByType: map[TypeNum][]*Production{},
		ctorTable:   map[string]*Production{},
	}

	// Composite types are exactly the left-hand sides. They are registered
	// first so that field resolution can distinguish them from primitives.
	for _, def := range b.AST.TypeDefs {
		if _, ok := g.typeTable[def.Name]; ok {
			b.errs = append(b.errs, &verr.SpecError{
				Cause:  semErrDuplicateType,
				Detail: def.Name,
				Row:    def.Pos.Row,
				Col:    def.Pos.Col,
			})
			continue
		}
		g.internType(def.Name, false)
	}
	g.root = g.typeTable[b.AST.TypeDefs[0].Name]

	fieldTable := map[string]*Field{}
	for _, def := range b.AST.TypeDefs {
		lhs := g.typeTable[def.Name]
		for _, ctor := range def.Constructors {
			if _, ok := g.ctorTable[ctor.Name]; ok {
				b.errs = append(b.errs, &verr.SpecError{
					Cause:  semErrDuplicateCtor,
					Detail: ctor.Name,
					Row:    ctor.Pos.Row,
					Col:    ctor.Pos.Col,
				})
				continue
			}

			fields := make([]*Field, 0, len(ctor.Fields))
			names := map[string]struct{}{}
			for _, f := range ctor.Fields {
				if _, ok := names[f.Name]; ok {
					b.errs = append(b.errs, &verr.SpecError{
						Cause:  semErrDuplicateField,
						Detail: f.Name,
						Row:    f.Pos.Row,
						Col:    f.Pos.Col,
					})
					continue
				}
				names[f.Name] = struct{}{}

				fTyp, ok := g.typeTable[f.TypeName]
				if !ok {
					fTyp = g.internType(f.TypeName, true)
				}
				sig := fieldSignature(f.TypeName, f.Cardinality, f.Name)
				field, ok := fieldTable[sig]
				if !ok {
					field = &Field{
						name: f.Name,
						typ:  fTyp,
						card: f.Cardinality,
						num:  FieldNum(len(g.fields)),
					}
					fieldTable[sig] = field
					g.fields = append(g.fields, field)
				}
				fields = append(fields, field)
			}

			prod := &Production{
				typ:    lhs,
				ctor:   ctor.Name,
				fields: fields,
				num:    ProductionNum(len(g.prods)),
			}
			g.prods = append(g.prods, prod)
			g.prodsByType[lhs.num] = append(g.prodsByType[lhs.num], prod)
			g.ctorTable[ctor.Name] = prod
		}
	}

	if len(b.errs) > 0 {
		return nil, b.errs
	}

	return g, nil
}

func (g *Grammar) internType(name string, primitive bool) *Type {
	t := &Type{
		name:      name,
		primitive: primitive,
		num:       TypeNum(len(g.types)),
	}
	g.types = append(g.types, t)
	g.typeTable[name] = t
	return t
}

// Parse reads an ASDL grammar source and builds its Grammar.
func Parse(src io.Reader) (*Grammar, error) {
	root, err := spec.Parse(src)
	if err != nil {
		return nil, err
	}
	b := &GrammarBuilder{
		AST: root,
	}
	return b.Build()
}

// Count returns the number of productions. The scorer's action distribution
// has Count()+1 entries; see ReduceNum.
func (g *Grammar) Count() int {
	return len(g.prods)
}

// ReduceNum is the sentinel slot just past the last production that the
// action distribution reserves for the Reduce action.
func (g *Grammar) ReduceNum() ProductionNum {
	return ProductionNum(len(g.prods))
}

func (g *Grammar) Productions() []*Production {
	return g.prods
}

func (g *Grammar) Production(num ProductionNum) (*Production, bool) {
	if num < 0 || int(num) >= len(g.prods) {
		return nil, false
	}
	return g.prods[num], true
}

// ProductionsOfType returns the productions whose left-hand side is typ, in
// definition order. A primitive type has none.
func (g *Grammar) ProductionsOfType(typ *Type) []*Production {
	return g.prodsByType[typ.num]
}

// ProductionByConstructor looks a production up by its constructor name.
// Constructor names are unique within a grammar.
func (g *Grammar) ProductionByConstructor(ctor string) (*Production, bool) {
	prod, ok := g.ctorTable[ctor]
	return prod, ok
}

func (g *Grammar) Types() []*Type {
	return g.types
}

func (g *Grammar) Type(name string) (*Type, bool) {
	t, ok := g.typeTable[name]
	return t, ok
}

func (g *Grammar) Fields() []*Field {
	return g.fields
}

func (g *Grammar) Root() *Type {
	return g.root
}
