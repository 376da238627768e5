package spec

import (
	"errors"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	typeDef := func(name string, ctors ...*ConstructorNode) *TypeDefNode {
		return &TypeDefNode{
			Name:         name,
			Constructors: ctors,
		}
	}
	ctor := func(name string, fields ...*FieldNode) *ConstructorNode {
		return &ConstructorNode{
			Name:   name,
			Fields: fields,
		}
	}
	field := func(typeName string, name string) *FieldNode {
		return &FieldNode{
			TypeName:    typeName,
			Cardinality: CardinalitySingle,
			Name:        name,
		}
	}
	seqField := func(typeName string, name string) *FieldNode {
		return &FieldNode{
			TypeName:    typeName,
			Cardinality: CardinalityMultiple,
			Name:        name,
		}
	}
	optField := func(typeName string, name string) *FieldNode {
		return &FieldNode{
			TypeName:    typeName,
			Cardinality: CardinalityOptional,
			Name:        name,
		}
	}

	tests := []struct {
		caption string
		src     string
		ast     *RootNode
		synErr  *SyntaxError
	}{
		{
			caption: "a single type definition with a fieldless constructor is a valid grammar",
			src:     `stmt = Pass;`,
			ast: &RootNode{
				TypeDefs: []*TypeDefNode{
					typeDef("stmt", ctor("Pass")),
				},
			},
		},
		{
			caption: "a constructor may take fields of all cardinalities",
			src:     `expr = Apply(expr fn, expr* args, string? label);`,
			ast: &RootNode{
				TypeDefs: []*TypeDefNode{
					typeDef("expr",
						ctor("Apply",
							field("expr", "fn"),
							seqField("expr", "args"),
							optField("string", "label"),
						),
					),
				},
			},
		},
		{
			caption: "a type definition may have alternative constructors",
			src: `
expr = Apply(expr fn, expr* args)
     | Lit(string value)
     ;
`,
			ast: &RootNode{
				TypeDefs: []*TypeDefNode{
					typeDef("expr",
						ctor("Apply",
							field("expr", "fn"),
							seqField("expr", "args"),
						),
						ctor("Lit",
							field("string", "value"),
						),
					),
				},
			},
		},
		{
			caption: "a grammar may contain multiple type definitions",
			src: `
stmt = ExprStmt(expr value);
expr = Lit(string value);
`,
			ast: &RootNode{
				TypeDefs: []*TypeDefNode{
					typeDef("stmt", ctor("ExprStmt", field("expr", "value"))),
					typeDef("expr", ctor("Lit", field("string", "value"))),
				},
			},
		},
		{
			caption: "an empty field list is allowed",
			src:     `stmt = Pass();`,
			ast: &RootNode{
				TypeDefs: []*TypeDefNode{
					typeDef("stmt", ctor("Pass")),
				},
			},
		},
		{
			caption: "a grammar must have at least one type definition",
			src:     ``,
			synErr:  synErrNoTypeDef,
		},
		{
			caption: "a type definition needs the equal sign",
			src:     `expr Lit;`,
			synErr:  synErrNoEqual,
		},
		{
			caption: "a constructor name must follow the equal sign",
			src:     `expr = ;`,
			synErr:  synErrNoConstructor,
		},
		{
			caption: "a constructor name must follow the vertical bar",
			src:     `expr = Lit(string value) | ;`,
			synErr:  synErrNoConstructor,
		},
		{
			caption: "a type definition must end with the semicolon",
			src:     `expr = Lit(string value)`,
			synErr:  synErrNoSemicolon,
		},
		{
			caption: "a field needs a name following its type",
			src:     `expr = Lit(string);`,
			synErr:  synErrNoFieldName,
		},
		{
			caption: "a field list must be closed",
			src:     `expr = Lit(string value;`,
			synErr:  synErrUnclosedField,
		},
		{
			caption: "an invalid token makes parsing fail",
			src:     `expr = Lit(string !value);`,
			synErr:  synErrInvalidToken,
		},
	}
	for _, tt := range tests {
		t.Run(tt.caption, func(t *testing.T) {
			ast, err := Parse(strings.NewReader(tt.src))
			if tt.synErr != nil {
				if err == nil {
					t.Fatal("an expected error didn't occur")
				}
				if !errors.Is(err, tt.synErr) {
					t.Fatalf("unexpected error: want: %v, got: %v", tt.synErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testRootNode(t, tt.ast, ast)
		})
	}
}

func testRootNode(t *testing.T, expected, actual *RootNode) {
	t.Helper()
	if len(actual.TypeDefs) != len(expected.TypeDefs) {
		t.Fatalf("unexpected type definition count: want: %v, got: %v", len(expected.TypeDefs), len(actual.TypeDefs))
	}
	for i, eDef := range expected.TypeDefs {
		aDef := actual.TypeDefs[i]
		if aDef.Name != eDef.Name {
			t.Fatalf("unexpected type name: want: %v, got: %v", eDef.Name, aDef.Name)
		}
		if len(aDef.Constructors) != len(eDef.Constructors) {
			t.Fatalf("unexpected constructor count: want: %v, got: %v", len(eDef.Constructors), len(aDef.Constructors))
		}
		for j, eCtor := range eDef.Constructors {
			aCtor := aDef.Constructors[j]
			if aCtor.Name != eCtor.Name {
				t.Fatalf("unexpected constructor name: want: %v, got: %v", eCtor.Name, aCtor.Name)
			}
			if len(aCtor.Fields) != len(eCtor.Fields) {
				t.Fatalf("unexpected field count: want: %v, got: %v", len(eCtor.Fields), len(aCtor.Fields))
			}
			for k, eField := range eCtor.Fields {
				aField := aCtor.Fields[k]
				if aField.TypeName != eField.TypeName || aField.Cardinality != eField.Cardinality || aField.Name != eField.Name {
					t.Fatalf("unexpected field: want: %+v, got: %+v", eField, aField)
				}
			}
		}
	}
}
