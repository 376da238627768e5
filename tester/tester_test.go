package tester

import (
	"strings"
	"testing"

	"github.com/astbeam/astbeam/grammar"
	tspec "github.com/astbeam/astbeam/spec/test"
)

func TestTester_Run(t *testing.T) {
	grammarSrc := `
expr = Apply(expr fn, expr* args)
     | Name(string text)
     | Lit(string value)
     ;
`

	tests := []struct {
		testSrc string
		error   bool
	}{
		{
			testSrc: `Test
---
add x 1
---
apply Apply
apply Name
gen add
apply Name
gen x
apply Lit
gen 1
reduce
---
(Apply
    (fn
        (Name (text 'add')))
    (args
        (Name (text 'x'))
        (Lit (value '1'))))
`,
		},
		{
			testSrc: `The wildcard kind matches any constructor
---
add
---
apply Name
gen add
---
(_ (text 'add'))
`,
		},
		{
			testSrc: `A mismatched tree fails
---
add
---
apply Name
gen add
---
(Name (text 'sub'))
`,
			error: true,
		},
		{
			testSrc: `An unknown constructor fails
---
add
---
apply Quux
gen add
---
(Name (text 'add'))
`,
			error: true,
		},
		{
			testSrc: `An illegal action fails
---
add
---
apply Name
reduce
---
(Name (text 'add'))
`,
			error: true,
		},
		{
			testSrc: `An incomplete script fails
---
add
---
apply Apply
apply Name
gen add
---
(Apply (fn (Name (text 'add'))) (args))
`,
			error: true,
		},
	}
	for i, tt := range tests {
		g, err := grammar.Parse(strings.NewReader(grammarSrc))
		if err != nil {
			t.Fatal(err)
		}
		c, err := tspec.ParseTestCase(strings.NewReader(tt.testSrc))
		if err != nil {
			t.Fatal(err)
		}
		tester := &Tester{
			Grammar: g,
			Cases: []*TestCaseWithMetadata{
				{
					TestCase: c,
					FilePath: "test",
				},
			},
		}
		rs := tester.Run()
		if len(rs) != 1 {
			t.Fatalf("#%v: unexpected result count: want: %v, got: %v", i, 1, len(rs))
		}
		if tt.error {
			if rs[0].Error == nil {
				t.Fatalf("#%v: an expected error didn't occur", i)
			}
		} else {
			if rs[0].Error != nil {
				t.Fatalf("#%v: unexpected error: %v", i, rs[0].Error)
			}
		}
	}
}
