package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"

	"github.com/astbeam/astbeam/grammar"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:     "show <grammar file path>",
		Short:   "Print the types, productions, and fields of a grammar",
		Example: `  astbeam show grammar.asdl`,
		Args:    cobra.ExactArgs(1),
		RunE:    runShow,
	}
	rootCmd.AddCommand(cmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	g, err := readGrammar(args[0])
	if err != nil {
		return err
	}

	err = writeGrammar(os.Stdout, g)
	if err != nil {
		return err
	}

	return nil
}

func readGrammar(path string) (*grammar.Grammar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("Cannot open the grammar %s: %w", path, err)
	}
	defer f.Close()

	g, err := grammar.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("Cannot parse the grammar %s:\n%w", path, err)
	}

	return g, nil
}

const grammarTemplate = `# Types

{{ range .Types -}}
{{ printType . }}
{{ end }}
# Productions

{{ range .Productions -}}
{{ printProduction . }}
{{ end -}}
{{ printReduce . }}

# Fields

{{ range .Fields -}}
{{ printField . }}
{{ end -}}`

func writeGrammar(w io.Writer, g *grammar.Grammar) error {
	fns := template.FuncMap{
		"printType": func(t *grammar.Type) string {
			var notes []string
			if t.IsPrimitive() {
				notes = append(notes, "primitive")
			}
			if t == g.Root() {
				notes = append(notes, "root")
			}
			if len(notes) > 0 {
				return fmt.Sprintf("%4v  %v (%v)", t.Num(), t.Name(), strings.Join(notes, ", "))
			}
			return fmt.Sprintf("%4v  %v", t.Num(), t.Name())
		},
		"printProduction": func(p *grammar.Production) string {
			return fmt.Sprintf("%4v  %v", p.Num(), p)
		},
		"printReduce": func(g *grammar.Grammar) string {
			return fmt.Sprintf("%4v  <reduce>", g.ReduceNum())
		},
		"printField": func(f *grammar.Field) string {
			return fmt.Sprintf("%4v  %v", f.Num(), f)
		},
	}

	tmpl, err := template.New("grammar").Funcs(fns).Parse(grammarTemplate)
	if err != nil {
		return err
	}
	return tmpl.Execute(w, g)
}
