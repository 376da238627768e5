package spec

import "fmt"

type SyntaxError struct {
	message string
}

func newSyntaxError(message string) *SyntaxError {
	return &SyntaxError{
		message: message,
	}
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error: %s", e.message)
}

var (
	// lexical errors
	synErrInvalidChar = newSyntaxError("invalid character")

	// syntax errors
	synErrInvalidToken  = newSyntaxError("invalid token")
	synErrNoTypeDef     = newSyntaxError("a grammar must have at least one type definition")
	synErrNoTypeName    = newSyntaxError("a type definition name is missing")
	synErrNoEqual       = newSyntaxError("the equal sign must precede constructors")
	synErrNoConstructor = newSyntaxError("a constructor name is missing")
	synErrNoSemicolon   = newSyntaxError("the semicolon is missing at the last of a type definition")
	synErrNoFieldName   = newSyntaxError("a field needs a name following its type")
	synErrUnclosedField = newSyntaxError("unclosed field list")
)
