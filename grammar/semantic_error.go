package grammar

type SemanticError struct {
	message string
}

func newSemanticError(message string) *SemanticError {
	return &SemanticError{
		message: message,
	}
}

func (e *SemanticError) Error() string {
	return e.message
}

var (
	semErrNoTypeDef      = newSemanticError("a grammar needs at least one type definition")
	semErrDuplicateType  = newSemanticError("duplicate type definition")
	semErrDuplicateCtor  = newSemanticError("duplicate constructor name")
	semErrDuplicateField = newSemanticError("duplicate field name in a constructor")
)
