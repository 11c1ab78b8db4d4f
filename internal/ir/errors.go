package ir

import (
	"errors"

	goerrors "gopkg.in/src-d/go-errors.v1"
)

// Error kinds for failures caused by the input program. Compiler bugs
// panic instead.
var (
	// ErrParse is returned when the program text cannot be parsed.
	ErrParse = goerrors.NewKind("parse error: %s")
	// ErrUnsupportedStatement is returned for a statement kind the CFG
	// builder does not handle.
	ErrUnsupportedStatement = goerrors.NewKind("unsupported statement %s")
	// ErrMissingReturnValue is returned when some path ends without a
	// value.
	ErrMissingReturnValue = goerrors.NewKind("there is a path without return value")
	// ErrUnknownVariable is returned when a name has no binding.
	ErrUnknownVariable = goerrors.NewKind("unknown variable %s")
	// ErrDuplicateVariable is returned when a name is declared twice.
	ErrDuplicateVariable = goerrors.NewKind("variable %s already declared")
	// ErrBind is returned when the binder rejects an expression.
	ErrBind = goerrors.NewKind("cannot bind expression %q: %s")
	// ErrTypeMismatch is returned when an expression cannot be implicitly
	// cast to the type it is assigned to.
	ErrTypeMismatch = goerrors.NewKind("cannot bind expression %q to type %s, please add explicit cast")
	// ErrCursorLoopShape is returned for a cursor loop the builder cannot
	// translate.
	ErrCursorLoopShape = goerrors.NewKind("unsupported cursor loop: %s")
	// ErrUnsupportedRegion is returned when a region cannot be extracted
	// into its own function.
	ErrUnsupportedRegion = goerrors.NewKind("cannot extract region %s: %s")
	// ErrReturnVariables is returned when an extracted region does not
	// produce exactly one value.
	ErrReturnVariables = goerrors.NewKind("region %s must return exactly one variable, found %d")
	// ErrMaxFixpointIterations is returned when a fixpoint pass does not
	// converge.
	ErrMaxFixpointIterations = goerrors.NewKind("pass %s did not converge after %d iterations")
	// ErrCodegen is returned when generated code cannot be produced.
	ErrCodegen = goerrors.NewKind("code generation failed: %s")
)

// IsKind reports whether err or any error it wraps is of the given kind.
func IsKind(err error, kind *goerrors.Kind) bool {
	for err != nil {
		if kind.Is(err) {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
