package compiler

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	goerrors "gopkg.in/src-d/go-errors.v1"

	"github.com/roach88/udfc/internal/frontend"
	"github.com/roach88/udfc/internal/ir"
)

// Stage is the step of a compilation an error happened in.
type Stage string

const (
	StageParse    Stage = "parse"
	StageBuild    Stage = "build"
	StageSSA      Stage = "ssa"
	StageOptimize Stage = "optimize"
	StageCodegen  Stage = "codegen"
)

// Error codes (E100-E199)
const (
	ErrCodeGeneric           = "E100"
	ErrCodeParse             = "E101"
	ErrCodeUnsupported       = "E102"
	ErrCodeMissingReturn     = "E103"
	ErrCodeUnknownVariable   = "E104"
	ErrCodeDuplicateVariable = "E105"
	ErrCodeBind              = "E106"
	ErrCodeTypeMismatch      = "E107"
	ErrCodeCursorLoop        = "E108"
	ErrCodeUnsupportedRegion = "E110"
	ErrCodeReturnVariables   = "E111"
	ErrCodeNoFixpoint        = "E120"
	ErrCodeCodegen           = "E130"
)

var codes = []struct {
	kind *goerrors.Kind
	code string
}{
	{ir.ErrParse, ErrCodeParse},
	{ir.ErrUnsupportedStatement, ErrCodeUnsupported},
	{ir.ErrMissingReturnValue, ErrCodeMissingReturn},
	{ir.ErrUnknownVariable, ErrCodeUnknownVariable},
	{ir.ErrDuplicateVariable, ErrCodeDuplicateVariable},
	{ir.ErrBind, ErrCodeBind},
	{ir.ErrTypeMismatch, ErrCodeTypeMismatch},
	{ir.ErrCursorLoopShape, ErrCodeCursorLoop},
	{ir.ErrUnsupportedRegion, ErrCodeUnsupportedRegion},
	{ir.ErrReturnVariables, ErrCodeReturnVariables},
	{ir.ErrMaxFixpointIterations, ErrCodeNoFixpoint},
	{ir.ErrCodegen, ErrCodeCodegen},
}

// Code maps err to a stable error code.
func Code(err error) string {
	for _, c := range codes {
		if ir.IsKind(err, c.kind) {
			return c.code
		}
	}
	return ErrCodeGeneric
}

// Position locates an error in the program text. Column is zero when
// only the line is known.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column,omitempty"`
}

// IsValid reports whether p points anywhere.
func (p Position) IsValid() bool { return p.Line > 0 }

func (p Position) String() string {
	if p.Column > 0 {
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	}
	return fmt.Sprintf("%d", p.Line)
}

// CompileError is a failure to compile one function, or the whole
// program when Function is empty.
type CompileError struct {
	Function string
	Stage    Stage
	Pos      Position
	Err      error
}

func (e *CompileError) Error() string {
	var b strings.Builder
	if e.Pos.IsValid() {
		fmt.Fprintf(&b, "%s: ", e.Pos)
	}
	if e.Function != "" {
		fmt.Fprintf(&b, "%s: ", e.Function)
	}
	fmt.Fprintf(&b, "%s: %v", e.Stage, e.Err)
	return b.String()
}

func (e *CompileError) Unwrap() error { return e.Err }

func newCompileError(text, function string, stage Stage, err error) *CompileError {
	return &CompileError{Function: function, Stage: stage, Pos: position(text, err), Err: err}
}

// position converts the location a frontend error carries into a line
// and column of text.
func position(text string, err error) Position {
	var ferr *frontend.Error
	if !errors.As(err, &ferr) {
		return Position{}
	}
	if ferr.Cursor <= 0 {
		return Position{Line: ferr.Line}
	}
	p := Position{Line: 1, Column: 1}
	for i, n := 0, 1; i < len(text) && n < ferr.Cursor; n++ {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r == '\n' {
			p.Line++
			p.Column = 1
		} else {
			p.Column++
		}
	}
	return p
}
