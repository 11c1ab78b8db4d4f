package frontend

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/pganalyze/pg_query_go/v6/parser"

	"github.com/roach88/udfc/internal/ir"
)

var (
	functionNamePattern = regexp.MustCompile(`(?i)CREATE\s+(?:OR\s+REPLACE\s+)?FUNCTION\s+(\w+)`)
	returnTypePattern   = regexp.MustCompile(`(?i)RETURNS\s+(\w+ *(\((\d+, *)?\d+\))?)`)
)

// Program is a parsed program text holding one or more functions.
type Program struct {
	Text      string
	Functions []*Definition
}

// Definition is one CREATE FUNCTION of a program.
type Definition struct {
	Name       string
	ReturnType string
	// Index is the position of the function in the program.
	Index int

	ast json.RawMessage
}

// Error locates a failure in the program text. Cursor is a 1-based
// character offset into the program and Line a line number reported by
// the parser for a statement; either is zero when unknown.
type Error struct {
	Cursor int
	Line   int
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Cursor > 0:
		return fmt.Sprintf("at position %d: %v", e.Cursor, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Parse parses every function of a PL/pgSQL program. Names and return
// types are read from the program text since the parse tree does not
// keep them.
func Parse(text string) (*Program, error) {
	out, err := pg_query.ParsePlPgSqlToJSON(text)
	if err != nil {
		var perr *parser.Error
		if errors.As(err, &perr) {
			return nil, &Error{Cursor: perr.Cursorpos, Err: ir.ErrParse.New(perr.Message)}
		}
		return nil, &Error{Err: ir.ErrParse.New(err.Error())}
	}

	var asts []struct {
		Function json.RawMessage `json:"PLpgSQL_function"`
	}
	if err := json.Unmarshal([]byte(out), &asts); err != nil {
		return nil, &Error{Err: ir.ErrParse.New(fmt.Sprintf("unexpected parse tree: %v", err))}
	}

	names := submatches(functionNamePattern, text)
	returns := submatches(returnTypePattern, text)
	if len(names) != len(returns) {
		return nil, &Error{Err: ir.ErrParse.New(fmt.Sprintf("found %d function names but %d return types", len(names), len(returns)))}
	}
	if len(names) != len(asts) {
		return nil, &Error{Err: ir.ErrParse.New(fmt.Sprintf("found %d function names but %d function bodies", len(names), len(asts)))}
	}

	prog := &Program{Text: text}
	for i, a := range asts {
		if len(a.Function) == 0 {
			return nil, &Error{Err: ir.ErrParse.New(fmt.Sprintf("function %s is not a PL/pgSQL function", names[i]))}
		}
		prog.Functions = append(prog.Functions, &Definition{
			Name:       names[i],
			ReturnType: strings.TrimSpace(returns[i]),
			Index:      i,
			ast:        a.Function,
		})
	}
	return prog, nil
}

// NewDefinition wraps an already parsed function body, as found under
// the PLpgSQL_function key of the parser's output.
func NewDefinition(name, returnType string, ast json.RawMessage) *Definition {
	return &Definition{Name: name, ReturnType: returnType, ast: ast}
}

func submatches(re *regexp.Regexp, text string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}
