package binder

import (
	"context"
	"fmt"

	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/sqltext"
)

// Lexical binds expressions by scanning their tokens. A name that is
// not a variable is an error in a scalar expression and is assumed to be
// a table column or alias inside a query.
type Lexical struct{}

// NewLexical returns a lexical binder.
func NewLexical() *Lexical { return &Lexical{} }

// Bind implements ir.Binder.
func (l *Lexical) Bind(ctx context.Context, text string, cols []ir.Column) (*ir.Bound, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	used, err := lexicalColumns(text, newScope(cols))
	if err != nil {
		return nil, err
	}
	return &ir.Bound{Plan: text, Columns: used, Type: InferType(text, cols)}, nil
}

func lexicalColumns(text string, sc scope) ([]string, error) {
	refs, err := sqltext.Names(text)
	if err != nil {
		return nil, fmt.Errorf("failed to scan expression: %w", err)
	}
	query := sqltext.IsSQLExpression(text)
	var used []string
	seen := make(map[string]bool)
	for _, ref := range refs {
		c, ok := sc[ref.Name]
		if !ok {
			if query || ref.Keyword {
				continue
			}
			return nil, fmt.Errorf("column %q does not exist", ref.Name)
		}
		if !seen[ref.Name] {
			seen[ref.Name] = true
			used = append(used, c.Name)
		}
	}
	return used, nil
}
