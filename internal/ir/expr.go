package ir

import (
	"context"

	"github.com/roach88/udfc/internal/sqltext"
	"github.com/roach88/udfc/internal/types"
)

// Column is one column of the scratch table an expression is bound
// against. Every variable of the function becomes a column.
type Column struct {
	Name string
	Type types.Type
}

// Bound is the result of binding an expression.
type Bound struct {
	// Plan is the binder's handle for the bound expression.
	Plan any
	// Columns are the scratch-table columns the expression reads.
	Columns []string
	// Type is the type the binder inferred.
	Type types.Type
}

// Binder binds SQL expression text against a scratch table.
type Binder interface {
	Bind(ctx context.Context, text string, scope []Column) (*Bound, error)
}

// Expr is a bound expression. It is immutable; rewrites create a new
// Expr through the owning Function.
type Expr struct {
	Text string
	Type types.Type
	Plan any

	uses  []*Variable
	isSQL bool
}

// Uses returns the variables the expression reads, in creation order.
func (e *Expr) Uses() []*Variable { return e.uses }

// IsSQL reports whether the expression is a query with a FROM clause.
// Queries must never be duplicated.
func (e *Expr) IsSQL() bool { return e.isSQL }

// Reads reports whether the expression reads v.
func (e *Expr) Reads(v *Variable) bool {
	for _, u := range e.uses {
		if u == v {
			return true
		}
	}
	return false
}

// IsVariable returns the variable if the expression is nothing but a
// reference to it.
func (e *Expr) IsVariable() (*Variable, bool) {
	if len(e.uses) != 1 {
		return nil, false
	}
	v := e.uses[0]
	if sqltext.Fold(e.Text) != sqltext.Fold(v.Name) {
		return nil, false
	}
	return v, true
}

func (e *Expr) String() string { return e.Text }
