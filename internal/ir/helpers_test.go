package ir

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/udfc/internal/sqltext"
	"github.com/roach88/udfc/internal/types"
)

// nameBinder resolves every name that is in scope and types nothing but
// trailing casts.
type nameBinder struct{}

func (nameBinder) Bind(_ context.Context, text string, cols []Column) (*Bound, error) {
	refs, err := sqltext.Names(text)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]string, len(cols))
	for _, c := range cols {
		byName[sqltext.Fold(c.Name)] = c.Name
	}
	var used []string
	for _, r := range refs {
		if name, ok := byName[r.Name]; ok {
			used = append(used, name)
		}
	}
	typ := types.UnknownType
	if name, ok := sqltext.TrailingCast(text); ok {
		if t, err := types.FromPostgresName(name, ""); err == nil {
			typ = t
		}
	}
	return &Bound{Plan: text, Columns: used, Type: typ}, nil
}

func newTestFunction(t *testing.T, args ...string) *Function {
	t.Helper()
	f := NewFunction("f", types.IntegerType, nameBinder{})
	for _, a := range args {
		_, err := f.AddArgument(a, types.IntegerType)
		require.NoError(t, err)
	}
	return f
}

func bind(t *testing.T, f *Function, text string) *Expr {
	t.Helper()
	e, err := f.BindExpression(context.Background(), text, types.UnknownType)
	require.NoError(t, err)
	return e
}

func local(t *testing.T, f *Function, name string) *Variable {
	t.Helper()
	v, err := f.AddLocal(name, types.IntegerType, true)
	require.NoError(t, err)
	return v
}

func jump(f *Function, from, to *Block) {
	f.SetTerminator(from, &Branch{True: to.ID})
}

func branch(t *testing.T, f *Function, from *Block, cond string, yes, no *Block) {
	t.Helper()
	f.SetTerminator(from, &Branch{Cond: bind(t, f, cond), True: yes.ID, False: no.ID})
}

func ret(t *testing.T, f *Function, b *Block, text string) {
	t.Helper()
	f.SetTerminator(b, &Return{Value: bind(t, f, text)})
}

func labels(f *Function, ids []BlockID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = f.Block(id).Label
	}
	return out
}
