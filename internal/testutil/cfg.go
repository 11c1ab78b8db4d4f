package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/udfc/internal/binder"
	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/types"
)

// CFG assembles an ir.Function block by block for tests that need a
// precise graph shape rather than one produced by the frontend.
//
// Blocks are named by label and created on first mention; the first block
// mentioned becomes the entry. Expressions are bound with the lexical
// binder, so every name they read must already be declared.
//
//	g := testutil.NewCFG(t, "f", types.IntegerType, "x")
//	g.Branch("entry", "x > 0", "pos", "neg")
//	g.Return("pos", "x")
//	g.Return("neg", "-x")
type CFG struct {
	t      testing.TB
	F      *ir.Function
	blocks map[string]*ir.Block
}

// NewCFG returns a builder for a function with INTEGER arguments.
func NewCFG(t testing.TB, name string, ret types.Type, args ...string) *CFG {
	t.Helper()
	g := &CFG{t: t, F: ir.NewFunction(name, ret, binder.NewLexical()), blocks: make(map[string]*ir.Block)}
	for _, a := range args {
		_, err := g.F.AddArgument(a, types.IntegerType)
		require.NoError(t, err)
	}
	return g
}

// Local declares an INTEGER local.
func (g *CFG) Local(name string) *ir.Variable {
	return g.Typed(name, types.IntegerType)
}

// Typed declares a local of the given type.
func (g *CFG) Typed(name string, typ types.Type) *ir.Variable {
	g.t.Helper()
	v, err := g.F.AddLocal(name, typ, false)
	require.NoError(g.t, err)
	return v
}

// Var returns a declared variable.
func (g *CFG) Var(name string) *ir.Variable {
	g.t.Helper()
	v, ok := g.F.Binding(name)
	require.True(g.t, ok, "variable %s is not declared", name)
	return v
}

// Block returns the block labelled label, creating it if needed.
func (g *CFG) Block(label string) *ir.Block {
	if b, ok := g.blocks[label]; ok {
		return b
	}
	b := g.F.NewBlock(label)
	g.blocks[label] = b
	return b
}

// ID is shorthand for Block(label).ID.
func (g *CFG) ID(label string) ir.BlockID { return g.Block(label).ID }

// Expr binds text.
func (g *CFG) Expr(text string) *ir.Expr {
	g.t.Helper()
	e, err := g.F.BindExpression(context.Background(), text, types.UnknownType)
	require.NoError(g.t, err)
	return e
}

// Assign appends "v := text" to a block.
func (g *CFG) Assign(label, v, text string) *ir.Assignment {
	g.t.Helper()
	a := &ir.Assignment{Var: g.Var(v), Value: g.Expr(text)}
	g.Block(label).Append(a)
	return a
}

// Phi appends a phi for v. Arguments follow the predecessor order at the
// time of the call; "" leaves a slot empty.
func (g *CFG) Phi(label, v string, args ...string) *ir.Phi {
	g.t.Helper()
	p := &ir.Phi{Var: g.Var(v), Args: make([]*ir.Variable, len(args))}
	for i, a := range args {
		if a != "" {
			p.Args[i] = g.Var(a)
		}
	}
	g.Block(label).InsertAfterPhis(p)
	return p
}

// Jump ends from with an unconditional branch.
func (g *CFG) Jump(from, to string) {
	g.F.SetTerminator(g.Block(from), &ir.Branch{True: g.ID(to)})
}

// Branch ends from with a conditional branch.
func (g *CFG) Branch(from, cond, yes, no string) {
	g.t.Helper()
	e, err := g.F.BindCondition(context.Background(), cond)
	require.NoError(g.t, err)
	g.F.SetTerminator(g.Block(from), &ir.Branch{Cond: e, True: g.ID(yes), False: g.ID(no)})
}

// Return ends a block with a return.
func (g *CFG) Return(label, text string) {
	g.t.Helper()
	e, err := g.F.BindExpression(context.Background(), text, g.F.ReturnType)
	require.NoError(g.t, err)
	g.F.SetTerminator(g.Block(label), &ir.Return{Value: e})
}

// Insts renders the instructions of a block, with block labels in
// branches.
func (g *CFG) Insts(label string) []string {
	b := g.Block(label)
	out := make([]string, len(b.Insts))
	for i, inst := range b.Insts {
		out[i] = g.F.Format(inst)
	}
	return out
}

// Labels maps block handles to labels.
func (g *CFG) Labels(ids []ir.BlockID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = g.F.Block(id).Label
	}
	return out
}

// Names returns the names of a variable set in creation order.
func Names(s ir.VarSet) []string {
	vars := s.Sorted()
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.Name
	}
	return out
}
