// Package ssa converts functions into and out of static single
// assignment form.
//
// Construction places phis with the iterated dominance frontier, pruned
// by liveness, and renames along the dominator tree. Every version of a
// variable is a new local named after the original with a "_N_" suffix,
// so the SQL text of expressions stays bindable at every step.
//
// Destruction lowers phis into copies at the end of the predecessors and
// maps versions back to their original names. Versions of one variable
// that are live at the same time keep distinct names.
package ssa

import (
	"context"

	"github.com/roach88/udfc/internal/analysis"
	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/pass"
)

// Construction converts a function to SSA form.
var Construction = pass.New("SSAConstruction", func(ctx context.Context, f *ir.Function) (bool, error) {
	if err := Construct(ctx, f); err != nil {
		return false, err
	}
	return true, nil
})

// Construct converts f to SSA form in place. Arguments are first copied
// into versions of themselves at the top of the entry block, so they are
// renamed like any other variable.
func Construct(ctx context.Context, f *ir.Function) error {
	entry := f.Entry()
	args := f.Arguments()
	for i := len(args) - 1; i >= 0; i-- {
		ref, err := f.Reference(ctx, args[i])
		if err != nil {
			return err
		}
		entry.InsertAfterPhis(&ir.Assignment{Var: args[i], Value: ref})
	}

	dom := analysis.Dominance(f)
	insertPhis(f, dom)

	r := &renamer{ctx: ctx, f: f, dom: dom, stacks: make(map[*ir.Variable][]*ir.Variable)}
	return r.block(entry.ID)
}

// insertPhis places a phi for v at every block of the iterated dominance
// frontier of the definitions of v where v is live.
func insertPhis(f *ir.Function, dom *analysis.Tree) {
	live := analysis.ComputeLiveness(f)

	defsites := make(map[*ir.Variable][]ir.BlockID)
	for _, id := range dom.Order() {
		seen := make(ir.VarSet)
		for _, inst := range f.Block(id).Insts {
			if r := inst.Result(); r != nil && !seen.Has(r) {
				seen.Add(r)
				defsites[r] = append(defsites[r], id)
			}
		}
	}

	for _, v := range f.Variables() {
		sites := defsites[v]
		if len(sites) == 0 {
			continue
		}
		placed := make(map[ir.BlockID]bool)
		queued := make(map[ir.BlockID]bool, len(sites))
		work := append([]ir.BlockID(nil), sites...)
		for _, id := range sites {
			queued[id] = true
		}
		for len(work) > 0 {
			x := work[len(work)-1]
			work = work[:len(work)-1]
			for _, y := range dom.Frontier(x) {
				if placed[y] {
					continue
				}
				placed[y] = true
				if live.IsLiveIn(y, v) {
					b := f.Block(y)
					b.InsertAfterPhis(&ir.Phi{Var: v, Args: make([]*ir.Variable, len(b.Preds()))})
				}
				if !queued[y] {
					queued[y] = true
					work = append(work, y)
				}
			}
		}
	}
}

type renamer struct {
	ctx    context.Context
	f      *ir.Function
	dom    *analysis.Tree
	stacks map[*ir.Variable][]*ir.Variable
}

func (r *renamer) top(v *ir.Variable) *ir.Variable {
	s := r.stacks[v]
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1]
}

// rename rewrites e to read the active version of every variable it
// uses. Variables without an active version are left alone.
func (r *renamer) rename(e *ir.Expr) (*ir.Expr, error) {
	renames := make(map[*ir.Variable]*ir.Variable)
	for _, u := range e.Uses() {
		if t := r.top(u); t != nil {
			renames[u] = t
		}
	}
	return r.f.RenameExpr(r.ctx, e, renames)
}

func (r *renamer) block(id ir.BlockID) error {
	b := r.f.Block(id)
	var pushed []*ir.Variable
	push := func(v *ir.Variable) *ir.Variable {
		nv := r.f.NewVersion(v)
		r.stacks[v] = append(r.stacks[v], nv)
		pushed = append(pushed, v)
		return nv
	}

	for _, inst := range b.Insts {
		switch i := inst.(type) {
		case *ir.Phi:
			i.Var = push(i.Var)
		case *ir.Assignment:
			value, err := r.rename(i.Value)
			if err != nil {
				return err
			}
			i.Value = value
			i.Var = push(i.Var)
		case *ir.Branch:
			if i.Cond != nil {
				cond, err := r.rename(i.Cond)
				if err != nil {
					return err
				}
				i.Cond = cond
			}
		case *ir.Return:
			value, err := r.rename(i.Value)
			if err != nil {
				return err
			}
			i.Value = value
		}
	}

	for _, s := range b.Succs() {
		sb := r.f.Block(s)
		slot := sb.PredIndex(id)
		for _, phi := range sb.Phis() {
			phi.Args[slot] = r.top(phi.Var.Origin())
		}
	}

	for _, c := range r.dom.Children(id) {
		if err := r.block(c); err != nil {
			return err
		}
	}

	for _, v := range pushed {
		r.stacks[v] = r.stacks[v][:len(r.stacks[v])-1]
	}
	return nil
}
