package ssa

import (
	"context"
	"fmt"

	"github.com/roach88/udfc/internal/analysis"
	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/pass"
)

// Destruction takes a function out of SSA form.
var Destruction = pass.New("SSADestruction", func(ctx context.Context, f *ir.Function) (bool, error) {
	if err := Destruct(ctx, f); err != nil {
		return false, err
	}
	return true, nil
})

// Destruct lowers every phi into copies and renames every version back to
// a plain variable. Phi interference should be broken first; see
// BreakPhiInterference.
func Destruct(ctx context.Context, f *ir.Function) error {
	names := assignNames(f)
	if err := removePhis(ctx, f, names); err != nil {
		return err
	}
	return removeSSANames(ctx, f, names)
}

// removePhis inserts "x := a" at the end of the predecessor matching each
// argument a of a phi x, and deletes the phi. A copy between two
// variables that end up with the same name is elided.
func removePhis(ctx context.Context, f *ir.Function, names map[*ir.Variable]*ir.Variable) error {
	final := func(v *ir.Variable) *ir.Variable {
		if n, ok := names[v]; ok {
			return n
		}
		return v
	}
	for _, b := range f.Blocks() {
		phis := b.Phis()
		for _, phi := range phis {
			for slot, pid := range b.Preds() {
				if slot >= len(phi.Args) || phi.Args[slot] == nil {
					continue
				}
				arg := phi.Args[slot]
				if final(arg) == final(phi.Var) {
					continue
				}
				ref, err := f.Reference(ctx, arg)
				if err != nil {
					return err
				}
				copyTarget(f, f.Block(pid), phi.Var, arg).InsertBeforeTerminator(&ir.Assignment{Var: phi.Var, Value: ref})
			}
		}
		b.Insts = b.Insts[len(phis):]
	}
	return nil
}

// copyTarget is the block a phi copy for the edge out of pred goes to.
// A predecessor that does nothing but branch on a condition hands the
// copy up to its unique predecessor.
func copyTarget(f *ir.Function, pred *ir.Block, dst, src *ir.Variable) *ir.Block {
	br, ok := pred.Terminator().(*ir.Branch)
	if !ok || !br.IsConditional() || len(pred.Insts) != 1 || len(pred.Preds()) != 1 || f.IsEntry(pred) {
		return pred
	}
	if br.Cond.Reads(dst) {
		return pred
	}
	up := f.Block(pred.Preds()[0])
	if len(up.Succs()) != 1 {
		return pred
	}
	return up
}

// assignNames decides which plain variable every SSA version becomes.
// Versions tied together by a phi share a name. Otherwise each version
// takes the first name among those already given to its origin that it
// does not interfere with, starting with the origin itself, and a fresh
// local when there is none.
func assignNames(f *ir.Function) map[*ir.Variable]*ir.Variable {
	live := analysis.ComputeLiveness(f)
	g := analysis.BuildInterference(f, live)
	addCopyInterference(f, live, g)

	uf := newUnionFind()
	for _, b := range f.Blocks() {
		for _, phi := range b.Phis() {
			for _, a := range phi.Args {
				if a != nil && a.Origin() == phi.Var.Origin() {
					uf.union(a, phi.Var)
				}
			}
		}
	}

	groups := make(map[*ir.Variable][]*ir.Variable)
	var origins []*ir.Variable
	for _, v := range f.Variables() {
		o := v.Origin()
		if o == v {
			continue
		}
		if _, ok := groups[o]; !ok {
			origins = append(origins, o)
		}
		groups[o] = append(groups[o], v)
	}

	names := make(map[*ir.Variable]*ir.Variable)
	for _, o := range origins {
		classes := make(map[*ir.Variable][]*ir.Variable)
		var roots []*ir.Variable
		for _, v := range groups[o] {
			root := uf.find(v)
			if _, ok := classes[root]; !ok {
				roots = append(roots, root)
			}
			classes[root] = append(classes[root], v)
		}

		type color struct {
			name    *ir.Variable
			members []*ir.Variable
		}
		colors := []*color{{name: o, members: []*ir.Variable{o}}}
		for _, root := range roots {
			members := classes[root]
			var pick *color
			for _, c := range colors {
				if !anyInterferes(g, members, c.members) {
					pick = c
					break
				}
			}
			if pick == nil {
				pick = &color{name: f.NewTemp(o.Name+"_", o.Type)}
				colors = append(colors, pick)
			}
			pick.members = append(pick.members, members...)
			for _, v := range members {
				names[v] = pick.name
			}
		}
	}
	return names
}

// addCopyInterference accounts for the copies removePhis places at the
// end of a predecessor: the result of a phi is written while everything
// live out of the predecessor, other than its own argument, is still
// needed.
func addCopyInterference(f *ir.Function, live *analysis.Liveness, g *analysis.Interference) {
	for _, b := range f.Blocks() {
		phis := b.Phis()
		if len(phis) == 0 {
			continue
		}
		for slot, pid := range b.Preds() {
			out := live.LiveOut(pid)
			for _, phi := range phis {
				if slot < len(phi.Args) && phi.Args[slot] != nil {
					out.Add(phi.Args[slot])
				}
			}
			for _, phi := range phis {
				for v := range out {
					if slot < len(phi.Args) && v == phi.Args[slot] {
						continue
					}
					g.AddEdge(phi.Var, v)
				}
			}
		}
	}
}

func anyInterferes(g *analysis.Interference, as, bs []*ir.Variable) bool {
	for _, a := range as {
		for _, b := range bs {
			if a != b && g.Interferes(a, b) {
				return true
			}
		}
	}
	return false
}

// removeSSANames rewrites every instruction to use the names chosen by
// assignNames, drops copies that became "x := x", and removes the
// versions.
func removeSSANames(ctx context.Context, f *ir.Function, names map[*ir.Variable]*ir.Variable) error {
	rename := func(e *ir.Expr) (*ir.Expr, error) {
		return f.RenameExpr(ctx, e, names)
	}
	for _, b := range f.Blocks() {
		var keep []ir.Instruction
		for _, inst := range b.Insts {
			switch i := inst.(type) {
			case *ir.Phi:
				panic(fmt.Sprintf("phi %s left in %s after destruction", i, b.Label))
			case *ir.Assignment:
				value, err := rename(i.Value)
				if err != nil {
					return err
				}
				if n, ok := names[i.Var]; ok {
					i.Var = n
				}
				i.Value = value
				if v, ok := value.IsVariable(); ok && v == i.Var {
					continue
				}
			case *ir.Branch:
				if i.Cond != nil {
					cond, err := rename(i.Cond)
					if err != nil {
						return err
					}
					i.Cond = cond
				}
			case *ir.Return:
				value, err := rename(i.Value)
				if err != nil {
					return err
				}
				i.Value = value
			}
			keep = append(keep, inst)
		}
		b.Insts = keep
	}
	for _, v := range f.Variables() {
		if _, ok := names[v]; ok {
			f.RemoveVariable(v)
		}
	}
	return nil
}

type unionFind struct {
	parent map[*ir.Variable]*ir.Variable
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[*ir.Variable]*ir.Variable)}
}

func (u *unionFind) find(v *ir.Variable) *ir.Variable {
	p, ok := u.parent[v]
	if !ok || p == v {
		return v
	}
	root := u.find(p)
	u.parent[v] = root
	return root
}

// union keeps the older variable as the root so class order is stable.
func (u *unionFind) union(a, b *ir.Variable) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if rb.ID() < ra.ID() {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}
