package opt

import (
	"context"

	"github.com/roach88/udfc/internal/analysis"
	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/pass"
	"github.com/roach88/udfc/internal/sqltext"
)

// The propagation passes replace the reads of an assigned variable by the
// assigned value. They differ in which values they move:
//
//	CopyPropagation                   another variable
//	ExpressionPropagation             a non-query expression read once
//	InstructionElimination            any non-query expression
//	AggressiveInstructionElimination  also a query read exactly once
//
// All of them first turn phis whose arguments are all the same variable
// into plain copies. Definitions in the entry block are never moved.
var (
	CopyPropagation = pass.New("CopyPropagation", propagate(func(a *ir.Assignment, _ int) bool {
		_, ok := a.Value.IsVariable()
		return ok
	}))
	ExpressionPropagation = pass.New("ExpressionPropagation", propagate(func(a *ir.Assignment, uses int) bool {
		return !a.Value.IsSQL() && uses == 1
	}))
	InstructionElimination = pass.New("InstructionElimination", propagate(func(a *ir.Assignment, _ int) bool {
		return !a.Value.IsSQL()
	}))
	AggressiveInstructionElimination = pass.New("AggressiveInstructionElimination", propagate(func(a *ir.Assignment, uses int) bool {
		return !a.Value.IsSQL() || uses == 1
	}))
)

func propagate(accept func(a *ir.Assignment, uses int) bool) pass.Func {
	return func(ctx context.Context, f *ir.Function) (bool, error) {
		changed, err := foldPhis(ctx, f)
		if err != nil {
			return changed, err
		}
		for {
			ud := analysis.ComputeUseDef(f)
			site, ok := nextCandidate(f, ud, accept)
			if !ok {
				return changed, nil
			}
			if err := substitute(ctx, f, ud, site); err != nil {
				return changed, err
			}
			changed = true
		}
	}
}

// foldPhis rewrites "x := phi(y, y, ...)" into "x := y". The copies go
// after the remaining phis, in their original order, so phis stay first.
func foldPhis(ctx context.Context, f *ir.Function) (bool, error) {
	changed := false
	for _, b := range f.Blocks() {
		if f.IsEntry(b) {
			continue
		}
		var copies []ir.Instruction
		for _, phi := range b.Phis() {
			same := identicalArgument(phi)
			if same == nil {
				continue
			}
			ref, err := f.Reference(ctx, same)
			if err != nil {
				return changed, err
			}
			b.Remove(phi)
			copies = append(copies, &ir.Assignment{Var: phi.Var, Value: ref})
		}
		at := len(b.Phis())
		for i, c := range copies {
			b.Insert(at+i, c)
		}
		changed = changed || len(copies) > 0
	}
	return changed, nil
}

func identicalArgument(phi *ir.Phi) *ir.Variable {
	if len(phi.Args) == 0 {
		return nil
	}
	first := phi.Args[0]
	for _, a := range phi.Args {
		if a == nil || a != first {
			return nil
		}
	}
	return first
}

// nextCandidate returns the first assignment, in block order, that accept
// allows and that still has a read it can be moved into.
func nextCandidate(f *ir.Function, ud *analysis.UseDef, accept func(*ir.Assignment, int) bool) (analysis.Site, bool) {
	for _, b := range f.Blocks() {
		if f.IsEntry(b) {
			continue
		}
		for _, inst := range b.Insts {
			a, ok := inst.(*ir.Assignment)
			if !ok {
				continue
			}
			uses := ud.Uses(a.Var)
			if len(uses) == 0 || !accept(a, occurrences(uses, a.Var)) {
				continue
			}
			if _, isVar := a.Value.IsVariable(); !isVar && onlyPhis(uses) {
				continue
			}
			if len(ud.Definitions(a.Var)) != 1 {
				continue
			}
			return analysis.Site{Block: b, Inst: a}, true
		}
	}
	return analysis.Site{}, false
}

// occurrences counts the reads of v, so that "y * y" reads y twice.
func occurrences(sites []analysis.Site, v *ir.Variable) int {
	n := 0
	for _, s := range sites {
		if phi, ok := s.Inst.(*ir.Phi); ok {
			for _, a := range phi.Args {
				if a == v {
					n++
				}
			}
			continue
		}
		for _, e := range ir.Expressions(s.Inst) {
			n += sqltext.Count(e.Text, v.Name)
		}
	}
	return n
}

func onlyPhis(sites []analysis.Site) bool {
	for _, s := range sites {
		if _, ok := s.Inst.(*ir.Phi); !ok {
			return false
		}
	}
	return true
}

// substitute moves the value of the assignment at site into its reads
// and removes it once nothing reads it. Phis only take variables, so an
// expression read by a phi stays assigned.
func substitute(ctx context.Context, f *ir.Function, ud *analysis.UseDef, site analysis.Site) error {
	a := site.Inst.(*ir.Assignment)
	src, isVar := a.Value.IsVariable()
	kept := false
	for _, use := range ud.Uses(a.Var) {
		if phi, ok := use.Inst.(*ir.Phi); ok {
			if !isVar {
				kept = true
				continue
			}
			for i, arg := range phi.Args {
				if arg == a.Var {
					phi.Args[i] = src
				}
			}
			continue
		}
		err := ir.RewriteExpressions(use.Inst, func(e *ir.Expr) (*ir.Expr, error) {
			return f.SubstituteExpr(ctx, e, a.Var, a.Value)
		})
		if err != nil {
			return err
		}
	}
	if !kept {
		site.Block.Remove(a)
	}
	return nil
}
