// Package opt holds the scalar and structural optimizations that run on
// a function between SSA construction and code generation.
package opt

import (
	"context"

	"github.com/roach88/udfc/internal/analysis"
	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/pass"
)

// DeadCodeElimination removes definitions whose result is never read.
// Definitions in the entry block are kept.
var DeadCodeElimination = pass.New("DeadCodeElimination", eliminateDeadCode)

func eliminateDeadCode(_ context.Context, f *ir.Function) (bool, error) {
	ud := analysis.ComputeUseDef(f)
	uses := make(map[*ir.Variable]int)
	for _, v := range f.Variables() {
		uses[v] = ud.NumUses(v)
	}

	var work []analysis.Site
	for _, b := range f.Blocks() {
		if f.IsEntry(b) {
			continue
		}
		for _, inst := range b.Insts {
			if inst.Result() != nil {
				work = append(work, analysis.Site{Block: b, Inst: inst})
			}
		}
	}

	removed := make(map[ir.Instruction]bool)
	changed := false
	for len(work) > 0 {
		s := work[0]
		work = work[1:]
		if removed[s.Inst] || f.IsEntry(s.Block) || uses[s.Inst.Result()] > 0 {
			continue
		}
		s.Block.Remove(s.Inst)
		removed[s.Inst] = true
		changed = true
		for _, u := range s.Inst.Uses() {
			uses[u]--
			if uses[u] == 0 {
				work = append(work, ud.Definitions(u)...)
			}
		}
	}
	return changed, nil
}
