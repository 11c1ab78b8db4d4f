package opt

import (
	"context"

	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/pass"
)

// MergeRegions folds a sequential region into the block it falls into
// when that block has no other predecessor. Conditionals and loops are
// left alone, as are blocks starting with a phi. A block with a query is
// only merged with an empty one.
var MergeRegions = pass.New("MergeRegions", mergeRegions(false))

// AggressiveMergeRegions is MergeRegions for functions out of SSA form:
// headers of conditionals and loops may absorb their predecessor too.
var AggressiveMergeRegions = pass.New("AggressiveMergeRegions", mergeRegions(true))

func mergeRegions(aggressive bool) pass.Func {
	return func(_ context.Context, f *ir.Function) (bool, error) {
		var work []*ir.Block
		for _, b := range f.Blocks() {
			if !f.IsEntry(b) {
				work = append(work, b)
			}
		}

		changed := false
		for len(work) > 0 {
			top := work[0]
			work = work[1:]
			if f.Block(top.ID) != top || f.IsEntry(top) || len(top.Preds()) > 1 {
				continue
			}
			seq, ok := f.Regions().Of(top.ID).(*ir.SequentialRegion)
			if !ok || seq.Fallthrough != nil || len(top.Succs()) != 1 {
				continue
			}
			bottom := f.Block(top.Succs()[0])
			if f.IsEntry(bottom) || len(bottom.Preds()) != 1 {
				continue
			}
			if !aggressive {
				switch f.Regions().Of(bottom.ID).(type) {
				case *ir.ConditionalRegion, *ir.LoopRegion:
					continue
				}
			}
			if !compatibleQueries(top, bottom) || top.StartsWithPhi() || bottom.StartsWithPhi() {
				continue
			}
			f.MergeBlocks(top, bottom)
			work = append(work, bottom)
			changed = true
		}
		return changed, nil
	}
}

// compatibleQueries reports whether two blocks may share a region: either
// both or neither evaluate a query, or the side without one is empty.
func compatibleQueries(top, bottom *ir.Block) bool {
	tq, bq := hasQuery(top), hasQuery(bottom)
	switch {
	case tq && !bq:
		return len(bottom.Insts) <= 1
	case !tq && bq:
		return len(top.Insts) <= 1
	}
	return true
}

func hasQuery(b *ir.Block) bool {
	for _, inst := range b.Insts {
		if ir.HasSQL(inst) {
			return true
		}
	}
	return false
}

// MergeBasicBlocks folds straight-line chains of blocks without looking
// at regions. It is meant for generated functions, which are printed
// without a region tree. Conditionals and blocks starting with a query
// stay separate.
var MergeBasicBlocks = pass.New("MergeBasicBlocks", mergeBasicBlocks)

func mergeBasicBlocks(_ context.Context, f *ir.Function) (bool, error) {
	changed := false
	visited := make(map[ir.BlockID]bool)
	queue := []ir.BlockID{f.Entry().ID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		b := f.Block(id)

		for !f.IsEntry(b) && len(b.Succs()) == 1 {
			succ := f.Block(b.Succs()[0])
			if f.IsEntry(succ) || succ == b || len(succ.Preds()) != 1 || len(succ.Succs()) > 1 {
				break
			}
			if startsWithQuery(b) || startsWithQuery(succ) || succ.StartsWithPhi() {
				break
			}
			// MergeBlocks keeps the bottom block, so the chain continues
			// from succ.
			f.MergeBlocks(b, succ)
			visited[succ.ID] = true
			b = succ
			changed = true
		}
		queue = append(queue, b.Succs()...)
	}
	return changed, nil
}

func startsWithQuery(b *ir.Block) bool {
	a, ok := b.Initiator().(*ir.Assignment)
	return ok && a.Value.IsSQL()
}

// RemoveUnusedVariable drops locals that no instruction reads or writes.
var RemoveUnusedVariable = pass.New("RemoveUnusedVariable", removeUnusedVariables)

func removeUnusedVariables(_ context.Context, f *ir.Function) (bool, error) {
	used := make(ir.VarSet)
	for _, b := range f.Blocks() {
		for _, inst := range b.Insts {
			if r := inst.Result(); r != nil {
				used.Add(r)
			}
			for _, u := range inst.Uses() {
				used.Add(u)
			}
		}
	}
	changed := false
	for _, v := range f.Locals() {
		if !used.Has(v) {
			f.RemoveVariable(v)
			changed = true
		}
	}
	return changed, nil
}
