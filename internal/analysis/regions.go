package analysis

import (
	"github.com/roach88/udfc/internal/ir"
)

// RegionDefs returns the variables assigned anywhere in r.
func RegionDefs(f *ir.Function, r ir.Region) ir.VarSet {
	defs := make(ir.VarSet)
	for _, id := range ir.RegionBlocks(r) {
		for _, inst := range f.Block(id).Insts {
			if v := inst.Result(); v != nil {
				defs.Add(v)
			}
		}
	}
	return defs
}

// RegionUses returns the variables read anywhere in r.
func RegionUses(f *ir.Function, r ir.Region) ir.VarSet {
	uses := make(ir.VarSet)
	for _, id := range ir.RegionBlocks(r) {
		for _, inst := range f.Block(id).Insts {
			for _, v := range inst.Uses() {
				uses.Add(v)
			}
		}
	}
	return uses
}

// HasLoop reports whether r or any region nested in it is a loop.
func HasLoop(r ir.Region) bool {
	found := false
	ir.Walk(r, func(n ir.Region) bool {
		if _, ok := n.(*ir.LoopRegion); ok {
			found = true
		}
		return !found
	})
	return found
}
