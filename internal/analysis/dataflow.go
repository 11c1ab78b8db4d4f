package analysis

import (
	"github.com/roach88/udfc/internal/ir"
)

// Direction of a dataflow problem.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// Meet combines the values flowing into a block.
type Meet int

const (
	Union Meet = iota
	Intersection
)

// Problem is a bit-vector dataflow problem over the blocks of a function.
// Values flow along CFG edges in Direction; at a join they are combined
// with Meet and a block maps its input to its output with Transfer.
type Problem struct {
	Direction Direction
	Meet      Meet
	// Size is the number of bits in every value.
	Size int
	// Boundary is the input of the entry block (Forward) or of a block
	// without successors (Backward). Empty when nil.
	Boundary func(b *ir.Block) *BitSet
	// Transfer computes the output of b from its input. It must not
	// modify in.
	Transfer func(b *ir.Block, in *BitSet) *BitSet
	// Edge adjusts a value crossing the edge from -> to. The value is the
	// output of from (Forward) or of to (Backward). Identity when nil.
	Edge func(from, to *ir.Block, v *BitSet) *BitSet
}

// Solution holds the fixpoint of a Problem. In and Out follow the CFG
// orientation: In is the value at the top of a block, Out at the bottom.
type Solution struct {
	In  map[ir.BlockID]*BitSet
	Out map[ir.BlockID]*BitSet
}

// Solve iterates p to its fixpoint over the blocks reachable from the
// entry of f.
func (p *Problem) Solve(f *ir.Function) *Solution {
	order := Dominance(f).Order()
	if p.Direction == Backward {
		for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}
	reachable := make(map[ir.BlockID]bool, len(order))
	for _, id := range order {
		reachable[id] = true
	}

	sol := &Solution{In: make(map[ir.BlockID]*BitSet), Out: make(map[ir.BlockID]*BitSet)}
	// Values computed by Transfer; the other side is the meet.
	produced, consumed := sol.Out, sol.In
	if p.Direction == Backward {
		produced, consumed = sol.In, sol.Out
	}
	for _, id := range order {
		v := NewBitSet(p.Size)
		if p.Meet == Intersection {
			v.Fill()
		}
		produced[id] = v
	}

	for changed := true; changed; {
		changed = false
		for _, id := range order {
			b := f.Block(id)
			in := p.meet(f, b, produced, reachable)
			consumed[id] = in
			out := p.Transfer(b, in)
			if !out.Equal(produced[id]) {
				produced[id] = out
				changed = true
			}
		}
	}
	return sol
}

func (p *Problem) meet(f *ir.Function, b *ir.Block, produced map[ir.BlockID]*BitSet, reachable map[ir.BlockID]bool) *BitSet {
	var neighbours []ir.BlockID
	if p.Direction == Forward {
		neighbours = b.Preds()
	} else {
		neighbours = b.Succs()
	}
	boundary := p.Direction == Forward && f.IsEntry(b) || p.Direction == Backward && len(neighbours) == 0
	if boundary {
		if p.Boundary != nil {
			return p.Boundary(b).Clone()
		}
		return NewBitSet(p.Size)
	}

	var acc *BitSet
	for _, n := range neighbours {
		if !reachable[n] {
			continue
		}
		v := produced[n]
		if p.Edge != nil {
			if p.Direction == Forward {
				v = p.Edge(f.Block(n), b, v)
			} else {
				v = p.Edge(b, f.Block(n), v)
			}
		}
		if acc == nil {
			acc = v.Clone()
		} else if p.Meet == Union {
			acc.Union(v)
		} else {
			acc.Intersect(v)
		}
	}
	if acc == nil {
		return NewBitSet(p.Size)
	}
	return acc
}
