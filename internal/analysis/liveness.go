package analysis

import (
	"github.com/roach88/udfc/internal/ir"
)

// Liveness holds the live variables at block boundaries, following the
// SSA formulation where a phi reads its argument at the end of the
// matching predecessor and defines its result at the top of its block:
//
//	LiveIn(B)  = PhiDefs(B) ∪ UpwardExposed(B) ∪ (LiveOut(B) \ Defs(B))
//	LiveOut(B) = ∪ over S in succ(B) of (LiveIn(S) \ PhiDefs(S)) ∪ PhiUses(B)
//
// Without phis this is ordinary liveness.
type Liveness struct {
	f     *ir.Function
	vars  []*ir.Variable
	index map[*ir.Variable]int
	sol   *Solution
}

type blockSets struct {
	phiDefs, upward, defs *BitSet
}

// ComputeLiveness solves liveness for f.
func ComputeLiveness(f *ir.Function) *Liveness {
	l := &Liveness{f: f, vars: f.Variables(), index: make(map[*ir.Variable]int)}
	for i, v := range l.vars {
		l.index[v] = i
	}
	n := len(l.vars)

	sets := make(map[ir.BlockID]blockSets)
	for _, b := range f.Blocks() {
		s := blockSets{phiDefs: NewBitSet(n), upward: NewBitSet(n), defs: NewBitSet(n)}
		for _, inst := range b.Insts {
			if p, ok := inst.(*ir.Phi); ok {
				l.set(s.phiDefs, p.Var)
				l.set(s.defs, p.Var)
				continue
			}
			for _, u := range inst.Uses() {
				if i, ok := l.index[u]; ok && !s.defs.Has(i) {
					s.upward.Set(i)
				}
			}
			if r := inst.Result(); r != nil {
				l.set(s.defs, r)
			}
		}
		sets[b.ID] = s
	}

	p := &Problem{
		Direction: Backward,
		Meet:      Union,
		Size:      n,
		Transfer: func(b *ir.Block, out *BitSet) *BitSet {
			s := sets[b.ID]
			in := out.Clone()
			in.Minus(s.defs)
			in.Union(s.upward)
			in.Union(s.phiDefs)
			return in
		},
		Edge: func(from, to *ir.Block, in *BitSet) *BitSet {
			v := in.Clone()
			v.Minus(sets[to.ID].phiDefs)
			slot := to.PredIndex(from.ID)
			for _, phi := range to.Phis() {
				if slot >= 0 && slot < len(phi.Args) && phi.Args[slot] != nil {
					l.set(v, phi.Args[slot])
				}
			}
			return v
		},
	}
	l.sol = p.Solve(f)
	return l
}

func (l *Liveness) set(s *BitSet, v *ir.Variable) {
	if i, ok := l.index[v]; ok {
		s.Set(i)
	}
}

func (l *Liveness) toSet(b *BitSet) ir.VarSet {
	out := make(ir.VarSet)
	if b == nil {
		return out
	}
	b.Each(func(i int) { out.Add(l.vars[i]) })
	return out
}

// LiveIn returns the variables live at the top of b.
func (l *Liveness) LiveIn(b ir.BlockID) ir.VarSet { return l.toSet(l.sol.In[b]) }

// LiveOut returns the variables live at the bottom of b.
func (l *Liveness) LiveOut(b ir.BlockID) ir.VarSet { return l.toSet(l.sol.Out[b]) }

func (l *Liveness) IsLiveIn(b ir.BlockID, v *ir.Variable) bool {
	i, ok := l.index[v]
	return ok && l.sol.In[b] != nil && l.sol.In[b].Has(i)
}

func (l *Liveness) IsLiveOut(b ir.BlockID, v *ir.Variable) bool {
	i, ok := l.index[v]
	return ok && l.sol.Out[b] != nil && l.sol.Out[b].Has(i)
}

// LiveBefore returns the variables live right before instruction i of b.
// Before a phi, and before the first non-phi instruction, that is the
// live-in set. i == len(b.Insts) gives the live-out set.
func (l *Liveness) LiveBefore(b *ir.Block, i int) ir.VarSet {
	if i <= len(b.Phis()) {
		return l.LiveIn(b.ID)
	}
	live := l.LiveOut(b.ID)
	for j := len(b.Insts) - 1; j >= i; j-- {
		step(live, b.Insts[j])
	}
	return live
}

// step moves a live set backwards over one non-phi instruction.
func step(live ir.VarSet, inst ir.Instruction) {
	if r := inst.Result(); r != nil {
		live.Remove(r)
	}
	for _, u := range inst.Uses() {
		live.Add(u)
	}
}
