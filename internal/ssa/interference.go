package ssa

import (
	"context"

	"github.com/roach88/udfc/internal/analysis"
	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/pass"
)

// BreakPhiInterference isolates the variables of a phi that are live at
// the same time, so the phi can be lowered into copies that do not
// clobber each other.
var BreakPhiInterference = pass.New("BreakPhiInterference", breakPhiInterference)

type pair struct{ a, b *ir.Variable }

type phiBreaker struct {
	ctx     context.Context
	f       *ir.Function
	graph   *analysis.Interference
	liveIn  map[ir.BlockID]ir.VarSet
	liveOut map[ir.BlockID]ir.VarSet
	classes map[*ir.Variable]ir.VarSet
	tied    *unionFind
	changed bool
}

func breakPhiInterference(ctx context.Context, f *ir.Function) (bool, error) {
	live := analysis.ComputeLiveness(f)
	pb := &phiBreaker{
		ctx:     ctx,
		f:       f,
		graph:   analysis.BuildInterference(f, live),
		liveIn:  make(map[ir.BlockID]ir.VarSet),
		liveOut: make(map[ir.BlockID]ir.VarSet),
		classes: make(map[*ir.Variable]ir.VarSet),
		tied:    newUnionFind(),
	}
	for _, b := range f.Blocks() {
		pb.liveIn[b.ID] = live.LiveIn(b.ID)
		pb.liveOut[b.ID] = live.LiveOut(b.ID)
	}

	for _, b := range f.Blocks() {
		for _, phi := range b.Phis() {
			if err := pb.resolve(b, phi); err != nil {
				return pb.changed, err
			}
		}
	}
	for v, c := range pb.classes {
		if len(c) == 1 {
			pb.classes[v] = ir.VarSet{}
		}
	}
	pb.removeCopies()
	return pb.changed, nil
}

// class returns the phi congruence class of v, a singleton until v is
// tied to a phi.
func (pb *phiBreaker) class(v *ir.Variable) ir.VarSet {
	c, ok := pb.classes[v]
	if !ok {
		c = ir.NewVarSet(v)
		pb.classes[v] = c
	}
	return c
}

func (pb *phiBreaker) intersects(v *ir.Variable, s ir.VarSet) bool {
	for x := range pb.class(v) {
		if s.Has(x) {
			return true
		}
	}
	return false
}

func (pb *phiBreaker) resolve(b *ir.Block, phi *ir.Phi) error {
	marked := make(ir.VarSet)
	var deferred []pair
	pb.sourceConflicts(b, phi, marked, &deferred)
	pb.resultConflicts(b, phi, marked, &deferred)

	deferred = dropMarked(deferred, marked)
	for len(deferred) > 0 {
		v := mostFrequent(deferred)
		marked.Add(v)
		deferred = dropMarked(deferred, ir.NewVarSet(v))
	}

	for _, x := range marked.Sorted() {
		if err := pb.isolate(b, phi, x); err != nil {
			return err
		}
	}
	pb.mergeClasses(phi)
	return nil
}

// sourceConflicts looks at every pair of arguments that interfere. The
// one whose class is live out of the other's predecessor must be copied;
// when neither is, the pair is deferred.
func (pb *phiBreaker) sourceConflicts(b *ir.Block, phi *ir.Phi, marked ir.VarSet, deferred *[]pair) {
	preds := b.Preds()
	for i, xi := range phi.Args {
		if xi == nil {
			continue
		}
		for j := i + 1; j < len(phi.Args); j++ {
			xj := phi.Args[j]
			if xj == nil || !pb.graph.Interferes(xi, xj) {
				continue
			}
			left := pb.intersects(xi, pb.liveOut[preds[j]])
			right := pb.intersects(xj, pb.liveOut[preds[i]])
			switch {
			case left && !right:
				marked.Add(xi)
			case !left && right:
				marked.Add(xj)
			case !left && !right:
				*deferred = appendPair(*deferred, pair{xi, xj})
			default:
				marked.Add(xi)
				marked.Add(xj)
			}
		}
	}
}

// resultConflicts looks at the result against each argument it
// interferes with.
func (pb *phiBreaker) resultConflicts(b *ir.Block, phi *ir.Phi, marked ir.VarSet, deferred *[]pair) {
	x := phi.Var
	for j, xj := range phi.Args {
		if xj == nil || !pb.graph.Interferes(x, xj) {
			continue
		}
		nj := b.Preds()[j]
		self := pb.intersects(x, pb.liveOut[b.ID])
		left := pb.intersects(x, pb.liveOut[nj])
		rightIn := pb.intersects(xj, pb.liveIn[b.ID])
		rightOut := pb.intersects(xj, pb.liveOut[b.ID])
		switch {
		case self && !rightIn:
			marked.Add(x)
		case !self && rightIn:
			marked.Add(xj)
		case !left && !rightOut:
			*deferred = appendPair(*deferred, pair{x, xj})
		case left && rightOut:
			marked.Add(x)
			marked.Add(xj)
		}
	}
}

func appendPair(ps []pair, p pair) []pair {
	for _, q := range ps {
		if q == p {
			return ps
		}
	}
	return append(ps, p)
}

func dropMarked(ps []pair, marked ir.VarSet) []pair {
	out := ps[:0]
	for _, p := range ps {
		if !marked.Has(p.a) && !marked.Has(p.b) {
			out = append(out, p)
		}
	}
	return out
}

// mostFrequent returns the variable occurring in most deferred pairs,
// the earliest one on ties.
func mostFrequent(ps []pair) *ir.Variable {
	count := make(map[*ir.Variable]int)
	var order []*ir.Variable
	for _, p := range ps {
		for _, v := range []*ir.Variable{p.a, p.b} {
			if count[v] == 0 {
				order = append(order, v)
			}
			count[v]++
		}
	}
	best := order[0]
	for _, v := range order[1:] {
		if count[v] > count[best] {
			best = v
		}
	}
	return best
}

// isolate replaces x in phi by a fresh variable x'. For the result, the
// phi defines x' and "x := x'" follows the phis. For an argument, each
// matching predecessor ends with "x' := x". Liveness and interference are
// patched for x'.
func (pb *phiBreaker) isolate(b *ir.Block, phi *ir.Phi, x *ir.Variable) error {
	f := pb.f
	prime := f.NewTemp("p"+ir.OriginalName(x.Name), x.Type)
	pb.graph.AddVar(prime)
	pb.classes[prime] = ir.NewVarSet(prime)
	pb.changed = true

	if phi.Var == x {
		ref, err := f.Reference(pb.ctx, prime)
		if err != nil {
			return err
		}
		phi.Var = prime
		b.InsertAfterPhis(&ir.Assignment{Var: x, Value: ref})

		in := pb.liveIn[b.ID]
		in.Remove(x)
		for v := range in {
			pb.graph.AddEdge(prime, v)
		}
		in.Add(prime)
		return nil
	}

	for i, a := range phi.Args {
		if a != x {
			continue
		}
		ref, err := f.Reference(pb.ctx, x)
		if err != nil {
			return err
		}
		phi.Args[i] = prime
		pred := f.Block(b.Preds()[i])
		pred.InsertBeforeTerminator(&ir.Assignment{Var: prime, Value: ref})

		out := pb.liveOut[pred.ID]
		if !pb.stillLiveOut(pred, x) {
			out.Remove(x)
		}
		for v := range out {
			pb.graph.AddEdge(prime, v)
		}
		out.Add(prime)
	}
	return nil
}

// stillLiveOut reports whether a successor of pred still reads x, either
// in its body or through a phi argument on the edge from pred.
func (pb *phiBreaker) stillLiveOut(pred *ir.Block, x *ir.Variable) bool {
	for _, s := range pred.Succs() {
		sb := pb.f.Block(s)
		if pb.liveIn[s].Has(x) {
			return true
		}
		slot := sb.PredIndex(pred.ID)
		for _, phi := range sb.Phis() {
			if slot >= 0 && slot < len(phi.Args) && phi.Args[slot] == x {
				return true
			}
		}
	}
	return false
}

// mergeClasses puts the result and arguments of phi in one class.
// Arguments that are versions of the same variable as the result are
// also tied to it; they will share its name after destruction.
func (pb *phiBreaker) mergeClasses(phi *ir.Phi) {
	merged := make(ir.VarSet)
	merged.AddAll(pb.class(phi.Var))
	for _, a := range phi.Args {
		if a == nil {
			continue
		}
		merged.AddAll(pb.class(a))
		if a.Origin() == phi.Var.Origin() {
			pb.tied.union(a, phi.Var)
		}
	}
	for v := range merged {
		pb.classes[v] = merged
	}
}

// removeCopies drops "x := y" when x and y are tied by a phi and neither
// interferes with the rest of the other's class.
func (pb *phiBreaker) removeCopies() {
	for _, b := range pb.f.Blocks() {
		var keep []ir.Instruction
		for _, inst := range b.Insts {
			a, ok := inst.(*ir.Assignment)
			if !ok {
				keep = append(keep, inst)
				continue
			}
			y, ok := a.Value.IsVariable()
			x := a.Var
			if !ok || pb.tied.find(x) != pb.tied.find(y) || pb.conflicts(x, y) || pb.conflicts(y, x) {
				keep = append(keep, inst)
				continue
			}
			pb.changed = true
		}
		b.Insts = keep
	}
}

func (pb *phiBreaker) conflicts(x, y *ir.Variable) bool {
	for z := range pb.class(y) {
		if z != y && z != x && pb.graph.Interferes(x, z) {
			return true
		}
	}
	return false
}
