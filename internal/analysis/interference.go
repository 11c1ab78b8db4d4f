package analysis

import (
	"github.com/roach88/udfc/internal/ir"
)

// Interference is an undirected graph between variables that are live at
// the same program point.
type Interference struct {
	adj map[*ir.Variable]ir.VarSet
}

// NewInterference returns an empty graph.
func NewInterference() *Interference {
	return &Interference{adj: make(map[*ir.Variable]ir.VarSet)}
}

// BuildInterference connects every pair of variables that are live
// together at the top of a block or right after an instruction. A
// variable defined by an instruction also interferes with everything
// live after it, even when the definition itself is dead.
func BuildInterference(f *ir.Function, live *Liveness) *Interference {
	g := NewInterference()
	for _, v := range f.Variables() {
		g.AddVar(v)
	}
	for _, id := range Dominance(f).Order() {
		b := f.Block(id)
		g.clique(live.LiveIn(id))

		after := live.LiveOut(id)
		g.clique(after)
		for i := len(b.Insts) - 1; i >= len(b.Phis()); i-- {
			inst := b.Insts[i]
			if r := inst.Result(); r != nil {
				for v := range after {
					g.AddEdge(r, v)
				}
			}
			step(after, inst)
			g.clique(after)
		}
	}
	return g
}

func (g *Interference) clique(s ir.VarSet) {
	vars := s.Sorted()
	for i, a := range vars {
		for _, b := range vars[i+1:] {
			g.AddEdge(a, b)
		}
	}
}

// AddVar adds v without edges.
func (g *Interference) AddVar(v *ir.Variable) {
	if _, ok := g.adj[v]; !ok {
		g.adj[v] = make(ir.VarSet)
	}
}

// AddEdge records that a and b interfere. Self edges are ignored.
func (g *Interference) AddEdge(a, b *ir.Variable) {
	if a == b {
		return
	}
	g.AddVar(a)
	g.AddVar(b)
	g.adj[a].Add(b)
	g.adj[b].Add(a)
}

func (g *Interference) Interferes(a, b *ir.Variable) bool {
	return g.adj[a].Has(b)
}

// Neighbors returns the variables v interferes with, in creation order.
func (g *Interference) Neighbors(v *ir.Variable) []*ir.Variable {
	return g.adj[v].Sorted()
}
