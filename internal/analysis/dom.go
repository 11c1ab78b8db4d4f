package analysis

import (
	"sort"

	"github.com/roach88/udfc/internal/graph"
	"github.com/roach88/udfc/internal/ir"
)

// Tree is a dominator tree with its dominance frontier. A post-dominator
// tree is the same structure computed on the reversed CFG, rooted at a
// virtual exit that no block handle refers to.
type Tree struct {
	idom     []int
	rpo      []int
	root     int
	virtual  bool
	children [][]ir.BlockID
	frontier [][]ir.BlockID
	preorder []ir.BlockID
}

// Dominance computes the dominator tree of f from its entry block.
func Dominance(f *ir.Function) *Tree {
	g := f.Graph()
	return newTree(g, int(f.Entry().ID), false)
}

// PostDominance computes the post-dominator tree of f. Every block with no
// successors is an exit; they share a virtual root.
func PostDominance(f *ir.Function) *Tree {
	var exits []int
	for _, b := range f.Blocks() {
		if len(b.Succs()) == 0 {
			exits = append(exits, int(b.ID))
		}
	}
	r := graph.Reverse(f.Graph(), exits)
	return newTree(r, r.Exit, true)
}

func newTree(g graph.Graph, root int, virtual bool) *Tree {
	idom, rpo := graph.Dominators(g, root)
	t := &Tree{
		idom:     idom,
		rpo:      rpo,
		root:     root,
		virtual:  virtual,
		children: make([][]ir.BlockID, g.Len()),
		frontier: make([][]ir.BlockID, g.Len()),
	}
	for _, n := range rpo {
		if n != root {
			t.children[idom[n]] = append(t.children[idom[n]], ir.BlockID(n))
		}
	}
	for _, c := range t.children {
		sort.Slice(c, func(i, j int) bool { return c[i] < c[j] })
	}

	seen := make([]map[int]bool, g.Len())
	for _, n := range rpo {
		preds := g.Preds(n)
		if n == root || len(preds) < 2 {
			continue
		}
		for _, p := range preds {
			for runner := p; idom[runner] != graph.None && runner != idom[n]; runner = idom[runner] {
				if seen[runner] == nil {
					seen[runner] = make(map[int]bool)
				}
				if !seen[runner][n] {
					seen[runner][n] = true
					t.frontier[runner] = append(t.frontier[runner], ir.BlockID(n))
				}
				if runner == root {
					break
				}
			}
		}
	}
	for _, df := range t.frontier {
		sort.Slice(df, func(i, j int) bool { return df[i] < df[j] })
	}

	var walk func(n int)
	walk = func(n int) {
		if !(virtual && n == root) {
			t.preorder = append(t.preorder, ir.BlockID(n))
		}
		for _, c := range t.children[n] {
			walk(int(c))
		}
	}
	walk(root)
	return t
}

func (t *Tree) valid(b ir.BlockID) bool {
	return b >= 0 && int(b) < len(t.idom) && t.idom[b] != graph.None && !(t.virtual && int(b) == t.root)
}

// Reachable reports whether b is in the tree: reachable from the entry,
// or for post-dominance, able to reach an exit.
func (t *Tree) Reachable(b ir.BlockID) bool { return t.valid(b) }

// Idom returns the immediate dominator of b. The root, blocks whose
// immediate post-dominator is the virtual exit and blocks outside the
// tree have none.
func (t *Tree) Idom(b ir.BlockID) ir.BlockID {
	if !t.valid(b) || int(b) == t.root {
		return ir.NoBlock
	}
	d := t.idom[b]
	if t.virtual && d == t.root {
		return ir.NoBlock
	}
	return ir.BlockID(d)
}

// Dominates reports whether a dominates b. Every block dominates itself.
func (t *Tree) Dominates(a, b ir.BlockID) bool {
	if !t.valid(a) || !t.valid(b) {
		return false
	}
	return graph.Dominates(t.idom, int(a), int(b))
}

// StrictlyDominates reports whether a dominates b and differs from it.
func (t *Tree) StrictlyDominates(a, b ir.BlockID) bool {
	return a != b && t.Dominates(a, b)
}

// Children returns the blocks immediately dominated by b.
func (t *Tree) Children(b ir.BlockID) []ir.BlockID {
	if b < 0 || int(b) >= len(t.children) {
		return nil
	}
	return t.children[b]
}

// Roots returns the top of the tree: the entry, or for post-dominance
// the blocks immediately post-dominated by the virtual exit.
func (t *Tree) Roots() []ir.BlockID {
	if t.virtual {
		return t.children[t.root]
	}
	return []ir.BlockID{ir.BlockID(t.root)}
}

// Frontier returns the dominance frontier of b in block order.
func (t *Tree) Frontier(b ir.BlockID) []ir.BlockID {
	if b < 0 || int(b) >= len(t.frontier) {
		return nil
	}
	return t.frontier[b]
}

// Order returns the blocks of the tree in reverse postorder of the graph
// the tree was computed on.
func (t *Tree) Order() []ir.BlockID {
	out := make([]ir.BlockID, 0, len(t.rpo))
	for _, n := range t.rpo {
		if !(t.virtual && n == t.root) {
			out = append(out, ir.BlockID(n))
		}
	}
	return out
}

// Preorder returns the blocks in a depth-first preorder of the tree,
// visiting children in block order.
func (t *Tree) Preorder() []ir.BlockID { return t.preorder }
