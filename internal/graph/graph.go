// Package graph holds the directed-graph algorithms shared by the IR and
// the analyses: reverse postorder, immediate dominators and loop
// detection over integer node handles.
package graph

// Graph is a directed graph over the nodes 0..Len()-1. Nodes that are not
// live report no edges.
type Graph interface {
	Len() int
	Succs(n int) []int
	Preds(n int) []int
}

// None marks a missing node, e.g. the dominator of an unreachable node.
const None = -1

// ReversePostorder returns the nodes reachable from entry in reverse
// postorder of a depth-first walk that visits successors in their
// natural order.
func ReversePostorder(g Graph, entry int) []int {
	type frame struct{ n, next int }
	visited := make([]bool, g.Len())
	order := make([]int, 0, g.Len())
	stack := []frame{{n: entry}}
	visited[entry] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := g.Succs(top.n)
		if top.next < len(succs) {
			s := succs[top.next]
			top.next++
			if !visited[s] {
				visited[s] = true
				stack = append(stack, frame{n: s})
			}
			continue
		}
		order = append(order, top.n)
		stack = stack[:len(stack)-1]
	}
	for i := len(order)/2 - 1; i >= 0; i-- {
		j := len(order) - 1 - i
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// Dominators returns the immediate dominator of every node, computed with
// the iterative algorithm of Cooper, Harvey and Kennedy ("A Simple, Fast
// Dominance Algorithm"). The entry is its own dominator; unreachable
// nodes get None. The reverse postorder used is returned as well.
func Dominators(g Graph, entry int) (idom []int, rpo []int) {
	rpo = ReversePostorder(g, entry)
	number := make([]int, g.Len())
	for i := range number {
		number[i] = None
	}
	for i, n := range rpo {
		number[n] = i
	}

	idom = make([]int, g.Len())
	for i := range idom {
		idom[i] = None
	}
	idom[entry] = entry

	intersect := func(a, b int) int {
		for a != b {
			for number[a] > number[b] {
				a = idom[a]
			}
			for number[b] > number[a] {
				b = idom[b]
			}
		}
		return a
	}

	changed := true
	for changed {
		changed = false
		for _, n := range rpo[1:] {
			u := None
			for _, p := range g.Preds(n) {
				// Predecessors not processed yet are skipped; they are
				// revisited on the next sweep.
				if idom[p] == None {
					continue
				}
				if u == None {
					u = p
				} else {
					u = intersect(u, p)
				}
			}
			if idom[n] != u {
				idom[n] = u
				changed = true
			}
		}
	}
	return idom, rpo
}

// Dominates reports whether a dominates b according to idom.
func Dominates(idom []int, a, b int) bool {
	if b < 0 || b >= len(idom) || idom[b] == None {
		return false
	}
	for {
		if a == b {
			return true
		}
		next := idom[b]
		if next == b || next == None {
			return false
		}
		b = next
	}
}

// Reversed is g with every edge flipped and one extra node, Exit, that
// becomes the predecessor of every node in exits.
type Reversed struct {
	g      Graph
	Exit   int
	exits  []int
	isExit map[int]bool
}

// Reverse returns the reversed view of g used for post-dominance.
func Reverse(g Graph, exits []int) *Reversed {
	r := &Reversed{g: g, Exit: g.Len(), exits: exits, isExit: make(map[int]bool, len(exits))}
	for _, e := range exits {
		r.isExit[e] = true
	}
	return r
}

func (r *Reversed) Len() int { return r.g.Len() + 1 }

func (r *Reversed) Succs(n int) []int {
	if n == r.Exit {
		return r.exits
	}
	return r.g.Preds(n)
}

func (r *Reversed) Preds(n int) []int {
	if n == r.Exit {
		return nil
	}
	preds := r.g.Succs(n)
	if r.isExit[n] {
		return append(append([]int(nil), preds...), r.Exit)
	}
	return preds
}

// NaturalLoop returns the body of the loop with header h: h plus every
// node that reaches one of the latches without passing through h.
func NaturalLoop(g Graph, h int, latches []int) map[int]bool {
	body := map[int]bool{h: true}
	stack := append([]int(nil), latches...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if body[n] {
			continue
		}
		body[n] = true
		stack = append(stack, g.Preds(n)...)
	}
	return body
}

// Latches returns the sources of back edges into h, that is the
// predecessors of h that h dominates.
func Latches(g Graph, idom []int, h int) []int {
	var latches []int
	for _, p := range g.Preds(h) {
		if Dominates(idom, h, p) {
			latches = append(latches, p)
		}
	}
	return latches
}
