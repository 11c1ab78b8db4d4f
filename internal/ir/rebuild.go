package ir

import (
	"fmt"

	"github.com/roach88/udfc/internal/graph"
)

// RebuildRegionTree recomputes the region tree from the shape of the CFG.
// Loops are found from back edges, and conditionals are closed at the
// nearest block that post-dominates them within their enclosing scope. A
// conditional whose continuation has no block to hang from gets an empty
// pre-header inserted.
func (f *Function) RebuildRegionTree() *RegionTree {
	for {
		rb := newRebuilder(f)
		root := rb.region(f.entry, scope{})
		if rb.split == nil {
			for _, r := range rb.byHeader {
				for _, n := range r.Nested() {
					n.setParent(r)
				}
			}
			f.tree = &RegionTree{Root: root, byHeader: rb.byHeader}
			f.dirty = false
			return f.tree
		}
		f.InsertPreheader(rb.split)
	}
}

type loopInfo struct {
	body map[int]bool
	exit BlockID
}

type rebuilder struct {
	f        *Function
	g        graph.Graph
	loops    map[BlockID]*loopInfo
	joins    map[BlockID]BlockID
	rpo      map[BlockID]int
	byHeader map[BlockID]Region
	split    *Block
}

// scope is the set of blocks that end the region being built: the
// continuation of the enclosing conditional and the header and exit of
// the enclosing loops.
type scope struct {
	stops map[BlockID]bool
}

func (s scope) with(ids ...BlockID) scope {
	n := scope{stops: make(map[BlockID]bool, len(s.stops)+len(ids))}
	for k := range s.stops {
		n.stops[k] = true
	}
	for _, id := range ids {
		if id != NoBlock {
			n.stops[id] = true
		}
	}
	return n
}

func newRebuilder(f *Function) *rebuilder {
	rb := &rebuilder{
		f:        f,
		g:        f.Graph(),
		loops:    make(map[BlockID]*loopInfo),
		joins:    make(map[BlockID]BlockID),
		rpo:      make(map[BlockID]int),
		byHeader: make(map[BlockID]Region),
	}
	idom, rpo := graph.Dominators(rb.g, int(f.entry))
	for i, n := range rpo {
		rb.rpo[BlockID(n)] = i
	}
	for _, n := range rpo {
		latches := graph.Latches(rb.g, idom, n)
		if len(latches) == 0 {
			continue
		}
		body := graph.NaturalLoop(rb.g, n, latches)
		exits := map[BlockID]bool{}
		for m := range body {
			for _, s := range rb.g.Succs(m) {
				if !body[s] {
					exits[BlockID(s)] = true
				}
			}
		}
		rb.loops[BlockID(n)] = &loopInfo{body: body, exit: rb.loopExit(n, body, exits, idom)}
	}
	return rb
}

// loopExit picks the block a loop continues with. A loop may also be
// left by paths that end in a return without meeting any other path
// again; those stay inside the loop region. The continuation is the exit
// taken closest to the header in the dominator tree.
func (rb *rebuilder) loopExit(h int, body map[int]bool, exits map[BlockID]bool, idom []int) BlockID {
	if len(exits) == 0 {
		return NoBlock
	}
	depth := func(n int) int {
		d := 0
		for n != int(rb.f.entry) && n != graph.None {
			n = idom[n]
			d++
		}
		return d
	}
	main, best := NoBlock, 0
	for e := range exits {
		d := -1
		for _, p := range rb.g.Preds(int(e)) {
			if body[p] && (d < 0 || depth(p) < d) {
				d = depth(p)
			}
		}
		if main == NoBlock || d < best || (d == best && rb.rpo[e] < rb.rpo[main]) {
			main, best = e, d
		}
	}

	owner := make(map[int]BlockID)
	for e := range exits {
		work := []int{int(e)}
		for len(work) > 0 {
			n := work[len(work)-1]
			work = work[:len(work)-1]
			if body[n] {
				continue
			}
			if o, seen := owner[n]; seen {
				if o != e {
					panic(fmt.Sprintf("loop %s is left towards %s and %s, which meet again",
						rb.f.blocks[h].Label, rb.f.blocks[o].Label, rb.f.blocks[e].Label))
				}
				continue
			}
			owner[n] = e
			work = append(work, rb.g.Succs(n)...)
		}
	}
	return main
}

func (rb *rebuilder) structured(b *Block) bool {
	_, loop := rb.loops[b.ID]
	return loop || len(b.succs) == 2
}

// continuation is where control goes after the conditional or loop
// headed by b.
func (rb *rebuilder) continuation(b *Block, sc scope) BlockID {
	if li, ok := rb.loops[b.ID]; ok {
		return li.exit
	}
	return rb.join(b, sc)
}

func (rb *rebuilder) base(id BlockID, prefix string) regionBase {
	return regionBase{header: id, label: prefix + rb.f.blocks[id].Label}
}

func (rb *rebuilder) register(r Region) {
	h := r.Header()
	if _, dup := rb.byHeader[h]; dup {
		panic(fmt.Sprintf("block %s is reached twice while building regions", rb.f.blocks[h].Label))
	}
	rb.byHeader[h] = r
}

func (rb *rebuilder) leaf(b *Block) Region {
	r := &LeafRegion{rb.base(b.ID, "L.")}
	rb.register(r)
	return r
}

func (rb *rebuilder) region(id BlockID, sc scope) Region {
	if id == NoBlock || sc.stops[id] || rb.split != nil {
		return nil
	}
	b := rb.f.blocks[id]

	if rb.structured(b) {
		if cont := rb.continuation(b, sc); cont != NoBlock && !sc.stops[cont] {
			if _, loop := rb.loops[id]; loop {
				panic(fmt.Sprintf("loop header %s has no pre-header", b.Label))
			}
			// Needs a sequential header to carry the continuation.
			rb.split = b
			return nil
		}
		return rb.core(b, sc)
	}

	switch len(b.succs) {
	case 0:
		return rb.leaf(b)
	case 1:
		s := rb.f.blocks[b.succs[0]]
		if sc.stops[s.ID] {
			return rb.leaf(b)
		}
		seq := &SequentialRegion{regionBase: rb.base(id, "S.")}
		rb.register(seq)
		if rb.structured(s) {
			seq.Body = rb.core(s, sc)
			if cont := rb.continuation(s, sc); cont != NoBlock && !sc.stops[cont] {
				seq.Fallthrough = rb.region(cont, sc)
			}
		} else {
			seq.Body = rb.region(s.ID, sc)
		}
		return seq
	}
	panic(fmt.Sprintf("block %s has %d successors", b.Label, len(b.succs)))
}

// core builds the conditional or loop region headed by b, without its
// continuation.
func (rb *rebuilder) core(b *Block, sc scope) Region {
	if li, ok := rb.loops[b.ID]; ok {
		if len(b.succs) != 1 {
			panic(fmt.Sprintf("loop header %s must have one successor", b.Label))
		}
		loop := &LoopRegion{regionBase: rb.base(b.ID, "R.")}
		rb.register(loop)
		loop.Body = rb.region(b.succs[0], sc.with(b.ID, li.exit))
		return loop
	}

	join := rb.join(b, sc)
	inner := sc.with(join)
	cond := &ConditionalRegion{regionBase: rb.base(b.ID, "C.")}
	rb.register(cond)
	cond.True = rb.region(b.succs[0], inner)
	if b.succs[1] != b.succs[0] {
		cond.False = rb.region(b.succs[1], inner)
	}
	return cond
}

// join returns the block where the two sides of the conditional b meet
// again, or NoBlock if they only leave the current scope. It is the
// immediate post-dominator of b in the part of the CFG reachable from b
// without passing a stop block. When a side returns early nothing
// post-dominates b, and the join is the first block both sides reach.
func (rb *rebuilder) join(b *Block, sc scope) BlockID {
	if j, ok := rb.joins[b.ID]; ok {
		return j
	}

	index := map[BlockID]int{b.ID: 0}
	order := []BlockID{b.ID}
	for i := 0; i < len(order); i++ {
		for _, s := range rb.f.blocks[order[i]].succs {
			if sc.stops[s] {
				continue
			}
			if _, seen := index[s]; !seen {
				index[s] = len(order)
				order = append(order, s)
			}
		}
	}

	exit := len(order)
	local := &adjacency{succs: make([][]int, exit+1), preds: make([][]int, exit+1)}
	for i, id := range order {
		succs := rb.f.blocks[id].succs
		if len(succs) == 0 {
			local.edge(i, exit)
		}
		for _, s := range succs {
			if sc.stops[s] {
				local.edge(i, exit)
			} else {
				local.edge(i, index[s])
			}
		}
	}
	rev := graph.Reverse(local, []int{exit})
	ipdom, _ := graph.Dominators(rev, rev.Exit)

	j := NoBlock
	if p := ipdom[0]; p != graph.None && p != exit && p != rev.Exit {
		j = order[p]
	}
	if j == NoBlock {
		j = rb.meet(b, sc)
	}
	rb.joins[b.ID] = j
	return j
}

// meet returns the earliest block in reverse postorder that both
// successors of b reach without passing a stop block, or NoBlock.
func (rb *rebuilder) meet(b *Block, sc scope) BlockID {
	reach := func(from BlockID) map[BlockID]bool {
		seen := map[BlockID]bool{}
		if sc.stops[from] || from == b.ID {
			return seen
		}
		seen[from] = true
		work := []BlockID{from}
		for len(work) > 0 {
			n := work[len(work)-1]
			work = work[:len(work)-1]
			for _, s := range rb.f.blocks[n].succs {
				if !sc.stops[s] && s != b.ID && !seen[s] {
					seen[s] = true
					work = append(work, s)
				}
			}
		}
		return seen
	}
	left, right := reach(b.succs[0]), reach(b.succs[1])
	j := NoBlock
	for id := range left {
		if right[id] && (j == NoBlock || rb.rpo[id] < rb.rpo[j]) {
			j = id
		}
	}
	return j
}

type adjacency struct {
	succs [][]int
	preds [][]int
}

func (a *adjacency) edge(from, to int) {
	a.succs[from] = append(a.succs[from], to)
	a.preds[to] = append(a.preds[to], from)
}

func (a *adjacency) Len() int          { return len(a.succs) }
func (a *adjacency) Succs(n int) []int { return a.succs[n] }
func (a *adjacency) Preds(n int) []int { return a.preds[n] }
