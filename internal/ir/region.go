package ir

import (
	"fmt"
	"strings"
)

// Region is one of *LeafRegion, *SequentialRegion, *ConditionalRegion or
// *LoopRegion. Regions are views over the block arena: they name blocks
// by handle and never own them. Every reachable block heads exactly one
// region.
type Region interface {
	Header() BlockID
	Parent() Region
	// Nested returns the child regions in execution order.
	Nested() []Region
	Label() string

	region()
	setParent(Region)
}

type regionBase struct {
	header BlockID
	label  string
	parent Region
}

func (r *regionBase) Header() BlockID    { return r.header }
func (r *regionBase) Parent() Region     { return r.parent }
func (r *regionBase) Label() string      { return r.label }
func (r *regionBase) setParent(p Region) { r.parent = p }

// LeafRegion is a single block.
type LeafRegion struct {
	regionBase
}

// SequentialRegion runs its header, then Body, then Fallthrough if any.
type SequentialRegion struct {
	regionBase
	Body        Region
	Fallthrough Region
}

// ConditionalRegion branches in its header to True or False. A missing
// side jumps straight to the region's continuation.
type ConditionalRegion struct {
	regionBase
	True  Region
	False Region
}

// LoopRegion repeats Body. Back edges to the header exist only in the
// CFG.
type LoopRegion struct {
	regionBase
	Body Region
}

func (*LeafRegion) region()        {}
func (*SequentialRegion) region()  {}
func (*ConditionalRegion) region() {}
func (*LoopRegion) region()        {}

func (*LeafRegion) Nested() []Region { return nil }

func (r *SequentialRegion) Nested() []Region { return nonNil(r.Body, r.Fallthrough) }

func (r *ConditionalRegion) Nested() []Region { return nonNil(r.True, r.False) }

func (r *LoopRegion) Nested() []Region { return nonNil(r.Body) }

func nonNil(rs ...Region) []Region {
	out := make([]Region, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// RegionTree is the region hierarchy of a function.
type RegionTree struct {
	Root     Region
	byHeader map[BlockID]Region
}

// Of returns the region headed by block b.
func (t *RegionTree) Of(b BlockID) Region { return t.byHeader[b] }

// Walk visits r and its descendants in preorder. Returning false from fn
// skips the children of a region.
func Walk(r Region, fn func(Region) bool) {
	if r == nil || !fn(r) {
		return
	}
	for _, n := range r.Nested() {
		Walk(n, fn)
	}
}

// RegionBlocks returns the header of r followed by the blocks of its
// nested regions, recursively.
func RegionBlocks(r Region) []BlockID {
	var out []BlockID
	Walk(r, func(n Region) bool {
		out = append(out, n.Header())
		return true
	})
	return out
}

// EnclosingLoop returns the nearest loop region strictly above r.
func EnclosingLoop(r Region) *LoopRegion {
	for p := r.Parent(); p != nil; p = p.Parent() {
		if l, ok := p.(*LoopRegion); ok {
			return l
		}
	}
	return nil
}

// HeaderHasSelect reports whether the header block of r evaluates a
// query.
func (f *Function) HeaderHasSelect(r Region) bool {
	for _, inst := range f.Block(r.Header()).Insts {
		if HasSQL(inst) {
			return true
		}
	}
	return false
}

// HasSelect reports whether any block of r evaluates a query.
func (f *Function) HasSelect(r Region) bool {
	for _, id := range RegionBlocks(r) {
		for _, inst := range f.Block(id).Insts {
			if HasSQL(inst) {
				return true
			}
		}
	}
	return false
}

// RegionMetadata returns the annotations of r.
func (f *Function) RegionMetadata(r Region) Metadata { return f.meta[r.Header()] }

// FormatRegions renders the region tree as an indented outline.
func (f *Function) FormatRegions() string {
	var sb strings.Builder
	var visit func(r Region, depth int)
	visit = func(r Region, depth int) {
		fmt.Fprintf(&sb, "%s%s", strings.Repeat("  ", depth), r.Label())
		if m := f.meta[r.Header()]; m != nil {
			if info, ok := m[MetaUDFInfo]; ok {
				fmt.Fprintf(&sb, " [%v]", info)
			}
		}
		sb.WriteString("\n")
		for _, n := range r.Nested() {
			visit(n, depth+1)
		}
	}
	if root := f.Regions().Root; root != nil {
		visit(root, 0)
	}
	return sb.String()
}

// RegionExits returns the blocks outside r that blocks of r branch to, in
// order of first appearance.
func (f *Function) RegionExits(r Region) []BlockID {
	in := make(map[BlockID]bool)
	for _, id := range RegionBlocks(r) {
		in[id] = true
	}
	var out []BlockID
	seen := make(map[BlockID]bool)
	for _, id := range RegionBlocks(r) {
		for _, s := range f.Block(id).succs {
			if !in[s] && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// RegionReturns reports whether some path through r ends the function.
func (f *Function) RegionReturns(r Region) bool {
	for _, id := range RegionBlocks(r) {
		switch f.Block(id).Terminator().(type) {
		case *Return, *Exit:
			return true
		}
	}
	return false
}

// OutsidePreds returns the predecessors of the header of r that are not
// in r.
func (f *Function) OutsidePreds(r Region) []BlockID {
	in := make(map[BlockID]bool)
	for _, id := range RegionBlocks(r) {
		in[id] = true
	}
	var out []BlockID
	for _, p := range f.Block(r.Header()).preds {
		if !in[p] {
			out = append(out, p)
		}
	}
	return out
}

// ReplaceRegion puts inst at the end of the only block entering r and
// makes that block jump to where r is left to, then deletes the blocks
// of r. r must have a single exit without phis. The entering block is
// returned.
func (f *Function) ReplaceRegion(r Region, inst Instruction) *Block {
	h := f.Block(r.Header())
	preds := f.OutsidePreds(r)
	exits := f.RegionExits(r)
	if len(preds) != 1 || len(exits) != 1 {
		panic(fmt.Sprintf("region %s has %d entries and %d exits", r.Label(), len(preds), len(exits)))
	}
	if f.Block(exits[0]).StartsWithPhi() {
		panic(fmt.Sprintf("region %s is left towards a phi", r.Label()))
	}
	pred := f.Block(preds[0])
	pred.InsertBeforeTerminator(inst)
	f.RedirectEdge(pred, h.ID, exits[0])
	f.RemoveUnreachable()
	return pred
}
