package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/udfc/internal/ir"
)

// Dependence says that whether Block runs is decided by the conditional
// branch ending Branch, when it takes its true or false edge.
type Dependence struct {
	Block  ir.BlockID
	Branch ir.BlockID
	Edge   bool
}

// ControlDependence is the control dependence graph of a function. The
// blocks a block depends on form its post-dominance frontier.
type ControlDependence struct {
	f  *ir.Function
	on map[ir.BlockID][]Dependence
}

// ComputeControlDependence walks, for every edge A -> B that B does not
// post-dominate A, the post-dominator tree from B up to the immediate
// post-dominator of A. Every block on the way depends on A.
func ComputeControlDependence(f *ir.Function) *ControlDependence {
	pdom := PostDominance(f)
	cd := &ControlDependence{f: f, on: make(map[ir.BlockID][]Dependence)}
	for _, a := range f.Blocks() {
		br, ok := a.Terminator().(*ir.Branch)
		if !ok || !br.IsConditional() || !pdom.Reachable(a.ID) {
			continue
		}
		stop := pdom.Idom(a.ID)
		for i, b := range br.Targets() {
			if pdom.Dominates(b, a.ID) {
				continue
			}
			for runner := b; runner != ir.NoBlock && runner != stop; runner = pdom.Idom(runner) {
				cd.on[runner] = append(cd.on[runner], Dependence{Block: runner, Branch: a.ID, Edge: i == 0})
			}
		}
	}
	for _, deps := range cd.on {
		sort.Slice(deps, func(i, j int) bool {
			if deps[i].Branch != deps[j].Branch {
				return deps[i].Branch < deps[j].Branch
			}
			return deps[i].Edge && !deps[j].Edge
		})
	}
	return cd
}

// On returns the branches b depends on.
func (cd *ControlDependence) On(b ir.BlockID) []Dependence { return cd.on[b] }

// Dependents returns the blocks whose execution the branch ending a
// decides, in block order.
func (cd *ControlDependence) Dependents(a ir.BlockID) []ir.BlockID {
	var out []ir.BlockID
	for b, deps := range cd.on {
		for _, d := range deps {
			if d.Branch == a {
				out = append(out, b)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String lists every dependent block with its controlling branches, e.g.
// "then: B2(true)".
func (cd *ControlDependence) String() string {
	var sb strings.Builder
	for _, b := range cd.f.Blocks() {
		deps := cd.on[b.ID]
		if len(deps) == 0 {
			continue
		}
		parts := make([]string, len(deps))
		for i, d := range deps {
			parts[i] = fmt.Sprintf("%s(%t)", cd.f.Block(d.Branch).Label, d.Edge)
		}
		fmt.Fprintf(&sb, "%s: %s\n", b.Label, strings.Join(parts, " "))
	}
	return sb.String()
}
