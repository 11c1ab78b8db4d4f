package analysis

import (
	"github.com/roach88/udfc/internal/ir"
)

// Site locates an instruction.
type Site struct {
	Block *ir.Block
	Inst  ir.Instruction
}

// UseDef maps every variable to the instructions defining and reading
// it, in block then instruction order.
type UseDef struct {
	defs map[*ir.Variable][]Site
	uses map[*ir.Variable][]Site
}

// ComputeUseDef scans every live block of f.
func ComputeUseDef(f *ir.Function) *UseDef {
	ud := &UseDef{defs: make(map[*ir.Variable][]Site), uses: make(map[*ir.Variable][]Site)}
	for _, b := range f.Blocks() {
		for _, inst := range b.Insts {
			site := Site{Block: b, Inst: inst}
			if r := inst.Result(); r != nil {
				ud.defs[r] = append(ud.defs[r], site)
			}
			for _, u := range inst.Uses() {
				ud.uses[u] = append(ud.uses[u], site)
			}
		}
	}
	return ud
}

// Def returns the definition of v when there is exactly one.
func (ud *UseDef) Def(v *ir.Variable) (Site, bool) {
	if d := ud.defs[v]; len(d) == 1 {
		return d[0], true
	}
	return Site{}, false
}

// Definitions returns every instruction that assigns v.
func (ud *UseDef) Definitions(v *ir.Variable) []Site { return ud.defs[v] }

// Uses returns every instruction that reads v. An instruction reading v
// twice appears once.
func (ud *UseDef) Uses(v *ir.Variable) []Site { return ud.uses[v] }

func (ud *UseDef) NumUses(v *ir.Variable) int { return len(ud.uses[v]) }
