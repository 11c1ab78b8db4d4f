package opt

import (
	"context"
	"fmt"

	"github.com/roach88/udfc/internal/analysis"
	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/pass"
)

// QueryMotion moves query assignments up the region tree so they run as
// rarely as possible. A query moves into the header of the enclosing
// region when none of its inputs is assigned in the region it leaves and
// all of them are available at the end of that header. Leaving a branch
// of a conditional adds the branch condition as a WHERE clause. Queries
// never leave a loop, which may run zero times, and a join point is never
// a target. The original assignment reads the hoisted value from a fresh
// temporary.
var QueryMotion = pass.New("QueryMotion", hoistQueries)

type motion struct {
	block  *ir.Block
	assign *ir.Assignment
}

func hoistQueries(ctx context.Context, f *ir.Function) (bool, error) {
	tree := f.Regions()
	dom := analysis.Dominance(f)

	defBlock := make(map[*ir.Variable]ir.BlockID)
	var work []motion
	for _, id := range dom.Order() {
		b := f.Block(id)
		for _, inst := range b.Insts {
			if r := inst.Result(); r != nil {
				defBlock[r] = id
			}
			if a, ok := inst.(*ir.Assignment); ok && a.Value.IsSQL() {
				work = append(work, motion{block: b, assign: a})
			}
		}
	}
	available := func(e *ir.Expr, at ir.BlockID) bool {
		for _, u := range e.Uses() {
			if d, ok := defBlock[u]; ok && !dom.Dominates(d, at) {
				return false
			}
		}
		return true
	}

	changed := false
	for len(work) > 0 {
		m := work[0]
		work = work[1:]

		region := tree.Of(m.block.ID)
		if region == nil || reads(m.assign.Value, analysis.RegionDefs(f, region)) {
			continue
		}
		target, cond, negated := hoistTarget(f, region)
		if target == nil || !available(m.assign.Value, target.Header()) {
			continue
		}

		text := m.assign.Value.Text
		switch {
		case cond == nil:
		case negated:
			text = fmt.Sprintf("SELECT (%s) WHERE NOT (%s)", text, cond.Text)
		default:
			text = fmt.Sprintf("SELECT (%s) WHERE %s", text, cond.Text)
		}
		value, err := f.BindExpression(ctx, text, m.assign.Var.Type)
		if err != nil {
			return changed, err
		}
		temp := f.NewTemp("temp", m.assign.Var.Type)
		ref, err := f.Reference(ctx, temp)
		if err != nil {
			return changed, err
		}

		tb := f.Block(target.Header())
		hoisted := &ir.Assignment{Var: temp, Value: value}
		tb.InsertBeforeTerminator(hoisted)
		defBlock[temp] = tb.ID
		m.assign.Value = ref
		work = append(work, motion{block: tb, assign: hoisted})
		changed = true
	}
	return changed, nil
}

// hoistTarget returns the region whose header the query leaving r moves
// into, with the branch condition guarding r when the target is a
// conditional. It returns nil when leaving r would leave a loop.
func hoistTarget(f *ir.Function, r ir.Region) (target ir.Region, cond *ir.Expr, negated bool) {
	if _, loop := r.(*ir.LoopRegion); loop {
		return nil, nil, false
	}
	p := r.Parent()
	if p == nil || len(f.Block(p.Header()).Preds()) > 1 {
		return nil, nil, false
	}
	switch p := p.(type) {
	case *ir.LoopRegion:
		return nil, nil, false
	case *ir.ConditionalRegion:
		br := f.Block(p.Header()).Terminator().(*ir.Branch)
		return p, br.Cond, p.True != r
	}
	return p, nil, false
}

func reads(e *ir.Expr, vars ir.VarSet) bool {
	for _, u := range e.Uses() {
		if vars.Has(u) {
			return true
		}
	}
	return false
}
