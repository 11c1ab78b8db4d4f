// Package aggify turns cursor loops that fold the rows of a query into a
// single value into custom aggregates evaluated over that query.
//
// One iteration of the loop becomes the step function of the aggregate.
// Variables whose value survives from one row to the next live in the
// aggregate state, the row is passed in as arguments, and the caller
// assigns the result of the aggregate where the loop used to be.
package aggify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/roach88/udfc/internal/analysis"
	"github.com/roach88/udfc/internal/codegen"
	"github.com/roach88/udfc/internal/frontend"
	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/opt"
	"github.com/roach88/udfc/internal/pass"
	"github.com/roach88/udfc/internal/session"
	"github.com/roach88/udfc/internal/ssa"
)

const passName = "Aggify"

// Pass rewrites cursor loops with the dataflow classification. It runs
// on functions in SSA form.
var Pass = New(Dataflow)

// New returns an Aggify pass classifying state with c.
func New(c Classifier) pass.Pass {
	return pass.New(passName, func(ctx context.Context, f *ir.Function) (bool, error) {
		return aggifyLoops(ctx, f, c)
	})
}

// cleanup brings a step function out of SSA form. Dead code is kept: the
// state stores at the end of an iteration are the only readers of some
// assignments.
var cleanup = pass.NewPipeline(
	ssa.BreakPhiInterference,
	ssa.Destruction,
	opt.AggressiveMergeRegions,
	opt.MergeBasicBlocks,
	opt.RemoveUnusedVariable,
)

func aggifyLoops(ctx context.Context, f *ir.Function, c Classifier) (bool, error) {
	s := session.FromContext(ctx)
	declined := make(map[ir.BlockID]bool)
	changed := false
	for {
		r := nextCursorLoop(f, declined)
		if r == nil {
			return changed, nil
		}
		err := aggify(ctx, s, f, r, c)
		switch {
		case err == nil:
			changed = true
		case ir.IsKind(err, ir.ErrUnsupportedRegion) || ir.IsKind(err, ir.ErrReturnVariables):
			s.Decline(passName, f.Name, err)
			declined[r.Header()] = true
		default:
			return changed, err
		}
	}
}

func nextCursorLoop(f *ir.Function, declined map[ir.BlockID]bool) *ir.LoopRegion {
	var found *ir.LoopRegion
	ir.Walk(f.Regions().Root, func(r ir.Region) bool {
		if found != nil {
			return false
		}
		l, ok := r.(*ir.LoopRegion)
		if ok && !declined[l.Header()] && f.RegionMetadata(l)[ir.MetaUDFInfo] == ir.CursorLoopRegion {
			found = l
			return false
		}
		return true
	})
	return found
}

func unsupported(h *ir.Block, format string, args ...any) error {
	return ir.ErrUnsupportedRegion.New(h.Label, fmt.Sprintf(format, args...))
}

// Inspect checks that r is a cursor loop Aggify can rewrite and collects
// what the rewrite needs: the query, the variables each row is fetched
// into, what the body reads from before the loop and the values carried
// from one row to the next.
func Inspect(f *ir.Function, r *ir.LoopRegion) (*Loop, error) {
	h := f.Block(r.Header())
	if f.RegionReturns(r) {
		return nil, unsupported(h, "it returns from the function")
	}
	if n := len(h.Preds()); n != 2 {
		return nil, unsupported(h, "the loop is entered or repeated from %d blocks", n)
	}
	preds := f.OutsidePreds(r)
	if len(preds) != 1 {
		return nil, unsupported(h, "it is entered from %d blocks", len(preds))
	}
	exits := f.RegionExits(r)
	if len(exits) != 1 {
		return nil, unsupported(h, "it is left towards %d blocks", len(exits))
	}
	exit := f.Block(exits[0])
	if exit.StartsWithPhi() {
		return nil, unsupported(h, "the block after it starts with a phi")
	}
	for _, inst := range h.Insts {
		switch inst.(type) {
		case *ir.Phi, *ir.Branch:
		default:
			return nil, unsupported(h, "the loop header computes %s", f.Format(inst))
		}
	}

	check := f.Block(h.Succs()[0])
	br, ok := check.Terminator().(*ir.Branch)
	if !ok || !br.IsConditional() || len(check.Insts) != 1 || br.False != exit.ID {
		return nil, unsupported(h, "the loop condition is not a row probe")
	}
	query, ok := frontend.ProbeQuery(br.Cond.Text)
	if !ok {
		return nil, unsupported(h, "the loop condition is not a row probe")
	}

	l := &Loop{
		Function: f,
		Region:   r,
		Header:   h,
		Query:    query,
		Cursor:   make(map[*ir.Variable]string),
	}
	l.Body = append(l.Body, br.True)
	inLoop := make(map[ir.BlockID]bool)
	for _, id := range ir.RegionBlocks(r) {
		inLoop[id] = true
		if id != h.ID && id != check.ID && id != br.True {
			l.Body = append(l.Body, id)
		}
	}

	defs := analysis.RegionDefs(f, r)
	for _, v := range br.Cond.Uses() {
		if defs.Has(v) && !frontend.IsCounter(v.Name) {
			return nil, unsupported(h, "the query reads %s, which the loop assigns", v.Name)
		}
	}

	phis := make(ir.VarSet)
	for _, phi := range h.Phis() {
		phis.Add(phi.Var)
	}
	carried := make(ir.VarSet)
	invariants := make(ir.VarSet)
	for _, id := range l.Body {
		b := f.Block(id)
		if f.Metadata(id)[ir.MetaUDFInfo] == ir.CursorLoopRegion {
			return nil, unsupported(h, "it contains another cursor loop")
		}
		for _, s := range b.Succs() {
			if !inLoop[s] {
				return nil, unsupported(h, "it is left from %s", b.Label)
			}
		}
		for _, inst := range b.Insts {
			if a, ok := inst.(*ir.Assignment); ok {
				if fetch, ok := frontend.ParseFetch(a.Value.Text); ok {
					l.Cursor[a.Var] = fetch.Columns[fetch.Column]
					l.Columns = fetch.Columns
					continue
				}
				if frontend.IsCounter(a.Var.Name) {
					continue
				}
			}
			for _, v := range inst.Uses() {
				switch {
				case frontend.IsCounter(v.Name):
					return nil, unsupported(h, "%s reads the row counter", b.Label)
				case phis.Has(v):
					carried.Add(v)
				case !defs.Has(v):
					invariants.Add(v)
				}
			}
		}
	}

	live := analysis.ComputeLiveness(f)
	var results []*ir.Variable
	for _, v := range live.LiveIn(exit.ID).Sorted() {
		if defs.Has(v) {
			results = append(results, v)
		}
	}
	if len(results) != 1 {
		return nil, ir.ErrReturnVariables.New(h.Label, len(results))
	}
	l.Result = results[0]
	if !isPhiOf(h, l.Result) {
		return nil, unsupported(h, "its result %s is not carried by the loop", l.Result.Name)
	}

	carried.Add(l.Result)
	l.Carried = carried.Sorted()
	l.Invariants = invariants.Sorted()
	for _, v := range l.Carried {
		if init, next := l.phiArgs(v); init == nil || next == nil {
			return nil, unsupported(h, "%s has no value on every edge into the loop", v.Name)
		}
	}
	return l, nil
}

func isPhiOf(b *ir.Block, v *ir.Variable) bool {
	for _, phi := range b.Phis() {
		if phi.Var == v {
			return true
		}
	}
	return false
}

// phiArgs returns the value a header phi takes on entry and after an
// iteration.
func (l *Loop) phiArgs(v *ir.Variable) (init, next *ir.Variable) {
	entry := l.Header.PredIndex(l.Function.OutsidePreds(l.Region)[0])
	for _, phi := range l.Header.Phis() {
		if phi.Var == v {
			return phi.Args[entry], phi.Args[1-entry]
		}
	}
	panic(fmt.Sprintf("%s is not carried by %s", v.Name, l.Header.Label))
}

// cursorVars lists the fetched variables in column order.
func (l *Loop) cursorVars() []*ir.Variable {
	var out []*ir.Variable
	for _, col := range l.Columns {
		for _, v := range ir.NewVarSet(keys(l.Cursor)...).Sorted() {
			if l.Cursor[v] == col {
				out = append(out, v)
			}
		}
	}
	return out
}

func keys(m map[*ir.Variable]string) []*ir.Variable {
	out := make([]*ir.Variable, 0, len(m))
	for v := range m {
		out = append(out, v)
	}
	return out
}

func aggify(ctx context.Context, s *session.Session, f *ir.Function, r *ir.LoopRegion, c Classifier) error {
	l, err := Inspect(f, r)
	if err != nil {
		return err
	}
	state := ir.NewVarSet(c.State(l)...)
	for _, v := range l.Carried {
		if !state.Has(v.Origin()) {
			return unsupported(l.Header, "%s carries a value across rows but is not part of the state", v.Origin().Name)
		}
	}

	name := fmt.Sprintf("%s_aggify%d", f.Name, s.Next(f.Name+"_aggify"))
	cursor := l.cursorVars()
	var args []*ir.Variable
	args = append(args, cursor...)
	args = append(args, l.Invariants...)
	args = append(args, l.Carried...)
	_, next := l.phiArgs(l.Result)

	clone, err := f.PartialClone(ctx, ir.CloneSpec{
		Name:   name + "_step",
		Return: l.Result.Type,
		Args:   args,
		Blocks: l.Body,
		Result: next,
	})
	if err != nil {
		return err
	}
	step := clone.Func
	for _, b := range step.Blocks() {
		for _, inst := range append([]ir.Instruction(nil), b.Insts...) {
			a, ok := inst.(*ir.Assignment)
			if !ok {
				continue
			}
			if _, fetch := frontend.ParseFetch(a.Value.Text); fetch || frontend.IsCounter(a.Var.Name) {
				b.Remove(inst)
			}
		}
	}
	params := step.Arguments()
	carriedParams := params[len(cursor)+len(l.Invariants):]
	for i, v := range l.Carried {
		_, next := l.phiArgs(v)
		ref, err := step.Reference(ctx, clone.Vars[next])
		if err != nil {
			return err
		}
		clone.Return.InsertBeforeTerminator(&ir.Assignment{Var: carriedParams[i], Value: ref})
	}
	if _, err := cleanup.Run(ctx, step); err != nil {
		return err
	}

	agg := &codegen.Aggregate{
		Name:       name,
		Step:       step,
		Inputs:     params[:len(cursor)+len(l.Invariants)],
		ReturnType: l.Result.Type,
	}
	byOrigin := make(map[*ir.Variable]*ir.Variable)
	inits := make(map[*ir.Variable]*ir.Variable)
	taken := make(map[string]bool)
	for i, v := range l.Carried {
		p := carriedParams[i]
		byOrigin[v.Origin()] = p
		inits[p], _ = l.phiArgs(v)
		taken[p.Name] = true
	}
	var callArgs []string
	for _, v := range cursor {
		callArgs = append(callArgs, l.Cursor[v])
	}
	for _, v := range l.Invariants {
		callArgs = append(callArgs, v.Name)
	}
	for _, origin := range state.Sorted() {
		field := codegen.StateField{Type: origin.Type, Var: byOrigin[origin]}
		if field.Var != nil {
			field.Name = field.Var.Name
			callArgs = append(callArgs, inits[field.Var].Name)
		} else {
			field.Name = fieldName(origin, taken)
		}
		agg.State = append(agg.State, field)
		if origin == l.Result.Origin() {
			agg.Result = field.Name
		}
	}

	code, err := codegen.RenderAggregate(s.Config, agg)
	if err != nil {
		return err
	}
	init, _ := l.phiArgs(l.Result)
	call, err := codegen.AggregateCall(s.Config, name, callArgs, l.Query, l.Columns, init.Name)
	if err != nil {
		return err
	}
	value, err := f.BindExpression(ctx, call, l.Result.Type)
	if err != nil {
		return err
	}
	f.ReplaceRegion(r, &ir.Assignment{Var: l.Result, Value: value})

	s.Emit(session.Artifact{Kind: session.Aggregate, Name: name, Code: code, Function: step})
	s.Log().WithFields(logrus.Fields{
		"function":  f.Name,
		"loop":      l.Header.Label,
		"aggregate": name,
		"state":     len(agg.State),
	}).Info("replaced cursor loop by aggregate")
	return nil
}

// fieldName names the state field of a variable that is not carried,
// avoiding the names taken so far.
func fieldName(v *ir.Variable, taken map[string]bool) string {
	name := ir.OriginalName(v.Name)
	for i := 1; taken[name]; i++ {
		name = fmt.Sprintf("%s%d", ir.OriginalName(v.Name), i)
	}
	taken[name] = true
	return name
}
