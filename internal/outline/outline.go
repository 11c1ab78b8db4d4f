// Package outline extracts loops that run no queries into functions of
// their own. The loop is replaced by a call that returns the one value
// the rest of the caller reads.
package outline

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/roach88/udfc/internal/analysis"
	"github.com/roach88/udfc/internal/codegen"
	"github.com/roach88/udfc/internal/config"
	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/opt"
	"github.com/roach88/udfc/internal/pass"
	"github.com/roach88/udfc/internal/session"
	"github.com/roach88/udfc/internal/ssa"
)

const passName = "Outlining"

// Pass outlines every loop region without queries, outermost first. It
// runs on functions in SSA form. Loops it cannot extract are reported to
// the session and left in place.
var Pass = pass.New(passName, outlineLoops)

// Cleanup brings an extracted function out of SSA form into the shape
// code generation expects.
var Cleanup = pass.NewPipeline(
	ssa.BreakPhiInterference,
	ssa.Destruction,
	opt.AggressiveMergeRegions,
	opt.MergeBasicBlocks,
	opt.RemoveUnusedVariable,
)

func outlineLoops(ctx context.Context, f *ir.Function) (bool, error) {
	s := session.FromContext(ctx)
	declined := make(map[ir.BlockID]bool)
	changed := false
	for {
		loop := nextLoop(f, declined)
		if loop == nil {
			return changed, nil
		}
		err := outline(ctx, s, f, loop)
		switch {
		case err == nil:
			changed = true
		case Declined(err):
			s.Decline(passName, f.Name, err)
			declined[loop.Header()] = true
		default:
			return changed, err
		}
	}
}

// Declined reports whether err rejects a region rather than failing the
// compilation.
func Declined(err error) bool {
	return ir.IsKind(err, ir.ErrUnsupportedRegion) || ir.IsKind(err, ir.ErrReturnVariables)
}

func nextLoop(f *ir.Function, declined map[ir.BlockID]bool) *ir.LoopRegion {
	var found *ir.LoopRegion
	ir.Walk(f.Regions().Root, func(r ir.Region) bool {
		if found != nil {
			return false
		}
		if l, ok := r.(*ir.LoopRegion); ok && !declined[l.Header()] && !f.HasSelect(l) {
			found = l
			return false
		}
		return true
	})
	return found
}

// Extraction is a single-entry, single-exit region split into the
// values it reads and the one value it produces.
type Extraction struct {
	Header *ir.Block
	Pred   *ir.Block
	Exit   *ir.Block
	Args   []*ir.Variable
	Result *ir.Variable
}

// Extract checks that r can become a function of its own and computes
// its interface: the variables read before being assigned in r,
// including what the phis of the header take from outside, and the one
// variable assigned in r that is live where r is left.
func Extract(f *ir.Function, r ir.Region) (*Extraction, error) {
	h := f.Block(r.Header())
	if f.RegionReturns(r) {
		return nil, ir.ErrUnsupportedRegion.New(h.Label, "it returns from the function")
	}
	exits := f.RegionExits(r)
	if len(exits) != 1 {
		return nil, ir.ErrUnsupportedRegion.New(h.Label, fmt.Sprintf("it is left towards %d blocks", len(exits)))
	}
	preds := f.OutsidePreds(r)
	if len(preds) != 1 {
		return nil, ir.ErrUnsupportedRegion.New(h.Label, fmt.Sprintf("it is entered from %d blocks", len(preds)))
	}
	x := &Extraction{Header: h, Pred: f.Block(preds[0]), Exit: f.Block(exits[0])}
	if x.Exit.StartsWithPhi() {
		return nil, ir.ErrUnsupportedRegion.New(h.Label, "the block after it starts with a phi")
	}

	live := analysis.ComputeLiveness(f)
	defs := analysis.RegionDefs(f, r)
	args := make(ir.VarSet)
	for v := range live.LiveIn(h.ID) {
		if !defs.Has(v) {
			args.Add(v)
		}
	}
	slot := h.PredIndex(x.Pred.ID)
	for _, phi := range h.Phis() {
		if a := phi.Args[slot]; a != nil {
			args.Add(a)
		}
	}
	x.Args = args.Sorted()

	var results []*ir.Variable
	for _, v := range live.LiveIn(x.Exit.ID).Sorted() {
		if defs.Has(v) {
			results = append(results, v)
		}
	}
	if len(results) != 1 {
		return nil, ir.ErrReturnVariables.New(h.Label, len(results))
	}
	x.Result = results[0]
	return x, nil
}

func outline(ctx context.Context, s *session.Session, f *ir.Function, loop *ir.LoopRegion) error {
	x, err := Extract(f, loop)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%s_outlined%d", f.Name, s.Next(f.Name+"_outlined"))

	c, err := f.PartialClone(ctx, ir.CloneSpec{
		Name:   name,
		Return: x.Result.Type,
		Args:   x.Args,
		Blocks: ir.RegionBlocks(loop),
		Result: x.Result,
	})
	if err != nil {
		return err
	}
	if _, err := Cleanup.Run(ctx, c.Func); err != nil {
		return err
	}
	code, err := codegen.Function(s.Config, config.OutlineFunction, c.Func)
	if err != nil {
		return err
	}

	names := make([]string, len(x.Args))
	for i, a := range x.Args {
		names[i] = a.Name
	}
	call, err := f.BindExpression(ctx, fmt.Sprintf("%s(%s)", name, strings.Join(names, ", ")), x.Result.Type)
	if err != nil {
		return err
	}
	f.ReplaceRegion(loop, &ir.Assignment{Var: x.Result, Value: call})

	s.Emit(session.Artifact{Kind: session.OutlinedFunction, Name: name, Code: code, Function: c.Func})
	s.Log().WithFields(logrus.Fields{
		"function": f.Name,
		"loop":     x.Header.Label,
		"outlined": name,
	}).Info("outlined loop")
	return nil
}
