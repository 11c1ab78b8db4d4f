package compiler

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/roach88/udfc/internal/aggify"
	"github.com/roach88/udfc/internal/analysis"
	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/opt"
	"github.com/roach88/udfc/internal/outline"
	"github.com/roach88/udfc/internal/pass"
	"github.com/roach88/udfc/internal/session"
	"github.com/roach88/udfc/internal/ssa"
)

// PredicateAnalysis emits the predicate macros of a function in SSA
// form. It never changes the function.
var PredicateAnalysis = pass.New("PredicateAnalysis", emitPredicates)

func emitPredicates(ctx context.Context, f *ir.Function) (bool, error) {
	s := session.FromContext(ctx)
	preds, err := analysis.ComputePredicates(ctx, f)
	if err != nil {
		s.Decline("PredicateAnalysis", f.Name, err)
		return false, nil
	}
	if preds.Skipped != "" {
		s.Log().WithFields(logrus.Fields{"function": f.Name, "reason": preds.Skipped}).Debug("no predicates")
		return false, nil
	}
	for i, m := range preds.Macros {
		s.Emit(session.Artifact{Kind: session.PredicateMacro, Name: preds.Names[i], Code: m})
	}
	return false, nil
}

// SSAForm brings a freshly built function into SSA form and folds the
// copies construction leaves behind.
func SSAForm() pass.Pass {
	return pass.NewPipeline(ssaSteps()...)
}

func ssaSteps() []pass.Pass {
	return []pass.Pass{
		pass.NewPipeline(opt.MergeRegions, ssa.Construction),
		pass.NewFixpoint(pass.NewPipeline(opt.InstructionElimination, opt.DeadCodeElimination)),
	}
}

// Optimizations is the pass order every function goes through between
// the CFG builder and code generation. c decides the aggregate state of
// cursor loops.
func Optimizations(c aggify.Classifier) pass.Pass {
	return pass.NewPipeline(append(ssaSteps(),
		PredicateAnalysis,
		pass.NewPipeline(aggify.New(c), opt.DeadCodeElimination),
		pass.NewFixpoint(pass.NewPipeline(opt.QueryMotion, opt.InstructionElimination, opt.DeadCodeElimination)),
		pass.NewFixpoint(opt.DeadCodeElimination),
		pass.NewPipeline(outline.Pass, opt.AggressiveInstructionElimination, opt.DeadCodeElimination),
		pass.NewPipeline(ssa.BreakPhiInterference, ssa.Destruction, opt.AggressiveMergeRegions),
		opt.RemoveUnusedVariable,
	)...)
}
