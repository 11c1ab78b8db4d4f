package compiler

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/roach88/udfc/internal/analysis"
	"github.com/roach88/udfc/internal/frontend"
	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/pass"
	"github.com/roach88/udfc/internal/session"
)

// Explanation shows one function as it stands after a stage.
type Explanation struct {
	Name              string
	Function          *ir.Function
	ControlDependence *analysis.ControlDependence
	// Predicates are only derived in SSA form.
	Predicates *analysis.Predicates
	Err        error
}

// Explain runs every function of text up to stage, which is StageBuild,
// StageSSA or StageOptimize, and analyzes the result. Errors are
// reported the way Compile reports them.
func (c *Compiler) Explain(ctx context.Context, text string, stage Stage) ([]*Explanation, error) {
	var p pass.Pass
	switch stage {
	case StageBuild:
	case StageSSA:
		p = SSAForm()
	case StageOptimize:
		p = Optimizations(c.classifier)
	default:
		return nil, fmt.Errorf("cannot explain stage %q: must be %s, %s or %s", stage, StageBuild, StageSSA, StageOptimize)
	}

	prog, err := frontend.Parse(text)
	if err != nil {
		return nil, newCompileError(text, "", StageParse, err)
	}
	s := c.newSession()
	ctx = session.NewContext(ctx, s)

	var out []*Explanation
	var errs *multierror.Error
	for _, def := range prog.Functions {
		e := &Explanation{Name: def.Name}
		out = append(out, e)
		if e.Err = c.explain(ctx, prog, def, p, stage == StageSSA, e); e.Err != nil {
			errs = multierror.Append(errs, e.Err)
		}
	}
	return out, errs.ErrorOrNil()
}

func (c *Compiler) explain(ctx context.Context, prog *frontend.Program, def *frontend.Definition, p pass.Pass, predicates bool, e *Explanation) error {
	f, err := frontend.Build(ctx, def, prog.Text, c.binder)
	if err != nil {
		return newCompileError(prog.Text, def.Name, StageBuild, err)
	}
	if p != nil {
		if _, err := pass.Apply(ctx, p, f); err != nil {
			return newCompileError(prog.Text, def.Name, StageOptimize, err)
		}
	}
	e.Function = f
	e.ControlDependence = analysis.ComputeControlDependence(f)
	if predicates {
		preds, err := analysis.ComputePredicates(ctx, f)
		if err != nil {
			preds = &analysis.Predicates{Skipped: err.Error()}
		}
		e.Predicates = preds
	}
	return nil
}
