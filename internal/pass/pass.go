// Package pass defines how transformations of an ir.Function compose:
// a Pass reports whether it changed the function, a Pipeline runs passes
// in order and a Fixpoint repeats a pass until nothing changes.
package pass

import (
	"context"
	"fmt"
	"strings"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"

	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/session"
)

// Pass transforms a function in place.
type Pass interface {
	Name() string
	// Run reports whether f changed.
	Run(ctx context.Context, f *ir.Function) (bool, error)
}

// Func is the signature of a pass body.
type Func func(ctx context.Context, f *ir.Function) (bool, error)

type funcPass struct {
	name string
	fn   Func
}

// New names a pass body.
func New(name string, fn Func) Pass { return &funcPass{name: name, fn: fn} }

func (p *funcPass) Name() string { return p.name }

func (p *funcPass) Run(ctx context.Context, f *ir.Function) (bool, error) { return p.fn(ctx, f) }

// Apply runs p on f inside a tracing span and logs the outcome at debug
// level.
func Apply(ctx context.Context, p Pass, f *ir.Function) (bool, error) {
	s := session.FromContext(ctx)
	var opts []opentracing.StartSpanOption
	if parent := opentracing.SpanFromContext(ctx); parent != nil {
		opts = append(opts, opentracing.ChildOf(parent.Context()))
	}
	span := s.Tracer.StartSpan(p.Name(), opts...)
	span.SetTag("function", f.Name)
	defer span.Finish()
	ctx = opentracing.ContextWithSpan(ctx, span)

	log := s.Log().WithFields(logrus.Fields{"pass": p.Name(), "function": f.Name})
	log.Debug("running pass")
	changed, err := p.Run(ctx, f)
	span.SetTag("changed", changed)
	if err != nil {
		span.SetTag("error", true)
		log.WithError(err).Debug("pass failed")
		return changed, err
	}
	log.WithField("changed", changed).Debug("pass done")
	if changed && log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		log.Trace("\n" + f.String())
	}
	return changed, nil
}

// Pipeline runs its passes once, in order.
type Pipeline struct {
	passes []Pass
}

// NewPipeline returns a pipeline over passes.
func NewPipeline(passes ...Pass) *Pipeline { return &Pipeline{passes: passes} }

func (p *Pipeline) Name() string {
	names := make([]string, len(p.passes))
	for i, q := range p.passes {
		names[i] = q.Name()
	}
	return fmt.Sprintf("Pipeline(%s)", strings.Join(names, ", "))
}

// Run reports whether any pass changed f. The first error stops it.
func (p *Pipeline) Run(ctx context.Context, f *ir.Function) (bool, error) {
	changed := false
	for _, q := range p.passes {
		c, err := Apply(ctx, q, f)
		if err != nil {
			return changed || c, err
		}
		changed = changed || c
	}
	return changed, nil
}

// Fixpoint repeats a pass until a run leaves the function unchanged.
type Fixpoint struct {
	pass  Pass
	limit int
}

// NewFixpoint repeats p. The number of runs is bounded by the session
// configuration.
func NewFixpoint(p Pass) *Fixpoint { return &Fixpoint{pass: p} }

// WithLimit bounds the number of runs explicitly.
func (p *Fixpoint) WithLimit(n int) *Fixpoint { return &Fixpoint{pass: p.pass, limit: n} }

func (p *Fixpoint) Name() string { return fmt.Sprintf("Fixpoint(%s)", p.pass.Name()) }

// Run reports whether any run changed f. It fails with
// ir.ErrMaxFixpointIterations when the limit is reached while the pass
// still makes changes.
func (p *Fixpoint) Run(ctx context.Context, f *ir.Function) (bool, error) {
	limit := p.limit
	if limit <= 0 {
		limit = session.FromContext(ctx).Config.MaxFixpointIterations
	}
	changed := false
	for i := 0; i < limit; i++ {
		c, err := Apply(ctx, p.pass, f)
		if err != nil {
			return changed || c, err
		}
		if !c {
			return changed, nil
		}
		changed = true
	}
	return changed, ir.ErrMaxFixpointIterations.New(p.pass.Name(), limit)
}
