// Package compiler turns the text of a PL/pgSQL program into optimized
// PL/pgSQL. Every function of the program is parsed, lowered to a CFG,
// optimized and regenerated on its own: one failing function does not
// stop the others.
package compiler

import (
	"context"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"

	"github.com/roach88/udfc/internal/aggify"
	"github.com/roach88/udfc/internal/binder"
	"github.com/roach88/udfc/internal/codegen"
	"github.com/roach88/udfc/internal/config"
	"github.com/roach88/udfc/internal/frontend"
	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/pass"
	"github.com/roach88/udfc/internal/session"
)

// Compiler holds what stays the same across compilations.
type Compiler struct {
	cfg        *config.Config
	binder     ir.Binder
	logger     *logrus.Logger
	tracer     opentracing.Tracer
	classifier aggify.Classifier
	sessionID  *uuid.UUID
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithConfig sets the template configuration. The built-in one is used
// otherwise.
func WithConfig(cfg *config.Config) Option {
	return func(c *Compiler) { c.cfg = cfg }
}

// WithBinder sets the binder expressions are bound with. The caller
// keeps ownership of it.
func WithBinder(b ir.Binder) Option {
	return func(c *Compiler) { c.binder = b }
}

// WithLogger sets the logger sessions log to.
func WithLogger(l *logrus.Logger) Option {
	return func(c *Compiler) { c.logger = l }
}

// WithTracer sets the tracer pass spans are started on.
func WithTracer(t opentracing.Tracer) Option {
	return func(c *Compiler) { c.tracer = t }
}

// WithClassifier sets how cursor loop state is classified.
func WithClassifier(cl aggify.Classifier) Option {
	return func(c *Compiler) { c.classifier = cl }
}

// WithSessionID fixes the id of every session, for reproducible output.
func WithSessionID(id uuid.UUID) Option {
	return func(c *Compiler) { c.sessionID = &id }
}

// New returns a compiler using the lexical binder and the dataflow
// classifier unless told otherwise.
func New(opts ...Option) *Compiler {
	c := &Compiler{
		cfg:        config.Default(),
		binder:     binder.NewLexical(),
		classifier: aggify.Dataflow,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Result is the outcome for one function. Err is set when the function
// failed; Code and Function are set otherwise.
type Result struct {
	Name        string
	Function    *ir.Function
	Code        string
	Artifacts   []session.Artifact
	Diagnostics []session.Diagnostic
	Err         error
}

// ArtifactsOf returns the artifacts of one kind.
func (r *Result) ArtifactsOf(kind session.ArtifactKind) []session.Artifact {
	var out []session.Artifact
	for _, a := range r.Artifacts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// Output is the outcome for a whole program.
type Output struct {
	SessionID uuid.UUID
	Functions []*Result
}

// Compile compiles every function of text. It fails with a
// *CompileError when the program cannot be parsed. Otherwise it returns
// a result for every function and, when some of them failed, a
// *multierror.Error holding their errors.
func (c *Compiler) Compile(ctx context.Context, text string) (*Output, error) {
	prog, err := frontend.Parse(text)
	if err != nil {
		return nil, newCompileError(text, "", StageParse, err)
	}

	s := c.newSession()
	ctx = session.NewContext(ctx, s)
	out := &Output{SessionID: s.ID}
	var errs *multierror.Error
	for _, def := range prog.Functions {
		r := c.compileFunction(ctx, s, prog, def)
		if r.Err != nil {
			errs = multierror.Append(errs, r.Err)
		}
		out.Functions = append(out.Functions, r)
	}
	return out, errs.ErrorOrNil()
}

func (c *Compiler) newSession() *session.Session {
	var opts []session.Option
	if c.logger != nil {
		opts = append(opts, session.WithLogger(c.logger))
	}
	if c.tracer != nil {
		opts = append(opts, session.WithTracer(c.tracer))
	}
	if c.sessionID != nil {
		opts = append(opts, session.WithID(*c.sessionID))
	}
	return session.New(c.cfg, opts...)
}

func (c *Compiler) compileFunction(ctx context.Context, s *session.Session, prog *frontend.Program, def *frontend.Definition) *Result {
	span := s.Tracer.StartSpan("compile")
	span.SetTag("function", def.Name)
	defer span.Finish()
	ctx = opentracing.ContextWithSpan(ctx, span)

	log := s.Log().WithField("function", def.Name)
	artifacts, diagnostics := len(s.Artifacts()), len(s.Diagnostics())
	r := &Result{Name: def.Name}
	fail := func(stage Stage, err error) *Result {
		span.SetTag("error", true)
		log.WithError(err).WithField("stage", string(stage)).Error("compilation failed")
		r.Err = newCompileError(prog.Text, def.Name, stage, err)
		r.Function = nil
		r.Artifacts = s.Artifacts()[artifacts:]
		r.Diagnostics = s.Diagnostics()[diagnostics:]
		return r
	}

	log.Debug("building CFG")
	f, err := frontend.Build(ctx, def, prog.Text, c.binder)
	if err != nil {
		return fail(StageBuild, err)
	}
	r.Function = f
	if _, err := pass.Apply(ctx, Optimizations(c.classifier), f); err != nil {
		return fail(StageOptimize, err)
	}
	code, err := codegen.Function(s.Config, config.PlpgsqlFunction, f)
	if err != nil {
		return fail(StageCodegen, err)
	}
	r.Code = code
	r.Artifacts = s.Artifacts()[artifacts:]
	r.Diagnostics = s.Diagnostics()[diagnostics:]
	log.WithFields(logrus.Fields{
		"artifacts":   len(r.Artifacts),
		"diagnostics": len(r.Diagnostics),
	}).Info("compiled function")
	return r
}
