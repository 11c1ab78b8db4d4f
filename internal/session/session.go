// Package session carries the state one compilation shares across its
// passes: configuration, logger, tracer, name counters, and the
// artifacts and diagnostics passes produce.
package session

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/mitchellh/hashstructure"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"

	"github.com/roach88/udfc/internal/config"
	"github.com/roach88/udfc/internal/ir"
)

// ArtifactKind classifies generated output besides the main function.
type ArtifactKind string

const (
	OutlinedFunction ArtifactKind = "outlined"
	Aggregate        ArtifactKind = "aggregate"
	PredicateMacro   ArtifactKind = "predicate"
)

// Artifact is a piece of generated code. Function is the IR it was
// generated from, if any.
type Artifact struct {
	Kind     ArtifactKind
	Name     string
	Code     string
	Function *ir.Function `hash:"ignore"`
}

// Diagnostic records a transformation that was considered and declined.
type Diagnostic struct {
	Pass     string
	Function string
	Err      error
}

func (d Diagnostic) String() string { return fmt.Sprintf("%s: %s: %v", d.Pass, d.Function, d.Err) }

// Session is created per compile run and discarded afterwards.
type Session struct {
	ID     uuid.UUID
	Config *config.Config
	Tracer opentracing.Tracer

	log         *logrus.Entry
	counters    map[string]int
	artifacts   []Artifact
	hashes      map[uint64]bool
	diagnostics []Diagnostic
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger entries are derived from.
func WithLogger(l *logrus.Logger) Option {
	return func(s *Session) { s.log = logrus.NewEntry(l) }
}

// WithTracer sets the tracer pass spans are started on.
func WithTracer(t opentracing.Tracer) Option {
	return func(s *Session) { s.Tracer = t }
}

// WithID fixes the session id, for reproducible output.
func WithID(id uuid.UUID) Option {
	return func(s *Session) { s.ID = id }
}

// New returns a session over cfg, or over the built-in configuration
// when cfg is nil.
func New(cfg *config.Config, opts ...Option) *Session {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Session{
		ID:       uuid.New(),
		Config:   cfg,
		Tracer:   opentracing.NoopTracer{},
		counters: make(map[string]int),
		hashes:   make(map[uint64]bool),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = logrus.NewEntry(l)
	}
	s.log = s.log.WithField("session", s.ID.String())
	return s
}

// Log returns the session logger.
func (s *Session) Log() *logrus.Entry { return s.log }

// Next returns the next number for a name sequence, starting at 0.
func (s *Session) Next(sequence string) int {
	n := s.counters[sequence]
	s.counters[sequence] = n + 1
	return n
}

// Emit records an artifact. An artifact identical in kind, name and code
// to one already recorded is dropped and Emit reports false.
func (s *Session) Emit(a Artifact) bool {
	h, err := hashstructure.Hash(a, nil)
	if err != nil {
		panic(fmt.Sprintf("hashing artifact %s: %v", a.Name, err))
	}
	if s.hashes[h] {
		s.log.WithField("artifact", a.Name).Debug("duplicate artifact dropped")
		return false
	}
	s.hashes[h] = true
	s.artifacts = append(s.artifacts, a)
	return true
}

// Artifacts returns what was emitted, in order.
func (s *Session) Artifacts() []Artifact { return s.artifacts }

// Decline records a transformation that did not apply and logs it.
func (s *Session) Decline(pass, function string, err error) {
	s.log.WithFields(logrus.Fields{"pass": pass, "function": function}).Warn(err.Error())
	s.diagnostics = append(s.diagnostics, Diagnostic{Pass: pass, Function: function, Err: err})
}

// Diagnostics returns the declined transformations, in order.
func (s *Session) Diagnostics() []Diagnostic { return s.diagnostics }

type key struct{}

// NewContext returns ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, key{}, s)
}

// FromContext returns the session in ctx, or a fresh one with the
// built-in configuration and a silent logger.
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(key{}).(*Session); ok {
		return s
	}
	return New(nil)
}
