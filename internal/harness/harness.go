package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/roach88/udfc/internal/aggify"
	"github.com/roach88/udfc/internal/binder"
	"github.com/roach88/udfc/internal/compiler"
	"github.com/roach88/udfc/internal/config"
)

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Errors are the failed assertions.
	Errors []string `json:"errors,omitempty"`

	// Output is what the compiler produced. It is nil when the program
	// could not be parsed.
	Output *compiler.Output `json:"-"`

	// Err is the error of the whole compilation, if any.
	Err error `json:"-"`
}

// AddError adds a failed assertion and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Option configures Run.
type Option func(*runOptions)

type runOptions struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// WithConfig compiles with cfg instead of the built-in configuration.
func WithConfig(cfg *config.Config) Option {
	return func(o *runOptions) { o.cfg = cfg }
}

// WithLogger sends compiler logs to l. They are discarded otherwise.
func WithLogger(l *logrus.Logger) Option {
	return func(o *runOptions) { o.logger = l }
}

// SessionID is the session id a scenario compiles with.
func SessionID(s *Scenario) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("udfc:scenario:"+s.Name))
}

// Run compiles the program of a scenario and evaluates its assertions.
// It returns an error when the scenario cannot be run at all; failed
// compilations are outcomes assertions can check.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	o := runOptions{cfg: config.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.New()
		o.logger.SetOutput(io.Discard)
	}

	text, err := s.Text()
	if err != nil {
		return nil, err
	}
	catalog := ""
	if s.Catalog != "" {
		data, err := os.ReadFile(s.Catalog)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog: %w", err)
		}
		catalog = string(data)
	}
	b, release, err := binder.Open(ctx, s.Binder, catalog)
	if err != nil {
		return nil, err
	}
	defer release()
	classifier, err := aggify.ClassifierNamed(s.Classifier)
	if err != nil {
		return nil, err
	}

	c := compiler.New(
		compiler.WithConfig(o.cfg),
		compiler.WithBinder(b),
		compiler.WithClassifier(classifier),
		compiler.WithLogger(o.logger),
		compiler.WithSessionID(SessionID(s)),
	)
	out, err := c.Compile(ctx, text)

	result := &Result{Pass: true, Output: out, Err: err}
	var cerr *compiler.CompileError
	if out == nil && !errors.As(err, &cerr) {
		return nil, err
	}
	for _, msg := range EvaluateAssertions(result, s.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}
