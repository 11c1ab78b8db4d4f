package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/roach88/udfc/internal/aggify"
	"github.com/roach88/udfc/internal/binder"
	"github.com/roach88/udfc/internal/compiler"
	"github.com/roach88/udfc/internal/config"
)

// Error codes for failures outside the compiler.
const (
	ErrCodeNotFound    = "E001" // Program file not found or unreadable
	ErrCodeConfig      = "E002" // Configuration file invalid
	ErrCodeBinderOpen  = "E003" // Binder or catalog could not be opened
	ErrCodeWriteFailed = "E004" // Output file write error
	ErrCodeBadFlag     = "E005" // Flag value out of range
	ErrCodeTestFailed  = "E_TEST_FAILED"
)

// LoadError is a failure to gather the inputs of a command.
type LoadError struct {
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *LoadError) Unwrap() error { return e.Err }

// CompilerOptions are the flags shared by commands that run the compiler.
type CompilerOptions struct {
	Config     string // configuration override file
	Binder     string // lexical | sqlite
	Catalog    string // DDL file for the sqlite binder
	Classifier string // dataflow | heuristic
}

// readProgram reads the program at path, or standard input when path is
// "-".
func readProgram(path string, stdin io.Reader) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("program not found: %s", path)}
		}
		return "", &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading program %s", path), Err: err}
	}
	return string(data), nil
}

// newCompiler builds a compiler from the shared flags. The returned
// function closes the binder.
func newCompiler(ctx context.Context, opts CompilerOptions, formatter *OutputFormatter) (*compiler.Compiler, func() error, error) {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		if cfg, err = config.Load(opts.Config); err != nil {
			return nil, nil, &LoadError{Code: ErrCodeConfig, Message: "loading configuration", Err: err}
		}
		formatter.VerboseLog("Loaded configuration from %s", opts.Config)
	}

	classifier, err := aggify.ClassifierNamed(opts.Classifier)
	if err != nil {
		return nil, nil, &LoadError{Code: ErrCodeBadFlag, Message: err.Error()}
	}

	catalog := ""
	if opts.Catalog != "" {
		data, err := os.ReadFile(opts.Catalog)
		if err != nil {
			return nil, nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading catalog %s", opts.Catalog), Err: err}
		}
		catalog = string(data)
	}
	kind := opts.Binder
	if kind == "" {
		kind = binder.KindLexical
	}
	b, closeBinder, err := binder.Open(ctx, kind, catalog)
	if err != nil {
		return nil, nil, &LoadError{Code: ErrCodeBinderOpen, Message: "opening binder", Err: err}
	}
	formatter.VerboseLog("Binding names with the %s binder", kind)

	c := compiler.New(
		compiler.WithConfig(cfg),
		compiler.WithBinder(b),
		compiler.WithClassifier(classifier),
		compiler.WithLogger(formatter.Logger()),
	)
	return c, closeBinder, nil
}

// loadErrorCode returns the code of err: a LoadError's code, or the
// compiler's code for everything else.
func loadErrorCode(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code
	}
	return compiler.Code(err)
}
