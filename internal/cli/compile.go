package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/udfc/internal/compiler"
	"github.com/roach88/udfc/internal/session"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	CompilerOptions
	Output string // output file path
}

// CompilationResult is the JSON form of a compiled program.
type CompilationResult struct {
	SessionID string           `json:"session_id"`
	Functions []FunctionResult `json:"functions"`
	Stats     CompilationStats `json:"stats"`
}

// FunctionResult is the JSON form of one compiled function.
type FunctionResult struct {
	Name        string           `json:"name"`
	Code        string           `json:"code,omitempty"`
	Artifacts   []ArtifactResult `json:"artifacts,omitempty"`
	Diagnostics []string         `json:"diagnostics,omitempty"`
	Error       *CLIError        `json:"error,omitempty"`
}

// ArtifactResult is the JSON form of a generated artifact.
type ArtifactResult struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	Compiled   int `json:"compiled"`
	Failed     int `json:"failed"`
	Aggregates int `json:"aggregates"`
	Outlined   int `json:"outlined"`
	Predicates int `json:"predicates"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <program.sql>",
		Short: "Compile PL/pgSQL functions to plain SQL",
		Long: `Compile every CREATE FUNCTION statement of a program.

Functions that fail are reported and the others are still compiled.
Use "-" to read the program from standard input.

Exit codes:
  0 - Every function compiled
  1 - One or more functions failed
  2 - Command error (unreadable program, parse error, invalid config)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")
	addCompilerFlags(cmd, &opts.CompilerOptions)

	return cmd
}

func addCompilerFlags(cmd *cobra.Command, opts *CompilerOptions) {
	cmd.Flags().StringVar(&opts.Config, "config", "", "configuration override file (YAML)")
	cmd.Flags().StringVar(&opts.Binder, "binder", "lexical", "name binder (lexical|sqlite)")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "DDL file loaded into the sqlite binder")
	cmd.Flags().StringVar(&opts.Classifier, "classifier", "dataflow", "aggregate state classifier (dataflow|heuristic)")
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	text, err := readProgram(path, cmd.InOrStdin())
	if err != nil {
		return outputCommandError(formatter, err)
	}
	c, closeBinder, err := newCompiler(cmd.Context(), opts.CompilerOptions, formatter)
	if err != nil {
		return outputCommandError(formatter, err)
	}
	defer closeBinder()

	out, err := c.Compile(cmd.Context(), text)
	if out == nil {
		return outputCommandError(formatter, err)
	}
	formatter.VerboseLog("Session %s compiled %d function(s)", out.SessionID, len(out.Functions))

	result := buildCompilationResult(out)
	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, []byte(renderSQL(out)), 0644); err != nil {
			return outputCommandError(formatter, &LoadError{Code: ErrCodeWriteFailed, Message: "writing output file", Err: err})
		}
	}

	if formatter.Format == "json" {
		status := "ok"
		if result.Stats.Failed > 0 {
			status = "error"
		}
		enc := json.NewEncoder(formatter.Writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(CLIResponse{Status: status, Data: result, TraceID: result.SessionID}); err != nil {
			return err
		}
	} else {
		outputCompileText(formatter, out, result.Stats, opts.Output)
	}

	if result.Stats.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d function(s) failed to compile", result.Stats.Failed))
	}
	return nil
}

func buildCompilationResult(out *compiler.Output) *CompilationResult {
	result := &CompilationResult{SessionID: out.SessionID.String(), Functions: []FunctionResult{}}
	for _, fn := range out.Functions {
		fr := FunctionResult{Name: fn.Name, Code: fn.Code}
		if fn.Err != nil {
			fr.Error = &CLIError{Code: compiler.Code(fn.Err), Message: fn.Err.Error(), Details: errorDetails(fn.Err)}
			result.Stats.Failed++
		} else {
			result.Stats.Compiled++
		}
		for _, a := range fn.Artifacts {
			fr.Artifacts = append(fr.Artifacts, ArtifactResult{Kind: string(a.Kind), Name: a.Name, Code: a.Code})
		}
		for _, d := range fn.Diagnostics {
			fr.Diagnostics = append(fr.Diagnostics, d.String())
		}
		result.Stats.Aggregates += len(fn.ArtifactsOf(session.Aggregate))
		result.Stats.Outlined += len(fn.ArtifactsOf(session.OutlinedFunction))
		result.Stats.Predicates += len(fn.ArtifactsOf(session.PredicateMacro))
		result.Functions = append(result.Functions, fr)
	}
	return result
}

// errorDetails returns the source position of a compile error, or nil
// when it has none.
func errorDetails(err error) interface{} {
	var ce *compiler.CompileError
	if errors.As(err, &ce) && ce.Pos.IsValid() {
		return ce.Pos
	}
	return nil
}

// renderSQL concatenates the generated code of a program: every
// artifact ahead of the function that needs it.
func renderSQL(out *compiler.Output) string {
	var b strings.Builder
	for _, fn := range out.Functions {
		if fn.Err != nil {
			continue
		}
		for _, a := range fn.Artifacts {
			fmt.Fprintf(&b, "-- %s %s\n%s\n\n", a.Kind, a.Name, a.Code)
		}
		fmt.Fprintf(&b, "%s\n\n", fn.Code)
	}
	return b.String()
}

func outputCompileText(formatter *OutputFormatter, out *compiler.Output, stats CompilationStats, outputFile string) {
	w := formatter.Writer
	for _, fn := range out.Functions {
		if fn.Err != nil {
			fmt.Fprintf(w, "✗ %s\n  %s: %v\n\n", fn.Name, compiler.Code(fn.Err), fn.Err)
			continue
		}
		fmt.Fprintf(w, "✓ %s\n", fn.Name)
		for _, d := range fn.Diagnostics {
			fmt.Fprintf(w, "  declined by %s: %v\n", d.Pass, d.Err)
		}
		if outputFile == "" {
			fmt.Fprintln(w)
			for _, a := range fn.Artifacts {
				fmt.Fprintf(w, "-- %s %s\n%s\n\n", a.Kind, a.Name, a.Code)
			}
			fmt.Fprintf(w, "%s\n\n", fn.Code)
		}
	}

	fmt.Fprintf(w, "Compiled %d function(s), %d failed: %d aggregate(s), %d outlined function(s), %d predicate(s)\n",
		stats.Compiled, stats.Failed, stats.Aggregates, stats.Outlined, stats.Predicates)
	if outputFile != "" {
		fmt.Fprintf(w, "Wrote SQL to %s\n", outputFile)
	}
}

// outputCommandError reports an error that stopped the command before
// any function was compiled.
func outputCommandError(formatter *OutputFormatter, err error) error {
	code := loadErrorCode(err)
	_ = formatter.Error(code, err.Error(), errorDetails(err))
	return WrapExitError(ExitCommandError, code, err)
}
