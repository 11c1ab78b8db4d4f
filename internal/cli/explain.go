package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/udfc/internal/compiler"
)

// ExplainOptions holds flags for the explain command.
type ExplainOptions struct {
	*RootOptions
	CompilerOptions
	Stage    string // build | ssa | optimize
	Function string // only explain this function
	Dot      bool   // print the CFG in Graphviz syntax
}

// ExplainResult is the JSON form of one explained function.
type ExplainResult struct {
	Name              string    `json:"name"`
	CFG               string    `json:"cfg,omitempty"`
	Regions           string    `json:"regions,omitempty"`
	ControlDependence string    `json:"control_dependence,omitempty"`
	Predicates        []string  `json:"predicates,omitempty"`
	PredicatesSkipped string    `json:"predicates_skipped,omitempty"`
	Error             *CLIError `json:"error,omitempty"`
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExplainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "explain <program.sql>",
		Short: "Print the intermediate representation of functions",
		Long: `Print the control-flow graph, the region tree and the control
dependences of every function after a compilation stage.

Stages:
  build    - the CFG as built from the source
  ssa      - after SSA construction; also prints predicate macros
  optimize - after the whole optimization pipeline

Examples:
  udfc explain program.sql --stage ssa
  udfc explain program.sql --function total_above --dot | dot -Tsvg`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Stage, "stage", string(compiler.StageOptimize), "stage to stop after (build|ssa|optimize)")
	cmd.Flags().StringVar(&opts.Function, "function", "", "only explain this function")
	cmd.Flags().BoolVar(&opts.Dot, "dot", false, "print the CFG in Graphviz dot syntax")
	addCompilerFlags(cmd, &opts.CompilerOptions)

	return cmd
}

func runExplain(opts *ExplainOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
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

	explanations, err := c.Explain(cmd.Context(), text, compiler.Stage(opts.Stage))
	if explanations == nil && err != nil {
		return outputCommandError(formatter, err)
	}

	var results []ExplainResult
	failed := 0
	for _, e := range explanations {
		if opts.Function != "" && e.Name != opts.Function {
			continue
		}
		r := buildExplainResult(e, opts.Dot)
		if r.Error != nil {
			failed++
		}
		results = append(results, r)
	}
	if opts.Function != "" && len(results) == 0 {
		return outputCommandError(formatter, &LoadError{Code: ErrCodeBadFlag, Message: fmt.Sprintf("no function named %s", opts.Function)})
	}

	if formatter.Format == "json" {
		status := "ok"
		if failed > 0 {
			status = "error"
		}
		enc := json.NewEncoder(formatter.Writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(CLIResponse{Status: status, Data: results}); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			outputExplainText(formatter, r)
		}
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d function(s) failed", failed))
	}
	return nil
}

func buildExplainResult(e *compiler.Explanation, dot bool) ExplainResult {
	r := ExplainResult{Name: e.Name}
	if e.Err != nil {
		r.Error = &CLIError{Code: compiler.Code(e.Err), Message: e.Err.Error(), Details: errorDetails(e.Err)}
		return r
	}
	if dot {
		r.CFG = e.Function.Dot()
	} else {
		r.CFG = e.Function.String()
	}
	r.Regions = e.Function.FormatRegions()
	r.ControlDependence = e.ControlDependence.String()
	if e.Predicates != nil {
		r.Predicates = e.Predicates.Macros
		r.PredicatesSkipped = e.Predicates.Skipped
	}
	return r
}

func outputExplainText(formatter *OutputFormatter, r ExplainResult) {
	w := formatter.Writer
	if r.Error != nil {
		fmt.Fprintf(w, "✗ %s\n  %s: %s\n\n", r.Name, r.Error.Code, r.Error.Message)
		return
	}
	section := func(title, body string) {
		if strings.TrimSpace(body) == "" {
			return
		}
		fmt.Fprintf(w, "-- %s: %s\n%s\n", r.Name, title, strings.TrimRight(body, "\n"))
	}
	section("cfg", r.CFG)
	section("regions", r.Regions)
	section("control dependence", r.ControlDependence)
	section("predicates", strings.Join(r.Predicates, "\n"))
	if r.PredicatesSkipped != "" {
		fmt.Fprintf(w, "-- %s: no predicates: %s\n", r.Name, r.PredicatesSkipped)
	}
	fmt.Fprintln(w)
}
