package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/udfc/internal/compiler"
	"github.com/roach88/udfc/internal/session"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Function string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Function != "" {
		fmt.Fprintf(&buf, " (%s)", e.Function)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion against r and returns the
// messages of the ones that failed.
func EvaluateAssertions(r *Result, assertions []Assertion) []string {
	var errs []string
	for _, a := range assertions {
		if err := evaluate(r, a); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(r *Result, a Assertion) error {
	fail := func(expected, actual string, args ...any) error {
		return &AssertionError{Type: a.Type, Function: a.Function, Expected: expected, Actual: fmt.Sprintf(actual, args...)}
	}

	if a.Type == AssertError && a.Function == "" {
		if r.Output != nil {
			return fail("program error "+a.Code, "the program parsed")
		}
		if got := compiler.Code(r.Err); got != a.Code {
			return fail("program error "+a.Code, "%s: %v", got, r.Err)
		}
		return nil
	}

	fn := findFunction(r, a.Function)
	if fn == nil {
		return fail("function "+a.Function, "not compiled")
	}

	switch a.Type {
	case AssertCompiles:
		if fn.Err != nil {
			return fail("no error", "%v", fn.Err)
		}
	case AssertError:
		if fn.Err == nil {
			return fail("error "+a.Code, "compiled")
		}
		if got := compiler.Code(fn.Err); got != a.Code {
			return fail("error "+a.Code, "%s: %v", got, fn.Err)
		}
	case AssertCodeContains:
		if !strings.Contains(fn.Code, a.Text) {
			return fail(fmt.Sprintf("code containing %q", a.Text), "%s", orError(fn))
		}
	case AssertCodeNotContains:
		if strings.Contains(fn.Code, a.Text) {
			return fail(fmt.Sprintf("code without %q", a.Text), "%s", fn.Code)
		}
	case AssertArtifact:
		for _, art := range fn.ArtifactsOf(session.ArtifactKind(a.Kind)) {
			if art.Name == a.Name {
				if a.Text != "" && !strings.Contains(art.Code, a.Text) {
					return fail(fmt.Sprintf("%s %s containing %q", a.Kind, a.Name, a.Text), "%s", art.Code)
				}
				return nil
			}
		}
		return fail(fmt.Sprintf("%s %s", a.Kind, a.Name), "%v", artifactNames(fn))
	case AssertArtifactCount:
		if got := len(fn.ArtifactsOf(session.ArtifactKind(a.Kind))); got != a.Count {
			return fail(fmt.Sprintf("%d %s artifact(s)", a.Count, a.Kind), "%d", got)
		}
	case AssertDiagnostic:
		for _, d := range fn.Diagnostics {
			if d.Pass == a.Pass && strings.Contains(d.Err.Error(), a.Text) {
				return nil
			}
		}
		return fail(fmt.Sprintf("diagnostic from %s containing %q", a.Pass, a.Text), "%v", fn.Diagnostics)
	default:
		return fail("a known assertion type", "%q", a.Type)
	}
	return nil
}

func findFunction(r *Result, name string) *compiler.Result {
	if r.Output == nil {
		return nil
	}
	for _, fn := range r.Output.Functions {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

func orError(fn *compiler.Result) string {
	if fn.Err != nil {
		return fmt.Sprintf("error: %v", fn.Err)
	}
	return fn.Code
}

func artifactNames(fn *compiler.Result) []string {
	names := make([]string, len(fn.Artifacts))
	for i, a := range fn.Artifacts {
		names[i] = fmt.Sprintf("%s %s", a.Kind, a.Name)
	}
	return names
}
