package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/udfc/internal/compiler"
)

// Snapshot renders a result as text: the code of every function
// followed by its artifacts and declined transformations, in order.
func Snapshot(r *Result) string {
	var b strings.Builder
	if r.Output == nil {
		fmt.Fprintf(&b, "-- error %s: %v\n", compiler.Code(r.Err), r.Err)
		return b.String()
	}
	for _, fn := range r.Output.Functions {
		if fn.Err != nil {
			fmt.Fprintf(&b, "-- %s: error %s: %v\n", fn.Name, compiler.Code(fn.Err), fn.Err)
			continue
		}
		fmt.Fprintf(&b, "-- %s\n%s\n", fn.Name, fn.Code)
		for _, a := range fn.Artifacts {
			fmt.Fprintf(&b, "-- %s: %s %s\n%s\n", fn.Name, a.Kind, a.Name, a.Code)
		}
		for _, d := range fn.Diagnostics {
			fmt.Fprintf(&b, "-- %s: declined by %s: %v\n", fn.Name, d.Pass, d.Err)
		}
	}
	return b.String()
}

// GoldenPath returns the path of the golden file of a scenario file: a
// sibling golden directory holding <name>.golden.
func GoldenPath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

// UpdateGolden writes the snapshot of result as the golden file at path.
func UpdateGolden(path string, result *Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(Snapshot(result)), 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// CompareGolden reports whether the snapshot of result matches the
// golden file at path.
func CompareGolden(path string, result *Result) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read golden file: %w", err)
	}
	return string(data) == Snapshot(result), nil
}
