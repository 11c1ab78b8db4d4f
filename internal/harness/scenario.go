package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/udfc/internal/aggify"
	"github.com/roach88/udfc/internal/binder"
	"github.com/roach88/udfc/internal/session"
)

// Scenario defines a compile scenario.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Program is the path of the program text, relative to the scenario
	// file.
	Program string `yaml:"program,omitempty"`

	// Source is the program text itself, used instead of Program.
	Source string `yaml:"source,omitempty"`

	// Binder selects the binder: lexical (default) or sqlite.
	Binder string `yaml:"binder,omitempty"`

	// Catalog is the path of DDL loaded into the sqlite binder.
	Catalog string `yaml:"catalog,omitempty"`

	// Classifier selects how cursor loop state is classified.
	Classifier string `yaml:"classifier,omitempty"`

	// Assertions validate the compiled program.
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion validates the outcome for one function.
type Assertion struct {
	// Type is one of the Assert constants.
	Type string `yaml:"type"`

	// Function names the function the assertion is about. An error
	// assertion without one is about the whole program.
	Function string `yaml:"function,omitempty"`

	// Text is searched for by code_contains, code_not_contains, artifact
	// and diagnostic.
	Text string `yaml:"text,omitempty"`

	// Kind is the artifact kind (artifact, artifact_count).
	Kind string `yaml:"kind,omitempty"`

	// Name is the artifact name (artifact).
	Name string `yaml:"name,omitempty"`

	// Count is the expected number of artifacts (artifact_count).
	Count int `yaml:"count,omitempty"`

	// Code is the expected error code (error).
	Code string `yaml:"code,omitempty"`

	// Pass is the pass that declined (diagnostic).
	Pass string `yaml:"pass,omitempty"`
}

// Assertion type constants.
const (
	AssertCompiles        = "compiles"
	AssertError           = "error"
	AssertCodeContains    = "code_contains"
	AssertCodeNotContains = "code_not_contains"
	AssertArtifact        = "artifact"
	AssertArtifactCount   = "artifact_count"
	AssertDiagnostic      = "diagnostic"
)

var artifactKinds = map[string]bool{
	string(session.OutlinedFunction): true,
	string(session.Aggregate):        true,
	string(session.PredicateMacro):   true,
}

// LoadScenario reads and parses a scenario YAML file. Program and
// catalog paths are resolved against the directory of path. Unknown
// fields are an error.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	dir := filepath.Dir(path)
	if scenario.Program != "" && !filepath.IsAbs(scenario.Program) {
		scenario.Program = filepath.Join(dir, scenario.Program)
	}
	if scenario.Catalog != "" && !filepath.IsAbs(scenario.Catalog) {
		scenario.Catalog = filepath.Join(dir, scenario.Catalog)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Program == "" && s.Source == "":
		return fmt.Errorf("one of program or source is required")
	case s.Program != "" && s.Source != "":
		return fmt.Errorf("program and source are mutually exclusive")
	}
	if s.Program != "" {
		if _, err := os.Stat(s.Program); os.IsNotExist(err) {
			return fmt.Errorf("program file not found: %s", s.Program)
		}
	}

	switch s.Binder {
	case "", binder.KindLexical:
		if s.Catalog != "" {
			return fmt.Errorf("catalog needs binder: %s", binder.KindSQLite)
		}
	case binder.KindSQLite:
	default:
		return fmt.Errorf("unknown binder %q", s.Binder)
	}
	if s.Catalog != "" {
		if _, err := os.Stat(s.Catalog); os.IsNotExist(err) {
			return fmt.Errorf("catalog file not found: %s", s.Catalog)
		}
	}
	if _, err := aggify.ClassifierNamed(s.Classifier); err != nil {
		return err
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Function == "" && a.Type != AssertError {
		return fmt.Errorf("assertions[%d]: function is required for %s", index, a.Type)
	}

	switch a.Type {
	case AssertCompiles:
	case AssertError:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for error", index)
		}
	case AssertCodeContains, AssertCodeNotContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for %s", index, a.Type)
		}
	case AssertArtifact:
		if !artifactKinds[a.Kind] {
			return fmt.Errorf("assertions[%d]: unknown artifact kind %q", index, a.Kind)
		}
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for artifact", index)
		}
	case AssertArtifactCount:
		if !artifactKinds[a.Kind] {
			return fmt.Errorf("assertions[%d]: unknown artifact kind %q", index, a.Kind)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertDiagnostic:
		if a.Pass == "" {
			return fmt.Errorf("assertions[%d]: pass is required for diagnostic", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// Text returns the program text of s.
func (s *Scenario) Text() (string, error) {
	if s.Source != "" {
		return s.Source, nil
	}
	data, err := os.ReadFile(s.Program)
	if err != nil {
		return "", fmt.Errorf("failed to read program: %w", err)
	}
	return string(data), nil
}
