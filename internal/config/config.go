// Package config holds the template table code generation renders with
// and the limits of the optimization pipeline. A configuration is loaded
// once, validated against an embedded CUE schema and then only read.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

//go:embed schema.cue
var schemaCUE string

// Template names.
const (
	PlpgsqlFunction   = "plpgsql.function"
	PlpgsqlDeclare    = "plpgsql.declare"
	OutlineFunction   = "outline.function"
	AggifyStateField  = "aggify.state_field"
	AggifyStateStruct = "aggify.state_struct"
	AggifyUpdate      = "aggify.update"
	AggifyFinalize    = "aggify.finalize"
	AggifyRegister    = "aggify.registration"
	AggifyCall        = "aggify.call"
)

// Config is an immutable, validated configuration.
type Config struct {
	// MaxFixpointIterations bounds every fixpoint pass.
	MaxFixpointIterations int

	templates map[string]*template.Template
}

// Error is a configuration document that does not satisfy the schema.
type Error struct {
	Source string
	Err    error
}

func (e *Error) Error() string { return fmt.Sprintf("invalid configuration %s: %v", e.Source, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Default returns the built-in configuration.
func Default() *Config {
	c, err := Parse(nil)
	if err != nil {
		panic(fmt.Sprintf("built-in configuration: %v", err))
	}
	return c
}

// Load reads an override file. Keys it leaves out keep their built-in
// value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(data)
	if err != nil {
		if cerr, ok := err.(*Error); ok {
			cerr.Source = path
		}
		return nil, err
	}
	return c, nil
}

// Parse decodes an override document on top of the built-in one.
func Parse(override []byte) (*Config, error) {
	doc := map[string]any{}
	if err := yaml.Unmarshal(defaultYAML, &doc); err != nil {
		return nil, &Error{Source: "default.yaml", Err: err}
	}
	if len(bytes.TrimSpace(override)) > 0 {
		over := map[string]any{}
		if err := yaml.Unmarshal(override, &over); err != nil {
			return nil, &Error{Source: "<override>", Err: err}
		}
		merge(doc, over)
	}
	if err := validate(doc); err != nil {
		return nil, &Error{Source: "<override>", Err: err}
	}
	return build(doc)
}

// merge copies over into doc, descending into nested maps.
func merge(doc, over map[string]any) {
	for k, v := range over {
		sub, ok := v.(map[string]any)
		if cur, isMap := doc[k].(map[string]any); ok && isMap {
			merge(cur, sub)
			continue
		}
		doc[k] = v
	}
}

func validate(doc map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return err
	}
	v := schema.Unify(ctx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		var result *multierror.Error
		for _, e := range cueerrors.Errors(err) {
			path := strings.Join(e.Path(), ".")
			result = multierror.Append(result, fmt.Errorf("%s: %s", path, e.Error()))
		}
		return result.ErrorOrNil()
	}
	return nil
}

func build(doc map[string]any) (*Config, error) {
	c := &Config{
		MaxFixpointIterations: cast.ToInt(cast.ToStringMap(doc["limits"])["max_fixpoint_iterations"]),
		templates:             make(map[string]*template.Template),
	}
	var errs *multierror.Error
	for _, section := range []string{"plpgsql", "outline", "aggify"} {
		for key, raw := range cast.ToStringMap(doc[section]) {
			name := section + "." + key
			t, err := template.New(name).Option("missingkey=error").Parse(cast.ToString(raw))
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			c.templates[name] = t
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, &Error{Source: "<templates>", Err: err}
	}
	return c, nil
}

// Templates lists the template names in order.
func (c *Config) Templates() []string {
	names := make([]string, 0, len(c.templates))
	for n := range c.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Render executes the named template with data.
func (c *Config) Render(name string, data any) (string, error) {
	t, ok := c.templates[name]
	if !ok {
		return "", fmt.Errorf("no template %s", name)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
