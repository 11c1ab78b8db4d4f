package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, 64, c.MaxFixpointIterations)
	assert.Equal(t, []string{
		AggifyCall, AggifyFinalize, AggifyRegister, AggifyStateField, AggifyStateStruct, AggifyUpdate,
		OutlineFunction, PlpgsqlDeclare, PlpgsqlFunction,
	}, c.Templates())
}

func TestRender(t *testing.T) {
	c := Default()
	out, err := c.Render(PlpgsqlDeclare, map[string]any{
		"Name": "y", "Type": "INTEGER", "NotNull": true, "Default": "0",
	})
	require.NoError(t, err)
	assert.Equal(t, "y INTEGER NOT NULL := 0;", out)

	_, err = c.Render(PlpgsqlDeclare, map[string]any{"Name": "y"})
	assert.Error(t, err, "missing keys are errors")

	_, err = c.Render("nope", nil)
	assert.Error(t, err)
}

func TestParseOverride(t *testing.T) {
	c, err := Parse([]byte(`
limits:
  max_fixpoint_iterations: 3
plpgsql:
  declare: 'DECLARE {{.Name}};'
`))
	require.NoError(t, err)
	assert.Equal(t, 3, c.MaxFixpointIterations)

	out, err := c.Render(PlpgsqlDeclare, map[string]any{"Name": "y"})
	require.NoError(t, err)
	assert.Equal(t, "DECLARE y;", out)

	// Untouched keys keep their built-in value.
	_, err = c.Render(PlpgsqlFunction, map[string]any{
		"Name": "f", "Args": nil, "ReturnType": "INTEGER", "Declares": nil, "Body": "RETURN 1;",
	})
	require.NoError(t, err)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"negative limit", "limits:\n  max_fixpoint_iterations: -1\n"},
		{"wrong type", "limits:\n  max_fixpoint_iterations: lots\n"},
		{"unknown key", "plpgsql:\n  trailer: x\n"},
		{"bad template", "plpgsql:\n  declare: '{{.Name'\n"},
		{"bad yaml", "limits: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			var cerr *Error
			assert.ErrorAs(t, err, &cerr)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "udfc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("limits:\n  max_fixpoint_iterations: 9\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, c.MaxFixpointIterations)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
