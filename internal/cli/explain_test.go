package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const positive = `CREATE FUNCTION positive(x INTEGER) RETURNS BOOLEAN AS $$
BEGIN
  RETURN x > 0;
END;
$$ LANGUAGE plpgsql;
`

func executeExplain(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewExplainCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestExplainBuild(t *testing.T) {
	output, err := executeExplain(t, "text", writeProgram(t, positive), "--stage", "build")
	require.NoError(t, err)

	assert.Contains(t, output, "-- positive: cfg")
	assert.Contains(t, output, "return x > 0")
	assert.Contains(t, output, "-- positive: regions")
	assert.NotContains(t, output, "CREATE MACRO")
}

func TestExplainSSAPredicates(t *testing.T) {
	output, err := executeExplain(t, "text", writeProgram(t, positive), "--stage", "ssa")
	require.NoError(t, err)

	assert.Contains(t, output, "-- positive: predicates")
	assert.Contains(t, output, "CREATE MACRO positive(x)")
}

func TestExplainSSASkippedPredicates(t *testing.T) {
	output, err := executeExplain(t, "text", writeProgram(t, sumAbove), "--stage", "ssa")
	require.NoError(t, err)
	assert.Contains(t, output, "-- total_above: no predicates:")
}

func TestExplainDot(t *testing.T) {
	output, err := executeExplain(t, "text", writeProgram(t, positive), "--dot")
	require.NoError(t, err)
	assert.Contains(t, output, "digraph")
}

func TestExplainFunctionFilter(t *testing.T) {
	program := writeProgram(t, positive+inc)

	output, err := executeExplain(t, "text", program, "--function", "inc")
	require.NoError(t, err)
	assert.Contains(t, output, "-- inc: cfg")
	assert.NotContains(t, output, "-- positive")

	output, err = executeExplain(t, "text", program, "--function", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, "no function named nope")
}

func TestExplainJSON(t *testing.T) {
	output, err := executeExplain(t, "json", writeProgram(t, positive+broken), "--stage", "ssa")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string          `json:"status"`
		Data   []ExplainResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "error", resp.Status)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "positive", resp.Data[0].Name)
	assert.Len(t, resp.Data[0].Predicates, 1)
	require.NotNil(t, resp.Data[1].Error)
	assert.Equal(t, "E104", resp.Data[1].Error.Code)
}

func TestExplainInvalidStage(t *testing.T) {
	output, err := executeExplain(t, "text", writeProgram(t, positive), "--stage", "codegen")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, `cannot explain stage "codegen"`)
}
