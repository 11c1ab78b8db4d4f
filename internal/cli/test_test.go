package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const incScenario = `name: inc
description: "A straight-line function compiles with predicates"
program: inc.sql
assertions:
  - type: compiles
    function: inc
  - type: artifact_count
    function: inc
    kind: predicate
    count: 5
`

const failingScenario = `name: wrong
description: "Expects an aggregate that is never generated"
program: inc.sql
assertions:
  - type: artifact_count
    function: inc
    kind: aggregate
    count: 1
`

// writeScenarios lays out a scenarios directory holding inc.sql and the
// given scenario files.
func writeScenarios(t *testing.T, scenarios map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "inc.sql"), []byte(inc), 0644))
	for name, content := range scenarios {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func executeTest(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := executeTest(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := executeTest(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	output, err := executeTest(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, output, "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	output, err := executeTest(t, "json", t.TempDir())
	require.NoError(t, err)

	var response CLIResponse
	require.NoError(t, json.Unmarshal([]byte(output), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestTestCommandPasses(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"inc.yaml": incScenario})

	output, err := executeTest(t, "text", dir)
	require.NoError(t, err)
	assert.Contains(t, output, "✓ inc")
	assert.Contains(t, output, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, output, "✓ All scenarios passed")
}

func TestTestCommandFails(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"inc.yaml": incScenario, "wrong.yaml": failingScenario})

	output, err := executeTest(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "✗ wrong")
	assert.Contains(t, output, "Assertion failed: artifact_count (inc)")
	assert.Contains(t, output, "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommandFailsJSON(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"wrong.yaml": failingScenario})

	output, err := executeTest(t, "json", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var response struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &response))
	assert.Equal(t, "error", response.Status)
	require.NotNil(t, response.Error)
	assert.Equal(t, ErrCodeTestFailed, response.Error.Code)
	require.Len(t, response.Data.Scenarios, 1)
	assert.False(t, response.Data.Scenarios[0].Pass)
	assert.NotEmpty(t, response.Data.Scenarios[0].Errors)
}

func TestTestCommandLoadError(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"bad.yaml": "name: bad\n"})

	output, err := executeTest(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, output, "✗ bad.yaml")
	assert.Contains(t, output, "failed to load scenario")
}

func TestTestCommandGolden(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"inc.yaml": incScenario})
	goldenPath := filepath.Join(dir, "golden", "inc.golden")

	output, err := executeTest(t, "text", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, output, "✓ inc (golden updated)")

	data, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "-- inc\nCREATE OR REPLACE FUNCTION inc(x INTEGER)")
	assert.Contains(t, string(data), "-- inc: predicate inc_eq\n")

	output, err = executeTest(t, "text", dir)
	require.NoError(t, err)
	assert.Contains(t, output, "✓ inc")

	require.NoError(t, os.WriteFile(goldenPath, []byte("-- stale\n"), 0644))
	output, err = executeTest(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, output, "Golden file mismatch")
}

func TestTestCommandFilter(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"inc.yaml": incScenario, "wrong.yaml": failingScenario})

	output, err := executeTest(t, "text", dir, "--filter", "inc*")
	require.NoError(t, err)
	assert.Contains(t, output, "1 total")
}

func TestTestHelpText(t *testing.T) {
	output, err := executeTest(t, "text", "--help")
	require.NoError(t, err)

	assert.Contains(t, output, "scenario")
	assert.Contains(t, output, "--update")
	assert.Contains(t, output, "--filter")
	assert.Contains(t, output, "scenarios-dir")
}

func TestFindScenarioFiles(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test1.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test2.yml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "program.sql"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFindScenarioFilesWithFilter(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "aggify-sum.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "aggify-max.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "outline-while.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "aggify-*")
	require.NoError(t, err)
	assert.Len(t, files, 2)
	for _, f := range files {
		assert.Contains(t, filepath.Base(f), "aggify-")
	}

	_, err = findScenarioFiles(tmpDir, "[")
	assert.ErrorContains(t, err, "invalid filter pattern")
}

func TestFindScenarioFilesSubdirectories(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "subdir")
	require.NoError(t, os.MkdirAll(subDir, 0755))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "root.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "sub.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}
