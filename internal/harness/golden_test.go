package harness

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/udfc/internal/compiler"
	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/session"
	"github.com/roach88/udfc/internal/testutil"
)

func snapshotResult() *Result {
	return &Result{Output: &compiler.Output{Functions: []*compiler.Result{
		{
			Name: "total_above",
			Code: "CREATE OR REPLACE FUNCTION total_above() ...",
			Artifacts: []session.Artifact{
				{Kind: session.Aggregate, Name: "total_above_aggify0", Code: "CREATE AGGREGATE total_above_aggify0() ..."},
			},
			Diagnostics: []session.Diagnostic{
				{Pass: "Outlining", Function: "total_above", Err: ir.ErrUnsupportedRegion.New("B3", "it returns from the function")},
			},
		},
		{
			Name: "broken",
			Err:  &compiler.CompileError{Function: "broken", Stage: compiler.StageBuild, Err: ir.ErrUnknownVariable.New("y")},
		},
	}}}
}

func TestSnapshot(t *testing.T) {
	testutil.Golden(t, "snapshot", Snapshot(snapshotResult()))
}

func TestSnapshotProgramError(t *testing.T) {
	r := &Result{Err: &compiler.CompileError{Stage: compiler.StageParse, Err: ir.ErrParse.New("syntax error")}}
	assert.Equal(t, "-- error E101: parse: parse error: syntax error\n", Snapshot(r))
}

func TestGoldenFiles(t *testing.T) {
	path := GoldenPath(filepath.Join(t.TempDir(), "scenarios", "sum.yaml"))
	assert.Equal(t, "sum.golden", filepath.Base(path))
	assert.Equal(t, "golden", filepath.Base(filepath.Dir(path)))

	_, err := CompareGolden(path, snapshotResult())
	require.Error(t, err)

	require.NoError(t, UpdateGolden(path, snapshotResult()))
	match, err := CompareGolden(path, snapshotResult())
	require.NoError(t, err)
	assert.True(t, match)

	other := &Result{Err: errors.New("boom")}
	match, err = CompareGolden(path, other)
	require.NoError(t, err)
	assert.False(t, match)
}
