package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/udfc/internal/config"
	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/testutil"
	"github.com/roach88/udfc/internal/types"
)

func TestFunction(t *testing.T) {
	g := testutil.NewCFG(t, "f", types.IntegerType, "x")
	g.Local("y")
	g.Jump("entry", "head")
	g.Branch("head", "x > 0", "then", "else")
	g.Assign("then", "y", "1")
	g.Jump("then", "join")
	g.Assign("else", "y", "2")
	g.Jump("else", "join")
	g.Return("join", "y + x")

	out, err := Function(config.Default(), config.PlpgsqlFunction, g.F)
	require.NoError(t, err)
	testutil.Golden(t, "diamond", out)
}

func TestBodyLoop(t *testing.T) {
	g := testutil.NewCFG(t, "f", types.IntegerType, "x")
	g.Local("i")
	g.Assign("entry", "i", "0")
	g.Jump("entry", "header")
	g.Jump("header", "check")
	g.Branch("check", "i < x", "body", "done")
	g.Assign("body", "i", "i + 1")
	g.Jump("body", "header")
	g.Return("done", "i")

	body, err := Body(g.F)
	require.NoError(t, err)
	assert.Equal(t, ""+
		"  i := 0;\n"+
		"  LOOP\n"+
		"    IF NOT (i < x) THEN\n"+
		"      EXIT;\n"+
		"    END IF;\n"+
		"    i := i + 1;\n"+
		"  END LOOP;\n"+
		"  RETURN i;", body)
}

func TestBodyEarlyReturn(t *testing.T) {
	g := testutil.NewCFG(t, "f", types.IntegerType, "x")
	g.Jump("entry", "cond")
	g.Branch("cond", "x < 0", "neg", "pos")
	g.Return("neg", "0")
	g.Return("pos", "x")

	body, err := Body(g.F)
	require.NoError(t, err)
	assert.Equal(t, ""+
		"  IF x < 0 THEN\n"+
		"    RETURN 0;\n"+
		"  END IF;\n"+
		"  RETURN x;", body)
}

func TestBodyQueries(t *testing.T) {
	g := testutil.NewCFG(t, "f", types.IntegerType, "x")
	g.Local("y")
	g.Assign("entry", "y", "SELECT max(a) FROM t")
	g.Return("entry", "y + x")

	body, err := Body(g.F)
	require.NoError(t, err)
	assert.Equal(t, "  y := (SELECT max(a) FROM t);\n  RETURN y + x;", body)
}

func TestBodyWithReturn(t *testing.T) {
	g := testutil.NewCFG(t, "f", types.IntegerType, "x")
	g.Return("entry", "x")

	body, err := Body(g.F, WithReturn(func(r *ir.Return) ([]string, error) {
		return []string{"result := " + r.Value.Text + ";", "RETURN;"}, nil
	}))
	require.NoError(t, err)
	assert.Equal(t, "  result := x;\n  RETURN;", body)
}

func TestBodyRejectsPhis(t *testing.T) {
	g := testutil.NewCFG(t, "f", types.IntegerType, "x")
	g.Local("y")
	g.Jump("entry", "head")
	g.Branch("head", "x > 0", "a", "b")
	g.Jump("a", "join")
	g.Jump("b", "join")
	g.Phi("join", "y", "x", "x")
	g.Return("join", "y")

	assert.Panics(t, func() { _, _ = Body(g.F) })
}

func TestDeclarations(t *testing.T) {
	g := testutil.NewCFG(t, "f", types.IntegerType)
	v, err := g.F.AddLocal("flag", types.BooleanType, false)
	require.NoError(t, err)
	_, err = g.F.AddLocal("id", types.New(types.UUID), false)
	require.NoError(t, err)
	_, err = g.F.AddLocal("note", types.VarcharType, true)
	require.NoError(t, err)
	require.NotNil(t, v)

	decls, err := declarations(config.Default(), g.F.Locals())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"flag BOOLEAN NOT NULL := false;",
		"id UUID;",
		"note VARCHAR;",
	}, decls)
}

func aggregate(t *testing.T) *Aggregate {
	g := testutil.NewCFG(t, "step", types.IntegerType, "v", "total")
	g.Assign("entry", "total", "total + v")
	g.Return("entry", "total")
	return &Aggregate{
		Name:       "f_aggify0",
		Step:       g.F,
		Inputs:     []*ir.Variable{g.Var("v")},
		State:      []StateField{{Name: "total", Type: types.IntegerType, Var: g.Var("total")}},
		Result:     "total",
		ReturnType: types.IntegerType,
	}
}

func TestRenderAggregate(t *testing.T) {
	out, err := RenderAggregate(config.Default(), aggregate(t))
	require.NoError(t, err)
	testutil.Golden(t, "aggregate", out)
}

func TestInitNameAvoidsBindings(t *testing.T) {
	a := aggregate(t)
	assert.Equal(t, "total_init", a.InitName(a.State[0]))

	_, err := a.Step.AddLocal("total_init", types.IntegerType, true)
	require.NoError(t, err)
	assert.Equal(t, "total_init1", a.InitName(a.State[0]))

	a.State = append(a.State, StateField{Name: "seen", Type: types.BooleanType})
	assert.Equal(t, []Param{
		{Name: "v", Type: "INTEGER", LogicalType: "LogicalType::INTEGER"},
		{Name: "total_init1", Type: "INTEGER", LogicalType: "LogicalType::INTEGER"},
	}, a.StepParams())
}

func TestAggregateCall(t *testing.T) {
	cfg := config.Default()
	out, err := AggregateCall(cfg, "f_aggify0", []string{"fetchQueryVar0", "x", "total_0_"}, "SELECT a FROM t", []string{"fetchQueryVar0"}, "total_0_")
	require.NoError(t, err)
	assert.Equal(t, "(SELECT CASE WHEN count(*) = 0 THEN total_0_ ELSE f_aggify0(fetchQueryVar0, x, total_0_) END FROM (SELECT a FROM t) aggify_input(fetchQueryVar0))", out)

	out, err = AggregateCall(cfg, "f_aggify0", []string{"total_0_"}, "SELECT a FROM t", nil, "0")
	require.NoError(t, err)
	assert.Equal(t, "(SELECT CASE WHEN count(*) = 0 THEN 0 ELSE f_aggify0(total_0_) END FROM (SELECT a FROM t) aggify_input)", out)
}
