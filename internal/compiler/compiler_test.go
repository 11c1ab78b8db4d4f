package compiler

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/udfc/internal/frontend"
	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/session"
)

const sumAbove = `
CREATE FUNCTION total_above(x INTEGER) RETURNS INTEGER AS $$
DECLARE
  a INTEGER;
  total INTEGER := 0;
BEGIN
  FOR a IN SELECT v FROM items WHERE v > x LOOP
    total := total + a;
  END LOOP;
  RETURN total;
END;
$$ LANGUAGE plpgsql;
`

const triangle = `
CREATE FUNCTION triangle(n INTEGER) RETURNS INTEGER AS $$
DECLARE
  i INTEGER := 0;
  s INTEGER := 0;
BEGIN
  WHILE i < n LOOP
    s := s + i;
    i := i + 1;
  END LOOP;
  RETURN s;
END;
$$ LANGUAGE plpgsql;
`

const positive = `
CREATE FUNCTION positive(x INTEGER) RETURNS BOOLEAN AS $$
BEGIN
  RETURN x > 0;
END;
$$ LANGUAGE plpgsql;
`

const broken = `
CREATE FUNCTION broken(x INTEGER) RETURNS INTEGER AS $$
BEGIN
  y := x;
  RETURN x;
END;
$$ LANGUAGE plpgsql;
`

func compile(t *testing.T, text string, opts ...Option) *Output {
	t.Helper()
	out, err := New(opts...).Compile(context.Background(), text)
	require.NoError(t, err)
	return out
}

func TestCompileAggify(t *testing.T) {
	out := compile(t, sumAbove)
	require.Len(t, out.Functions, 1)
	r := out.Functions[0]
	require.NoError(t, r.Err)

	assert.Equal(t, "total_above", r.Name)
	assert.Contains(t, r.Code, "CREATE OR REPLACE FUNCTION total_above(x INTEGER) RETURNS INTEGER AS $$")
	assert.Contains(t, r.Code, "total_above_aggify0(")
	assert.NotContains(t, r.Code, "LOOP")
	assert.NotContains(t, r.Code, "cursorloopiter")

	aggs := r.ArtifactsOf(session.Aggregate)
	require.Len(t, aggs, 1)
	assert.Equal(t, "total_above_aggify0", aggs[0].Name)
	assert.Contains(t, aggs[0].Code, "CREATE AGGREGATE total_above_aggify0(")
	assert.Empty(t, r.Diagnostics)
}

func TestCompileOutlines(t *testing.T) {
	out := compile(t, triangle)
	r := out.Functions[0]
	require.NoError(t, r.Err)

	outlined := r.ArtifactsOf(session.OutlinedFunction)
	require.Len(t, outlined, 1)
	assert.Equal(t, "triangle_outlined0", outlined[0].Name)
	assert.Contains(t, outlined[0].Code, "CREATE OR REPLACE FUNCTION triangle_outlined0(")
	assert.Contains(t, outlined[0].Code, "LOOP")
	assert.Contains(t, r.Code, "triangle_outlined0(")
	assert.NotContains(t, r.Code, "LOOP")
	assert.Empty(t, r.ArtifactsOf(session.PredicateMacro))
}

func TestCompilePredicates(t *testing.T) {
	out := compile(t, positive)
	r := out.Functions[0]
	require.NoError(t, r.Err)

	preds := r.ArtifactsOf(session.PredicateMacro)
	require.Len(t, preds, 1)
	assert.Equal(t, "positive", preds[0].Name)
	assert.Contains(t, preds[0].Code, "CREATE MACRO positive(x) AS (")
	assert.Contains(t, r.Code, "RETURN ")
}

func TestCompileIsolatesFailures(t *testing.T) {
	out, err := New().Compile(context.Background(), positive+broken)
	require.Error(t, err)
	require.NotNil(t, out)
	require.Len(t, out.Functions, 2)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Errors, 1)

	ok, failed := out.Functions[0], out.Functions[1]
	require.NoError(t, ok.Err)
	assert.NotEmpty(t, ok.Code)

	assert.Equal(t, "broken", failed.Name)
	assert.Empty(t, failed.Code)
	assert.Nil(t, failed.Function)
	var cerr *CompileError
	require.ErrorAs(t, failed.Err, &cerr)
	assert.Equal(t, "broken", cerr.Function)
	assert.Equal(t, StageBuild, cerr.Stage)
	assert.True(t, cerr.Pos.IsValid())
	assert.True(t, ir.IsKind(failed.Err, ir.ErrUnknownVariable))
	assert.Equal(t, ErrCodeUnknownVariable, Code(failed.Err))
}

func TestCompileParseError(t *testing.T) {
	out, err := New().Compile(context.Background(),
		`CREATE FUNCTION broken() RETURNS INTEGER AS $$ BEGIN RETURN 1 END LOOP; $$ LANGUAGE plpgsql;`)
	require.Error(t, err)
	assert.Nil(t, out)

	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, StageParse, cerr.Stage)
	assert.Empty(t, cerr.Function)
	assert.Equal(t, ErrCodeParse, Code(err))
}

func TestCompileSessionID(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	out := compile(t, positive, WithSessionID(id))
	assert.Equal(t, id, out.SessionID)
}

func TestCompileTracesPasses(t *testing.T) {
	tracer := mocktracer.New()
	compile(t, positive, WithTracer(tracer))

	names := make(map[string]bool)
	for _, span := range tracer.FinishedSpans() {
		names[span.OperationName] = true
	}
	assert.True(t, names["compile"])
	assert.True(t, names["SSAConstruction"])
	assert.True(t, names["PredicateAnalysis"])
	assert.True(t, names["Outlining"])
}

func TestPosition(t *testing.T) {
	tests := []struct {
		name string
		text string
		err  error
		want Position
	}{
		{"no location", "abc", errors.New("boom"), Position{}},
		{"first character", "abc", &frontend.Error{Err: errors.New("boom"), Cursor: 1}, Position{Line: 1, Column: 1}},
		{"second line", "ab\ncd", &frontend.Error{Err: errors.New("boom"), Cursor: 5}, Position{Line: 2, Column: 2}},
		{"line only", "ab\ncd", &frontend.Error{Err: errors.New("boom"), Line: 7}, Position{Line: 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, position(tt.text, tt.err))
		})
	}
}

func TestCompileErrorString(t *testing.T) {
	err := &CompileError{Function: "f", Stage: StageBuild, Pos: Position{Line: 3}, Err: errors.New("boom")}
	assert.Equal(t, "3: f: build: boom", err.Error())

	err = &CompileError{Stage: StageParse, Pos: Position{Line: 1, Column: 9}, Err: errors.New("boom")}
	assert.Equal(t, "1:9: parse: boom", err.Error())
	assert.Equal(t, "boom", errors.Unwrap(err).Error())
}

func TestCode(t *testing.T) {
	assert.Equal(t, ErrCodeReturnVariables, Code(ir.ErrReturnVariables.New("B1", 2)))
	assert.Equal(t, ErrCodeGeneric, Code(errors.New("boom")))
}

func TestExplain(t *testing.T) {
	c := New()
	ctx := context.Background()

	built, err := c.Explain(ctx, positive, StageBuild)
	require.NoError(t, err)
	require.Len(t, built, 1)
	assert.Equal(t, "positive", built[0].Name)
	assert.Contains(t, built[0].Function.String(), "return x > 0")
	assert.NotNil(t, built[0].ControlDependence)
	assert.Nil(t, built[0].Predicates)

	ssaForm, err := c.Explain(ctx, positive, StageSSA)
	require.NoError(t, err)
	require.NotNil(t, ssaForm[0].Predicates)
	assert.Equal(t, []string{"positive"}, ssaForm[0].Predicates.Names)

	optimized, err := c.Explain(ctx, triangle, StageOptimize)
	require.NoError(t, err)
	assert.Contains(t, optimized[0].Function.String(), "triangle_outlined0(")
	assert.Nil(t, optimized[0].Predicates)
}

func TestExplainErrors(t *testing.T) {
	c := New()
	ctx := context.Background()

	_, err := c.Explain(ctx, positive, StageCodegen)
	assert.ErrorContains(t, err, `cannot explain stage "codegen"`)

	out, err := c.Explain(ctx, positive+broken, StageSSA)
	require.Error(t, err)
	require.Len(t, out, 2)
	assert.NoError(t, out[0].Err)
	var cerr *CompileError
	require.ErrorAs(t, out[1].Err, &cerr)
	assert.Equal(t, StageBuild, cerr.Stage)
	assert.Nil(t, out[1].Function)
}
