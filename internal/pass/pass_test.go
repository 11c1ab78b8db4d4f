package pass

import (
	"context"
	"errors"
	"testing"

	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/udfc/internal/config"
	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/session"
	"github.com/roach88/udfc/internal/types"
)

// countdown changes the function n times, then reports no change.
func countdown(name string, n int, runs *int) Pass {
	return New(name, func(context.Context, *ir.Function) (bool, error) {
		*runs++
		if n > 0 {
			n--
			return true, nil
		}
		return false, nil
	})
}

func newFunction() *ir.Function { return ir.NewFunction("f", types.IntegerType, nil) }

func TestPipeline(t *testing.T) {
	var a, b int
	p := NewPipeline(countdown("A", 0, &a), countdown("B", 1, &b))
	assert.Equal(t, "Pipeline(A, B)", p.Name())

	changed, err := p.Run(context.Background(), newFunction())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)

	changed, err = p.Run(context.Background(), newFunction())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestPipelineStopsOnError(t *testing.T) {
	var after int
	boom := New("Boom", func(context.Context, *ir.Function) (bool, error) { return false, errors.New("boom") })
	_, err := NewPipeline(boom, countdown("After", 0, &after)).Run(context.Background(), newFunction())
	require.EqualError(t, err, "boom")
	assert.Zero(t, after)
}

func TestFixpoint(t *testing.T) {
	var runs int
	p := NewFixpoint(countdown("A", 3, &runs))
	assert.Equal(t, "Fixpoint(A)", p.Name())

	changed, err := p.Run(context.Background(), newFunction())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 4, runs)
}

func TestFixpointLimit(t *testing.T) {
	var runs int
	_, err := NewFixpoint(countdown("A", 100, &runs)).WithLimit(5).Run(context.Background(), newFunction())
	require.Error(t, err)
	assert.True(t, ir.ErrMaxFixpointIterations.Is(err))
	assert.Equal(t, 5, runs)
}

func TestFixpointLimitFromSession(t *testing.T) {
	cfg, err := config.Parse([]byte("limits:\n  max_fixpoint_iterations: 2\n"))
	require.NoError(t, err)
	ctx := session.NewContext(context.Background(), session.New(cfg))

	var runs int
	_, err = NewFixpoint(countdown("A", 100, &runs)).Run(ctx, newFunction())
	require.Error(t, err)
	assert.Equal(t, 2, runs)
}

func TestApplyTraces(t *testing.T) {
	tracer := mocktracer.New()
	ctx := session.NewContext(context.Background(), session.New(nil, session.WithTracer(tracer)))

	var runs int
	_, err := Apply(ctx, NewPipeline(countdown("A", 1, &runs)), newFunction())
	require.NoError(t, err)

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "A", spans[0].OperationName)
	assert.Equal(t, true, spans[0].Tag("changed"))
	assert.Equal(t, "Pipeline(A)", spans[1].OperationName)
	assert.Equal(t, spans[1].SpanContext.SpanID, spans[0].ParentID)
}
