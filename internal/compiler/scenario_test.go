package compiler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/udfc/internal/aggify"
	"github.com/roach88/udfc/internal/binder"
	"github.com/roach88/udfc/internal/frontend"
	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/opt"
	"github.com/roach88/udfc/internal/pass"
	"github.com/roach88/udfc/internal/session"
)

// buildOne parses text and builds the CFG of its only function.
func buildOne(t *testing.T, text string) *ir.Function {
	t.Helper()
	prog, err := frontend.Parse(text)
	require.NoError(t, err)
	require.Len(t, prog.Functions, 1)
	f, err := frontend.Build(context.Background(), prog.Functions[0], prog.Text, binder.NewLexical())
	require.NoError(t, err)
	return f
}

func apply(t *testing.T, p pass.Pass, f *ir.Function) bool {
	t.Helper()
	ctx := session.NewContext(context.Background(), session.New(nil))
	changed, err := pass.Apply(ctx, p, f)
	require.NoError(t, err)
	return changed
}

func TestStraightLineIsOneBlock(t *testing.T) {
	f := buildOne(t, `CREATE FUNCTION f(x INTEGER) RETURNS INTEGER AS $$ BEGIN RETURN x + 1; END; $$ LANGUAGE plpgsql;`)
	require.Len(t, f.Arguments(), 1)
	assert.Equal(t, "x", f.Arguments()[0].Name)

	assert.True(t, apply(t, opt.MergeRegions, f))
	want := `f(x INTEGER) RETURNS INTEGER
entry:
  br B2
B2: ; preds entry
  return x + 1
`
	assert.Equal(t, want, f.String())
	assert.Equal(t, "S.entry\n  L.B2\n", f.FormatRegions())

	apply(t, Optimizations(aggify.Dataflow), f)
	assert.Equal(t, want, f.String())
}

func TestConditionalKeepsItsShape(t *testing.T) {
	f := buildOne(t, `
CREATE FUNCTION f(x INTEGER) RETURNS INTEGER AS $$
BEGIN
  IF x < 0 THEN
    RETURN 0;
  ELSE
    RETURN x;
  END IF;
END;
$$ LANGUAGE plpgsql;`)

	assert.True(t, apply(t, opt.MergeRegions, f))
	assert.Equal(t, `f(x INTEGER) RETURNS INTEGER
entry:
  br B2
B2: ; preds entry
  br B3
B3: ; preds B2
  br (x < 0) B4, B5
B4: ; preds B3
  return 0
B5: ; preds B3
  return x
`, f.String())

	apply(t, Optimizations(aggify.Dataflow), f)
	assert.Equal(t, `f(x INTEGER) RETURNS INTEGER
entry:
  br B3
B3: ; preds entry
  br (x < 0) B4, B5
B4: ; preds B3
  return 0
B5: ; preds B3
  return x
`, f.String())
	assert.Equal(t, "S.entry\n  C.B3\n    L.B4\n    L.B5\n", f.FormatRegions())

	cond, ok := f.Regions().Of(3).(*ir.ConditionalRegion)
	require.True(t, ok)
	assert.Equal(t, ir.BlockID(4), cond.True.Header())
	assert.Equal(t, ir.BlockID(5), cond.False.Header())
}

func TestLoopDropsUnreadLocal(t *testing.T) {
	f := buildOne(t, `
CREATE FUNCTION triangle(n INTEGER) RETURNS INTEGER AS $$
DECLARE
  i INTEGER := 0;
  s INTEGER := 0;
  scratch INTEGER;
BEGIN
  WHILE i < n LOOP
    scratch := s * 2;
    s := s + i;
    i := i + 1;
  END LOOP;
  RETURN s;
END;
$$ LANGUAGE plpgsql;`)
	require.Contains(t, f.String(), "scratch := s * 2\n")

	assert.True(t, apply(t, pass.NewFixpoint(pass.NewPipeline(opt.DeadCodeElimination, opt.RemoveUnusedVariable)), f))

	text := f.String()
	assert.NotContains(t, text, "scratch")
	assert.Contains(t, text, "s := s + i\n")
	assert.Contains(t, text, "i := i + 1\n")
	assert.Contains(t, text, "br (i < n)")
	assert.Contains(t, text, "return s\n")

	var locals []string
	for _, v := range f.Locals() {
		locals = append(locals, v.Name)
	}
	assert.Equal(t, []string{"i", "s"}, locals)
	_, ok := f.Binding("scratch")
	assert.False(t, ok)
}
