package frontend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/udfc/internal/binder"
	"github.com/roach88/udfc/internal/ir"
)

func variable(name, typ string) string {
	return fmt.Sprintf(`{"PLpgSQL_var":{"refname":%q,"datatype":{"PLpgSQL_type":{"typname":%q}}}}`, name, typ)
}

func initialized(name, typ, value string) string {
	return fmt.Sprintf(`{"PLpgSQL_var":{"refname":%q,"datatype":{"PLpgSQL_type":{"typname":%q}},"default_val":%s}}`, name, typ, expr(value))
}

var found = variable("found", "boolean")

func expr(text string) string {
	return fmt.Sprintf(`{"PLpgSQL_expr":{"query":%q}}`, text)
}

func stmt(kind string, fields ...string) string {
	return fmt.Sprintf(`{"PLpgSQL_stmt_%s":{"lineno":1%s}}`, kind, prefixed(fields))
}

func prefixed(fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	return "," + strings.Join(fields, ",")
}

func list(stmts ...string) string { return "[" + strings.Join(stmts, ",") + "]" }

func assign(text string) string { return stmt("assign", `"expr":`+expr(text)) }
func returns(text string) string { return stmt("return", `"expr":`+expr(text)) }

func function(datums []string, body ...string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"datums":[%s],"action":{"PLpgSQL_stmt_block":{"body":%s}}}`,
		strings.Join(datums, ","), list(body...)))
}

func build(t *testing.T, ast json.RawMessage) (*ir.Function, error) {
	t.Helper()
	return Build(context.Background(), NewDefinition("f", "integer", ast), "", binder.NewLexical())
}

func mustBuild(t *testing.T, ast json.RawMessage) *ir.Function {
	t.Helper()
	f, err := build(t, ast)
	require.NoError(t, err)
	return f
}

func TestBuildStraightLine(t *testing.T) {
	f := mustBuild(t, function([]string{variable("x", "integer"), found}, returns("x + 1")))

	want := `f(x INTEGER) RETURNS INTEGER
entry:
  br B1
B1: ; preds entry
  br B2
B2: ; preds B1
  return x + 1
`
	assert.Equal(t, want, f.String())
	require.Len(t, f.Arguments(), 1)
	assert.Equal(t, "x", f.Arguments()[0].Name)
	assert.Empty(t, f.Locals())
}

func TestBuildConditional(t *testing.T) {
	f := mustBuild(t, function([]string{variable("x", "integer"), found},
		stmt("if",
			`"cond":`+expr("x < 0"),
			`"then_body":`+list(returns("0")),
			`"else_body":`+list(returns("x")))))

	want := `f(x INTEGER) RETURNS INTEGER
entry:
  br B1
B1: ; preds entry
  br B2
B2: ; preds B1
  br B3
B3: ; preds B2
  br (x < 0) B4, B5
B4: ; preds B3
  return 0
B5: ; preds B3
  return x
`
	assert.Equal(t, want, f.String())

	cond, ok := f.Regions().Of(3).(*ir.ConditionalRegion)
	require.True(t, ok)
	assert.Equal(t, ir.BlockID(4), cond.True.Header())
	assert.Equal(t, ir.BlockID(5), cond.False.Header())
}

func TestBuildWhileLoop(t *testing.T) {
	f := mustBuild(t, function(
		[]string{variable("x", "integer"), found, initialized("i", "integer", "0"), variable("s", "integer")},
		stmt("while", `"cond":`+expr("i < x"), `"body":`+list(assign("s := s + i"), assign("i := i + 1"))),
		returns("s"),
	))

	want := `f(x INTEGER) RETURNS INTEGER
  local i INTEGER NOT NULL
  local s INTEGER
entry:
  br B1
B1: ; preds entry
  i := 0
  s := 0
  br B2
B2: ; preds B1
  br B3
B3: ; preds B6, B2
  br B7
B4: ; preds B7
  return s
B5: ; preds B7
  s := s + i
  br B6
B6: ; preds B5
  i := i + 1
  br B3
B7: ; preds B3
  br (i < x) B5, B4
`
	assert.Equal(t, want, f.String())

	tree := f.Regions()
	loop, ok := tree.Of(3).(*ir.LoopRegion)
	require.True(t, ok)
	check, ok := loop.Body.(*ir.ConditionalRegion)
	require.True(t, ok)
	assert.Equal(t, ir.BlockID(7), check.Header())
	assert.Nil(t, check.False)
}

func TestBuildForLoop(t *testing.T) {
	datums := []string{variable("x", "integer"), found, variable("s", "integer"), variable("i", "integer")}
	body := `"body":` + list(assign("s := s + i"))

	t.Run("ascending", func(t *testing.T) {
		f := mustBuild(t, function(datums,
			stmt("fori", `"var":`+variable("i", "integer"), `"lower":`+expr("1"), `"upper":`+expr("x"), body),
			returns("s")))
		text := f.String()
		assert.Contains(t, text, "i := 1\n")
		assert.Contains(t, text, "i := i + 1\n")
		assert.Contains(t, text, "br (i <= x)")
	})

	t.Run("reverse with step", func(t *testing.T) {
		f := mustBuild(t, function(datums,
			stmt("fori", `"var":`+variable("i", "integer"), `"lower":`+expr("x"), `"upper":`+expr("1"),
				`"step":`+expr("2"), `"reverse":true`, body),
			returns("s")))
		text := f.String()
		assert.Contains(t, text, "i := i - 2\n")
		assert.Contains(t, text, "br (i >= 1)")
	})

	t.Run("continue goes to the latch", func(t *testing.T) {
		f := mustBuild(t, function(datums,
			stmt("fori", `"var":`+variable("i", "integer"), `"lower":`+expr("1"), `"upper":`+expr("x"),
				`"body":`+list(stmt("exit"))),
			returns("s")))
		// B2 initializes, B3 steps, B4 is the header.
		latch := f.Block(3)
		require.Len(t, latch.Insts, 2)
		assert.Equal(t, "i := i + 1", latch.Insts[0].String())
		var cont *ir.Block
		for _, b := range f.Blocks() {
			if len(b.Insts) == 1 && len(b.Succs()) == 1 && b.Succs()[0] == latch.ID {
				cont = b
			}
		}
		require.NotNil(t, cont)
	})
}

func TestBuildExitWhen(t *testing.T) {
	f := mustBuild(t, function(
		[]string{variable("x", "integer"), found, variable("i", "integer")},
		stmt("loop", `"body":`+list(
			stmt("exit", `"is_exit":true`, `"cond":`+expr("i > x")),
			assign("i := i + 1"),
		)),
		returns("i"),
	))
	// pre B2, header B3, return B4, exit check B5, increment B6.
	check := f.Block(5)
	br, ok := check.Terminator().(*ir.Branch)
	require.True(t, ok)
	require.True(t, br.IsConditional())
	assert.Equal(t, "i > x", br.Cond.Text)
	assert.Equal(t, ir.BlockID(4), br.True)
	assert.Equal(t, ir.BlockID(6), br.False)

	_, ok = f.Regions().Of(3).(*ir.LoopRegion)
	assert.True(t, ok)
}

func TestBuildElsif(t *testing.T) {
	f := mustBuild(t, function([]string{variable("x", "integer"), found},
		stmt("if",
			`"cond":`+expr("x > 0"),
			`"then_body":[]`,
			`"elsif_list":[{"PLpgSQL_if_elsif":{"cond":`+expr("x < 0")+`,"stmts":`+list(returns("1"))+`}}]`),
		returns("2"),
	))

	var conds []string
	for _, b := range f.Blocks() {
		if br, ok := b.Terminator().(*ir.Branch); ok && br.IsConditional() {
			conds = append(conds, br.Cond.Text)
		}
	}
	assert.Equal(t, []string{"x > 0", "x < 0"}, conds)

	n := 0
	ir.Walk(f.Regions().Root, func(r ir.Region) bool {
		if _, ok := r.(*ir.ConditionalRegion); ok {
			n++
		}
		return true
	})
	assert.Equal(t, 2, n)
}

func TestBuildEmptyBranches(t *testing.T) {
	f := mustBuild(t, function([]string{variable("x", "integer"), found},
		stmt("if", `"cond":`+expr("x > 0"), `"then_body":[]`, `"else_body":[]`),
		returns("x"),
	))
	head := f.Block(3)
	br := head.Terminator().(*ir.Branch)
	assert.NotEqual(t, br.True, br.False)
	assert.Len(t, f.Block(4).Preds(), 2)
}

func TestBuildCursorLoop(t *testing.T) {
	const query = "SELECT v FROM t WHERE v > x"
	f := mustBuild(t, function(
		[]string{variable("x", "integer"), found, variable("a", "integer"), initialized("total", "integer", "0")},
		stmt("fors",
			`"var":{"PLpgSQL_row":{"refname":"(unnamed row)","fields":[{"name":"a","varno":2}]}}`,
			`"query":`+expr(query),
			`"body":`+list(assign("total := total + a"))),
		returns("total"),
	))

	iter, ok := f.Binding(CursorIterator)
	require.True(t, ok)
	assert.False(t, iter.Nullable)

	declare := f.Block(1)
	require.Len(t, declare.Insts, 4)
	assert.Equal(t, "cursorloopiter := 0", declare.Insts[2].String())

	// start B2, header B3, return B4, probe B5, body B6, increment B7,
	// fetch pre-header B8, fetch B9.
	header := f.Metadata(3)
	assert.Equal(t, ir.CursorLoopRegion, header[ir.MetaUDFInfo])
	assert.Equal(t, query, header[ir.MetaFetchQuery])
	assert.Equal(t, CursorVar{Name: "a", Type: "integer"}, header[ir.MetaFirstCursorVar])
	assert.Equal(t, ir.CursorLoopBodyRegion, f.Metadata(6)[ir.MetaUDFInfo])
	assert.Equal(t, ir.CursorLoopVarRegion, f.Metadata(9)[ir.MetaUDFInfo])

	probe := f.Block(5).Terminator().(*ir.Branch)
	assert.Equal(t, "select ANY_VALUE(cursorloopiter) < count(*) from tmp, /*fetchQueryStart*/"+query+"/*fetchQueryEnd*/ cursorloopEmptyTmp", probe.Cond.Text)
	assert.True(t, probe.Cond.IsSQL())

	fetch := f.Block(9).Insts[0].(*ir.Assignment)
	assert.Equal(t, "a", fetch.Var.Name)
	assert.Equal(t, "SELECT fetchQueryVar0 FROM ("+query+") fetchQueryTmpTable(fetchQueryVar0) WHERE cursorloopiter::BOOL", fetch.Value.Text)
	assert.Equal(t, "cursorloopiter := cursorloopiter + 1", f.Block(7).Insts[0].String())

	loop, ok := f.Regions().Of(3).(*ir.LoopRegion)
	require.True(t, ok)
	assert.True(t, f.HasSelect(loop))
}

func TestBuildErrors(t *testing.T) {
	args := []string{variable("x", "integer"), found}
	testCases := []struct {
		name string
		ast  json.RawMessage
		kind interface{ Is(error) bool }
		line int
	}{
		{
			name: "return without value",
			ast:  function(args, stmt("return")),
			kind: ir.ErrMissingReturnValue,
			line: 1,
		},
		{
			name: "falls off the end",
			ast:  function(args, stmt("if", `"cond":`+expr("x > 0"), `"then_body":`+list(returns("1")))),
			kind: ir.ErrMissingReturnValue,
			line: 1,
		},
		{
			name: "empty body",
			ast:  function(args),
			kind: ir.ErrMissingReturnValue,
		},
		{
			name: "unsupported statement",
			ast:  function(args, stmt("raise"), returns("x")),
			kind: ir.ErrUnsupportedStatement,
			line: 1,
		},
		{
			name: "exit outside a loop",
			ast:  function(args, stmt("exit", `"is_exit":true`), returns("x")),
			kind: ir.ErrUnsupportedStatement,
			line: 1,
		},
		{
			name: "unknown variable",
			ast:  function(args, assign("y := 1"), returns("x")),
			kind: ir.ErrUnknownVariable,
			line: 1,
		},
		{
			name: "type mismatch",
			ast:  function(args, returns("x < 1")),
			kind: ir.ErrTypeMismatch,
			line: 1,
		},
		{
			name: "undeclared cursor variable",
			ast:  function(append(args, variable("r", "UNKNOWN")), returns("x")),
			kind: ir.ErrCursorLoopShape,
		},
		{
			name: "cursor loop without fields",
			ast: function(args, stmt("fors",
				`"var":{"PLpgSQL_rec":{"refname":"r"}}`,
				`"query":`+expr("SELECT 1 FROM t"),
				`"body":[]`), returns("x")),
			kind: ir.ErrCursorLoopShape,
			line: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := build(t, tc.ast)
			require.Error(t, err)
			var ferr *Error
			require.ErrorAs(t, err, &ferr)
			assert.Equal(t, tc.line, ferr.Line)
			assert.True(t, tc.kind.Is(ferr.Err), "unexpected error %v", err)
		})
	}
}

func TestBuildUnreachableAfterReturn(t *testing.T) {
	f := mustBuild(t, function([]string{variable("x", "integer"), found, variable("y", "integer")},
		returns("x"), assign("y := 1")))
	assert.Len(t, f.Blocks(), 3)
}
