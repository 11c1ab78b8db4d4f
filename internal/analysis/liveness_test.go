package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/udfc/internal/testutil"
	"github.com/roach88/udfc/internal/types"
)

func TestLivenessLoop(t *testing.T) {
	g := counting(t)
	live := ComputeLiveness(g.F)

	names := func(id string, in bool) []string {
		if in {
			return testutil.Names(live.LiveIn(g.ID(id)))
		}
		return testutil.Names(live.LiveOut(g.ID(id)))
	}
	assert.Equal(t, []string{"x"}, names("entry", true))
	assert.Equal(t, []string{"x", "i"}, names("entry", false))
	assert.Equal(t, []string{"x", "i"}, names("header", true))
	assert.Equal(t, []string{"x", "i"}, names("check", true))
	assert.Equal(t, []string{"x", "i"}, names("body", true))
	assert.Equal(t, []string{"x", "i"}, names("body", false))
	assert.Equal(t, []string{"i"}, names("done", true))
	assert.Empty(t, names("done", false))

	assert.True(t, live.IsLiveOut(g.ID("body"), g.Var("i")))
	assert.False(t, live.IsLiveIn(g.ID("entry"), g.Var("i")))
}

// ssaDiamond is the diamond after SSA construction.
func ssaDiamond(t *testing.T) *testutil.CFG {
	g := testutil.NewCFG(t, "f", types.IntegerType, "x")
	g.Local("y1")
	g.Local("y2")
	g.Local("y3")
	g.Jump("entry", "head")
	g.Branch("head", "x > 0", "then", "else")
	g.Assign("then", "y1", "x + 1")
	g.Jump("then", "join")
	g.Assign("else", "y2", "0")
	g.Jump("else", "join")
	g.Phi("join", "y3", "y1", "y2")
	g.Return("join", "y3")
	return g
}

func TestLivenessPhis(t *testing.T) {
	g := ssaDiamond(t)
	g.Return("join", "y3 + x")
	live := ComputeLiveness(g.F)

	assert.Equal(t, []string{"x", "y1"}, testutil.Names(live.LiveOut(g.ID("then"))))
	assert.Equal(t, []string{"x", "y2"}, testutil.Names(live.LiveOut(g.ID("else"))))
	assert.Equal(t, []string{"x", "y3"}, testutil.Names(live.LiveIn(g.ID("join"))))
	assert.Equal(t, []string{"x"}, testutil.Names(live.LiveIn(g.ID("then"))))
	assert.Equal(t, []string{"x"}, testutil.Names(live.LiveOut(g.ID("head"))))

	join := g.Block("join")
	assert.Equal(t, []string{"x", "y3"}, testutil.Names(live.LiveBefore(join, 1)))
	assert.Empty(t, testutil.Names(live.LiveBefore(join, len(join.Insts))))
}

func TestInterference(t *testing.T) {
	g := ssaDiamond(t)
	g.Return("join", "y3 + x")
	ig := BuildInterference(g.F, ComputeLiveness(g.F))

	x, y1, y2, y3 := g.Var("x"), g.Var("y1"), g.Var("y2"), g.Var("y3")
	assert.True(t, ig.Interferes(x, y1))
	assert.True(t, ig.Interferes(y2, x))
	assert.True(t, ig.Interferes(x, y3))
	assert.False(t, ig.Interferes(y1, y2))
	assert.False(t, ig.Interferes(y1, y3))
	assert.Equal(t, []string{"y1", "y2", "y3"}, []string{
		ig.Neighbors(x)[0].Name, ig.Neighbors(x)[1].Name, ig.Neighbors(x)[2].Name,
	})

	ig.AddEdge(y1, y2)
	assert.True(t, ig.Interferes(y2, y1))
	ig.AddEdge(y1, y1)
	assert.False(t, ig.Interferes(y1, y1))
}

func TestInterferenceDeadDefinition(t *testing.T) {
	g := testutil.NewCFG(t, "f", types.IntegerType, "x")
	g.Local("dead")
	g.Assign("entry", "dead", "1")
	g.Return("entry", "x")
	ig := BuildInterference(g.F, ComputeLiveness(g.F))

	assert.True(t, ig.Interferes(g.Var("dead"), g.Var("x")))
}
