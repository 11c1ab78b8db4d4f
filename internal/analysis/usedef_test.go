package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/udfc/internal/ir"
)

func TestUseDef(t *testing.T) {
	g := counting(t)
	ud := ComputeUseDef(g.F)

	i := g.Var("i")
	assert.Len(t, ud.Definitions(i), 2)
	_, ok := ud.Def(i)
	assert.False(t, ok, "two definitions")
	// loop check, increment, final return
	assert.Equal(t, 3, ud.NumUses(i))

	x := g.Var("x")
	assert.Empty(t, ud.Definitions(x))
	require.Len(t, ud.Uses(x), 1)
	assert.Equal(t, "check", ud.Uses(x)[0].Block.Label)
}

func TestUseDefSSA(t *testing.T) {
	g := ssaDiamond(t)
	ud := ComputeUseDef(g.F)

	site, ok := ud.Def(g.Var("y3"))
	require.True(t, ok)
	assert.IsType(t, &ir.Phi{}, site.Inst)
	assert.Equal(t, "join", site.Block.Label)

	uses := ud.Uses(g.Var("y1"))
	require.Len(t, uses, 1)
	assert.IsType(t, &ir.Phi{}, uses[0].Inst)
}
