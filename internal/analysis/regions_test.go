package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/testutil"
)

func TestRegionDefsAndUses(t *testing.T) {
	g := counting(t)
	tree := g.F.Regions()
	require.True(t, HasLoop(tree.Root))

	var loop *ir.LoopRegion
	ir.Walk(tree.Root, func(r ir.Region) bool {
		if l, ok := r.(*ir.LoopRegion); ok {
			loop = l
		}
		return true
	})
	require.NotNil(t, loop)
	assert.Equal(t, []string{"i"}, testutil.Names(RegionDefs(g.F, loop)))
	assert.Equal(t, []string{"x", "i"}, testutil.Names(RegionUses(g.F, loop)))

	assert.False(t, HasLoop(ssaDiamond(t).F.Regions().Root))
}
