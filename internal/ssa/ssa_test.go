package ssa

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/pass"
	"github.com/roach88/udfc/internal/testutil"
	"github.com/roach88/udfc/internal/types"
)

func diamond(t *testing.T) *testutil.CFG {
	g := testutil.NewCFG(t, "f", types.IntegerType, "x")
	g.Local("y")
	g.Jump("entry", "head")
	g.Branch("head", "x > 0", "then", "else")
	g.Assign("then", "y", "1")
	g.Jump("then", "join")
	g.Assign("else", "y", "2")
	g.Jump("else", "join")
	g.Return("join", "y + x")
	return g
}

func counting(t *testing.T) *testutil.CFG {
	g := testutil.NewCFG(t, "f", types.IntegerType, "x")
	g.Local("i")
	g.Assign("entry", "i", "0")
	g.Jump("entry", "header")
	g.Jump("header", "check")
	g.Branch("check", "i < x", "body", "done")
	g.Assign("body", "i", "i + 1")
	g.Jump("body", "header")
	g.Return("done", "i")
	return g
}

func TestConstructDiamond(t *testing.T) {
	g := diamond(t)
	require.NoError(t, Construct(context.Background(), g.F))

	assert.Equal(t, []string{"x_0_ := x", "br head"}, g.Insts("entry"))
	assert.Equal(t, []string{"br (x_0_ > 0) then, else"}, g.Insts("head"))
	assert.Equal(t, []string{"y_0_ := 1", "br join"}, g.Insts("then"))
	assert.Equal(t, []string{"y_1_ := 2", "br join"}, g.Insts("else"))
	assert.Equal(t, []string{"y_2_ := phi(y_0_, y_1_)", "return y_2_ + x_0_"}, g.Insts("join"))
}

func TestConstructLoop(t *testing.T) {
	g := counting(t)
	require.NoError(t, Construct(context.Background(), g.F))

	assert.Equal(t, []string{"x_0_ := x", "i_0_ := 0", "br header"}, g.Insts("entry"))
	assert.Equal(t, []string{"i_1_ := phi(i_0_, i_2_)", "br check"}, g.Insts("header"))
	assert.Equal(t, []string{"br (i_1_ < x_0_) body, done"}, g.Insts("check"))
	assert.Equal(t, []string{"i_2_ := i_1_ + 1", "br header"}, g.Insts("body"))
	assert.Equal(t, []string{"return i_1_"}, g.Insts("done"))
}

func TestConstructRenamesOperandsBeforeResult(t *testing.T) {
	g := testutil.NewCFG(t, "f", types.IntegerType, "x")
	g.Local("y")
	g.Assign("entry", "y", "x")
	g.Assign("entry", "y", "y * 2")
	g.Return("entry", "y")
	require.NoError(t, Construct(context.Background(), g.F))

	assert.Equal(t, []string{"x_0_ := x", "y_0_ := x_0_", "y_1_ := y_0_ * 2", "return y_1_"}, g.Insts("entry"))
}

func TestConstructSkipsDeadPhis(t *testing.T) {
	g := diamond(t)
	g.Block("join").Insts = nil
	g.Return("join", "x")
	require.NoError(t, Construct(context.Background(), g.F))

	assert.False(t, g.Block("join").StartsWithPhi())
}

func TestRoundTrip(t *testing.T) {
	g := counting(t)
	ctx := context.Background()
	require.NoError(t, Construct(ctx, g.F))
	require.NoError(t, Destruct(ctx, g.F))

	assert.Equal(t, []string{"i := 0", "br header"}, g.Insts("entry"))
	assert.Equal(t, []string{"br check"}, g.Insts("header"))
	assert.Equal(t, []string{"br (i < x) body, done"}, g.Insts("check"))
	assert.Equal(t, []string{"i := i + 1", "br header"}, g.Insts("body"))
	assert.Equal(t, []string{"return i"}, g.Insts("done"))
	assert.Equal(t, []string{"i"}, testutil.Names(ir.NewVarSet(g.F.Locals()...)))
}

func TestDestructOverlappingVersions(t *testing.T) {
	g := testutil.NewCFG(t, "f", types.IntegerType, "x")
	y := g.Local("y")
	g.F.NewVersion(y)
	g.F.NewVersion(y)
	g.Assign("entry", "y_0_", "x")
	g.Assign("entry", "y_1_", "x + 1")
	g.Return("entry", "y_0_ + y_1_")
	require.NoError(t, Destruct(context.Background(), g.F))

	assert.Equal(t, []string{"y := x", "y_0 := x + 1", "return y + y_0"}, g.Insts("entry"))
}

func TestDestructHoistsCopyOutOfBranchOnlyBlock(t *testing.T) {
	g := testutil.NewCFG(t, "f", types.IntegerType, "x")
	for _, name := range []string{"y", "z", "w"} {
		g.F.NewVersion(g.Local(name))
	}
	g.Assign("entry", "y_0_", "x")
	g.Assign("entry", "z_0_", "x + 1")
	g.Jump("entry", "head")
	g.Branch("head", "x > 0", "then", "join")
	g.Jump("then", "join")
	g.Phi("join", "w_0_", "y_0_", "z_0_")
	g.Return("join", "w_0_")
	require.NoError(t, Destruct(context.Background(), g.F))

	assert.Equal(t, []string{"y := x", "z := x + 1", "w := y", "br head"}, g.Insts("entry"))
	assert.Equal(t, []string{"br (x > 0) then, join"}, g.Insts("head"))
	assert.Equal(t, []string{"w := z", "br join"}, g.Insts("then"))
	assert.Equal(t, []string{"return w"}, g.Insts("join"))
}

// lostCopy is a loop whose phi result is still read after the loop, while
// the next value is already computed:
//
//	entry -> loop -> loop
//	         loop -> done
func lostCopy(t *testing.T) *testutil.CFG {
	g := testutil.NewCFG(t, "f", types.IntegerType, "x")
	a := g.Local("a")
	for i := 0; i < 3; i++ {
		g.F.NewVersion(a)
	}
	g.Assign("entry", "a_0_", "0")
	g.Jump("entry", "loop")
	g.Branch("loop", "a_2_ < x", "loop", "done")
	g.Phi("loop", "a_1_", "a_0_", "a_2_")
	g.Assign("loop", "a_2_", "a_1_ + 1")
	g.Return("done", "a_1_")
	return g
}

func TestBreakPhiInterference(t *testing.T) {
	g := lostCopy(t)
	changed, err := BreakPhiInterference.Run(context.Background(), g.F)
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, []string{
		"pa0 := phi(a_0_, a_2_)",
		"a_1_ := pa0",
		"a_2_ := a_1_ + 1",
		"br (a_2_ < x) loop, done",
	}, g.Insts("loop"))
}

func TestBreakPhiInterferenceLeavesDisjointPhis(t *testing.T) {
	g := counting(t)
	ctx := context.Background()
	require.NoError(t, Construct(ctx, g.F))
	before := g.F.String()

	changed, err := BreakPhiInterference.Run(ctx, g.F)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, before, g.F.String())
}

func TestLostCopyDestruction(t *testing.T) {
	g := lostCopy(t)
	_, err := pass.NewPipeline(BreakPhiInterference, Destruction).Run(context.Background(), g.F)
	require.NoError(t, err)

	assert.Equal(t, []string{"a := 0", "pa0 := a", "br loop"}, g.Insts("entry"))
	assert.Equal(t, []string{
		"a := pa0",
		"a_1 := a + 1",
		"pa0 := a_1",
		"br (a_1 < x) loop, done",
	}, g.Insts("loop"))
	assert.Equal(t, []string{"return a"}, g.Insts("done"))
}
