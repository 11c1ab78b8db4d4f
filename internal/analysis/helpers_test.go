package analysis

import (
	"testing"

	"github.com/roach88/udfc/internal/testutil"
	"github.com/roach88/udfc/internal/types"
)

// diamond:
//
//	entry -> head -> then, else -> join
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

// counting:
//
//	entry -> header -> check -> body -> header
//	                   check -> done
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
