package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/types"
)

// Predicates are CREATE MACRO definitions that tell, from the arguments
// alone, whether a call returns a value comparing in a given way with a
// probe t: one macro per operator, or a single one for a boolean
// function.
type Predicates struct {
	Macros []string
	// Names are the macro names, in the order of Macros.
	Names []string
	// Skipped says why no macro was derived. Empty when Macros is set.
	Skipped string
}

var comparisons = []struct{ op, suffix string }{
	{"=", "eq"},
	{"<=", "leq"},
	{">=", "geq"},
	{"<", "lt"},
	{">", "gt"},
}

// errUnresolved stops predicate derivation on a value that cannot be
// traced back to the arguments.
type errUnresolved struct{ reason string }

func (e errUnresolved) Error() string { return e.reason }

// ComputePredicates derives the predicates of a loop-free function in SSA
// form. Every path from the entry to a return contributes the conjunction
// of the branch conditions taken on it together with the returned value,
// both rewritten through use-def chains until they read only arguments.
func ComputePredicates(ctx context.Context, f *ir.Function) (*Predicates, error) {
	if root := f.Regions().Root; root != nil && HasLoop(root) {
		return &Predicates{Skipped: "function contains a loop"}, nil
	}
	ud := ComputeUseDef(f)
	for _, b := range f.Blocks() {
		for _, inst := range b.Insts {
			if a, ok := inst.(*ir.Assignment); ok && a.Value.IsSQL() && ud.NumUses(a.Var) > 1 {
				return &Predicates{Skipped: fmt.Sprintf("query result %s is used more than once", a.Var.Name)}, nil
			}
		}
	}

	boolean := f.ReturnType.Tag() == types.Boolean
	n := len(comparisons)
	if boolean {
		n = 1
	}
	terms := make([][]string, n)

	dom := Dominance(f)
	for _, b := range f.Blocks() {
		ret, ok := b.Terminator().(*ir.Return)
		if !ok || !dom.Reachable(b.ID) {
			continue
		}
		for _, path := range pathsFromEntry(f, b) {
			value, err := resolveOnPath(ctx, f, ud, path, ret.Value)
			if err != nil {
				return skipped(err)
			}
			cond := ""
			if text := pathCondition(f, path); text != "" {
				bound, err := f.BindCondition(ctx, text)
				if err != nil {
					return nil, err
				}
				resolved, err := resolveOnPath(ctx, f, ud, path, bound)
				if err != nil {
					return skipped(err)
				}
				cond = resolved.Text + " AND "
			}
			for i := range terms {
				if boolean {
					terms[i] = append(terms[i], fmt.Sprintf("((%s(%s)))", cond, value.Text))
				} else {
					terms[i] = append(terms[i], fmt.Sprintf("((%s(%s %s t)))", cond, value.Text, comparisons[i].op))
				}
			}
		}
	}

	var params []string
	if !boolean {
		params = append(params, "t")
	}
	for _, a := range f.Arguments() {
		params = append(params, a.Name)
	}
	out := &Predicates{}
	for i, t := range terms {
		name := f.Name
		if !boolean {
			name += "_" + comparisons[i].suffix
		}
		out.Names = append(out.Names, name)
		out.Macros = append(out.Macros, fmt.Sprintf("CREATE MACRO %s(%s) AS (%s);",
			name, strings.Join(params, ", "), strings.Join(t, " OR ")))
	}
	return out, nil
}

func skipped(err error) (*Predicates, error) {
	if u, ok := err.(errUnresolved); ok {
		return &Predicates{Skipped: u.reason}, nil
	}
	return nil, err
}

// pathsFromEntry lists every acyclic path from the entry to b. Paths run
// backwards: b first, the entry last.
func pathsFromEntry(f *ir.Function, b *ir.Block) [][]*ir.Block {
	var out [][]*ir.Block
	onPath := make(map[ir.BlockID]bool)
	var walk func(cur *ir.Block, path []*ir.Block)
	walk = func(cur *ir.Block, path []*ir.Block) {
		path = append(path, cur)
		if f.IsEntry(cur) {
			out = append(out, append([]*ir.Block(nil), path...))
			return
		}
		onPath[cur.ID] = true
		for _, p := range cur.Preds() {
			if !onPath[p] {
				walk(f.Block(p), path)
			}
		}
		onPath[cur.ID] = false
	}
	walk(b, nil)
	return out
}

// pathCondition joins the conditions of the branches taken along path.
func pathCondition(f *ir.Function, path []*ir.Block) string {
	var parts []string
	for i := len(path) - 1; i > 0; i-- {
		br, ok := path[i].Terminator().(*ir.Branch)
		if !ok || !br.IsConditional() {
			continue
		}
		if path[i-1].ID == br.False {
			parts = append(parts, fmt.Sprintf("(NOT (%s))", br.Cond.Text))
		} else {
			parts = append(parts, fmt.Sprintf("((%s))", br.Cond.Text))
		}
	}
	return strings.Join(parts, " AND ")
}

// resolveOnPath substitutes definitions into e until it reads only
// arguments. A phi resolves to its argument for the predecessor that
// path enters its block from.
func resolveOnPath(ctx context.Context, f *ir.Function, ud *UseDef, path []*ir.Block, e *ir.Expr) (*ir.Expr, error) {
	position := make(map[ir.BlockID]int, len(path))
	for i, b := range path {
		position[b.ID] = i
	}
	for round := 0; ; round++ {
		var pending []*ir.Variable
		for _, u := range e.Uses() {
			if !u.IsArgument() {
				pending = append(pending, u)
			}
		}
		if len(pending) == 0 {
			return e, nil
		}
		if round > len(f.Variables()) {
			return nil, errUnresolved{fmt.Sprintf("%s does not resolve to the arguments", e.Text)}
		}
		for _, u := range pending {
			site, ok := ud.Def(u)
			if !ok {
				return nil, errUnresolved{fmt.Sprintf("%s does not have a single definition", u.Name)}
			}
			var repl *ir.Expr
			switch d := site.Inst.(type) {
			case *ir.Assignment:
				repl = d.Value
			case *ir.Phi:
				i, ok := position[site.Block.ID]
				if !ok || i+1 >= len(path) {
					return nil, errUnresolved{fmt.Sprintf("phi for %s is off the path", u.Name)}
				}
				slot := site.Block.PredIndex(path[i+1].ID)
				if slot < 0 || d.Args[slot] == nil {
					return nil, errUnresolved{fmt.Sprintf("phi for %s has no argument from %s", u.Name, path[i+1].Label)}
				}
				ref, err := f.Reference(ctx, d.Args[slot])
				if err != nil {
					return nil, err
				}
				repl = ref
			default:
				return nil, errUnresolved{fmt.Sprintf("%s is not defined by an assignment", u.Name)}
			}
			var err error
			if e, err = f.SubstituteExpr(ctx, e, u, repl); err != nil {
				return nil, err
			}
		}
	}
}
