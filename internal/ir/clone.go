package ir

import (
	"context"
	"fmt"

	"github.com/roach88/udfc/internal/types"
)

// CloneSpec describes a partial clone of a function.
type CloneSpec struct {
	// Name and Return are the name and return type of the new function.
	Name   string
	Return types.Type
	// Args become the formal arguments. Each is named after the original
	// name of the variable and copied into its clone at the top of the
	// entry block.
	Args []*Variable
	// Blocks are the blocks to copy. The first one is where the new
	// function starts.
	Blocks []BlockID
	// Result, when set, is returned by a synthetic "return" block that
	// every edge leaving Blocks is redirected to. Without it no edge may
	// leave Blocks.
	Result *Variable
}

// Clone is a partial clone together with the maps from the source
// function to it.
type Clone struct {
	Func   *Function
	Vars   map[*Variable]*Variable
	Blocks map[BlockID]BlockID
	Return *Block
}

// PartialClone copies a set of blocks of f into a new standalone
// function. Every variable of f is copied so expressions rebind
// unchanged. If the first block has phis, it must have exactly one
// predecessor outside the set; the new entry block takes its place.
func (f *Function) PartialClone(ctx context.Context, spec CloneSpec) (*Clone, error) {
	if len(spec.Blocks) == 0 {
		panic("partial clone of no blocks")
	}
	g := NewFunction(spec.Name, spec.Return, f.binder)
	c := &Clone{
		Func:   g,
		Vars:   make(map[*Variable]*Variable),
		Blocks: make(map[BlockID]BlockID),
	}

	for _, a := range spec.Args {
		name := OriginalName(a.Name)
		if _, taken := g.Binding(name); taken {
			name = a.Name
		}
		if _, err := g.AddArgument(name, a.Type); err != nil {
			return nil, err
		}
	}
	for _, v := range f.Variables() {
		if nv, ok := g.Binding(v.Name); ok {
			c.Vars[v] = nv
			continue
		}
		nv, err := g.AddLocal(v.Name, v.Type, v.Nullable)
		if err != nil {
			return nil, err
		}
		if v.origin != nil {
			nv.origin = c.Vars[v.origin]
		}
		c.Vars[v] = nv
	}
	for v, n := range f.versions {
		if nv, ok := c.Vars[v]; ok {
			g.versions[nv] = n
		}
	}
	g.temps = f.temps

	entry := g.NewBlock("entry")
	inSet := make(map[BlockID]bool, len(spec.Blocks))
	for _, id := range spec.Blocks {
		inSet[id] = true
		b := f.blocks[id]
		c.Blocks[id] = g.NewBlock(b.Label).ID
		if m, ok := f.meta[id]; ok {
			cm := make(Metadata, len(m))
			for k, v := range m {
				cm[k] = v
			}
			g.meta[c.Blocks[id]] = cm
		}
	}
	if spec.Result != nil {
		c.Return = g.NewBlock("return")
	}

	for i, a := range spec.Args {
		arg := g.args[i]
		local := c.Vars[a]
		if local == arg {
			continue
		}
		ref, err := g.Reference(ctx, arg)
		if err != nil {
			return nil, err
		}
		entry.Append(&Assignment{Var: local, Value: ref})
	}
	first := f.blocks[spec.Blocks[0]]
	g.SetTerminator(entry, &Branch{True: c.Blocks[first.ID]})

	target := func(from *Block, to BlockID) BlockID {
		if inSet[to] {
			return c.Blocks[to]
		}
		if c.Return == nil {
			panic(fmt.Sprintf("%s leaves the cloned blocks towards %s", from.Label, f.blocks[to].Label))
		}
		return c.Return.ID
	}

	for _, id := range spec.Blocks {
		b := f.blocks[id]
		nb := g.blocks[c.Blocks[id]]
		for _, inst := range b.Insts {
			switch x := inst.(type) {
			case *Phi:
				nb.Insts = append(nb.Insts, &Phi{Var: c.Vars[x.Var]})
			case *Assignment:
				e, err := g.rebind(ctx, x.Value)
				if err != nil {
					return nil, err
				}
				nb.Insts = append(nb.Insts, &Assignment{Var: c.Vars[x.Var], Value: e})
			case *Return:
				e, err := g.rebind(ctx, x.Value)
				if err != nil {
					return nil, err
				}
				g.SetTerminator(nb, &Return{Value: e})
			case *Exit:
				g.SetTerminator(nb, &Exit{})
			case *Branch:
				nbr := &Branch{True: target(b, x.True), False: NoBlock}
				if x.Cond != nil {
					cond, err := g.rebind(ctx, x.Cond)
					if err != nil {
						return nil, err
					}
					nbr.Cond = cond
					nbr.False = target(b, x.False)
				}
				g.SetTerminator(nb, nbr)
			default:
				panic(fmt.Sprintf("unknown instruction %T", inst))
			}
		}
	}

	if c.Return != nil {
		ref, err := g.Reference(ctx, c.Vars[spec.Result])
		if err != nil {
			return nil, err
		}
		g.SetTerminator(c.Return, &Return{Value: ref})
	}

	// Phis were copied before their blocks had edges; their slots follow
	// the new predecessor order.
	outside := NoBlock
	for _, p := range first.preds {
		if !inSet[p] {
			if outside != NoBlock && len(first.Phis()) > 0 {
				panic(fmt.Sprintf("%s has phis and several predecessors outside the clone", first.Label))
			}
			outside = p
		}
	}
	for _, id := range spec.Blocks {
		b := f.blocks[id]
		nb := g.blocks[c.Blocks[id]]
		for i, phi := range b.Phis() {
			nphi := nb.Insts[i].(*Phi)
			nphi.Args = make([]*Variable, len(nb.preds))
			for slot, np := range nb.preds {
				old := outside
				if np != entry.ID {
					old = c.source(np)
				}
				if k := b.PredIndex(old); k >= 0 && phi.Args[k] != nil {
					nphi.Args[slot] = c.Vars[phi.Args[k]]
				}
			}
		}
	}
	return c, nil
}

func (c *Clone) source(nb BlockID) BlockID {
	for old, n := range c.Blocks {
		if n == nb {
			return old
		}
	}
	return NoBlock
}

// rebind binds the text of an expression of another function against
// the variables of f.
func (f *Function) rebind(ctx context.Context, e *Expr) (*Expr, error) {
	return f.BindExpression(ctx, e.Text, e.Type)
}
