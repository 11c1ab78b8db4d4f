package ir

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/udfc/internal/graph"
	"github.com/roach88/udfc/internal/sqltext"
	"github.com/roach88/udfc/internal/types"
)

// Function is one compilation unit: its variables, its CFG held in a
// block arena, and a region tree derived from the CFG.
type Function struct {
	Name       string
	ReturnType types.Type

	binder   Binder
	args     []*Variable
	locals   []*Variable
	bindings map[string]*Variable
	nextVar  int
	versions map[*Variable]int
	temps    int

	blocks []*Block
	entry  BlockID
	meta   map[BlockID]Metadata

	tree  *RegionTree
	dirty bool
}

// NewFunction returns an empty function whose expressions are bound by
// binder.
func NewFunction(name string, ret types.Type, binder Binder) *Function {
	return &Function{
		Name:       name,
		ReturnType: ret,
		binder:     binder,
		bindings:   make(map[string]*Variable),
		versions:   make(map[*Variable]int),
		entry:      NoBlock,
		meta:       make(map[BlockID]Metadata),
	}
}

// Binder returns the binder expressions of f are bound with.
func (f *Function) Binder() Binder { return f.binder }

// AddArgument declares a formal argument.
func (f *Function) AddArgument(name string, typ types.Type) (*Variable, error) {
	v, err := f.declare(name, typ, true)
	if err != nil {
		return nil, err
	}
	v.arg = true
	f.args = append(f.args, v)
	return v, nil
}

// AddLocal declares a local variable.
func (f *Function) AddLocal(name string, typ types.Type, nullable bool) (*Variable, error) {
	v, err := f.declare(name, typ, nullable)
	if err != nil {
		return nil, err
	}
	f.locals = append(f.locals, v)
	return v, nil
}

func (f *Function) declare(name string, typ types.Type, nullable bool) (*Variable, error) {
	key := sqltext.Fold(name)
	if _, ok := f.bindings[key]; ok {
		return nil, ErrDuplicateVariable.New(name)
	}
	v := &Variable{Name: name, Type: typ, Nullable: nullable, id: f.nextVar}
	f.nextVar++
	f.bindings[key] = v
	return v, nil
}

// Binding looks a variable up by name.
func (f *Function) Binding(name string) (*Variable, bool) {
	v, ok := f.bindings[sqltext.Fold(name)]
	return v, ok
}

// Arguments returns the formal arguments in declaration order.
func (f *Function) Arguments() []*Variable { return append([]*Variable(nil), f.args...) }

// Locals returns the local variables in creation order.
func (f *Function) Locals() []*Variable { return append([]*Variable(nil), f.locals...) }

// Variables returns arguments followed by locals.
func (f *Function) Variables() []*Variable {
	return append(f.Arguments(), f.locals...)
}

// RemoveVariable drops a local. Arguments are never removed.
func (f *Function) RemoveVariable(v *Variable) {
	if v.arg {
		panic(fmt.Sprintf("argument %s cannot be removed", v.Name))
	}
	for i, l := range f.locals {
		if l == v {
			f.locals = append(f.locals[:i], f.locals[i+1:]...)
			break
		}
	}
	if f.bindings[sqltext.Fold(v.Name)] == v {
		delete(f.bindings, sqltext.Fold(v.Name))
	}
}

// NewTemp creates a fresh local named prefix followed by a number.
func (f *Function) NewTemp(prefix string, typ types.Type) *Variable {
	for {
		name := fmt.Sprintf("%s%d", prefix, f.temps)
		f.temps++
		if _, taken := f.Binding(name); taken {
			continue
		}
		v, _ := f.AddLocal(name, typ, true)
		return v
	}
}

// NewVersion creates the next SSA version of v, named v_N_.
func (f *Function) NewVersion(v *Variable) *Variable {
	orig := v.Origin()
	for {
		n := f.versions[orig]
		f.versions[orig] = n + 1
		name := fmt.Sprintf("%s_%d_", orig.Name, n)
		if _, taken := f.Binding(name); taken {
			continue
		}
		nv, _ := f.AddLocal(name, orig.Type, orig.Nullable)
		nv.origin = orig
		return nv
	}
}

// Scope returns the scratch-table columns expressions are bound against.
func (f *Function) Scope() []Column {
	vars := f.Variables()
	cols := make([]Column, len(vars))
	for i, v := range vars {
		cols[i] = Column{Name: v.Name, Type: v.Type}
	}
	return cols
}

// BindExpression binds text against the current variables. When want is
// known, the expression is cast to it if the binder's type differs.
func (f *Function) BindExpression(ctx context.Context, text string, want types.Type) (*Expr, error) {
	text = strings.TrimSpace(text)
	if f.binder == nil {
		panic(fmt.Sprintf("function %s has no binder", f.Name))
	}
	bound, err := f.binder.Bind(ctx, text, f.Scope())
	if err != nil {
		return nil, ErrBind.New(text, err.Error())
	}
	typ := bound.Type
	if !want.IsUnknown() {
		cost := types.ImplicitCastCost(bound.Type, want)
		if cost < 0 {
			return nil, ErrTypeMismatch.New(text, want.EngineName())
		}
		if cost > 0 {
			text = fmt.Sprintf("(%s)::%s", text, want.EngineName())
		}
		typ = want
	}

	uses := make([]*Variable, 0, len(bound.Columns))
	seen := make(VarSet, len(bound.Columns))
	for _, col := range bound.Columns {
		v, ok := f.Binding(col)
		if !ok {
			return nil, ErrUnknownVariable.New(col)
		}
		if !seen.Has(v) {
			seen.Add(v)
			uses = append(uses, v)
		}
	}
	SortVars(uses)

	return &Expr{
		Text:  text,
		Type:  typ,
		Plan:  bound.Plan,
		uses:  uses,
		isSQL: sqltext.IsSQLExpression(text),
	}, nil
}

// BindCondition binds a boolean expression.
func (f *Function) BindCondition(ctx context.Context, text string) (*Expr, error) {
	return f.BindExpression(ctx, text, types.BooleanType)
}

// Reference returns an expression reading v.
func (f *Function) Reference(ctx context.Context, v *Variable) (*Expr, error) {
	return f.BindExpression(ctx, v.Name, v.Type)
}

// RenameExpr rewrites e so that every variable in renames reads its
// replacement instead, and rebinds the result.
func (f *Function) RenameExpr(ctx context.Context, e *Expr, renames map[*Variable]*Variable) (*Expr, error) {
	byName := make(map[string]string)
	for _, u := range e.uses {
		if to, ok := renames[u]; ok && to != u {
			byName[u.Name] = to.Name
		}
	}
	if len(byName) == 0 {
		return e, nil
	}
	text, err := sqltext.RenameAll(e.Text, byName)
	if err != nil {
		return nil, ErrBind.New(e.Text, err.Error())
	}
	return f.BindExpression(ctx, text, e.Type)
}

// SubstituteExpr replaces every read of v in e by the expression repl.
func (f *Function) SubstituteExpr(ctx context.Context, e *Expr, v *Variable, repl *Expr) (*Expr, error) {
	if !e.Reads(v) {
		return e, nil
	}
	var text string
	var err error
	if rv, ok := repl.IsVariable(); ok {
		text, err = sqltext.Rename(e.Text, v.Name, rv.Name)
	} else {
		text, err = sqltext.Substitute(e.Text, v.Name, repl.Text)
	}
	if err != nil {
		return nil, ErrBind.New(e.Text, err.Error())
	}
	return f.BindExpression(ctx, text, e.Type)
}

// NewBlock allocates an empty block. An empty label names it after its
// handle. The first block allocated becomes the entry.
func (f *Function) NewBlock(label string) *Block {
	id := BlockID(len(f.blocks))
	if label == "" {
		label = fmt.Sprintf("B%d", id)
	}
	b := &Block{ID: id, Label: label}
	f.blocks = append(f.blocks, b)
	if f.entry == NoBlock {
		f.entry = id
	}
	f.dirty = true
	return b
}

// Block returns the block with handle id, or nil if it was removed.
func (f *Function) Block(id BlockID) *Block {
	if id < 0 || int(id) >= len(f.blocks) {
		return nil
	}
	return f.blocks[id]
}

// Entry returns the entry block.
func (f *Function) Entry() *Block { return f.Block(f.entry) }

// IsEntry reports whether b is the entry block.
func (f *Function) IsEntry(b *Block) bool { return b.ID == f.entry }

// Blocks returns the live blocks in handle order.
func (f *Function) Blocks() []*Block {
	out := make([]*Block, 0, len(f.blocks))
	for _, b := range f.blocks {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}

// NumBlockIDs is the size of the block arena, including removed slots.
func (f *Function) NumBlockIDs() int { return len(f.blocks) }

// SetTerminator installs term as the terminator of b and updates the
// edges. Edges that survive keep their predecessor slot, so phi
// arguments stay aligned; new edges get an empty phi slot.
func (f *Function) SetTerminator(b *Block, term Instruction) {
	if !term.IsTerminator() {
		panic(fmt.Sprintf("%s is not a terminator", term))
	}
	if n := len(b.Insts); n > 0 && b.Insts[n-1].IsTerminator() {
		b.Insts[n-1] = term
	} else {
		b.Insts = append(b.Insts, term)
	}

	targets := term.Targets()
	remaining := append([]BlockID(nil), targets...)
	for _, old := range b.succs {
		matched := false
		for i, t := range remaining {
			if t == old {
				remaining = append(remaining[:i], remaining[i+1:]...)
				matched = true
				break
			}
		}
		if !matched {
			f.removePred(f.blocks[old], b.ID)
		}
	}
	for _, t := range remaining {
		s := f.Block(t)
		if s == nil {
			panic(fmt.Sprintf("%s branches to missing block b%d", b.Label, t))
		}
		s.preds = append(s.preds, b.ID)
		for _, p := range s.Phis() {
			p.Args = append(p.Args, nil)
		}
	}
	b.succs = append([]BlockID(nil), targets...)
	f.dirty = true
}

func (f *Function) removePred(s *Block, p BlockID) {
	i := s.PredIndex(p)
	if i < 0 {
		panic(fmt.Sprintf("%s is not a predecessor of %s", f.blocks[p].Label, s.Label))
	}
	s.preds = append(s.preds[:i], s.preds[i+1:]...)
	for _, phi := range s.Phis() {
		phi.Args = append(phi.Args[:i], phi.Args[i+1:]...)
	}
}

// retarget rewrites the terminator of b so that edges to from go to to,
// without touching the predecessor lists.
func (f *Function) retarget(b *Block, from, to BlockID) {
	br, ok := b.Terminator().(*Branch)
	if !ok {
		panic(fmt.Sprintf("%s has no branch to retarget", b.Label))
	}
	nb := *br
	if nb.True == from {
		nb.True = to
	}
	if nb.Cond != nil && nb.False == from {
		nb.False = to
	}
	b.Insts[len(b.Insts)-1] = &nb
	for i, s := range b.succs {
		if s == from {
			b.succs[i] = to
		}
	}
}

// RedirectEdge changes the edge b->from into b->to. The phis of from
// lose the slot and the phis of to gain an empty one.
func (f *Function) RedirectEdge(b *Block, from, to BlockID) {
	br, ok := b.Terminator().(*Branch)
	if !ok {
		panic(fmt.Sprintf("%s has no branch to redirect", b.Label))
	}
	nb := *br
	if nb.True == from {
		nb.True = to
	}
	if nb.Cond != nil && nb.False == from {
		nb.False = to
	}
	f.SetTerminator(b, &nb)
}

// SplitEdge inserts an empty block on the edge from->to. The new block
// takes over the predecessor slot of from, so the phis of to are
// unchanged.
func (f *Function) SplitEdge(from, to *Block) *Block {
	x := f.NewBlock("")
	slot := to.PredIndex(from.ID)
	if slot < 0 {
		panic(fmt.Sprintf("no edge %s -> %s", from.Label, to.Label))
	}
	f.retarget(from, to.ID, x.ID)
	to.preds[slot] = x.ID
	x.preds = []BlockID{from.ID}
	x.Insts = []Instruction{&Branch{True: to.ID}}
	x.succs = []BlockID{to.ID}
	f.dirty = true
	return x
}

// InsertPreheader inserts an empty block that takes over every
// predecessor of b, and moves the phis of b into it.
func (f *Function) InsertPreheader(b *Block) *Block {
	if b.ID == f.entry {
		panic("the entry block has no predecessors")
	}
	x := f.NewBlock("")
	for _, p := range b.preds {
		f.retarget(f.blocks[p], b.ID, x.ID)
	}
	phis := b.Phis()
	for _, p := range phis {
		x.Insts = append(x.Insts, p)
	}
	b.Insts = b.Insts[len(phis):]
	x.Insts = append(x.Insts, &Branch{True: b.ID})
	x.preds = b.preds
	x.succs = []BlockID{b.ID}
	b.preds = []BlockID{x.ID}
	f.dirty = true
	return x
}

// MergeBlocks folds top into bottom, where top's only successor is bottom
// and bottom's only predecessor is top. The instructions of top move to
// the front of bottom, the predecessors of top jump to bottom, and top is
// removed. Metadata of top moves to bottom unless bottom has its own.
func (f *Function) MergeBlocks(top, bottom *Block) {
	if top.ID == f.entry {
		panic("the entry block cannot be merged away")
	}
	if len(top.succs) != 1 || top.succs[0] != bottom.ID || len(bottom.preds) != 1 || bottom.preds[0] != top.ID {
		panic(fmt.Sprintf("%s and %s are not a straight-line pair", top.Label, bottom.Label))
	}
	moved := top.Insts[:len(top.Insts)-1]
	bottom.Insts = append(append([]Instruction(nil), moved...), bottom.Insts...)
	for _, p := range top.preds {
		f.retarget(f.blocks[p], top.ID, bottom.ID)
	}
	bottom.preds = top.preds
	if m, ok := f.meta[top.ID]; ok {
		if _, has := f.meta[bottom.ID]; !has {
			f.meta[bottom.ID] = m
		}
		delete(f.meta, top.ID)
	}
	f.blocks[top.ID] = nil
	f.dirty = true
}

// RemoveBlock deletes a block that has no predecessors.
func (f *Function) RemoveBlock(b *Block) {
	if len(b.preds) != 0 {
		panic(fmt.Sprintf("%s still has predecessors", b.Label))
	}
	for _, s := range b.succs {
		f.removePred(f.blocks[s], b.ID)
	}
	b.succs = nil
	delete(f.meta, b.ID)
	f.blocks[b.ID] = nil
	if b.ID == f.entry {
		f.entry = NoBlock
	}
	f.dirty = true
}

// RemoveUnreachable deletes every block the entry cannot reach and
// reports whether anything was removed.
func (f *Function) RemoveUnreachable() bool {
	reach := make(map[BlockID]bool)
	for _, n := range graph.ReversePostorder(f.Graph(), int(f.entry)) {
		reach[BlockID(n)] = true
	}
	var dead []*Block
	for _, b := range f.Blocks() {
		if !reach[b.ID] {
			dead = append(dead, b)
		}
	}
	for _, b := range dead {
		for _, s := range b.succs {
			if reach[s] {
				f.removePred(f.blocks[s], b.ID)
			}
		}
		b.succs = nil
	}
	for _, b := range dead {
		b.preds = nil
		delete(f.meta, b.ID)
		f.blocks[b.ID] = nil
	}
	if len(dead) > 0 {
		f.dirty = true
	}
	return len(dead) > 0
}

// Graph adapts the CFG to the graph algorithms.
func (f *Function) Graph() graph.Graph { return cfgGraph{f} }

type cfgGraph struct{ f *Function }

func (g cfgGraph) Len() int { return len(g.f.blocks) }

func (g cfgGraph) Succs(n int) []int {
	b := g.f.blocks[n]
	if b == nil {
		return nil
	}
	return ints(b.succs)
}

func (g cfgGraph) Preds(n int) []int {
	b := g.f.blocks[n]
	if b == nil {
		return nil
	}
	return ints(b.preds)
}

func ints(ids []BlockID) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}

// Metadata is free-form annotation attached to the region headed by a
// block.
type Metadata map[string]any

// Metadata keys and values set by the CFG builder.
const (
	MetaUDFInfo        = "udf_info"
	MetaFetchQuery     = "fetch_query"
	MetaFirstCursorVar = "first_cursor_var"

	CursorLoopRegion     = "cursorLoopRegion"
	CursorLoopBodyRegion = "cursorLoopBodyRegion"
	CursorLoopVarRegion  = "cursorLoopVarRegion"
)

// Metadata returns the annotations of the region headed by b.
func (f *Function) Metadata(b BlockID) Metadata { return f.meta[b] }

// SetMetadata annotates the region headed by b.
func (f *Function) SetMetadata(b BlockID, key string, value any) {
	m, ok := f.meta[b]
	if !ok {
		m = make(Metadata)
		f.meta[b] = m
	}
	m[key] = value
}

// Regions returns the region tree, rebuilding it if the CFG changed
// shape since it was last built.
func (f *Function) Regions() *RegionTree {
	if f.tree == nil || f.dirty {
		f.RebuildRegionTree()
	}
	return f.tree
}
