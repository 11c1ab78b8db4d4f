package frontend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/sqltext"
	"github.com/roach88/udfc/internal/types"
)

// Names the builder introduces for cursor loops.
const (
	CursorIterator   = "cursorloopiter"
	FetchQueryStart  = "/*fetchQueryStart*/"
	FetchQueryEnd    = "/*fetchQueryEnd*/"
	fetchQueryTable  = "fetchQueryTmpTable"
	fetchQueryColumn = "fetchQueryVar"
)

// continuations are the blocks control reaches after a statement list
// ends, after EXIT and after CONTINUE. NoBlock means the list may not
// fall off its end.
type continuations struct {
	fallThrough ir.BlockID
	loopHeader  ir.BlockID
	loopExit    ir.BlockID
	inLoop      bool
}

type pendingInit struct {
	v    *ir.Variable
	expr *ir.Expr
}

type builder struct {
	f       *ir.Function
	program string
	inits   []pendingInit
}

// Build lowers a function definition into a CFG whose expressions are
// bound by binder. program is the full program text; the parser refers
// to some type names by their offset in it.
func Build(ctx context.Context, def *Definition, program string, binder ir.Binder) (*ir.Function, error) {
	var ast plFunction
	if err := json.Unmarshal(def.ast, &ast); err != nil {
		return nil, &Error{Err: ir.ErrParse.New(fmt.Sprintf("unexpected parse tree for %s: %v", def.Name, err))}
	}
	ret, err := types.FromPostgresName(def.ReturnType, program)
	if err != nil {
		return nil, &Error{Err: ir.ErrParse.New(err.Error())}
	}

	b := &builder{f: ir.NewFunction(def.Name, ret, binder), program: program}
	if err := b.declare(ctx, ast.Datums); err != nil {
		return nil, err
	}

	entry := b.f.NewBlock("entry")
	declare := b.f.NewBlock("")
	body, err := b.statements(ctx, ast.Action.Block.Body, continuations{
		fallThrough: ir.NoBlock,
		loopHeader:  ir.NoBlock,
		loopExit:    ir.NoBlock,
	})
	if err != nil {
		return nil, err
	}
	for _, init := range b.inits {
		declare.Append(&ir.Assignment{Var: init.v, Value: init.expr})
	}
	if err := b.jump(declare, body); err != nil {
		return nil, &Error{Err: err}
	}
	b.f.SetTerminator(entry, &ir.Branch{True: declare.ID})
	b.f.Regions()
	return b.f, nil
}

// declare binds the datums. Variables listed before "found" are the
// arguments; the rest are locals, initialized in the declare block.
func (b *builder) declare(ctx context.Context, datums []plDatum) error {
	arguments := true
	for _, d := range datums {
		if d.Var == nil {
			continue
		}
		name := d.Var.Refname
		if name == "found" {
			arguments = false
			continue
		}
		typname := d.Var.Datatype.Type.Typname
		if typname == "UNKNOWN" {
			// Record fields of a cursor loop must be declared before.
			if _, ok := b.f.Binding(name); ok {
				continue
			}
			return &Error{Err: ir.ErrCursorLoopShape.New(fmt.Sprintf("variable %s in cursor loop must be declared first", name))}
		}
		typ, err := types.FromPostgresName(typname, b.program)
		if err != nil {
			return &Error{Err: ir.ErrParse.New(fmt.Sprintf("variable %s: %v", name, err))}
		}
		if arguments {
			if _, err := b.f.AddArgument(name, typ); err != nil {
				return &Error{Err: err}
			}
			continue
		}

		init := d.Var.DefaultVal.query()
		if d.Var.DefaultVal == nil {
			if init, err = typ.DefaultValue(); err != nil {
				return &Error{Err: ir.ErrBind.New(name, err.Error())}
			}
		}
		v, err := b.f.AddLocal(name, typ, d.Var.DefaultVal == nil)
		if err != nil {
			return &Error{Err: err}
		}
		if err := b.initialize(ctx, v, init); err != nil {
			return &Error{Err: err}
		}
	}
	return nil
}

func (b *builder) initialize(ctx context.Context, v *ir.Variable, text string) error {
	e, err := b.f.BindExpression(ctx, text, v.Type)
	if err != nil {
		return err
	}
	b.inits = append(b.inits, pendingInit{v: v, expr: e})
	return nil
}

// jump ends from with an unconditional branch. A missing target means
// control falls off the end of the function.
func (b *builder) jump(from *ir.Block, to ir.BlockID) error {
	if to == ir.NoBlock {
		return ir.ErrMissingReturnValue.New()
	}
	b.f.SetTerminator(from, &ir.Branch{True: to})
	return nil
}

// branch ends from with a conditional branch. Equal targets are kept
// apart by an empty block on the true side.
func (b *builder) branch(from *ir.Block, cond *ir.Expr, t, f ir.BlockID) error {
	if t == ir.NoBlock || f == ir.NoBlock {
		return ir.ErrMissingReturnValue.New()
	}
	if t == f {
		pad := b.f.NewBlock("")
		b.f.SetTerminator(pad, &ir.Branch{True: t})
		t = pad.ID
	}
	b.f.SetTerminator(from, &ir.Branch{Cond: cond, True: t, False: f})
	return nil
}

// statements builds stmts and returns the block control enters them at.
// The statements after the first one are built before its body, so
// continuation blocks exist when the body needs them.
func (b *builder) statements(ctx context.Context, stmts []plStatement, k continuations) (ir.BlockID, error) {
	if len(stmts) == 0 {
		return k.fallThrough, nil
	}
	s, rest := stmts[0], stmts[1:]
	var (
		id  ir.BlockID
		err error
	)
	switch s.Kind {
	case kindAssign:
		id, err = b.assignment(ctx, s, rest, k)
	case kindReturn:
		id, err = b.ret(ctx, s)
	case kindIf:
		id, err = b.ifStatement(ctx, s, rest, k)
	case kindWhile:
		id, err = b.while(ctx, s, rest, k)
	case kindLoop:
		id, err = b.loop(ctx, s, rest, k)
	case kindForI:
		id, err = b.forLoop(ctx, s, rest, k)
	case kindExit:
		id, err = b.exit(ctx, s, rest, k)
	case kindForS:
		id, err = b.cursorLoop(ctx, s, rest, k)
	default:
		err = ir.ErrUnsupportedStatement.New(strings.TrimPrefix(s.Kind, "PLpgSQL_"))
	}
	if err != nil {
		if _, ok := err.(*Error); !ok {
			err = &Error{Line: s.Lineno, Err: err}
		}
		return ir.NoBlock, err
	}
	return id, nil
}

func (b *builder) assignment(ctx context.Context, s plStatement, rest []plStatement, k continuations) (ir.BlockID, error) {
	var st stmtAssign
	if err := s.decode(&st); err != nil {
		return ir.NoBlock, ir.ErrParse.New(err.Error())
	}
	lhs, rhs, err := sqltext.SplitAssignment(st.Expr.query())
	if err != nil {
		return ir.NoBlock, ir.ErrParse.New(err.Error())
	}
	v, ok := b.f.Binding(lhs)
	if !ok {
		return ir.NoBlock, ir.ErrUnknownVariable.New(lhs)
	}
	e, err := b.f.BindExpression(ctx, rhs, v.Type)
	if err != nil {
		return ir.NoBlock, err
	}

	blk := b.f.NewBlock("")
	blk.Append(&ir.Assignment{Var: v, Value: e})
	next, err := b.statements(ctx, rest, k)
	if err != nil {
		return ir.NoBlock, err
	}
	if err := b.jump(blk, next); err != nil {
		return ir.NoBlock, err
	}
	return blk.ID, nil
}

// ret builds a RETURN. Statements after it are unreachable and dropped.
func (b *builder) ret(ctx context.Context, s plStatement) (ir.BlockID, error) {
	var st stmtReturn
	if err := s.decode(&st); err != nil {
		return ir.NoBlock, ir.ErrParse.New(err.Error())
	}
	if st.Expr == nil {
		return ir.NoBlock, ir.ErrMissingReturnValue.New()
	}
	e, err := b.f.BindExpression(ctx, st.Expr.query(), b.f.ReturnType)
	if err != nil {
		return ir.NoBlock, err
	}
	blk := b.f.NewBlock("")
	b.f.SetTerminator(blk, &ir.Return{Value: e})
	return blk.ID, nil
}

type elsif struct {
	cond  string
	stmts []plStatement
}

func (b *builder) ifStatement(ctx context.Context, s plStatement, rest []plStatement, k continuations) (ir.BlockID, error) {
	var st stmtIf
	if err := s.decode(&st); err != nil {
		return ir.NoBlock, ir.ErrParse.New(err.Error())
	}
	cond, err := b.f.BindCondition(ctx, st.Cond.query())
	if err != nil {
		return ir.NoBlock, err
	}

	pre := b.f.NewBlock("")
	head := b.f.NewBlock("")
	after, err := b.statements(ctx, rest, k)
	if err != nil {
		return ir.NoBlock, err
	}
	inner := k
	inner.fallThrough = after

	then, err := b.statements(ctx, st.ThenBody, inner)
	if err != nil {
		return ir.NoBlock, err
	}
	var chain []elsif
	for _, e := range st.ElsifList {
		if e.Elsif == nil {
			return ir.NoBlock, ir.ErrParse.New("malformed ELSIF")
		}
		chain = append(chain, elsif{cond: e.Elsif.Cond.query(), stmts: e.Elsif.Stmts})
	}
	other, err := b.elseChain(ctx, chain, st.ElseBody, inner)
	if err != nil {
		return ir.NoBlock, err
	}

	if err := b.branch(head, cond, then, other); err != nil {
		return ir.NoBlock, err
	}
	b.f.SetTerminator(pre, &ir.Branch{True: head.ID})
	return pre.ID, nil
}

// elseChain builds the ELSIF arms of an IF followed by its ELSE. Each
// ELSIF is a nested conditional on the false side of the previous one.
func (b *builder) elseChain(ctx context.Context, chain []elsif, elseBody []plStatement, k continuations) (ir.BlockID, error) {
	if len(chain) == 0 {
		return b.statements(ctx, elseBody, k)
	}
	cond, err := b.f.BindCondition(ctx, chain[0].cond)
	if err != nil {
		return ir.NoBlock, err
	}
	pre := b.f.NewBlock("")
	head := b.f.NewBlock("")
	then, err := b.statements(ctx, chain[0].stmts, k)
	if err != nil {
		return ir.NoBlock, err
	}
	other, err := b.elseChain(ctx, chain[1:], elseBody, k)
	if err != nil {
		return ir.NoBlock, err
	}
	if err := b.branch(head, cond, then, other); err != nil {
		return ir.NoBlock, err
	}
	b.f.SetTerminator(pre, &ir.Branch{True: head.ID})
	return pre.ID, nil
}

// body builds a loop body. An empty body gets a block of its own so
// that the loop header never branches to itself.
func (b *builder) body(ctx context.Context, stmts []plStatement, k continuations) (ir.BlockID, error) {
	id, err := b.statements(ctx, stmts, k)
	if err != nil {
		return ir.NoBlock, err
	}
	if id == k.loopHeader {
		blk := b.f.NewBlock("")
		b.f.SetTerminator(blk, &ir.Branch{True: id})
		id = blk.ID
	}
	return id, nil
}

func (b *builder) while(ctx context.Context, s plStatement, rest []plStatement, k continuations) (ir.BlockID, error) {
	var st stmtWhile
	if err := s.decode(&st); err != nil {
		return ir.NoBlock, ir.ErrParse.New(err.Error())
	}
	cond, err := b.f.BindCondition(ctx, st.Cond.query())
	if err != nil {
		return ir.NoBlock, err
	}

	pre := b.f.NewBlock("")
	header := b.f.NewBlock("")
	after, err := b.statements(ctx, rest, k)
	if err != nil {
		return ir.NoBlock, err
	}
	body, err := b.body(ctx, st.Body, loopContinuations(header.ID, header.ID, after))
	if err != nil {
		return ir.NoBlock, err
	}

	check := b.f.NewBlock("")
	if err := b.branch(check, cond, body, after); err != nil {
		return ir.NoBlock, err
	}
	b.f.SetTerminator(header, &ir.Branch{True: check.ID})
	b.f.SetTerminator(pre, &ir.Branch{True: header.ID})
	return pre.ID, nil
}

func (b *builder) loop(ctx context.Context, s plStatement, rest []plStatement, k continuations) (ir.BlockID, error) {
	var st stmtLoop
	if err := s.decode(&st); err != nil {
		return ir.NoBlock, ir.ErrParse.New(err.Error())
	}
	pre := b.f.NewBlock("")
	header := b.f.NewBlock("")
	after, err := b.statements(ctx, rest, k)
	if err != nil {
		return ir.NoBlock, err
	}
	body, err := b.body(ctx, st.Body, loopContinuations(header.ID, header.ID, after))
	if err != nil {
		return ir.NoBlock, err
	}
	b.f.SetTerminator(header, &ir.Branch{True: body})
	b.f.SetTerminator(pre, &ir.Branch{True: header.ID})
	return pre.ID, nil
}

// forLoop lowers FOR i IN lower..upper [BY step] into a counting loop
// whose latch steps the counter. CONTINUE goes to the latch.
func (b *builder) forLoop(ctx context.Context, s plStatement, rest []plStatement, k continuations) (ir.BlockID, error) {
	var st stmtForI
	if err := s.decode(&st); err != nil {
		return ir.NoBlock, ir.ErrParse.New(err.Error())
	}
	if st.Var.Var == nil {
		return ir.NoBlock, ir.ErrParse.New("FOR loop without a counter variable")
	}
	name := st.Var.Var.Refname
	v, ok := b.f.Binding(name)
	if !ok {
		return ir.NoBlock, ir.ErrUnknownVariable.New(name)
	}
	step := "1"
	if st.Step != nil {
		step = st.Step.query()
	}
	stepOp, cmpOp := "+", "<="
	if st.Reverse {
		stepOp, cmpOp = "-", ">="
	}

	lower, err := b.f.BindExpression(ctx, st.Lower.query(), v.Type)
	if err != nil {
		return ir.NoBlock, err
	}
	next, err := b.f.BindExpression(ctx, fmt.Sprintf("%s %s %s", name, stepOp, step), v.Type)
	if err != nil {
		return ir.NoBlock, err
	}
	cond, err := b.f.BindCondition(ctx, fmt.Sprintf("%s %s %s", name, cmpOp, st.Upper.query()))
	if err != nil {
		return ir.NoBlock, err
	}

	init := b.f.NewBlock("")
	init.Append(&ir.Assignment{Var: v, Value: lower})
	latch := b.f.NewBlock("")
	latch.Append(&ir.Assignment{Var: v, Value: next})
	header := b.f.NewBlock("")

	after, err := b.statements(ctx, rest, k)
	if err != nil {
		return ir.NoBlock, err
	}
	body, err := b.body(ctx, st.Body, loopContinuations(latch.ID, latch.ID, after))
	if err != nil {
		return ir.NoBlock, err
	}

	check := b.f.NewBlock("")
	if err := b.branch(check, cond, body, after); err != nil {
		return ir.NoBlock, err
	}
	b.f.SetTerminator(header, &ir.Branch{True: check.ID})
	b.f.SetTerminator(latch, &ir.Branch{True: header.ID})
	b.f.SetTerminator(init, &ir.Branch{True: header.ID})
	return init.ID, nil
}

// exit lowers EXIT and CONTINUE, with or without a WHEN condition.
func (b *builder) exit(ctx context.Context, s plStatement, rest []plStatement, k continuations) (ir.BlockID, error) {
	var st stmtExit
	if err := s.decode(&st); err != nil {
		return ir.NoBlock, ir.ErrParse.New(err.Error())
	}
	word, target := "CONTINUE", k.loopHeader
	if st.IsExit {
		word, target = "EXIT", k.loopExit
	}
	if !k.inLoop {
		return ir.NoBlock, ir.ErrUnsupportedStatement.New(word + " outside a loop")
	}

	blk := b.f.NewBlock("")
	if st.Cond == nil {
		return blk.ID, b.jump(blk, target)
	}
	cond, err := b.f.BindCondition(ctx, st.Cond.query())
	if err != nil {
		return ir.NoBlock, err
	}
	next, err := b.statements(ctx, rest, k)
	if err != nil {
		return ir.NoBlock, err
	}
	return blk.ID, b.branch(blk, cond, target, next)
}

func loopContinuations(fallThrough, header, exit ir.BlockID) continuations {
	return continuations{fallThrough: fallThrough, loopHeader: header, loopExit: exit, inLoop: true}
}

// cursorLoop lowers FOR row IN query LOOP. An iterator counts the rows
// fetched so far; each iteration probes whether the query has more rows
// and fetches the current one into the loop variables.
func (b *builder) cursorLoop(ctx context.Context, s plStatement, rest []plStatement, k continuations) (ir.BlockID, error) {
	var st stmtForS
	if err := s.decode(&st); err != nil {
		return ir.NoBlock, ir.ErrParse.New(err.Error())
	}
	if st.Var.Row == nil || len(st.Var.Row.Fields) == 0 {
		return ir.NoBlock, ir.ErrCursorLoopShape.New("the loop target must be a list of variables")
	}
	fields := make([]*ir.Variable, len(st.Var.Row.Fields))
	columns := make([]string, len(fields))
	for i, fd := range st.Var.Row.Fields {
		v, ok := b.f.Binding(fd.Name)
		if !ok {
			return ir.NoBlock, ir.ErrCursorLoopShape.New(fmt.Sprintf("variable %s in cursor loop must be declared first", fd.Name))
		}
		fields[i] = v
		columns[i] = fmt.Sprintf("%s%d", fetchQueryColumn, i)
	}
	query := strings.TrimSpace(st.Query.query())

	iter, err := b.iterator(ctx)
	if err != nil {
		return ir.NoBlock, err
	}
	zero, err := b.f.BindExpression(ctx, "0", iter.Type)
	if err != nil {
		return ir.NoBlock, err
	}
	probe, err := b.f.BindExpression(ctx, fmt.Sprintf(
		"select ANY_VALUE(%s) < count(*) from tmp, %s%s%s cursorloopEmptyTmp",
		CursorIterator, FetchQueryStart, query, FetchQueryEnd), types.BooleanType)
	if err != nil {
		return ir.NoBlock, err
	}
	increment, err := b.f.BindExpression(ctx, CursorIterator+" + 1", iter.Type)
	if err != nil {
		return ir.NoBlock, err
	}
	fetches := make([]*ir.Expr, len(fields))
	for i, v := range fields {
		text := fmt.Sprintf("SELECT %s FROM (%s) %s(%s) WHERE %s::BOOL",
			columns[i], query, fetchQueryTable, strings.Join(columns, ", "), CursorIterator)
		if fetches[i], err = b.f.BindExpression(ctx, text, v.Type); err != nil {
			return ir.NoBlock, err
		}
	}

	start := b.f.NewBlock("")
	start.Append(&ir.Assignment{Var: iter, Value: zero})
	header := b.f.NewBlock("")
	after, err := b.statements(ctx, rest, k)
	if err != nil {
		return ir.NoBlock, err
	}
	check := b.f.NewBlock("")
	b.f.SetTerminator(header, &ir.Branch{True: check.ID})

	body, err := b.body(ctx, st.Body, loopContinuations(header.ID, header.ID, after))
	if err != nil {
		return ir.NoBlock, err
	}
	step := b.f.NewBlock("")
	step.Append(&ir.Assignment{Var: iter, Value: increment})
	fetchPre := b.f.NewBlock("")
	if err := b.branch(check, probe, fetchPre.ID, after); err != nil {
		return ir.NoBlock, err
	}
	fetch := b.f.NewBlock("")
	for i, v := range fields {
		fetch.Append(&ir.Assignment{Var: v, Value: fetches[i]})
	}
	b.f.SetTerminator(fetchPre, &ir.Branch{True: fetch.ID})
	b.f.SetTerminator(fetch, &ir.Branch{True: step.ID})
	b.f.SetTerminator(step, &ir.Branch{True: body})
	b.f.SetTerminator(start, &ir.Branch{True: header.ID})

	b.f.SetMetadata(body, ir.MetaUDFInfo, ir.CursorLoopBodyRegion)
	b.f.SetMetadata(fetch.ID, ir.MetaUDFInfo, ir.CursorLoopVarRegion)
	b.f.SetMetadata(header.ID, ir.MetaUDFInfo, ir.CursorLoopRegion)
	b.f.SetMetadata(header.ID, ir.MetaFetchQuery, query)
	b.f.SetMetadata(header.ID, ir.MetaFirstCursorVar, CursorVar{Name: fields[0].Name, Type: fields[0].Type.Serialize()})
	return start.ID, nil
}

// CursorVar describes the first variable a cursor loop fetches into.
type CursorVar struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// iterator returns the row counter shared by all cursor loops of the
// function, declaring it on first use.
func (b *builder) iterator(ctx context.Context) (*ir.Variable, error) {
	if v, ok := b.f.Binding(CursorIterator); ok {
		return v, nil
	}
	v, err := b.f.AddLocal(CursorIterator, types.IntegerType, false)
	if err != nil {
		return nil, err
	}
	return v, b.initialize(ctx, v, "0")
}
