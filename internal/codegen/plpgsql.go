// Package codegen turns functions out of SSA form back into PL/pgSQL.
// Control flow is read off the region tree: sequential regions become
// statement lists, conditionals IF blocks and loops LOOP blocks, with
// EXIT and CONTINUE for edges that leave the innermost loop.
package codegen

import (
	"fmt"
	"strings"

	"github.com/roach88/udfc/internal/config"
	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/sqltext"
	"github.com/roach88/udfc/internal/types"
)

const indent = "  "

// Param is a formal argument as templates see it.
type Param struct {
	Name        string
	Type        string
	LogicalType string
}

type functionData struct {
	Name       string
	Args       []Param
	ReturnType string
	Declares   []string
	Body       string
}

type declareData struct {
	Name    string
	Type    string
	NotNull bool
	Default string
}

// Function renders f with the named template, config.PlpgsqlFunction or
// config.OutlineFunction.
func Function(cfg *config.Config, tmpl string, f *ir.Function) (string, error) {
	body, err := Body(f)
	if err != nil {
		return "", err
	}
	decls, err := declarations(cfg, f.Locals())
	if err != nil {
		return "", err
	}
	out, err := cfg.Render(tmpl, functionData{
		Name:       f.Name,
		Args:       params(f.Arguments()),
		ReturnType: TypeName(f.ReturnType),
		Declares:   decls,
		Body:       body,
	})
	if err != nil {
		return "", ir.ErrCodegen.Wrap(err, err.Error())
	}
	return out, nil
}

// TypeName is the spelling of t in generated declarations: the declared
// name when there is one.
func TypeName(t types.Type) string {
	if s := t.Serialize(); s != "" {
		return s
	}
	return t.String()
}

func params(vars []*ir.Variable) []Param {
	out := make([]Param, len(vars))
	for i, v := range vars {
		out[i] = Param{Name: v.Name, Type: TypeName(v.Type), LogicalType: v.Type.LogicalType()}
	}
	return out
}

// declarations renders one DECLARE line per variable. NOT NULL needs a
// default, so a variable whose type has none is declared nullable.
func declarations(cfg *config.Config, vars []*ir.Variable) ([]string, error) {
	out := make([]string, 0, len(vars))
	for _, v := range vars {
		d := declareData{Name: v.Name, Type: TypeName(v.Type)}
		if !v.Nullable {
			if def, err := v.Type.DefaultValue(); err == nil {
				d.NotNull, d.Default = true, def
			}
		}
		line, err := cfg.Render(config.PlpgsqlDeclare, d)
		if err != nil {
			return nil, ir.ErrCodegen.Wrap(err, err.Error())
		}
		out = append(out, line)
	}
	return out, nil
}

// Option customizes Body.
type Option func(*emitter)

// WithReturn replaces every RETURN statement by the lines fn produces
// for it.
func WithReturn(fn func(r *ir.Return) ([]string, error)) Option {
	return func(e *emitter) { e.ret = fn }
}

// Body renders the statements of f, indented one level.
func Body(f *ir.Function, opts ...Option) (string, error) {
	root := f.Regions().Root
	if root == nil {
		return "", ir.ErrCodegen.New(fmt.Sprintf("%s has no blocks", f.Name))
	}
	e := &emitter{f: f}
	for _, o := range opts {
		o(e)
	}
	none := kont{next: ir.NoBlock, loopHeader: ir.NoBlock, loopExit: ir.NoBlock}
	if err := e.region(root, none); err != nil {
		return "", err
	}
	return render(e.lines, 1), nil
}

type line struct {
	depth int
	text  string
}

func render(lines []line, base int) string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.Repeat(indent, base+l.depth) + l.text
	}
	return strings.Join(out, "\n")
}

// kont is where control goes when a region ends, and the header and exit
// of the innermost loop.
type kont struct {
	next       ir.BlockID
	loopHeader ir.BlockID
	loopExit   ir.BlockID
}

type emitter struct {
	f     *ir.Function
	lines []line
	depth int
	ret   func(*ir.Return) ([]string, error)
}

func (e *emitter) emit(format string, args ...any) {
	e.lines = append(e.lines, line{depth: e.depth, text: fmt.Sprintf(format, args...)})
}

func (e *emitter) region(r ir.Region, k kont) error {
	b := e.f.Block(r.Header())
	switch r := r.(type) {
	case *ir.LeafRegion:
		if err := e.straight(b); err != nil {
			return err
		}
		return e.terminator(b, k)
	case *ir.SequentialRegion:
		if err := e.straight(b); err != nil {
			return err
		}
		inner := k
		if r.Fallthrough != nil {
			inner.next = r.Fallthrough.Header()
		}
		if r.Body != nil {
			if err := e.region(r.Body, inner); err != nil {
				return err
			}
		} else if err := e.terminator(b, inner); err != nil {
			return err
		}
		if r.Fallthrough != nil {
			return e.region(r.Fallthrough, k)
		}
		return nil
	case *ir.ConditionalRegion:
		if err := e.straight(b); err != nil {
			return err
		}
		return e.conditional(b, r, k)
	case *ir.LoopRegion:
		return e.loop(b, r, k)
	}
	panic(fmt.Sprintf("unknown region %T", r))
}

// straight emits everything in b but its terminator.
func (e *emitter) straight(b *ir.Block) error {
	for _, inst := range b.Insts {
		switch x := inst.(type) {
		case *ir.Phi:
			panic(fmt.Sprintf("phi %s reached code generation in %s", x, b.Label))
		case *ir.Assignment:
			e.emit("%s := %s;", x.Var.Name, scalar(x.Value.Text))
		}
	}
	return nil
}

func (e *emitter) terminator(b *ir.Block, k kont) error {
	switch t := b.Terminator().(type) {
	case *ir.Return:
		if e.ret != nil {
			lines, err := e.ret(t)
			if err != nil {
				return err
			}
			for _, l := range lines {
				e.emit("%s", l)
			}
			return nil
		}
		e.emit("RETURN %s;", scalar(t.Value.Text))
	case *ir.Exit:
		e.emit("RETURN NULL;")
	case *ir.Branch:
		if t.IsConditional() {
			return ir.ErrCodegen.New(fmt.Sprintf("%s branches outside a conditional region", b.Label))
		}
		return e.jump(b, t.True, k)
	case nil:
		panic(fmt.Sprintf("block %s has no terminator", b.Label))
	}
	return nil
}

func (e *emitter) jump(from *ir.Block, to ir.BlockID, k kont) error {
	switch to {
	case k.next:
	case k.loopHeader:
		e.emit("CONTINUE;")
	case k.loopExit:
		e.emit("EXIT;")
	default:
		return ir.ErrCodegen.New(fmt.Sprintf("jump from %s to %s is not structured", from.Label, e.f.Block(to).Label))
	}
	return nil
}

// side renders one branch of a conditional one level deeper, without
// touching the lines emitted so far.
func (e *emitter) side(from *ir.Block, r ir.Region, target ir.BlockID, k kont) ([]line, error) {
	saved := e.lines
	e.lines = nil
	e.depth++
	var err error
	if r != nil {
		err = e.region(r, k)
	} else {
		err = e.jump(from, target, k)
	}
	e.depth--
	out := e.lines
	e.lines = saved
	return out, err
}

func (e *emitter) conditional(b *ir.Block, r *ir.ConditionalRegion, k kont) error {
	br := b.Terminator().(*ir.Branch)
	yes, err := e.side(b, r.True, br.True, k)
	if err != nil {
		return err
	}
	no, err := e.side(b, r.False, br.False, k)
	if err != nil {
		return err
	}
	cond := scalar(br.Cond.Text)

	switch {
	case len(yes) == 0 && len(no) == 0:
	case len(yes) == 0:
		e.ifBlock("NOT ("+cond+")", no)
	case len(no) == 0:
		e.ifBlock(cond, yes)
	case terminal(yes):
		e.ifBlock(cond, yes)
		e.append(no, -1)
	case terminal(no):
		e.ifBlock("NOT ("+cond+")", no)
		e.append(yes, -1)
	default:
		e.emit("IF %s THEN", cond)
		e.append(yes, 0)
		e.emit("ELSE")
		e.append(no, 0)
		e.emit("END IF;")
	}
	return nil
}

func (e *emitter) ifBlock(cond string, body []line) {
	e.emit("IF %s THEN", cond)
	e.append(body, 0)
	e.emit("END IF;")
}

func (e *emitter) append(lines []line, shift int) {
	for _, l := range lines {
		e.lines = append(e.lines, line{depth: l.depth + shift, text: l.text})
	}
}

// terminal reports whether lines is a single statement that never falls
// through.
func terminal(lines []line) bool {
	if len(lines) != 1 {
		return false
	}
	word := strings.ToUpper(strings.Fields(lines[0].text)[0])
	switch strings.TrimSuffix(word, ";") {
	case "EXIT", "CONTINUE", "RETURN":
		return true
	}
	return false
}

func (e *emitter) loop(b *ir.Block, r *ir.LoopRegion, k kont) error {
	e.emit("LOOP")
	e.depth++
	if err := e.straight(b); err != nil {
		return err
	}
	inner := kont{next: b.ID, loopHeader: b.ID, loopExit: k.next}
	var err error
	if r.Body != nil {
		err = e.region(r.Body, inner)
	} else {
		err = e.terminator(b, inner)
	}
	if err != nil {
		return err
	}
	e.depth--
	e.emit("END LOOP;")
	return nil
}

// scalar parenthesizes a query so it can stand where PL/pgSQL expects an
// expression.
func scalar(text string) string {
	toks, err := sqltext.Tokenize(text)
	if err != nil || len(toks) == 0 {
		return text
	}
	if toks[0].Is("SELECT") || toks[0].Is("WITH") {
		return "(" + text + ")"
	}
	return text
}
