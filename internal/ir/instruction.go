package ir

import (
	"fmt"
	"strings"
)

// BlockID is a stable handle to a block in a Function's arena.
type BlockID int

// NoBlock is the zero handle for an absent block.
const NoBlock BlockID = -1

// Instruction is one of *Assignment, *Phi, *Branch, *Return or *Exit.
// The set is closed; switches over it panic on anything else.
type Instruction interface {
	// Result is the variable the instruction defines, or nil.
	Result() *Variable
	// Uses returns the variables the instruction reads.
	Uses() []*Variable
	// IsTerminator reports whether the instruction ends a block.
	IsTerminator() bool
	// Targets are the control-flow successors of a terminator.
	Targets() []BlockID
	String() string

	instruction()
}

// Assignment sets Var to the value of an expression.
type Assignment struct {
	Var   *Variable
	Value *Expr
}

// Phi selects one argument per predecessor edge, in predecessor order.
// A nil argument is a slot not filled yet.
type Phi struct {
	Var  *Variable
	Args []*Variable
}

// Branch jumps to True, or evaluates Cond and jumps to True or False.
type Branch struct {
	Cond  *Expr
	True  BlockID
	False BlockID
}

// Return ends the function with a value.
type Return struct {
	Value *Expr
}

// Exit ends a function that produces no value.
type Exit struct{}

func (*Assignment) instruction() {}
func (*Phi) instruction()        {}
func (*Branch) instruction()     {}
func (*Return) instruction()     {}
func (*Exit) instruction()       {}

func (a *Assignment) Result() *Variable  { return a.Var }
func (a *Assignment) Uses() []*Variable  { return a.Value.Uses() }
func (a *Assignment) IsTerminator() bool { return false }
func (a *Assignment) Targets() []BlockID { return nil }
func (a *Assignment) String() string     { return fmt.Sprintf("%s := %s", a.Var.Name, a.Value.Text) }

func (p *Phi) Result() *Variable { return p.Var }

func (p *Phi) Uses() []*Variable {
	seen := make(VarSet, len(p.Args))
	var out []*Variable
	for _, a := range p.Args {
		if a != nil && !seen.Has(a) {
			seen.Add(a)
			out = append(out, a)
		}
	}
	SortVars(out)
	return out
}

func (p *Phi) IsTerminator() bool { return false }
func (p *Phi) Targets() []BlockID { return nil }

func (p *Phi) String() string {
	args := make([]string, len(p.Args))
	for i, a := range p.Args {
		if a == nil {
			args[i] = "_"
		} else {
			args[i] = a.Name
		}
	}
	return fmt.Sprintf("%s := phi(%s)", p.Var.Name, strings.Join(args, ", "))
}

// IsConditional reports whether the branch has two targets.
func (b *Branch) IsConditional() bool { return b.Cond != nil }

func (b *Branch) Result() *Variable { return nil }

func (b *Branch) Uses() []*Variable {
	if b.Cond == nil {
		return nil
	}
	return b.Cond.Uses()
}

func (b *Branch) IsTerminator() bool { return true }

func (b *Branch) Targets() []BlockID {
	if b.Cond == nil {
		return []BlockID{b.True}
	}
	return []BlockID{b.True, b.False}
}

func (b *Branch) String() string {
	if b.Cond == nil {
		return fmt.Sprintf("br b%d", b.True)
	}
	return fmt.Sprintf("br (%s) b%d, b%d", b.Cond.Text, b.True, b.False)
}

func (r *Return) Result() *Variable  { return nil }
func (r *Return) Uses() []*Variable  { return r.Value.Uses() }
func (r *Return) IsTerminator() bool { return true }
func (r *Return) Targets() []BlockID { return nil }
func (r *Return) String() string     { return "return " + r.Value.Text }

func (*Exit) Result() *Variable  { return nil }
func (*Exit) Uses() []*Variable  { return nil }
func (*Exit) IsTerminator() bool { return true }
func (*Exit) Targets() []BlockID { return nil }
func (*Exit) String() string     { return "exit" }

// Expressions returns the bound expressions an instruction carries.
func Expressions(inst Instruction) []*Expr {
	switch i := inst.(type) {
	case *Assignment:
		return []*Expr{i.Value}
	case *Branch:
		if i.Cond != nil {
			return []*Expr{i.Cond}
		}
		return nil
	case *Return:
		return []*Expr{i.Value}
	case *Phi, *Exit:
		return nil
	}
	panic(fmt.Sprintf("unknown instruction %T", inst))
}

// HasSQL reports whether the instruction evaluates a query.
func HasSQL(inst Instruction) bool {
	for _, e := range Expressions(inst) {
		if e.IsSQL() {
			return true
		}
	}
	return false
}

// RewriteExpressions replaces every expression of inst by the result of
// fn, in place. On error inst is left unchanged.
func RewriteExpressions(inst Instruction, fn func(*Expr) (*Expr, error)) error {
	var slot **Expr
	switch i := inst.(type) {
	case *Assignment:
		slot = &i.Value
	case *Branch:
		if i.Cond == nil {
			return nil
		}
		slot = &i.Cond
	case *Return:
		slot = &i.Value
	case *Phi, *Exit:
		return nil
	default:
		panic(fmt.Sprintf("unknown instruction %T", inst))
	}
	e, err := fn(*slot)
	if err != nil {
		return err
	}
	*slot = e
	return nil
}
