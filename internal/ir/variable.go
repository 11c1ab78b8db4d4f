package ir

import (
	"regexp"
	"sort"

	"github.com/roach88/udfc/internal/types"
)

// Variable is a named, typed storage location of a Function. Identity is
// by pointer; the Function's binding table keeps names unique.
type Variable struct {
	Name     string
	Type     types.Type
	Nullable bool

	id     int
	arg    bool
	origin *Variable
}

// ID is the creation order of the variable within its function.
func (v *Variable) ID() int { return v.id }

// IsArgument reports whether the variable is a formal argument.
func (v *Variable) IsArgument() bool { return v.arg }

// Origin returns the variable an SSA version was created from, or v
// itself.
func (v *Variable) Origin() *Variable {
	if v.origin == nil {
		return v
	}
	return v.origin
}

func (v *Variable) String() string { return v.Name }

var ssaSuffix = regexp.MustCompile(`_\d+_$`)

// OriginalName strips an SSA version suffix such as "_3_" from name.
func OriginalName(name string) string {
	return ssaSuffix.ReplaceAllString(name, "")
}

// VarSet is a set of variables.
type VarSet map[*Variable]struct{}

// NewVarSet returns a set holding vars.
func NewVarSet(vars ...*Variable) VarSet {
	s := make(VarSet, len(vars))
	for _, v := range vars {
		s[v] = struct{}{}
	}
	return s
}

func (s VarSet) Add(v *Variable)    { s[v] = struct{}{} }
func (s VarSet) Remove(v *Variable) { delete(s, v) }

func (s VarSet) Has(v *Variable) bool {
	_, ok := s[v]
	return ok
}

func (s VarSet) AddAll(o VarSet) {
	for v := range o {
		s[v] = struct{}{}
	}
}

// Sorted returns the members in creation order.
func (s VarSet) Sorted() []*Variable {
	out := make([]*Variable, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	SortVars(out)
	return out
}

// Minus returns the members of s that are not in o.
func (s VarSet) Minus(o VarSet) VarSet {
	out := make(VarSet)
	for v := range s {
		if !o.Has(v) {
			out.Add(v)
		}
	}
	return out
}

// SortVars orders vars by creation.
func SortVars(vars []*Variable) {
	sort.Slice(vars, func(i, j int) bool { return vars[i].id < vars[j].id })
}
