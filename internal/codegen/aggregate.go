package codegen

import (
	"fmt"
	"strings"

	"github.com/roach88/udfc/internal/config"
	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/types"
)

// Aggregate describes a custom aggregate whose step function runs one
// iteration of a cursor loop.
type Aggregate struct {
	Name string
	// Step is the loop body as a function out of SSA form. Its RETURN
	// marks the end of an iteration.
	Step *ir.Function
	// Inputs are the arguments of Step passed with every row, in call
	// order.
	Inputs []*ir.Variable
	State  []StateField
	// Result names the field the final function returns.
	Result     string
	ReturnType types.Type
}

// StateField is one field of the aggregate state.
type StateField struct {
	Name string
	Type types.Type
	// Var holds the field while the step function runs. Fields without
	// one keep no value across rows.
	Var *ir.Variable
}

// InitName is the step argument carrying the initial value of a field.
func (a *Aggregate) InitName(field StateField) string {
	name := field.Name + "_init"
	for i := 1; ; i++ {
		if _, taken := a.Step.Binding(name); !taken && !a.isField(name) {
			return name
		}
		name = fmt.Sprintf("%s_init%d", field.Name, i)
	}
}

func (a *Aggregate) isField(name string) bool {
	for _, f := range a.State {
		if f.Name == name {
			return true
		}
	}
	return false
}

// StepParams lists the arguments of the step function after the state:
// the row inputs, then the initial value of every carried field.
func (a *Aggregate) StepParams() []Param {
	out := params(a.Inputs)
	for _, f := range a.State {
		if f.Var != nil {
			out = append(out, Param{Name: a.InitName(f), Type: TypeName(f.Type), LogicalType: f.Type.LogicalType()})
		}
	}
	return out
}

type fieldData struct {
	Name           string
	Type           string
	Representation string
}

type structData struct {
	Name   string
	Fields []string
}

type updateData struct {
	Name     string
	Inputs   []Param
	Declares []string
	Body     string
}

type finalizeData struct {
	Name       string
	Result     string
	ReturnType string
}

type registrationData struct {
	Name              string
	Inputs            []Param
	ReturnType        string
	OutputLogicalType string
}

// RenderAggregate renders the state type, the step and final functions
// and the aggregate registration, separated by blank lines.
func RenderAggregate(cfg *config.Config, a *Aggregate) (string, error) {
	var parts []string
	add := func(tmpl string, data any) error {
		out, err := cfg.Render(tmpl, data)
		if err != nil {
			return ir.ErrCodegen.Wrap(err, err.Error())
		}
		parts = append(parts, out)
		return nil
	}

	fields := make([]string, len(a.State))
	for i, f := range a.State {
		// Engines without a machine type for f still get a state type;
		// only templates that print Representation need one.
		rep, _ := f.Type.Representation()
		out, err := cfg.Render(config.AggifyStateField, fieldData{Name: f.Name, Type: TypeName(f.Type), Representation: rep})
		if err != nil {
			return "", ir.ErrCodegen.Wrap(err, err.Error())
		}
		fields[i] = out
	}
	if err := add(config.AggifyStateStruct, structData{Name: a.Name, Fields: fields}); err != nil {
		return "", err
	}

	body, err := a.stepBody()
	if err != nil {
		return "", err
	}
	decls, err := declarations(cfg, a.stepLocals())
	if err != nil {
		return "", err
	}
	inputs := a.StepParams()
	if err := add(config.AggifyUpdate, updateData{Name: a.Name, Inputs: inputs, Declares: decls, Body: body}); err != nil {
		return "", err
	}
	if err := add(config.AggifyFinalize, finalizeData{Name: a.Name, Result: a.Result, ReturnType: TypeName(a.ReturnType)}); err != nil {
		return "", err
	}
	err = add(config.AggifyRegister, registrationData{
		Name:              a.Name,
		Inputs:            inputs,
		ReturnType:        TypeName(a.ReturnType),
		OutputLogicalType: a.ReturnType.LogicalType(),
	})
	if err != nil {
		return "", err
	}
	return strings.Join(parts, "\n\n"), nil
}

// stepLocals are the locals of Step plus the variables holding state
// fields, which are loaded from the state rather than passed in.
func (a *Aggregate) stepLocals() []*ir.Variable {
	locals := a.Step.Locals()
	for _, f := range a.State {
		if f.Var != nil && f.Var.IsArgument() {
			locals = append(locals, f.Var)
		}
	}
	return locals
}

// stepBody initializes the state on the first row, loads it, runs the
// loop body and stores the state back where the iteration ends.
func (a *Aggregate) stepBody() (string, error) {
	var pre []line
	pre = append(pre,
		line{0, "IF state.initialized IS NOT TRUE THEN"},
		line{1, "state.initialized := TRUE;"})
	for _, f := range a.State {
		if f.Var != nil {
			pre = append(pre, line{1, fmt.Sprintf("state.%s := %s;", f.Name, a.InitName(f))})
		}
	}
	pre = append(pre, line{0, "END IF;"})
	for _, f := range a.State {
		if f.Var != nil {
			pre = append(pre, line{0, fmt.Sprintf("%s := state.%s;", f.Var.Name, f.Name)})
		}
	}

	store := func(*ir.Return) ([]string, error) {
		var out []string
		for _, f := range a.State {
			if f.Var != nil {
				out = append(out, fmt.Sprintf("state.%s := %s;", f.Name, f.Var.Name))
			}
		}
		return append(out, "RETURN state;"), nil
	}
	body, err := Body(a.Step, WithReturn(store))
	if err != nil {
		return "", err
	}
	return render(pre, 1) + "\n" + body, nil
}

type callData struct {
	Name    string
	Args    []string
	Query   string
	Columns []string
	Init    string
}

// AggregateCall renders the expression that evaluates aggregate name over
// the rows of query, whose columns are named columns. The expression is
// init when query returns no rows.
func AggregateCall(cfg *config.Config, name string, args []string, query string, columns []string, init string) (string, error) {
	out, err := cfg.Render(config.AggifyCall, callData{Name: name, Args: args, Query: query, Columns: columns, Init: init})
	if err != nil {
		return "", ir.ErrCodegen.Wrap(err, err.Error())
	}
	return out, nil
}
