package ir

import (
	"fmt"
	"strings"
)

// Format renders an instruction with block labels instead of handles.
func (f *Function) Format(inst Instruction) string {
	br, ok := inst.(*Branch)
	if !ok {
		return inst.String()
	}
	if br.Cond == nil {
		return "br " + f.label(br.True)
	}
	return fmt.Sprintf("br (%s) %s, %s", br.Cond.Text, f.label(br.True), f.label(br.False))
}

func (f *Function) label(id BlockID) string {
	if b := f.Block(id); b != nil {
		return b.Label
	}
	return fmt.Sprintf("<b%d>", id)
}

// Signature renders the name, arguments and return type of f.
func (f *Function) Signature() string {
	args := make([]string, len(f.args))
	for i, a := range f.args {
		args[i] = a.Name + " " + a.Type.String()
	}
	return fmt.Sprintf("%s(%s) RETURNS %s", f.Name, strings.Join(args, ", "), f.ReturnType)
}

// String renders the CFG deterministically: the signature, the locals,
// then every block in handle order with its predecessors.
func (f *Function) String() string {
	var sb strings.Builder
	sb.WriteString(f.Signature())
	sb.WriteString("\n")
	for _, v := range f.locals {
		null := ""
		if !v.Nullable {
			null = " NOT NULL"
		}
		fmt.Fprintf(&sb, "  local %s %s%s\n", v.Name, v.Type, null)
	}
	for _, b := range f.Blocks() {
		preds := make([]string, len(b.preds))
		for i, p := range b.preds {
			preds[i] = f.label(p)
		}
		fmt.Fprintf(&sb, "%s:", b.Label)
		if len(preds) > 0 {
			fmt.Fprintf(&sb, " ; preds %s", strings.Join(preds, ", "))
		}
		sb.WriteString("\n")
		for _, inst := range b.Insts {
			fmt.Fprintf(&sb, "  %s\n", f.Format(inst))
		}
	}
	return sb.String()
}

// Dot renders the CFG in Graphviz syntax.
func (f *Function) Dot() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "digraph %q {\n", f.Name)
	sb.WriteString("  node [shape=box fontname=monospace];\n")
	for _, b := range f.Blocks() {
		var label strings.Builder
		label.WriteString(dotEscape(b.Label + ":"))
		label.WriteString(`\l`)
		for _, inst := range b.Insts {
			label.WriteString(dotEscape(f.Format(inst)))
			label.WriteString(`\l`)
		}
		fmt.Fprintf(&sb, "  n%d [label=\"%s\"];\n", b.ID, label.String())
		for _, s := range b.succs {
			fmt.Fprintf(&sb, "  n%d -> n%d;\n", b.ID, s)
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

func dotEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
