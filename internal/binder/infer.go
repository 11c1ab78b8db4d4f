package binder

import (
	"strings"

	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/sqltext"
	"github.com/roach88/udfc/internal/types"
)

// scope indexes columns by folded name.
type scope map[string]ir.Column

func newScope(cols []ir.Column) scope {
	s := make(scope, len(cols))
	for _, c := range cols {
		s[sqltext.Fold(c.Name)] = c
	}
	return s
}

var booleanWords = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "IS": true, "IN": true,
	"BETWEEN": true, "LIKE": true, "ILIKE": true, "EXISTS": true,
}

var comparisons = map[string]bool{
	"=": true, "<": true, ">": true, "<=": true, ">=": true, "<>": true, "!=": true,
}

// InferType returns the type of an expression as far as it can be told
// from its text: an explicit trailing cast, a boolean form, a literal, a
// variable, or arithmetic over those. Anything else is unknown.
func InferType(text string, cols []ir.Column) types.Type {
	return inferType(strings.TrimSpace(text), newScope(cols))
}

func inferType(text string, sc scope) types.Type {
	toks, err := sqltext.Tokenize(text)
	if err != nil || len(toks) == 0 {
		return types.UnknownType
	}
	// A cast at the end of a query belongs to its last clause.
	if toks[0].Is("SELECT") {
		return inferSelect(text, toks, sc)
	}
	if name, ok := sqltext.TrailingCast(text); ok {
		if t, err := types.FromPostgresName(name, ""); err == nil {
			return t
		}
		return types.UnknownType
	}
	if inner, ok := unwrapParens(text, toks); ok {
		return inferType(inner, sc)
	}

	top := topLevel(toks)
	for _, tok := range top {
		if comparisons[tok.Text] || (tok.Kind == sqltext.Keyword && booleanWords[tok.Upper()]) {
			return types.BooleanType
		}
		if tok.Text == "||" {
			return types.VarcharType
		}
		if tok.Is("CASE") {
			return types.UnknownType
		}
	}

	if len(toks) == 1 {
		return operandType(toks[0], sc)
	}
	if len(toks) == 2 && toks[0].Text == "-" {
		return operandType(toks[1], sc)
	}

	// Arithmetic: every top-level operand must be typed.
	result := types.UnknownType
	first := true
	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		var t types.Type
		switch {
		case tok.Text == "(":
			end := closing(toks, i)
			if end < 0 {
				return types.UnknownType
			}
			if i > 0 && (toks[i-1].Kind == sqltext.Ident || toks[i-1].Kind == sqltext.Keyword) {
				// Function call.
				return types.UnknownType
			}
			t = inferType(text[toks[i].End:toks[end].Start], sc)
			i = end
		case tok.Kind == sqltext.Operator:
			continue
		default:
			t = operandType(tok, sc)
		}
		if t.IsUnknown() {
			return types.UnknownType
		}
		if first {
			result, first = t, false
		} else {
			result = types.Widest(result, t)
		}
	}
	return result
}

// inferSelect types a scalar subquery by its single select item.
func inferSelect(text string, toks []sqltext.Token, sc scope) types.Type {
	depth := 0
	for i := 1; i < len(toks); i++ {
		switch toks[i].Text {
		case "(":
			depth++
		case ")":
			depth--
		case ",":
			if depth == 0 {
				return types.UnknownType
			}
		}
		if depth == 0 && (toks[i].Is("FROM") || toks[i].Is("WHERE")) {
			item := strings.TrimSpace(text[toks[0].End:toks[i].Start])
			if len(toks) > 2 && toks[1].Is("count") && toks[2].Text == "(" && closing(toks, 2) == i-1 {
				return types.BigIntType
			}
			return inferType(item, sc)
		}
	}
	return inferType(strings.TrimSpace(text[toks[0].End:]), sc)
}

func operandType(tok sqltext.Token, sc scope) types.Type {
	switch tok.Kind {
	case sqltext.Number:
		if t, ok := types.LiteralType(tok.Text); ok {
			return t
		}
	case sqltext.String:
		return types.VarcharType
	case sqltext.Ident, sqltext.Keyword:
		if tok.Is("TRUE") || tok.Is("FALSE") {
			return types.BooleanType
		}
		if c, ok := sc[sqltext.Fold(tok.Text)]; ok {
			return c.Type
		}
	}
	return types.UnknownType
}

// topLevel returns the tokens outside any parentheses.
func topLevel(toks []sqltext.Token) []sqltext.Token {
	var out []sqltext.Token
	depth := 0
	for _, tok := range toks {
		switch tok.Text {
		case "(":
			depth++
			continue
		case ")":
			depth--
			continue
		}
		if depth == 0 {
			out = append(out, tok)
		}
	}
	return out
}

// closing returns the index of the parenthesis closing toks[open].
func closing(toks []sqltext.Token, open int) int {
	depth := 0
	for i := open; i < len(toks); i++ {
		switch toks[i].Text {
		case "(":
			depth++
		case ")":
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func unwrapParens(text string, toks []sqltext.Token) (string, bool) {
	if toks[0].Text != "(" || closing(toks, 0) != len(toks)-1 {
		return "", false
	}
	return strings.TrimSpace(text[toks[0].End:toks[len(toks)-1].Start]), true
}
