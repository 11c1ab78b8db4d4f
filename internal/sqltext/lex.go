// Package sqltext rewrites SQL and PL/pgSQL expression text.
//
// Rewrites work on the token stream produced by the Postgres lexer, so
// string literals, comments and quoted identifiers are never touched by
// accident. Edits are applied to the original text by byte offset, which
// keeps whitespace and comments intact.
package sqltext

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"golang.org/x/text/cases"
)

// Kind classifies a token.
type Kind int

const (
	Ident Kind = iota
	Keyword
	String
	Number
	Cast
	Param
	Operator
)

// Token is one lexical token of an expression.
type Token struct {
	Kind  Kind
	Text  string
	Start int
	End   int
	// Reserved is set for keywords that can never be identifiers.
	Reserved bool
}

// Upper returns the token text in upper case.
func (t Token) Upper() string { return strings.ToUpper(t.Text) }

// Is reports whether the token is the keyword or operator s, compared
// case-insensitively.
func (t Token) Is(s string) bool { return strings.EqualFold(t.Text, s) }

// Fold returns the case-folded form of an unquoted identifier. Quoted
// identifiers keep their case without the quotes.
func Fold(name string) string {
	if len(name) >= 2 && name[0] == '"' && name[len(name)-1] == '"' {
		return strings.ReplaceAll(name[1:len(name)-1], `""`, `"`)
	}
	return cases.Fold().String(name)
}

// Tokenize splits text into tokens. Comments are dropped.
func Tokenize(text string) ([]Token, error) {
	res, err := pg_query.Scan(text)
	if err != nil {
		return nil, err
	}
	toks := make([]Token, 0, len(res.Tokens))
	for _, st := range res.Tokens {
		start, end := int(st.Start), int(st.End)
		tok := Token{Text: text[start:end], Start: start, End: end}
		switch st.Token {
		case pg_query.Token_SQL_COMMENT, pg_query.Token_C_COMMENT:
			continue
		case pg_query.Token_IDENT, pg_query.Token_UIDENT:
			tok.Kind = Ident
		case pg_query.Token_SCONST, pg_query.Token_USCONST, pg_query.Token_BCONST, pg_query.Token_XCONST:
			tok.Kind = String
		case pg_query.Token_ICONST, pg_query.Token_FCONST:
			tok.Kind = Number
		case pg_query.Token_TYPECAST:
			tok.Kind = Cast
		case pg_query.Token_PARAM:
			tok.Kind = Param
		default:
			switch st.KeywordKind {
			case pg_query.KeywordKind_NO_KEYWORD:
				tok.Kind = Operator
			case pg_query.KeywordKind_RESERVED_KEYWORD, pg_query.KeywordKind_TYPE_FUNC_NAME_KEYWORD:
				tok.Kind = Keyword
				tok.Reserved = true
			default:
				tok.Kind = Keyword
			}
		}
		toks = append(toks, tok)
	}
	return toks, nil
}

// NameRef is an occurrence of a bare name that can refer to a variable.
type NameRef struct {
	Name  string // folded
	Start int
	End   int

	// Keyword is set when the name is also a non-reserved keyword.
	Keyword bool
}

// Names returns the occurrences of unqualified names in text that are not
// function calls. Non-reserved keywords are included because PL/pgSQL
// allows them as variable names.
func Names(text string) ([]NameRef, error) {
	toks, err := Tokenize(text)
	if err != nil {
		return nil, err
	}
	var refs []NameRef
	for i, tok := range toks {
		if tok.Kind != Ident && !(tok.Kind == Keyword && !tok.Reserved) {
			continue
		}
		if i > 0 && toks[i-1].Text == "." {
			continue
		}
		if i+1 < len(toks) && (toks[i+1].Text == "(" || toks[i+1].Text == ".") {
			continue
		}
		// The type name of a cast is not a reference.
		if i > 0 && toks[i-1].Kind == Cast {
			continue
		}
		refs = append(refs, NameRef{Name: Fold(tok.Text), Start: tok.Start, End: tok.End, Keyword: tok.Kind == Keyword})
	}
	return refs, nil
}

// IsSQLExpression reports whether text is a query, that is, whether it
// has a FROM clause. Text the lexer rejects falls back to a plain
// substring test.
func IsSQLExpression(text string) bool {
	toks, err := Tokenize(text)
	if err != nil {
		return strings.Contains(strings.ToUpper(text), " FROM ")
	}
	for _, tok := range toks {
		if tok.Kind == Keyword && tok.Is("FROM") {
			return true
		}
	}
	return false
}
