package sqltext

import (
	"fmt"
	"regexp"
	"strings"
)

type edit struct {
	start, end int
	text       string
}

func apply(text string, edits []edit) string {
	if len(edits) == 0 {
		return text
	}
	var sb strings.Builder
	last := 0
	for _, e := range edits {
		sb.WriteString(text[last:e.start])
		sb.WriteString(e.text)
		last = e.end
	}
	sb.WriteString(text[last:])
	return sb.String()
}

// Rename replaces every reference to the name from by the name to.
func Rename(text, from, to string) (string, error) {
	return replaceNames(text, map[string]string{Fold(from): to})
}

// RenameAll applies several renames in one pass. Keys are compared after
// folding, so the renames never chain.
func RenameAll(text string, renames map[string]string) (string, error) {
	folded := make(map[string]string, len(renames))
	for k, v := range renames {
		folded[Fold(k)] = v
	}
	return replaceNames(text, folded)
}

// Substitute replaces every reference to name by the parenthesized
// expression replacement.
func Substitute(text, name, replacement string) (string, error) {
	return replaceNames(text, map[string]string{Fold(name): "(" + replacement + ")"})
}

func replaceNames(text string, repl map[string]string) (string, error) {
	refs, err := Names(text)
	if err != nil {
		return "", fmt.Errorf("scanning %q: %w", text, err)
	}
	var edits []edit
	for _, r := range refs {
		if to, ok := repl[r.Name]; ok {
			edits = append(edits, edit{start: r.Start, end: r.End, text: to})
		}
	}
	return apply(text, edits), nil
}

// References reports whether text refers to name.
func References(text, name string) bool {
	refs, err := Names(text)
	if err != nil {
		return false
	}
	name = Fold(name)
	for _, r := range refs {
		if r.Name == name {
			return true
		}
	}
	return false
}

// Count returns how many times text refers to name.
func Count(text, name string) int {
	refs, err := Names(text)
	if err != nil {
		return 0
	}
	name = Fold(name)
	n := 0
	for _, r := range refs {
		if r.Name == name {
			n++
		}
	}
	return n
}

var assignmentPattern = regexp.MustCompile(`:?=`)

// SplitAssignment splits "x := expr" at the first assignment operator.
func SplitAssignment(stmt string) (lhs, rhs string, err error) {
	loc := assignmentPattern.FindStringIndex(stmt)
	if loc == nil {
		return "", "", fmt.Errorf("%q is not an assignment", stmt)
	}
	lhs = strings.TrimSpace(stmt[:loc[0]])
	rhs = strings.TrimSpace(stmt[loc[1]:])
	if lhs == "" || rhs == "" {
		return "", "", fmt.Errorf("%q is not an assignment", stmt)
	}
	return lhs, rhs, nil
}

// TrailingCast returns the target type name if the whole expression ends
// in a top-level "::type" cast.
func TrailingCast(text string) (string, bool) {
	toks, err := Tokenize(text)
	if err != nil {
		return "", false
	}
	depth := 0
	castAt := -1
	for i, tok := range toks {
		switch tok.Text {
		case "(":
			depth++
		case ")":
			depth--
		}
		if tok.Kind == Cast && depth == 0 {
			castAt = i
		}
	}
	if castAt < 0 || castAt+1 >= len(toks) {
		return "", false
	}
	// Only the type name (and an optional modifier) may follow the cast.
	rest := strings.TrimSpace(text[toks[castAt].End:])
	if !typeSuffix.MatchString(rest) {
		return "", false
	}
	return rest, true
}

var typeSuffix = regexp.MustCompile(`^\w+( \w+)? *(\(\s*\d+\s*(,\s*\d+\s*)?\))?$`)

// StripCasts removes every "::type" cast, keeping the casted operand.
func StripCasts(text string) (string, error) {
	toks, err := Tokenize(text)
	if err != nil {
		return "", err
	}
	var edits []edit
	for i := 0; i < len(toks); i++ {
		if toks[i].Kind != Cast || i+1 >= len(toks) {
			continue
		}
		end := toks[i+1].End
		j := i + 2
		if j < len(toks) && toks[j].Text == "(" {
			for ; j < len(toks) && toks[j].Text != ")"; j++ {
			}
			if j < len(toks) {
				end = toks[j].End
			}
		}
		edits = append(edits, edit{start: toks[i].Start, end: end, text: ""})
	}
	return apply(text, edits), nil
}
