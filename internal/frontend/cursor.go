package frontend

import (
	"regexp"
	"strconv"
	"strings"
)

// Fetch is a row fetch of a cursor loop, recovered from the text the
// builder generates for it.
type Fetch struct {
	// Column is the position of the fetched column in Columns.
	Column int
	// Columns are the names the fetch gives the columns of Query.
	Columns []string
	Query   string
}

var fetchPattern = regexp.MustCompile(`(?is)^\(?\s*SELECT\s+` + fetchQueryColumn + `(\d+)\s+FROM\s+\((.*)\)\s+` +
	fetchQueryTable + `\s*\(([^)]*)\)\s+WHERE\s+\w+::BOOL\s*\)?(::\w+)?$`)

// ParseFetch recognizes the value assigned to a loop variable at the top
// of each cursor loop iteration. Variable names in the text may have been
// rewritten since it was generated.
func ParseFetch(text string) (Fetch, bool) {
	m := fetchPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return Fetch{}, false
	}
	col, err := strconv.Atoi(m[1])
	if err != nil {
		return Fetch{}, false
	}
	var columns []string
	for _, c := range strings.Split(m[3], ",") {
		columns = append(columns, strings.TrimSpace(c))
	}
	if col >= len(columns) {
		return Fetch{}, false
	}
	return Fetch{Column: col, Columns: columns, Query: m[2]}, true
}

// ProbeQuery returns the user query a cursor loop condition probes.
func ProbeQuery(cond string) (string, bool) {
	start := strings.Index(cond, FetchQueryStart)
	end := strings.LastIndex(cond, FetchQueryEnd)
	if start < 0 || end < start {
		return "", false
	}
	return cond[start+len(FetchQueryStart) : end], true
}

// IsCounter reports whether name is the row counter of cursor loops or a
// version of it.
func IsCounter(name string) bool {
	return name == CursorIterator || strings.HasPrefix(name, CursorIterator+"_")
}
