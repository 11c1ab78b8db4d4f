package frontend

import (
	"encoding/json"
	"fmt"
	"sort"
)

// The types below mirror the subset of the PL/pgSQL parse tree the
// builder reads. Unknown fields are ignored.

type plFunction struct {
	Datums []plDatum `json:"datums"`
	Action struct {
		Block struct {
			Body []plStatement `json:"body"`
		} `json:"PLpgSQL_stmt_block"`
	} `json:"action"`
}

type plDatum struct {
	Var *plVar `json:"PLpgSQL_var"`
}

type plVar struct {
	Refname  string `json:"refname"`
	Datatype struct {
		Type struct {
			Typname string `json:"typname"`
		} `json:"PLpgSQL_type"`
	} `json:"datatype"`
	DefaultVal *plExpr `json:"default_val"`
}

type plExpr struct {
	Expr struct {
		Query string `json:"query"`
	} `json:"PLpgSQL_expr"`
}

func (e *plExpr) query() string {
	if e == nil {
		return ""
	}
	return e.Expr.Query
}

type plRow struct {
	Row *struct {
		Fields []struct {
			Name string `json:"name"`
		} `json:"fields"`
	} `json:"PLpgSQL_row"`
	Var *plVar `json:"PLpgSQL_var"`
}

type stmtAssign struct {
	Expr plExpr `json:"expr"`
}

type stmtReturn struct {
	Expr *plExpr `json:"expr"`
}

type stmtIf struct {
	Cond      plExpr        `json:"cond"`
	ThenBody  []plStatement `json:"then_body"`
	ElsifList []struct {
		Elsif *struct {
			Cond  plExpr        `json:"cond"`
			Stmts []plStatement `json:"stmts"`
		} `json:"PLpgSQL_if_elsif"`
	} `json:"elsif_list"`
	ElseBody []plStatement `json:"else_body"`
}

type stmtWhile struct {
	Cond plExpr        `json:"cond"`
	Body []plStatement `json:"body"`
}

type stmtLoop struct {
	Body []plStatement `json:"body"`
}

type stmtForI struct {
	Var     plRow         `json:"var"`
	Lower   plExpr        `json:"lower"`
	Upper   plExpr        `json:"upper"`
	Step    *plExpr       `json:"step"`
	Reverse bool          `json:"reverse"`
	Body    []plStatement `json:"body"`
}

type stmtExit struct {
	IsExit bool    `json:"is_exit"`
	Cond   *plExpr `json:"cond"`
}

type stmtForS struct {
	Var   plRow         `json:"var"`
	Query plExpr        `json:"query"`
	Body  []plStatement `json:"body"`
}

// plStatement is a single-key object naming the statement kind.
type plStatement struct {
	Kind   string
	Lineno int
	raw    json.RawMessage
}

func (s *plStatement) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if len(m) != 1 {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return fmt.Errorf("statement must have exactly one kind, found %v", keys)
	}
	for k, v := range m {
		s.Kind, s.raw = k, v
	}
	var pos struct {
		Lineno int `json:"lineno"`
	}
	if err := json.Unmarshal(s.raw, &pos); err != nil {
		return fmt.Errorf("failed to decode %s: %w", s.Kind, err)
	}
	s.Lineno = pos.Lineno
	return nil
}

func (s plStatement) decode(into any) error {
	if err := json.Unmarshal(s.raw, into); err != nil {
		return fmt.Errorf("failed to decode %s: %w", s.Kind, err)
	}
	return nil
}

// Statement kinds.
const (
	kindAssign = "PLpgSQL_stmt_assign"
	kindReturn = "PLpgSQL_stmt_return"
	kindIf     = "PLpgSQL_stmt_if"
	kindWhile  = "PLpgSQL_stmt_while"
	kindLoop   = "PLpgSQL_stmt_loop"
	kindForI   = "PLpgSQL_stmt_fori"
	kindExit   = "PLpgSQL_stmt_exit"
	kindForS   = "PLpgSQL_stmt_fors"
)
