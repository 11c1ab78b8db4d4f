package binder

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/udfc/internal/ir"
	"github.com/roach88/udfc/internal/sqltext"
)

// scratchTable is the one-row table every variable is a column of.
const scratchTable = "tmp"

// SQLite binds expressions by preparing them against an in-memory SQLite
// database. The database holds the scratch table and, optionally, a
// catalog of the tables the function queries.
//
// Preparing a statement runs the SQLite authorizer for every column it
// reads; the reads of the scratch table are the variables the expression
// uses. Postgres casts are stripped before preparing since SQLite has no
// "::" operator.
type SQLite struct {
	mu     sync.Mutex
	db     *sql.DB
	conn   *sql.Conn
	schema string
	ready  bool
	reads  []string
	strict bool
}

// Option configures a SQLite binder.
type Option func(*sqliteOptions)

type sqliteOptions struct {
	catalog string
	strict  bool
}

// WithCatalog runs ddl when the database is opened, so queries against
// those tables can be checked.
func WithCatalog(ddl string) Option {
	return func(o *sqliteOptions) { o.catalog = ddl }
}

// Strict makes every failure to prepare an expression a bind error.
// Without it, expressions SQLite cannot prepare, such as queries against
// tables outside the catalog or Postgres-only syntax, fall back to
// lexical binding. An unknown variable in a scalar expression is an
// error either way.
func Strict() Option {
	return func(o *sqliteOptions) { o.strict = true }
}

// OpenSQLite opens a private in-memory database for binding.
//
// The connection pool is pinned to a single connection: the scratch
// table and the authorizer live on it.
func OpenSQLite(ctx context.Context, opts ...Option) (*SQLite, error) {
	var o sqliteOptions
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLite{db: db, conn: conn, strict: o.strict}
	if err := conn.Raw(s.install); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to install hooks: %w", err)
	}
	if o.catalog != "" {
		if _, err := conn.ExecContext(ctx, o.catalog); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to load catalog: %w", err)
		}
	}
	return s, nil
}

// install registers the authorizer and the functions Postgres has and
// SQLite lacks.
func (s *SQLite) install(driverConn any) error {
	c, ok := driverConn.(*sqlite3.SQLiteConn)
	if !ok {
		return fmt.Errorf("unexpected driver connection %T", driverConn)
	}
	if err := c.RegisterAggregator("any_value", newAnyValue, true); err != nil {
		return err
	}
	c.RegisterAuthorizer(func(op int, arg1, arg2, _ string) int {
		if op == sqlite3.SQLITE_READ && strings.EqualFold(arg1, scratchTable) && arg2 != "" {
			s.reads = append(s.reads, arg2)
		}
		return sqlite3.SQLITE_OK
	})
	return nil
}

// Close releases the database.
func (s *SQLite) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return s.db.Close()
}

// Bind implements ir.Binder.
func (s *SQLite) Bind(ctx context.Context, text string, cols []ir.Column) (*ir.Bound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureScratch(ctx, cols); err != nil {
		return nil, err
	}
	stripped, err := sqltext.StripCasts(text)
	if err != nil {
		return nil, fmt.Errorf("failed to scan expression: %w", err)
	}

	s.reads = s.reads[:0]
	stmt, err := s.conn.PrepareContext(ctx, fmt.Sprintf("SELECT (%s) FROM %s", stripped, scratchTable))
	if err != nil {
		return s.fallback(text, cols, err)
	}
	stmt.Close()

	sc := newScope(cols)
	var used []string
	seen := make(map[string]bool)
	for _, name := range s.reads {
		c, ok := sc[sqltext.Fold(name)]
		if !ok || seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		used = append(used, c.Name)
	}
	return &ir.Bound{Plan: stripped, Columns: used, Type: InferType(text, cols)}, nil
}

func (s *SQLite) fallback(text string, cols []ir.Column, prepErr error) (*ir.Bound, error) {
	if s.strict {
		return nil, prepErr
	}
	if !sqltext.IsSQLExpression(text) && strings.Contains(prepErr.Error(), "no such column") {
		return nil, prepErr
	}
	used, err := lexicalColumns(text, newScope(cols))
	if err != nil {
		return nil, err
	}
	return &ir.Bound{Plan: text, Columns: used, Type: InferType(text, cols)}, nil
}

// ensureScratch recreates the scratch table when the set of variables
// changed since the last bind, and keeps it at exactly one row.
func (s *SQLite) ensureScratch(ctx context.Context, cols []ir.Column) error {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = fmt.Sprintf("%s %s", quoteIdent(c.Name), c.Type.EngineName())
	}
	schema := strings.Join(defs, ", ")
	if s.ready && schema == s.schema {
		return nil
	}
	key := schema
	if len(defs) == 0 {
		// SQLite tables need a column.
		schema = quoteIdent("__placeholder") + " INTEGER"
	}
	stmts := []string{
		"DROP TABLE IF EXISTS " + scratchTable,
		fmt.Sprintf("CREATE TABLE %s (%s)", scratchTable, schema),
		fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", scratchTable),
	}
	for _, stmt := range stmts {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", stmt, err)
		}
	}
	s.schema, s.ready = key, true
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// anyValue is the ANY_VALUE aggregate: the first value seen.
type anyValue struct {
	value any
	set   bool
}

func newAnyValue() *anyValue { return &anyValue{} }

func (a *anyValue) Step(v any) {
	if !a.set {
		a.value, a.set = v, true
	}
}

func (a *anyValue) Done() any { return a.value }
