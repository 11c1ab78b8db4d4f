package binder

import (
	"context"
	"fmt"

	"github.com/roach88/udfc/internal/ir"
)

// Kinds of binder Open accepts.
const (
	KindLexical = "lexical"
	KindSQLite  = "sqlite"
)

// Open returns the binder called kind together with the function that
// releases it. catalog is DDL for the SQLite binder and must be empty
// for the lexical one.
func Open(ctx context.Context, kind, catalog string) (ir.Binder, func() error, error) {
	switch kind {
	case "", KindLexical:
		if catalog != "" {
			return nil, nil, fmt.Errorf("a catalog needs the %s binder", KindSQLite)
		}
		return NewLexical(), func() error { return nil }, nil
	case KindSQLite:
		var opts []Option
		if catalog != "" {
			opts = append(opts, WithCatalog(catalog))
		}
		s, err := OpenSQLite(ctx, opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown binder %q: must be %s or %s", kind, KindLexical, KindSQLite)
}
