// Package binder binds PL/pgSQL expression text against the variables of
// a function.
//
// A binder answers two questions about an expression: which variables it
// reads and what type it produces. Every variable in scope is a column
// of a one-row scratch table named tmp, so names resolve the way they
// would inside the function body.
//
// Two binders are provided:
//   - Lexical works on the Postgres token stream only. It needs no
//     engine and is what the tests and the default CLI use.
//   - SQLite prepares every expression against an in-memory SQLite
//     database holding the scratch table and an optional catalog, and
//     collects the columns read through the SQLite authorizer.
package binder
