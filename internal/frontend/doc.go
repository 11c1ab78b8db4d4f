// Package frontend turns PL/pgSQL program text into control-flow graphs.
//
// Parse runs the PostgreSQL parser over the whole program and splits it
// into one Definition per CREATE FUNCTION. Build lowers a Definition into
// an ir.Function: every statement becomes one or more basic blocks, and
// loops and conditionals are shaped so that the region tree derived from
// the CFG mirrors the nesting of the source.
package frontend
