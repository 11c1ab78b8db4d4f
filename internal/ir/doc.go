// Package ir holds the intermediate representation of a compiled
// function: variables, bound expressions, instructions, basic blocks
// kept in an arena owned by the Function, and the region tree derived
// from the CFG.
//
// Key design constraints:
//   - Block edges change only through Function.SetTerminator and the edge
//     helpers built on it. Predecessor order is phi argument order.
//   - Expressions are immutable. Rewrites bind new text through the
//     owning Function so the set of used variables stays exact.
//   - Regions never own blocks. The tree is rebuilt from the CFG whenever
//     an edge changed since it was last built.
//   - Errors caused by the input program are returned as error kinds;
//     broken invariants panic.
package ir
