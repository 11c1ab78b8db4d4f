// Package analysis computes facts about an ir.Function: dominance and
// post-dominance, a bit-vector dataflow framework with liveness on top,
// interference, use-def chains, control dependence, return predicates and
// per-region definitions.
//
// Every result is derived from the function as it is when the analysis
// runs and is never updated afterwards. Passes recompute what they need
// after changing the CFG.
package analysis
