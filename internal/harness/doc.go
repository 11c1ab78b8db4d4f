// Package harness runs compile scenarios: a PL/pgSQL program, the
// options to compile it with and assertions on what comes out.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: sum_above
//	description: "The accumulation loop becomes an aggregate"
//	program: programs/sum_above.sql
//	binder: lexical          # or sqlite
//	catalog: programs/items.sql
//	classifier: dataflow     # or heuristic
//	assertions:
//	  - type: compiles
//	    function: total_above
//	  - type: code_contains
//	    function: total_above
//	    text: "total_above_aggify0("
//	  - type: artifact_count
//	    function: total_above
//	    kind: aggregate
//	    count: 1
//
// The program may be given inline with source instead of program. Paths
// are relative to the scenario file.
//
// # Assertion Types
//
//   - compiles: the function compiled without error
//   - error: the function failed with the given error code
//   - code_contains / code_not_contains: generated code contains text
//   - artifact: an artifact of the given kind and name exists, and
//     contains text when text is set
//   - artifact_count: exactly count artifacts of the given kind
//   - diagnostic: the given pass declined a transformation, with a
//     message containing text when text is set
//
// # Deterministic Output
//
// Every scenario compiles with a session id derived from its name. The
// snapshot of a run is stable and can be compared with the golden file
// GoldenPath names.
package harness
