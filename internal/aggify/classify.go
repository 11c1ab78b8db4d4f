package aggify

import (
	"fmt"

	"github.com/roach88/udfc/internal/frontend"
	"github.com/roach88/udfc/internal/ir"
)

// Loop is a cursor loop that passed the shape checks.
type Loop struct {
	Function *ir.Function
	Region   *ir.LoopRegion
	Header   *ir.Block
	// Body are the blocks of one iteration, starting where the row is
	// fetched.
	Body []ir.BlockID
	// Query is the query the loop iterates over.
	Query string
	// Columns name the columns of Query as the fetches see them.
	Columns []string
	// Cursor maps the variables a row is fetched into to their column.
	Cursor map[*ir.Variable]string
	// Carried are the header phis whose value from the previous iteration
	// the body reads, and the one read after the loop.
	Carried []*ir.Variable
	// Result is the header phi read after the loop.
	Result *ir.Variable
	// Invariants are read by the body and assigned before the loop.
	Invariants []*ir.Variable
}

// Classifier decides which variables keep a value across rows.
type Classifier interface {
	// State returns the source variables, by origin, that the aggregate
	// state holds.
	State(l *Loop) []*ir.Variable
}

// Dataflow keeps a variable in the state when the body observes the
// value it had at the end of the previous row, or when it is read after
// the loop.
var Dataflow Classifier = dataflow{}

type dataflow struct{}

func (dataflow) State(l *Loop) []*ir.Variable {
	out := make([]*ir.Variable, len(l.Carried))
	for i, v := range l.Carried {
		out[i] = v.Origin()
	}
	return out
}

// Heuristic keeps every variable the body assigns, other than the ones a
// row is fetched into. Temporaries recomputed for every row get a state
// field too.
var Heuristic Classifier = heuristic{}

type heuristic struct{}

func (heuristic) State(l *Loop) []*ir.Variable {
	cursor := make(ir.VarSet)
	for v := range l.Cursor {
		cursor.Add(v.Origin())
	}
	state := make(ir.VarSet)
	for _, v := range l.Carried {
		state.Add(v.Origin())
	}
	for _, id := range l.Body {
		for _, inst := range l.Function.Block(id).Insts {
			v := inst.Result()
			if v == nil || cursor.Has(v.Origin()) || frontend.IsCounter(v.Name) {
				continue
			}
			state.Add(v.Origin())
		}
	}
	return state.Sorted()
}

// Classifiers are the classifiers by the name the command line and
// scenarios use.
var Classifiers = map[string]Classifier{
	"dataflow":  Dataflow,
	"heuristic": Heuristic,
}

// ClassifierNamed returns the classifier called name. The empty name
// selects Dataflow.
func ClassifierNamed(name string) (Classifier, error) {
	if name == "" {
		return Dataflow, nil
	}
	c, ok := Classifiers[name]
	if !ok {
		return nil, fmt.Errorf("unknown classifier %q: must be dataflow or heuristic", name)
	}
	return c, nil
}
