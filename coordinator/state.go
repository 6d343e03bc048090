// Package coordinator implements the fixed four-node orchestration
// pipeline (C7): router, planner, executor, reviewer. Unlike the
// teacher's open-ended orchestration DAG, this pipeline's shape is not
// configurable — it is a deliberate simplification for a personal-
// assistant workload where the four stages are always the same; what
// varies is what each stage decides, not the graph between them.
package coordinator

// PlannedStep is one capability invocation the planner schedules for
// the executor.
type PlannedStep struct {
	AgentID    string
	Verb       string
	Parameters map[string]interface{}
	Required   bool
}

// StepResult is the executor's outcome for one PlannedStep.
type StepResult struct {
	Step     PlannedStep
	Output   map[string]interface{}
	Error    string
	Duration int64
}

// State threads through every node of the pipeline. Nodes read and
// extend it; none of them own it outright.
type State struct {
	Context      map[string]interface{}
	ExecutionPath []string
	Intent       string
	Plan         []PlannedStep
	Results      []StepResult
	Errors       []string
	Summary      string
}

// NewState seeds a State for one incoming query.
func NewState(query string, context map[string]interface{}) *State {
	if context == nil {
		context = make(map[string]interface{})
	}
	context["query"] = query
	return &State{Context: context}
}

// recordStep appends name to the execution path, preserving strict
// node ordering: router precedes planner precedes executor's first
// step; reviewer is last.
func (s *State) recordStep(name string) {
	s.ExecutionPath = append(s.ExecutionPath, name)
}
