package turn

import (
	"fmt"
	"slices"
)

// Phase is a node in the turn graph.
type Phase int

const (
	PhaseSafetyCheck Phase = iota
	PhaseLegalIntake
	PhaseFetchContext
	PhaseParallelAnalysis
	PhaseReflectionCheck
	PhaseAdvisorCompose
	PhasePersistState
	PhaseDone

	phaseCount
)

var phaseNames = [phaseCount]string{
	PhaseSafetyCheck:      "safety_check",
	PhaseLegalIntake:      "legal_intake",
	PhaseFetchContext:     "fetch_context",
	PhaseParallelAnalysis: "parallel_analysis",
	PhaseReflectionCheck:  "reflection_check",
	PhaseAdvisorCompose:   "advisor_compose",
	PhasePersistState:     "persist_state",
	PhaseDone:             "done",
}

func (p Phase) String() string {
	if p >= 0 && p < phaseCount {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// transitions lists every permitted successor of each phase. A phase handler
// picks one of these; anything else is a routing bug.
var transitions = [phaseCount][]Phase{
	PhaseSafetyCheck:      {PhaseLegalIntake, PhaseFetchContext},
	PhaseLegalIntake:      {PhaseLegalIntake, PhaseFetchContext, PhaseAdvisorCompose},
	PhaseFetchContext:     {PhaseParallelAnalysis, PhaseAdvisorCompose},
	PhaseParallelAnalysis: {PhaseReflectionCheck},
	PhaseReflectionCheck:  {PhaseAdvisorCompose},
	PhaseAdvisorCompose:   {PhasePersistState},
	PhasePersistState:     {PhaseDone},
	PhaseDone:             nil,
}

// Successors returns the phases reachable from p in one step.
func Successors(p Phase) []Phase {
	if p < 0 || p >= phaseCount {
		return nil
	}
	return slices.Clone(transitions[p])
}

// Allowed reports whether the graph has an edge from -> to.
func Allowed(from, to Phase) bool {
	if from < 0 || from >= phaseCount {
		return false
	}
	return slices.Contains(transitions[from], to)
}

// Terminal reports whether p ends the graph.
func Terminal(p Phase) bool {
	return p == PhaseDone
}
