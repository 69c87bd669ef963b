// Package phase implements the lifecycle phase transition engine.
//
// Transitions follow a fixed adjacency table and are gated by the exit
// criteria of the phase being left. Entering Root Cause Analysis seeds the
// first analysis-loop iteration at the Frame step; entering any other phase
// clears the loop step.
package phase

import (
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"

	inv "github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/investigation"
)

// Config holds the numeric thresholds used by exit criteria.
type Config struct {
	// FrameConfidenceThreshold is the minimum frame confidence to leave Problem Definition.
	FrameConfidenceThreshold float64
	// MinProblemEvidence is the minimum evidence count to leave Problem Definition.
	MinProblemEvidence int
	// MitigationLikelihoodThreshold routes Triage to Mitigation when urgency is
	// high and the top hypothesis is at least this likely.
	MitigationLikelihoodThreshold float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		FrameConfidenceThreshold:      0.6,
		MinProblemEvidence:            2,
		MitigationLikelihoodThreshold: 0.7,
	}
}

var transitions = map[inv.Phase][]inv.Phase{
	inv.PhaseIntake:            {inv.PhaseProblemDefinition},
	inv.PhaseProblemDefinition: {inv.PhaseTriage},
	inv.PhaseTriage:            {inv.PhaseMitigation, inv.PhaseRootCauseAnalysis},
	inv.PhaseMitigation:        {inv.PhaseRootCauseAnalysis, inv.PhaseDocumentation},
	inv.PhaseRootCauseAnalysis: {inv.PhaseSolution},
	inv.PhaseSolution:          {inv.PhaseDocumentation},
	inv.PhaseDocumentation:     {}, // Terminal
}

// Successors returns the phases reachable from p in one step.
func Successors(p inv.Phase) []inv.Phase {
	return transitions[p]
}

// IsAdjacent reports whether to directly follows from.
func IsAdjacent(from, to inv.Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Decision explains whether a transition may happen.
type Decision struct {
	Allowed   bool
	Reason    string
	Satisfied []string
	Pending   []string
}

// Engine evaluates and applies phase transitions.
type Engine struct {
	cfg   Config
	clock clockwork.Clock
}

// NewEngine creates a phase engine. A nil clock uses the real clock.
func NewEngine(cfg Config, clock clockwork.Clock) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{cfg: cfg, clock: clock}
}

type criterion struct {
	name string
	met  func(st *inv.State) bool
}

// exitCriteria returns the criteria for leaving st.Phase toward target.
func (e *Engine) exitCriteria(from, target inv.Phase) []criterion {
	switch from {
	case inv.PhaseIntake:
		return []criterion{
			{"investigator_mode", func(st *inv.State) bool { return st.Mode == inv.ModeInvestigator }},
			{"problem_statement", func(st *inv.State) bool { return strings.TrimSpace(st.ProblemStatement) != "" }},
		}
	case inv.PhaseProblemDefinition:
		return []criterion{
			{"frame_present", func(st *inv.State) bool { return st.Frame != nil && st.Frame.Statement != "" }},
			{fmt.Sprintf("frame_confidence>=%.2f", e.cfg.FrameConfidenceThreshold), func(st *inv.State) bool {
				return st.Frame != nil && st.Frame.Confidence >= e.cfg.FrameConfidenceThreshold
			}},
			{fmt.Sprintf("evidence>=%d", e.cfg.MinProblemEvidence), func(st *inv.State) bool {
				return len(st.Evidence) >= e.cfg.MinProblemEvidence
			}},
		}
	case inv.PhaseTriage:
		return []criterion{
			{"hypothesis_generated", func(st *inv.State) bool { return len(st.Hypotheses) > 0 }},
		}
	case inv.PhaseMitigation:
		if target == inv.PhaseDocumentation {
			return []criterion{
				{"mitigated", func(st *inv.State) bool { return st.Mitigated }},
			}
		}
		return []criterion{
			{"mitigation_attempted", func(st *inv.State) bool { return st.MitigationAttempts > 0 }},
		}
	case inv.PhaseRootCauseAnalysis:
		return []criterion{
			{"root_cause_identified", func(st *inv.State) bool { return st.RootCause != nil }},
		}
	case inv.PhaseSolution:
		return []criterion{
			{"solution_proposed", func(st *inv.State) bool { return st.Solution != nil }},
		}
	}
	return nil
}

// Criteria splits the exit criteria toward target into satisfied and pending names.
func (e *Engine) Criteria(st *inv.State, target inv.Phase) (satisfied, pending []string) {
	for _, c := range e.exitCriteria(st.Phase, target) {
		if c.met(st) {
			satisfied = append(satisfied, c.name)
		} else {
			pending = append(pending, c.name)
		}
	}
	return satisfied, pending
}

// CanTransition reports whether st may move to target now.
func (e *Engine) CanTransition(st *inv.State, target inv.Phase) Decision {
	if !IsAdjacent(st.Phase, target) {
		return Decision{Reason: fmt.Sprintf("invalid phase transition: %s → %s", st.Phase, target)}
	}
	satisfied, pending := e.Criteria(st, target)
	d := Decision{Satisfied: satisfied, Pending: pending}
	if len(pending) > 0 {
		d.Reason = "exit criteria pending: " + strings.Join(pending, ", ")
		return d
	}
	d.Allowed = true
	d.Reason = "exit criteria satisfied"
	return d
}

// Transition moves st to target when CanTransition allows it.
func (e *Engine) Transition(st *inv.State, target inv.Phase) error {
	d := e.CanTransition(st, target)
	if !d.Allowed {
		return fmt.Errorf("cannot enter %s from %s: %s", target, st.Phase, d.Reason)
	}
	return e.apply(st, target, d, "")
}

// ForceTransition moves st to target ignoring exit criteria. Adjacency is
// still enforced.
func (e *Engine) ForceTransition(st *inv.State, target inv.Phase, reason string) error {
	if !IsAdjacent(st.Phase, target) {
		return fmt.Errorf("invalid phase transition: %s → %s", st.Phase, target)
	}
	satisfied, pending := e.Criteria(st, target)
	return e.apply(st, target, Decision{Satisfied: satisfied, Pending: pending}, reason)
}

func (e *Engine) apply(st *inv.State, target inv.Phase, d Decision, forcedReason string) error {
	now := e.clock.Now().UTC()

	if exec := st.CurrentExecution(); exec != nil {
		if it := st.OpenIteration(); it != nil {
			it.EndedAt = &now
		}
		exec.EndedAt = &now
		exec.CriteriaSatisfied = d.Satisfied
		exec.CriteriaPending = d.Pending
		if forcedReason != "" {
			if exec.Outputs == nil {
				exec.Outputs = make(map[string]string)
			}
			exec.Outputs["forced_exit"] = forcedReason
		}
	}

	st.PhaseHistory = append(st.PhaseHistory, inv.NewExecution(target, now))
	st.Phase = target
	st.LoopStep = inv.StepNone

	if target == inv.PhaseRootCauseAnalysis {
		if _, err := st.OpenNextIteration(now); err != nil {
			return fmt.Errorf("seed analysis loop: %w", err)
		}
		st.LoopStep = inv.StepFrame
	}
	return nil
}

// RecommendNextPhase returns the preferred successor of st.Phase. From Triage
// it picks Mitigation when urgency is high or critical and the strongest
// hypothesis is likely enough, otherwise Root Cause Analysis. From
// Mitigation it picks Documentation once mitigated. The bool is false for
// the terminal phase.
func (e *Engine) RecommendNextPhase(st *inv.State) (inv.Phase, bool) {
	switch st.Phase {
	case inv.PhaseTriage:
		if st.Urgency.IsHigh() && topLikelihood(st) >= e.cfg.MitigationLikelihoodThreshold {
			return inv.PhaseMitigation, true
		}
		return inv.PhaseRootCauseAnalysis, true
	case inv.PhaseMitigation:
		if st.Mitigated {
			return inv.PhaseDocumentation, true
		}
		return inv.PhaseRootCauseAnalysis, true
	}
	next := transitions[st.Phase]
	if len(next) == 0 {
		return st.Phase, false
	}
	return next[0], true
}

// topLikelihood is the highest likelihood among non-refuted hypotheses.
func topLikelihood(st *inv.State) float64 {
	best := 0.0
	for _, h := range st.Hypotheses {
		if !h.Refuted() && h.Likelihood > best {
			best = h.Likelihood
		}
	}
	return best
}
