package recovery

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/metrics"
	inv "github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/investigation"
)

// Correction records one repaired invariant violation.
type Correction struct {
	Kind  string
	Field string
	From  string
	To    string
}

func (c Correction) String() string {
	return fmt.Sprintf("%s: %s %s → %s", c.Kind, c.Field, c.From, c.To)
}

// Correction kinds.
const (
	KindPhaseRange       = "phase_out_of_range"
	KindProbabilityRange = "probability_out_of_range"
	KindStrayLoopStep    = "loop_step_outside_rca"
	KindUntestedResult   = "result_on_untested_hypothesis"
	KindStrayExecution   = "stray_open_execution"
	KindStrayIteration   = "stray_open_iteration"
	KindMissingExecution = "missing_execution"
	KindSequence         = "sequence_behind_ids"
	KindIterationCounter = "iteration_counter"
	KindEnum             = "invalid_enum"
)

// Repair fixes invariant violations in st in place and returns what changed.
// Each correction is logged and counted. now timestamps any execution it has
// to open.
func (h *Handler) Repair(st *inv.State, now time.Time) []Correction {
	var fixes []Correction
	add := func(kind, field, from, to string) {
		fixes = append(fixes, Correction{Kind: kind, Field: field, From: from, To: to})
	}

	if !st.Phase.Valid() {
		from := st.Phase
		if st.Phase < inv.MinPhase {
			st.Phase = inv.MinPhase
		} else {
			st.Phase = inv.MaxPhase
		}
		add(KindPhaseRange, "phase", fmt.Sprint(int(from)), fmt.Sprint(int(st.Phase)))
	}

	clamp := func(field string, v *float64) {
		if fixed := inv.Clamp01(*v); fixed != *v {
			add(KindProbabilityRange, field, fmt.Sprint(*v), fmt.Sprint(fixed))
			*v = fixed
		}
	}
	if st.Frame != nil {
		clamp("frame.confidence", &st.Frame.Confidence)
	}
	if st.RootCause != nil {
		clamp("root_cause.confidence", &st.RootCause.Confidence)
	}
	clamp("coverage", &st.Coverage)
	for _, hyp := range st.SortedHypotheses() {
		clamp("hypotheses."+hyp.ID+".likelihood", &hyp.Likelihood)
		if !hyp.Tested && hyp.TestResult != inv.ResultNone {
			add(KindUntestedResult, "hypotheses."+hyp.ID+".test_result", string(hyp.TestResult), "")
			hyp.TestResult = inv.ResultNone
		}
	}
	for _, it := range st.Iterations() {
		for i := range it.ConfidenceProgression {
			clamp(fmt.Sprintf("iterations.%d.confidence_progression[%d]", it.Number, i), &it.ConfidenceProgression[i])
		}
	}

	if st.Mode != inv.ModeConsultant && st.Mode != inv.ModeInvestigator {
		add(KindEnum, "mode", string(st.Mode), string(inv.ModeConsultant))
		st.Mode = inv.ModeConsultant
	}
	if st.Urgency.Rank() == 0 {
		add(KindEnum, "urgency", string(st.Urgency), string(inv.UrgencyLow))
		st.Urgency = inv.UrgencyLow
	}

	h.repairHistory(st, now, add)

	if st.Phase != inv.PhaseRootCauseAnalysis && st.LoopStep != inv.StepNone {
		add(KindStrayLoopStep, "loop_step", string(st.LoopStep), "")
		st.LoopStep = inv.StepNone
	}
	if st.Phase == inv.PhaseRootCauseAnalysis && st.LoopStep != inv.StepNone && st.OpenIteration() == nil {
		add(KindStrayLoopStep, "loop_step", string(st.LoopStep), "")
		st.LoopStep = inv.StepNone
	}

	h.repairSequences(st, add)

	for _, c := range fixes {
		metrics.StateRepairs.WithLabelValues(c.Kind).Inc()
		h.logger.Warn("repaired state invariant",
			zap.String("investigation_id", st.ID),
			zap.String("kind", c.Kind),
			zap.String("field", c.Field),
			zap.String("from", c.From),
			zap.String("to", c.To),
		)
	}
	return fixes
}

// repairHistory keeps exactly one open execution, the last, matching
// st.Phase, and at most one open iteration inside it.
func (h *Handler) repairHistory(st *inv.State, now time.Time, add func(kind, field, from, to string)) {
	now = now.UTC()
	n := len(st.PhaseHistory)
	for i := 0; i < n-1; i++ {
		exec := st.PhaseHistory[i]
		end := st.PhaseHistory[i+1].StartedAt
		if exec.Open() {
			exec.EndedAt = &end
			add(KindStrayExecution, fmt.Sprintf("phase_history[%d]", i), exec.Name, "closed")
		}
		closeIterations(exec, *exec.EndedAt, fmt.Sprintf("phase_history[%d]", i), add)
	}

	last := st.CurrentExecution()
	switch {
	case last == nil:
		add(KindMissingExecution, "phase_history", "none open", st.Phase.String())
		if n > 0 {
			closeIterations(st.PhaseHistory[n-1], *st.PhaseHistory[n-1].EndedAt, fmt.Sprintf("phase_history[%d]", n-1), add)
		}
		st.PhaseHistory = append(st.PhaseHistory, inv.NewExecution(st.Phase, now))
	case last.Phase != st.Phase:
		add(KindStrayExecution, fmt.Sprintf("phase_history[%d]", n-1), last.Name, st.Phase.String())
		last.EndedAt = &now
		closeIterations(last, now, fmt.Sprintf("phase_history[%d]", n-1), add)
		st.PhaseHistory = append(st.PhaseHistory, inv.NewExecution(st.Phase, now))
	default:
		// Only the newest iteration of the open execution may stay open.
		for i, it := range last.Iterations {
			if i < len(last.Iterations)-1 && it.Open() {
				end := last.Iterations[i+1].StartedAt
				it.EndedAt = &end
				add(KindStrayIteration, fmt.Sprintf("iterations.%d", it.Number), "open", "closed")
			}
		}
	}

	maxNumber := 0
	for _, it := range st.Iterations() {
		maxNumber = max(maxNumber, it.Number)
	}
	if st.CurrentIteration < maxNumber {
		add(KindIterationCounter, "current_iteration", fmt.Sprint(st.CurrentIteration), fmt.Sprint(maxNumber))
		st.CurrentIteration = maxNumber
	}
}

func closeIterations(exec *inv.PhaseExecution, end time.Time, field string, add func(kind, field, from, to string)) {
	for _, it := range exec.Iterations {
		if it.Open() {
			e := end
			it.EndedAt = &e
			add(KindStrayIteration, fmt.Sprintf("%s.iterations.%d", field, it.Number), "open", "closed")
		}
	}
}

// repairSequences keeps id counters at or above every allocated id.
func (h *Handler) repairSequences(st *inv.State, add func(kind, field, from, to string)) {
	maxEv := 0
	for id := range st.Evidence {
		maxEv = max(maxEv, inv.IDNumber(id))
	}
	if st.Sequences.Evidence < maxEv {
		add(KindSequence, "sequences.evidence", fmt.Sprint(st.Sequences.Evidence), fmt.Sprint(maxEv))
		st.Sequences.Evidence = maxEv
	}

	maxHyp := 0
	for id := range st.Hypotheses {
		maxHyp = max(maxHyp, inv.IDNumber(id))
	}
	if st.Sequences.Hypothesis < maxHyp {
		add(KindSequence, "sequences.hypothesis", fmt.Sprint(st.Sequences.Hypothesis), fmt.Sprint(maxHyp))
		st.Sequences.Hypothesis = maxHyp
	}
}

// DetectLoop reports whether the last LoopWindow assistant turns, all taken
// in the current phase, carry the same non-empty next-step signal. The
// signal is returned.
func (h *Handler) DetectLoop(st *inv.State) (string, bool) {
	window := h.cfg.LoopWindow
	if window <= 0 {
		return "", false
	}
	turns := st.LastTurnsByRole(inv.RoleAssistant, window)
	if len(turns) < window {
		return "", false
	}
	signal := turns[0].NextStep
	if signal == "" {
		return "", false
	}
	for _, t := range turns {
		if t.NextStep != signal || t.Phase != st.Phase {
			return "", false
		}
	}
	return signal, true
}
