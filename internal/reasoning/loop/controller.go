// Package loop drives the Frame → Scan → Branch → Test → Conclude analysis
// loop inside Root Cause Analysis and detects anchoring and stalls.
package loop

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	inv "github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/investigation"
)

// Config holds loop thresholds.
type Config struct {
	// MaxIterations is the iteration ceiling before escalation.
	MaxIterations int
	// AnchoringThreshold is the number of consecutive non-supporting tests
	// in one category that counts as anchoring.
	AnchoringThreshold int
	// StallWindow is the number of iterations inspected for confidence progress.
	StallWindow int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{MaxIterations: 10, AnchoringThreshold: 3, StallWindow: 3}
}

// StepResult is what the caller reports about the step just completed.
type StepResult struct {
	Summary    string
	KeyInsight string
	// Continue asks to keep testing while untested hypotheses remain.
	Continue   bool
	Confidence *float64

	HypothesisIDs []string
	EvidenceIDs   []string
}

// IterationLimitReason is recorded when the loop stops at the ceiling.
const IterationLimitReason = "iteration limit reached"

// Controller advances the analysis loop.
type Controller struct {
	cfg    Config
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewController creates a loop controller.
func NewController(cfg Config, clock clockwork.Clock, logger *zap.Logger) *Controller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{cfg: cfg, clock: clock, logger: logger.Named("loop")}
}

// Config returns the controller thresholds.
func (c *Controller) Config() Config { return c.cfg }

// AdvanceStep records res on the open iteration and moves st to the next
// step, which it also returns. StepNone means the loop finished: either a
// root cause is identified or the iteration ceiling was reached.
//
// At the ceiling st is only flagged: EscalationReason is set (unless a reason
// is already recorded) and Escalated stays false. A flagged state is picked up
// by escalation.Manager.ShouldEscalate, which owns marking it escalated and
// building the handoff.
func (c *Controller) AdvanceStep(st *inv.State, res StepResult) (inv.LoopStep, error) {
	if st.Phase != inv.PhaseRootCauseAnalysis {
		return inv.StepNone, fmt.Errorf("advance step: phase is %s, not root_cause_analysis", st.Phase)
	}
	step := st.LoopStep
	if step == inv.StepNone {
		return inv.StepNone, fmt.Errorf("advance step: no active loop step")
	}
	it := st.OpenIteration()
	if it == nil {
		return inv.StepNone, fmt.Errorf("advance step: no open iteration")
	}

	record(it, step, res)

	var next inv.LoopStep
	switch step {
	case inv.StepFrame:
		next = inv.StepScan
	case inv.StepScan:
		next = inv.StepBranch
	case inv.StepBranch:
		next = inv.StepTest
	case inv.StepTest:
		if res.Continue && len(st.UntestedHypotheses()) > 0 {
			next = inv.StepTest
		} else {
			next = inv.StepConclude
		}
	case inv.StepConclude:
		var err error
		next, err = c.conclude(st, it)
		if err != nil {
			return inv.StepNone, err
		}
	default:
		return inv.StepNone, fmt.Errorf("advance step: unknown step %q", step)
	}

	c.logger.Debug("loop step advanced",
		zap.String("investigation_id", st.ID),
		zap.Int("iteration", it.Number),
		zap.String("from", string(step)),
		zap.String("to", string(next)),
	)
	st.LoopStep = next
	return next, nil
}

func (c *Controller) conclude(st *inv.State, it *inv.AnalysisLoopIteration) (inv.LoopStep, error) {
	now := c.clock.Now().UTC()
	it.EndedAt = &now

	if st.RootCause != nil {
		return inv.StepNone, nil
	}
	if c.IterationLimitReached(st) {
		if st.EscalationReason == "" {
			st.EscalationReason = fmt.Sprintf("%s (%d/%d)", IterationLimitReason, st.CurrentIteration, c.cfg.MaxIterations)
		}
		c.logger.Info("analysis loop hit iteration ceiling",
			zap.String("investigation_id", st.ID),
			zap.Int("iterations", st.CurrentIteration),
		)
		return inv.StepNone, nil
	}
	if _, err := st.OpenNextIteration(now); err != nil {
		return inv.StepNone, fmt.Errorf("open next iteration: %w", err)
	}
	return inv.StepFrame, nil
}

// IterationLimitReached reports whether the configured ceiling is used up:
// the ceiling number of iterations exists and none is still open.
func (c *Controller) IterationLimitReached(st *inv.State) bool {
	if st.CurrentIteration > c.cfg.MaxIterations {
		return true
	}
	return st.CurrentIteration >= c.cfg.MaxIterations && st.OpenIteration() == nil
}

func record(it *inv.AnalysisLoopIteration, step inv.LoopStep, res StepResult) {
	it.Steps.Mark(step)
	if res.Summary != "" {
		if it.Results == nil {
			it.Results = make(map[inv.LoopStep]string)
		}
		it.Results[step] = res.Summary
	}
	if res.KeyInsight != "" {
		it.KeyInsight = res.KeyInsight
	}
	if res.Confidence != nil {
		it.ConfidenceProgression = append(it.ConfidenceProgression, inv.Clamp01(*res.Confidence))
	}
	for _, id := range res.HypothesisIDs {
		it.HypothesesTouched = inv.AddUnique(it.HypothesesTouched, id)
	}
	for _, id := range res.EvidenceIDs {
		it.EvidenceTouched = inv.AddUnique(it.EvidenceTouched, id)
	}
}

// DetectAnchoring reports anchoring using the controller threshold.
func (c *Controller) DetectAnchoring(st *inv.State) Anchoring {
	return DetectAnchoring(st, c.cfg.AnchoringThreshold)
}

// DetectStall reports a stall using the controller window.
func (c *Controller) DetectStall(st *inv.State) bool {
	return DetectStall(st, c.cfg.StallWindow)
}
