// Package router decides what the next generation request should be: which
// strategy, which response shape, which context fields and how verbose.
// It is a pure function of state and classified input and never generates
// text itself.
package router

import (
	inv "github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/investigation"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/hypothesis"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/intent"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/loop"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/parser"
)

// Strategy identifies how the prompt should steer the model.
type Strategy string

const (
	StrategyConsultant    Strategy = "consultant_answer"
	StrategyIntake        Strategy = "intake_engage"
	StrategyProblemFrame  Strategy = "problem_framing"
	StrategyTriage        Strategy = "triage_hypotheses"
	StrategyMitigation    Strategy = "mitigation_plan"
	StrategyRCAFrame      Strategy = "rca_frame"
	StrategyRCAScan       Strategy = "rca_scan"
	StrategyRCABranch     Strategy = "rca_branch"
	StrategyRCATest       Strategy = "rca_test"
	StrategyRCAConclude   Strategy = "rca_conclude"
	StrategySolution      Strategy = "solution_design"
	StrategyDocumentation Strategy = "documentation_writeup"
	StrategyEscalated     Strategy = "escalation_followup"
)

// Tier is the verbosity of the generated answer.
type Tier string

const (
	TierLight  Tier = "light"
	TierMedium Tier = "medium"
	TierFull   Tier = "full"
)

// Degrade returns the next less verbose tier. Light stays light.
func Degrade(t Tier) Tier {
	switch t {
	case TierFull:
		return TierMedium
	default:
		return TierLight
	}
}

// Context field names understood by the prompt assembler.
const (
	FieldConversation     = "conversation"
	FieldProblemStatement = "problem_statement"
	FieldFrame            = "frame"
	FieldEvidence         = "evidence"
	FieldHypotheses       = "hypotheses"
	FieldUntested         = "untested_hypotheses"
	FieldTestCounters     = "test_counters"
	FieldMemory           = "memory"
	FieldRootCause        = "root_cause"
	FieldSolution         = "solution"
	FieldPendingRequests  = "pending_requests"
	FieldMitigation       = "mitigation"
	FieldEscalation       = "escalation"
)

// Decision is the routing result.
type Decision struct {
	Strategy      Strategy
	Shape         parser.Shape
	ContextFields []string
	Tier          Tier
	// ForcedCategory constrains hypothesis work while a category is anchored.
	ForcedCategory inv.HypothesisCategory
	// TargetHypothesis is the one hypothesis a Test step should test. Empty
	// when nothing qualifies.
	TargetHypothesis string
	Complexity       int
}

// Config holds routing thresholds.
type Config struct {
	AnchoringThreshold int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{AnchoringThreshold: 3}
}

// Router maps state to decisions.
type Router struct {
	cfg Config
}

// New returns a Router.
func New(cfg Config) *Router {
	return &Router{cfg: cfg}
}

type route struct {
	strategy Strategy
	shape    parser.Shape
	fields   []string
}

var phaseRoutes = map[inv.Phase]route{
	inv.PhaseIntake:            {StrategyIntake, parser.ShapeIntake, []string{FieldConversation}},
	inv.PhaseProblemDefinition: {StrategyProblemFrame, parser.ShapeProblemDefinition, []string{FieldConversation, FieldProblemStatement, FieldFrame, FieldEvidence, FieldPendingRequests}},
	inv.PhaseTriage:            {StrategyTriage, parser.ShapeTriage, []string{FieldProblemStatement, FieldFrame, FieldEvidence, FieldHypotheses}},
	inv.PhaseMitigation:        {StrategyMitigation, parser.ShapeMitigation, []string{FieldProblemStatement, FieldFrame, FieldHypotheses, FieldMitigation}},
	inv.PhaseSolution:          {StrategySolution, parser.ShapeSolution, []string{FieldProblemStatement, FieldRootCause, FieldEvidence}},
	inv.PhaseDocumentation:     {StrategyDocumentation, parser.ShapeDocumentation, []string{FieldProblemStatement, FieldFrame, FieldRootCause, FieldSolution, FieldMemory}},
}

var stepRoutes = map[inv.LoopStep]route{
	inv.StepFrame:    {StrategyRCAFrame, parser.ShapeRCAFrame, []string{FieldFrame, FieldEvidence, FieldMemory}},
	inv.StepScan:     {StrategyRCAScan, parser.ShapeRCAScan, []string{FieldFrame, FieldEvidence, FieldPendingRequests, FieldMemory}},
	inv.StepBranch:   {StrategyRCABranch, parser.ShapeRCABranch, []string{FieldFrame, FieldEvidence, FieldHypotheses, FieldTestCounters, FieldMemory}},
	inv.StepTest:     {StrategyRCATest, parser.ShapeRCATest, []string{FieldEvidence, FieldUntested, FieldTestCounters, FieldMemory}},
	inv.StepConclude: {StrategyRCAConclude, parser.ShapeRCAConclude, []string{FieldFrame, FieldHypotheses, FieldEvidence, FieldMemory}},
}

// Route picks the decision for st given the classified user input.
// Precedence: mode, then phase, then loop step, then verbosity tier.
func (r *Router) Route(st *inv.State, sig intent.Signals) Decision {
	rt := r.pick(st, sig)

	d := Decision{
		Strategy:      rt.strategy,
		Shape:         rt.shape,
		ContextFields: append([]string(nil), rt.fields...),
		Complexity:    Complexity(st),
	}
	d.Tier = TierFor(d.Complexity)

	if st.Phase == inv.PhaseRootCauseAnalysis && (st.LoopStep == inv.StepBranch || st.LoopStep == inv.StepTest) {
		if a := loop.DetectAnchoring(st, r.cfg.AnchoringThreshold); a.Detected {
			d.ForcedCategory = a.Forced
		}
	}
	if rt.strategy == StrategyRCATest {
		if h := hypothesis.SelectNextToTest(st, r.cfg.AnchoringThreshold); h != nil {
			d.TargetHypothesis = h.ID
		}
	}
	return d
}

func (r *Router) pick(st *inv.State, sig intent.Signals) route {
	if st.Escalated {
		return route{StrategyEscalated, parser.ShapeConsultant, []string{FieldConversation, FieldEscalation, FieldProblemStatement}}
	}
	if st.Mode != inv.ModeInvestigator {
		if st.Phase == inv.PhaseIntake && sig.ProblemDetected {
			return phaseRoutes[inv.PhaseIntake]
		}
		return route{StrategyConsultant, parser.ShapeConsultant, []string{FieldConversation}}
	}
	if st.Phase == inv.PhaseRootCauseAnalysis {
		if rt, ok := stepRoutes[st.LoopStep]; ok {
			return rt
		}
		// Loop finished without leaving RCA: ask for a conclusion.
		return stepRoutes[inv.StepConclude]
	}
	if rt, ok := phaseRoutes[st.Phase]; ok {
		return rt
	}
	return route{StrategyConsultant, parser.ShapeConsultant, []string{FieldConversation}}
}

// Complexity scores how much detail the answer needs.
func Complexity(st *inv.State) int {
	score := 0
	if len(st.Hypotheses) > 5 {
		score++
	}
	if len(st.Iterations()) > 5 {
		score++
	}
	if len(st.EvidenceCategoriesPresent()) >= 4 {
		score++
	}
	if st.Urgency.IsHigh() {
		score--
	}
	return score
}

// TierFor maps a complexity score to a tier.
func TierFor(score int) Tier {
	switch {
	case score >= 2:
		return TierFull
	case score <= 0:
		return TierLight
	default:
		return TierMedium
	}
}
