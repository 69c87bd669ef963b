// Package investigation holds the per-investigation state aggregate and the
// State Manager that loads and persists it.
//
// Responsibilities:
//   - Define the investigation state model (phases, analysis loop, evidence,
//     hypotheses, conversation log, phase history)
//   - Allocate stable, never-reused evidence and hypothesis identifiers
//   - Serialize state deterministically (round-trip stable bytes)
//   - Load state by id, creating a fresh Intake-phase state when absent
//   - Save state atomically with optimistic version checking
//
// Lifecycle Phases:
//
//   0 Intake → 1 Problem Definition → 2 Triage → {3 Mitigation, 4 Root Cause Analysis}
//   3 Mitigation → {4 Root Cause Analysis, 6 Documentation}
//   4 Root Cause Analysis → 5 Solution → 6 Documentation (terminal)
//
// Root Cause Analysis embeds the analysis loop:
//
//   Frame → Scan → Branch → Test → Conclude → (next iteration | done)
//
// Invariants:
//   - Phase is always within [0, 6]
//   - LoopStep is non-empty only while Phase is Root Cause Analysis
//   - Confidence and likelihood values are clamped to [0, 1] on write
//   - Evidence and hypothesis ids are never reused or deleted
//   - An untested hypothesis has no test result
//   - Only the last PhaseExecution may be open, with at most one open iteration
package investigation

import (
	"encoding/json"
	"time"
)

// Phase is a lifecycle phase number.
type Phase int

const (
	PhaseIntake Phase = iota
	PhaseProblemDefinition
	PhaseTriage
	PhaseMitigation
	PhaseRootCauseAnalysis
	PhaseSolution
	PhaseDocumentation
)

// MinPhase and MaxPhase bound valid phase numbers.
const (
	MinPhase = PhaseIntake
	MaxPhase = PhaseDocumentation
)

var phaseNames = [...]string{
	"intake",
	"problem_definition",
	"triage",
	"mitigation",
	"root_cause_analysis",
	"solution",
	"documentation",
}

func (p Phase) String() string {
	if p < MinPhase || p > MaxPhase {
		return "unknown"
	}
	return phaseNames[p]
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool { return p >= MinPhase && p <= MaxPhase }

// LoopStep is a step of the analysis loop. The empty value means no step.
type LoopStep string

const (
	StepNone     LoopStep = ""
	StepFrame    LoopStep = "frame"
	StepScan     LoopStep = "scan"
	StepBranch   LoopStep = "branch"
	StepTest     LoopStep = "test"
	StepConclude LoopStep = "conclude"
)

// Mode is the engagement mode.
type Mode string

const (
	ModeConsultant   Mode = "consultant"
	ModeInvestigator Mode = "investigator"
)

// Urgency levels, ordered by Rank.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Rank orders urgencies; unknown values rank below low.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyLow:
		return 1
	case UrgencyMedium:
		return 2
	case UrgencyHigh:
		return 3
	case UrgencyCritical:
		return 4
	}
	return 0
}

// IsHigh reports whether u is high or critical.
func (u Urgency) IsHigh() bool { return u.Rank() >= UrgencyHigh.Rank() }

// EvidenceCategory classifies evidence items.
type EvidenceCategory string

const (
	EvidenceSymptoms       EvidenceCategory = "symptoms"
	EvidenceScope          EvidenceCategory = "scope"
	EvidenceTimeline       EvidenceCategory = "timeline"
	EvidenceInfrastructure EvidenceCategory = "infrastructure"
	EvidenceCode           EvidenceCategory = "code"
	EvidenceConfiguration  EvidenceCategory = "configuration"
)

// EvidenceCategories lists every evidence category in canonical order.
var EvidenceCategories = []EvidenceCategory{
	EvidenceSymptoms, EvidenceScope, EvidenceTimeline,
	EvidenceInfrastructure, EvidenceCode, EvidenceConfiguration,
}

// CoreEvidenceCategories must all be present for full coverage.
var CoreEvidenceCategories = []EvidenceCategory{EvidenceSymptoms, EvidenceScope, EvidenceTimeline}

// Valid reports whether c is a known evidence category.
func (c EvidenceCategory) Valid() bool {
	for _, known := range EvidenceCategories {
		if c == known {
			return true
		}
	}
	return false
}

// HypothesisCategory classifies hypotheses.
type HypothesisCategory string

const (
	HypothesisDeployment     HypothesisCategory = "deployment"
	HypothesisInfrastructure HypothesisCategory = "infrastructure"
	HypothesisCode           HypothesisCategory = "code"
	HypothesisConfiguration  HypothesisCategory = "configuration"
	HypothesisExternal       HypothesisCategory = "external"
)

// HypothesisCategories lists every hypothesis category in canonical order.
// Anchoring recovery walks this order when choosing a forced category.
var HypothesisCategories = []HypothesisCategory{
	HypothesisDeployment, HypothesisInfrastructure, HypothesisCode,
	HypothesisConfiguration, HypothesisExternal,
}

// Valid reports whether c is a known hypothesis category.
func (c HypothesisCategory) Valid() bool {
	for _, known := range HypothesisCategories {
		if c == known {
			return true
		}
	}
	return false
}

// TestResult is the outcome of testing a hypothesis.
type TestResult string

const (
	ResultNone         TestResult = ""
	ResultSupports     TestResult = "supports"
	ResultRefutes      TestResult = "refutes"
	ResultInconclusive TestResult = "inconclusive"
)

// Valid reports whether r is a concrete test outcome.
func (r TestResult) Valid() bool {
	return r == ResultSupports || r == ResultRefutes || r == ResultInconclusive
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// State is the root aggregate for one investigation.
type State struct {
	Schema    int       `json:"schema"`
	ID        string    `json:"id"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Phase            Phase    `json:"phase"`
	LoopStep         LoopStep `json:"loop_step,omitempty"`
	CurrentIteration int      `json:"current_iteration"`
	Mode             Mode     `json:"mode"`
	Urgency          Urgency  `json:"urgency"`

	ProblemStatement string        `json:"problem_statement,omitempty"`
	Frame            *AnomalyFrame `json:"frame,omitempty"`

	Evidence   map[string]*EvidenceItem `json:"evidence,omitempty"`
	Hypotheses map[string]*Hypothesis   `json:"hypotheses,omitempty"`
	Sequences  Sequences                `json:"sequences"`

	RootCause *RootCause `json:"root_cause,omitempty"`
	Solution  *Solution  `json:"solution,omitempty"`

	TestCounters       map[HypothesisCategory]*CategoryStats `json:"test_counters,omitempty"`
	MitigationAttempts int                                   `json:"mitigation_attempts,omitempty"`
	Mitigated          bool                                  `json:"mitigated,omitempty"`

	Coverage        float64           `json:"coverage,omitempty"`
	PendingRequests []EvidenceRequest `json:"pending_requests,omitempty"`

	EscalationRequested bool   `json:"escalation_requested,omitempty"`
	Escalated           bool   `json:"escalated,omitempty"`
	EscalationReason    string `json:"escalation_reason,omitempty"`

	PhaseHistory []*PhaseExecution `json:"phase_history,omitempty"`
	Turns        []*Turn           `json:"turns,omitempty"`
}

// Sequences are monotonic id counters. They only ever grow.
type Sequences struct {
	Evidence   int `json:"evidence"`
	Hypothesis int `json:"hypothesis"`
}

// AnomalyFrame is the current framing of the problem.
type AnomalyFrame struct {
	Statement          string          `json:"statement"`
	AffectedComponents []string        `json:"affected_components,omitempty"`
	Scope              string          `json:"scope,omitempty"`
	Severity           string          `json:"severity,omitempty"`
	Confidence         float64         `json:"confidence"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Revisions          []FrameRevision `json:"revisions,omitempty"`
}

// FrameRevision records one change of the frame statement. Append-only.
type FrameRevision struct {
	Old    string    `json:"old"`
	New    string    `json:"new"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// EvidenceItem is one collected piece of evidence.
type EvidenceItem struct {
	ID                string           `json:"id"`
	Label             string           `json:"label"`
	Description       string           `json:"description,omitempty"`
	Category          EvidenceCategory `json:"category"`
	Content           string           `json:"content,omitempty"`
	Source            string           `json:"source,omitempty"`
	CollectedAt       time.Time        `json:"collected_at"`
	RelatedHypotheses []string         `json:"related_hypotheses,omitempty"`
}

// Hypothesis is a candidate explanation.
type Hypothesis struct {
	ID                    string             `json:"id"`
	Statement             string             `json:"statement"`
	Category              HypothesisCategory `json:"category"`
	Likelihood            float64            `json:"likelihood"`
	SupportingEvidence    []string           `json:"supporting_evidence,omitempty"`
	ContradictingEvidence []string           `json:"contradicting_evidence,omitempty"`
	Tested                bool               `json:"tested"`
	TestResult            TestResult         `json:"test_result,omitempty"`
	TestCount             int                `json:"test_count,omitempty"`
	CreatedAt             time.Time          `json:"created_at"`
}

// Refuted reports whether the latest test refuted the hypothesis.
func (h *Hypothesis) Refuted() bool { return h.Tested && h.TestResult == ResultRefutes }

// CategoryStats tracks tests per hypothesis category.
type CategoryStats struct {
	Tested              int `json:"tested"`
	ConsecutiveFailures int `json:"consecutive_failures"`
}

// RootCause is the identified root cause.
type RootCause struct {
	Statement    string    `json:"statement"`
	HypothesisID string    `json:"hypothesis_id,omitempty"`
	Confidence   float64   `json:"confidence"`
	IdentifiedAt time.Time `json:"identified_at"`
}

// Solution is the proposed remediation.
type Solution struct {
	Description  string    `json:"description"`
	Steps        []string  `json:"steps,omitempty"`
	Verification string    `json:"verification,omitempty"`
	ProposedAt   time.Time `json:"proposed_at"`
}

// EvidenceRequest asks the user for a specific piece of evidence.
type EvidenceRequest struct {
	Label        string           `json:"label"`
	Category     EvidenceCategory `json:"category"`
	Description  string           `json:"description,omitempty"`
	HypothesisID string           `json:"hypothesis_id,omitempty"`
}

// StepFlags records which loop steps an iteration completed.
type StepFlags struct {
	Frame    bool `json:"frame,omitempty"`
	Scan     bool `json:"scan,omitempty"`
	Branch   bool `json:"branch,omitempty"`
	Test     bool `json:"test,omitempty"`
	Conclude bool `json:"conclude,omitempty"`
}

// Mark sets the flag for step.
func (f *StepFlags) Mark(step LoopStep) {
	switch step {
	case StepFrame:
		f.Frame = true
	case StepScan:
		f.Scan = true
	case StepBranch:
		f.Branch = true
	case StepTest:
		f.Test = true
	case StepConclude:
		f.Conclude = true
	}
}

// AnalysisLoopIteration is one pass through the analysis loop.
type AnalysisLoopIteration struct {
	Number                int                 `json:"number"`
	StartedAt             time.Time           `json:"started_at"`
	EndedAt               *time.Time          `json:"ended_at,omitempty"`
	Steps                 StepFlags           `json:"steps"`
	Results               map[LoopStep]string `json:"results,omitempty"`
	HypothesesTouched     []string            `json:"hypotheses_touched,omitempty"`
	EvidenceTouched       []string            `json:"evidence_touched,omitempty"`
	KeyInsight            string              `json:"key_insight,omitempty"`
	ConfidenceProgression []float64           `json:"confidence_progression,omitempty"`
}

// Open reports whether the iteration has not ended.
func (it *AnalysisLoopIteration) Open() bool { return it.EndedAt == nil }

// PhaseExecution records one stay in a lifecycle phase.
type PhaseExecution struct {
	Phase             Phase                    `json:"phase"`
	Name              string                   `json:"name"`
	StartedAt         time.Time                `json:"started_at"`
	EndedAt           *time.Time               `json:"ended_at,omitempty"`
	Iterations        []*AnalysisLoopIteration `json:"iterations,omitempty"`
	Outputs           map[string]string        `json:"outputs,omitempty"`
	CriteriaSatisfied []string                 `json:"criteria_satisfied,omitempty"`
	CriteriaPending   []string                 `json:"criteria_pending,omitempty"`
}

// Open reports whether the execution has not ended.
func (pe *PhaseExecution) Open() bool { return pe.EndedAt == nil }

// Turn is one entry of the conversation log.
type Turn struct {
	Number    int             `json:"number"`
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	Phase     Phase           `json:"phase"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	NextStep  string          `json:"next_step,omitempty"`
	Degraded  bool            `json:"degraded,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
