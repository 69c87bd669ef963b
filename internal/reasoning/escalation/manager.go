// Package escalation decides when an investigation needs a human and builds
// the handoff summary for whoever picks it up.
package escalation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/hypothesis"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/intent"
	inv "github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/investigation"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/loop"
)

// Reason prefixes, in check order.
const (
	ReasonBlockedEvidence  = "evidence access blocked"
	ReasonMitigationFailed = "mitigation attempts exhausted"
	ReasonUserRequested    = "user requested escalation"
	ReasonStalled          = "investigation stalled: no confidence gain"
)

// DefaultTeam receives handoffs no keyword matched.
const DefaultTeam = "sre-oncall"

// TeamRule maps component keywords to a team.
type TeamRule struct {
	Team     string
	Keywords []string
}

// Config holds escalation thresholds.
type Config struct {
	MaxIterations          int
	BlockedWindow          int
	BlockedThreshold       int
	MitigationAttemptLimit int
	StallWindow            int
	Teams                  []TeamRule
}

// DefaultConfig returns the standard thresholds and team rules.
func DefaultConfig() Config {
	return Config{
		MaxIterations:          10,
		BlockedWindow:          5,
		BlockedThreshold:       2,
		MitigationAttemptLimit: 3,
		StallWindow:            3,
		Teams: []TeamRule{
			{Team: "database-team", Keywords: []string{"database", "db", "postgres", "postgresql", "mysql", "redis", "mongo", "mongodb", "sql", "replica"}},
			{Team: "network-team", Keywords: []string{"network", "dns", "load balancer", "lb", "ingress", "cdn", "firewall", "vpc", "proxy"}},
			{Team: "infrastructure-team", Keywords: []string{"node", "kubernetes", "k8s", "cluster", "disk", "cpu", "memory", "vm", "host", "storage"}},
			{Team: "application-team", Keywords: []string{"api", "service", "app", "frontend", "backend", "checkout", "auth", "worker"}},
		},
	}
}

// Manager evaluates escalation conditions.
type Manager struct {
	cfg        Config
	classifier *intent.Classifier
}

// NewManager returns a Manager. Blocked-evidence phrases come from
// classifier; nil uses the default tables.
func NewManager(cfg Config, classifier *intent.Classifier) *Manager {
	if classifier == nil {
		classifier = intent.NewClassifier(intent.DefaultConfig())
	}
	return &Manager{cfg: cfg, classifier: classifier}
}

// ShouldEscalate returns the first matching escalation reason. Checked in
// order: iteration ceiling, blocked evidence, failed mitigation, explicit
// request, stall, and a reason flagged earlier by another component. An
// investigation that is already escalated never re-escalates.
func (m *Manager) ShouldEscalate(st *inv.State) (string, bool) {
	if st.Escalated {
		return "", false
	}
	if m.iterationCeiling(st) {
		return fmt.Sprintf("%s (%d/%d)", loop.IterationLimitReason, st.CurrentIteration, m.cfg.MaxIterations), true
	}
	if n := m.blockedCount(st); n >= m.cfg.BlockedThreshold && m.cfg.BlockedThreshold > 0 {
		return fmt.Sprintf("%s (%d of last %d messages)", ReasonBlockedEvidence, n, m.cfg.BlockedWindow), true
	}
	if st.Phase == inv.PhaseMitigation && m.cfg.MitigationAttemptLimit > 0 &&
		st.MitigationAttempts >= m.cfg.MitigationAttemptLimit && !st.Mitigated {
		return fmt.Sprintf("%s (%d attempts)", ReasonMitigationFailed, st.MitigationAttempts), true
	}
	if st.EscalationRequested {
		return ReasonUserRequested, true
	}
	if st.Phase == inv.PhaseRootCauseAnalysis && loop.DetectStall(st, m.cfg.StallWindow) {
		return ReasonStalled, true
	}
	if st.EscalationReason != "" {
		return st.EscalationReason, true
	}
	return "", false
}

func (m *Manager) iterationCeiling(st *inv.State) bool {
	if m.cfg.MaxIterations <= 0 || st.RootCause != nil {
		return false
	}
	if st.CurrentIteration > m.cfg.MaxIterations {
		return true
	}
	return st.CurrentIteration >= m.cfg.MaxIterations && st.OpenIteration() == nil
}

// blockedCount counts user messages among the last BlockedWindow
// conversation entries that say evidence cannot be obtained. Assistant
// entries are skipped since they often quote such phrases back.
func (m *Manager) blockedCount(st *inv.State) int {
	n := 0
	for _, t := range st.LastTurns(m.cfg.BlockedWindow) {
		if t.Role == inv.RoleUser && m.classifier.IsBlocked(t.Content) {
			n++
		}
	}
	return n
}

// Handoff is the summary handed to a human responder.
type Handoff struct {
	InvestigationID     string    `json:"investigation_id" yaml:"investigation_id"`
	Reason              string    `json:"reason" yaml:"reason"`
	TargetTeam          string    `json:"target_team" yaml:"target_team"`
	ProblemStatement    string    `json:"problem_statement" yaml:"problem_statement"`
	Severity            string    `json:"severity" yaml:"severity"`
	Phase               string    `json:"phase" yaml:"phase"`
	Elapsed             string    `json:"elapsed" yaml:"elapsed"`
	ElapsedSeconds      int64     `json:"elapsed_seconds" yaml:"elapsed_seconds"`
	EvidenceCount       int       `json:"evidence_count" yaml:"evidence_count"`
	HypothesisCount     int       `json:"hypothesis_count" yaml:"hypothesis_count"`
	Iterations          int       `json:"iterations" yaml:"iterations"`
	MitigationAttempted bool      `json:"mitigation_attempted" yaml:"mitigation_attempted"`
	TopHypotheses       []string  `json:"top_hypotheses,omitempty" yaml:"top_hypotheses,omitempty"`
	AffectedComponents  []string  `json:"affected_components,omitempty" yaml:"affected_components,omitempty"`
	RootCause           string    `json:"root_cause,omitempty" yaml:"root_cause,omitempty"`
	CreatedAt           time.Time `json:"created_at" yaml:"created_at"`
}

// BuildHandoff summarizes st as of now. The result depends only on st,
// now and the reason recorded on st.
func (m *Manager) BuildHandoff(st *inv.State, now time.Time) Handoff {
	elapsed := now.Sub(st.CreatedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	elapsed = elapsed.Truncate(time.Second)

	h := Handoff{
		InvestigationID:     st.ID,
		Reason:              st.EscalationReason,
		ProblemStatement:    st.ProblemStatement,
		Severity:            severity(st),
		Phase:               st.Phase.String(),
		Elapsed:             elapsed.String(),
		ElapsedSeconds:      int64(elapsed / time.Second),
		EvidenceCount:       len(st.Evidence),
		HypothesisCount:     len(st.Hypotheses),
		Iterations:          st.CurrentIteration,
		MitigationAttempted: st.MitigationAttempts > 0,
		CreatedAt:           now.UTC(),
	}
	if st.Frame != nil {
		h.AffectedComponents = append([]string(nil), st.Frame.AffectedComponents...)
		if h.ProblemStatement == "" {
			h.ProblemStatement = st.Frame.Statement
		}
	}
	if st.RootCause != nil {
		h.RootCause = st.RootCause.Statement
	}
	for i, hyp := range hypothesis.Rank(st) {
		if i == 3 {
			break
		}
		h.TopHypotheses = append(h.TopHypotheses, fmt.Sprintf("%s (%.2f): %s", hyp.ID, hyp.Likelihood, hyp.Statement))
	}
	h.TargetTeam = m.TargetTeam(h.AffectedComponents)
	return h
}

func severity(st *inv.State) string {
	if st.Frame != nil && st.Frame.Severity != "" {
		return st.Frame.Severity
	}
	return string(st.Urgency)
}

// TargetTeam picks the team whose keywords match the most components.
// Ties go to the earlier rule; no match yields DefaultTeam.
func (m *Manager) TargetTeam(components []string) string {
	type hit struct {
		team  string
		order int
		count int
	}
	var hits []hit
	for i, rule := range m.cfg.Teams {
		count := 0
		for _, c := range components {
			if matchesAny(strings.ToLower(c), rule.Keywords) {
				count++
			}
		}
		if count > 0 {
			hits = append(hits, hit{rule.Team, i, count})
		}
	}
	if len(hits) == 0 {
		return DefaultTeam
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].count > hits[j].count })
	return hits[0].team
}

// matchesAny reports whether any keyword appears in component as a whole
// token. Components are split on non-alphanumerics, so "payments-db" and
// "db.primary" both match "db".
func matchesAny(component string, keywords []string) bool {
	tokens := strings.FieldsFunc(component, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	joined := " " + strings.Join(tokens, " ") + " "
	for _, k := range keywords {
		if strings.Contains(joined, " "+k+" ") {
			return true
		}
	}
	return false
}
