// Package updater merges parsed generation output and classified user input
// into investigation state.
//
// Every field is optional. Invalid entries are skipped and reported in the
// Outcome rather than failing the turn, so a degraded response still yields
// a consistent state with the assistant turn appended.
package updater

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/evidence"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/hypothesis"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/intent"
	inv "github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/investigation"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/loop"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/parser"
)

// Outcome summarizes what an update changed.
type Outcome struct {
	ModeChanged      bool
	FrameRevised     bool
	EvidenceAdded    []string
	HypothesesAdded  []string
	HypothesesTested []string
	// TestsRejected lists hypotheses whose test results were dropped because
	// their category was anchored when the response arrived.
	TestsRejected    []string
	RootCauseSet     bool
	SolutionSet      bool
	MitigationLogged bool
	RequestsUpdated  bool
	StepComplete     bool
	ContinueTesting  bool
	PhaseComplete    bool
	Warnings         []string
	Turn             *inv.Turn
}

func (o *Outcome) warnf(format string, args ...any) {
	o.Warnings = append(o.Warnings, fmt.Sprintf(format, args...))
}

// Updater applies responses to state.
type Updater struct {
	tracker   *evidence.Tracker
	logger    *zap.Logger
	anchoring int
}

// New returns an Updater. A nil tracker uses the state's id sequence.
func New(tracker *evidence.Tracker, logger *zap.Logger) *Updater {
	if tracker == nil {
		tracker = evidence.NewTracker(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Updater{tracker: tracker, logger: logger.Named("updater")}
}

// WithAnchoringThreshold makes Apply drop test results for a category that
// has gone n consecutive tests without support. Zero disables the check.
func (u *Updater) WithAnchoringThreshold(n int) *Updater {
	u.anchoring = n
	return u
}

// ApplySignals records what the classifier found in the user's message:
// a reported problem switches an Intake consultation to investigation,
// urgency only ever rises, escalation requests are remembered and evidence
// hints become evidence items.
func (u *Updater) ApplySignals(st *inv.State, sig intent.Signals, now time.Time) Outcome {
	var out Outcome

	if sig.ProblemDetected && st.Phase == inv.PhaseIntake && st.Mode != inv.ModeInvestigator {
		st.Mode = inv.ModeInvestigator
		out.ModeChanged = true
		if strings.TrimSpace(st.ProblemStatement) == "" {
			st.ProblemStatement = strings.TrimSpace(sig.Text)
		}
	}
	if sig.Urgency.Rank() > st.Urgency.Rank() {
		st.Urgency = sig.Urgency
	}
	if sig.EscalationRequested {
		st.EscalationRequested = true
	}

	if st.Mode == inv.ModeInvestigator {
		for _, h := range sig.Hints {
			if hasEvidenceLabel(st, h.Text) {
				continue
			}
			id, err := u.tracker.Add(st, evidence.Input{
				Label:    h.Text,
				Category: h.Category,
				Content:  h.Text,
				Source:   "user",
			}, now)
			if err != nil {
				out.warnf("evidence hint %q: %v", h.Text, err)
				continue
			}
			out.EvidenceAdded = append(out.EvidenceAdded, id)
		}
	}
	return out
}

func hasEvidenceLabel(st *inv.State, label string) bool {
	key := strings.ToLower(strings.TrimSpace(label))
	for _, ev := range st.Evidence {
		if strings.ToLower(ev.Label) == key {
			return true
		}
	}
	return false
}

// Apply merges resp into st and appends the assistant turn. userMessage
// backs the problem statement when the model switches to investigation
// without restating it. A nil resp is treated as an empty degraded response.
func (u *Updater) Apply(st *inv.State, userMessage string, resp *parser.Response, now time.Time) Outcome {
	if resp == nil {
		resp = parser.Parse("", parser.ShapeConsultant)
	}
	var out Outcome

	u.applyEngagement(st, userMessage, resp, &out)
	u.applyFrame(st, resp.Frame, now, &out)
	u.applyEvidence(st, resp.Evidence, now, &out)
	u.applyHypotheses(st, resp.Hypotheses, now, &out)
	u.applyTests(st, resp.TestResults, &out)

	if rc := resp.RootCause; rc != nil && strings.TrimSpace(rc.Statement) != "" {
		root := &inv.RootCause{
			Statement:    strings.TrimSpace(rc.Statement),
			IdentifiedAt: now.UTC(),
		}
		if _, ok := st.Hypotheses[rc.HypothesisID]; ok {
			root.HypothesisID = rc.HypothesisID
		}
		if rc.Confidence != nil {
			root.Confidence = inv.Clamp01(*rc.Confidence)
		}
		st.RootCause = root
		out.RootCauseSet = true
	}

	if s := resp.Solution; s != nil && strings.TrimSpace(s.Description) != "" {
		st.Solution = &inv.Solution{
			Description:  strings.TrimSpace(s.Description),
			Steps:        append([]string(nil), s.Steps...),
			Verification: s.Verification,
			ProposedAt:   now.UTC(),
		}
		out.SolutionSet = true
	}

	if resp.MitigationAttempted || resp.MitigationSuccessful {
		st.MitigationAttempts++
		out.MitigationLogged = true
	}
	if resp.MitigationSuccessful {
		st.Mitigated = true
	}

	if len(resp.EvidenceRequests) > 0 {
		var valid []inv.EvidenceRequest
		for _, r := range resp.EvidenceRequests {
			if !r.Category.Valid() {
				out.warnf("evidence request %q: unknown category %q", r.Label, r.Category)
				continue
			}
			valid = append(valid, r)
		}
		st.PendingRequests = evidence.PrioritizeRequests(st, valid, hypothesis.Top(st))
		out.RequestsUpdated = true
	}

	out.StepComplete = resp.StepComplete && !resp.Degraded
	out.ContinueTesting = resp.ContinueTesting
	out.PhaseComplete = resp.PhaseComplete && !resp.Degraded

	turn := st.AppendTurn(inv.RoleAssistant, resp.Answer, now)
	turn.NextStep = resp.NextStep
	turn.Degraded = resp.Degraded
	if resp.Degraded {
		if resp.Err != nil {
			turn.Error = resp.Err.Error()
		}
	} else if payload, err := json.Marshal(resp); err == nil {
		turn.Payload = payload
	}
	out.Turn = turn

	for _, w := range out.Warnings {
		u.logger.Debug("update skipped field",
			zap.String("investigation_id", st.ID),
			zap.Int("turn", turn.Number),
			zap.String("detail", w),
		)
	}
	if len(out.TestsRejected) > 0 {
		u.logger.Info("test results rejected for anchored category",
			zap.String("investigation_id", st.ID),
			zap.Int("turn", turn.Number),
			zap.Strings("hypotheses", out.TestsRejected),
		)
	}
	return out
}

func (u *Updater) applyEngagement(st *inv.State, userMessage string, resp *parser.Response, out *Outcome) {
	switch inv.Mode(resp.Mode) {
	case inv.ModeInvestigator:
		if st.Mode != inv.ModeInvestigator {
			st.Mode = inv.ModeInvestigator
			out.ModeChanged = true
		}
	case inv.ModeConsultant:
		// Investigations only fall back to consulting before they start.
		if st.Mode != inv.ModeConsultant && st.Phase == inv.PhaseIntake {
			st.Mode = inv.ModeConsultant
			out.ModeChanged = true
		}
	case "":
	default:
		out.warnf("unknown mode %q", resp.Mode)
	}

	if ps := strings.TrimSpace(resp.ProblemStatement); ps != "" {
		st.ProblemStatement = ps
	} else if st.Mode == inv.ModeInvestigator && strings.TrimSpace(st.ProblemStatement) == "" {
		st.ProblemStatement = strings.TrimSpace(userMessage)
	}

	if resp.Urgency != "" {
		if urg := inv.Urgency(strings.ToLower(resp.Urgency)); urg.Rank() > 0 {
			st.Urgency = urg
		} else {
			out.warnf("unknown urgency %q", resp.Urgency)
		}
	}
}

func (u *Updater) applyFrame(st *inv.State, f *parser.FrameUpdate, now time.Time, out *Outcome) {
	if f == nil || strings.TrimSpace(f.Statement) == "" {
		return
	}
	statement := strings.TrimSpace(f.Statement)
	now = now.UTC()

	if st.Frame == nil {
		st.Frame = &inv.AnomalyFrame{Statement: statement}
		out.FrameRevised = true
	} else if st.Frame.Statement != statement {
		st.Frame.Revisions = append(st.Frame.Revisions, inv.FrameRevision{
			Old:    st.Frame.Statement,
			New:    statement,
			Reason: f.Reason,
			At:     now,
		})
		st.Frame.Statement = statement
		out.FrameRevised = true
	}

	fr := st.Frame
	if len(f.AffectedComponents) > 0 {
		fr.AffectedComponents = append([]string(nil), f.AffectedComponents...)
	}
	if f.Scope != "" {
		fr.Scope = f.Scope
	}
	if f.Severity != "" {
		fr.Severity = f.Severity
	}
	if f.Confidence != nil {
		fr.Confidence = inv.Clamp01(*f.Confidence)
	}
	fr.UpdatedAt = now
}

func (u *Updater) applyEvidence(st *inv.State, items []parser.EvidenceUpdate, now time.Time, out *Outcome) {
	for _, e := range items {
		var links []string
		for _, h := range e.Hypotheses {
			if _, ok := st.Hypotheses[h]; ok {
				links = append(links, h)
			} else {
				out.warnf("evidence %q: unknown hypothesis %q", e.Label, h)
			}
		}
		id, err := u.tracker.Add(st, evidence.Input{
			Label:       e.Label,
			Description: e.Description,
			Category:    inv.EvidenceCategory(strings.ToLower(e.Category)),
			Content:     e.Content,
			Source:      e.Source,
			Hypotheses:  links,
		}, now)
		if err != nil {
			out.warnf("evidence %q: %v", e.Label, err)
			continue
		}
		out.EvidenceAdded = append(out.EvidenceAdded, id)
	}
}

func (u *Updater) applyHypotheses(st *inv.State, items []parser.HypothesisUpdate, now time.Time, out *Outcome) {
	for _, h := range items {
		id, added, err := hypothesis.Add(st, hypothesis.Input{
			Statement:  h.Statement,
			Category:   inv.HypothesisCategory(strings.ToLower(h.Category)),
			Likelihood: h.Likelihood,
			Evidence:   h.Evidence,
		}, now)
		if err != nil {
			out.warnf("hypothesis %q: %v", h.Statement, err)
			continue
		}
		if added {
			out.HypothesesAdded = append(out.HypothesesAdded, id)
		}
	}
}

func (u *Updater) applyTests(st *inv.State, results []parser.TestResultUpdate, out *Outcome) {
	// Anchoring is judged once, before any result of this response lands.
	anchored := loop.DetectAnchoring(st, u.anchoring)
	for _, r := range results {
		id := r.HypothesisID
		if _, ok := st.Hypotheses[id]; !ok {
			found := hypothesis.FindByStatement(st, r.Statement)
			if found == nil {
				out.warnf("test result: unknown hypothesis %q", firstNonEmpty(r.HypothesisID, r.Statement))
				continue
			}
			id = found.ID
		}
		if anchored.Detected && st.Hypotheses[id].Category == anchored.Category {
			out.TestsRejected = append(out.TestsRejected, id)
			out.warnf("test result for %s: category %s is anchored", id, anchored.Category)
			continue
		}
		result := inv.TestResult(strings.ToLower(r.Result))
		if err := hypothesis.UpdateAfterTest(st, id, result, r.LikelihoodDelta); err != nil {
			out.warnf("test result: %v", err)
			continue
		}
		h := st.Hypotheses[id]
		for _, evID := range r.Evidence {
			if _, ok := st.Evidence[evID]; !ok {
				continue
			}
			if result == inv.ResultRefutes {
				h.ContradictingEvidence = inv.AddUnique(h.ContradictingEvidence, evID)
				continue
			}
			_ = evidence.Link(st, evID, id)
		}
		out.HypothesesTested = append(out.HypothesesTested, id)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
