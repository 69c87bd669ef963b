package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/audit"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/db"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/metrics"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/escalation"
	inv "github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/investigation"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/loop"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/memory"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/parser"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/prompt"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/recovery"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/router"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/updater"
)

// User-facing answers for turns that produced no generation output.
const (
	answerUnavailable = "The analysis service is not responding right now. Your message was saved; please try again in a moment."
	answerEscalated   = "The analysis service cannot be used for this investigation, so it has been handed off to a human responder."
	answerCanceled    = "The request was canceled before an answer was generated. Your message was saved."
	answerHandedOff   = "The analysis service is not responding right now. As requested, the investigation has been handed off to a human responder."
)

// Escalation trigger labels for metrics.
const (
	triggerGeneration = "generation_failed"
	triggerLoop       = "control_loop"
)

// turn carries the staged work of one ProcessTurn call.
type turn struct {
	id       string
	message  string
	start    time.Time
	created  bool
	handoff  *escalation.Handoff
	changes  []TurnEvent
	degraded bool
	// escalationAsked records an explicit request in the user message so a
	// failed generation does not lose it with the staged clone.
	escalationAsked bool
}

// ProcessTurn handles one user message for investigationID. An empty id
// starts a new investigation. Calls for the same id are serialized; calls
// for different ids run concurrently.
//
// Generation failures that exhaust their retry budget produce a degraded
// result; terminal failures escalate. Both persist the user message with an
// error turn and return a nil error. Cancellation persists the same and
// returns the context error.
func (c *Controller) ProcessTurn(ctx context.Context, investigationID, userMessage string) (*TurnResult, error) {
	userMessage = strings.TrimSpace(userMessage)
	if userMessage == "" {
		return nil, ErrEmptyMessage
	}
	if investigationID == "" {
		investigationID = uuid.NewString()
	}

	release, err := c.locks.acquire(ctx, investigationID)
	if err != nil {
		return nil, fmt.Errorf("wait for investigation %s: %w", investigationID, err)
	}
	defer release()

	metrics.ActiveTurns.Inc()
	defer metrics.ActiveTurns.Dec()

	t := &turn{id: investigationID, message: userMessage, start: c.clock.Now()}

	original, created, err := c.states.Load(ctx, investigationID)
	if err != nil {
		return nil, err
	}
	t.created = created
	if created {
		metrics.InvestigationsStarted.Inc()
		c.auditLog.Log(ctx, audit.NewEvent(audit.EventInvestigationStarted).
			WithCorrelationID(investigationID).
			WithDescription("Started investigation").
			WithResult(audit.ResultPending))
	}

	now := c.clock.Now().UTC()
	if fixes := c.recovery.Repair(original, now); len(fixes) > 0 {
		descs := make([]string, len(fixes))
		for i, f := range fixes {
			descs[i] = f.String()
		}
		c.auditLog.Log(ctx, audit.NewEvent(audit.EventStateRepaired).
			WithCorrelationID(investigationID).
			WithDescription(fmt.Sprintf("Repaired %d invariant violations", len(fixes))).
			WithMetadata("corrections", descs).
			WithResult(audit.ResultSuccess))
	}

	st, err := inv.Clone(original)
	if err != nil {
		return nil, fmt.Errorf("stage investigation %s: %w", investigationID, err)
	}

	// ─── Pre-generation ───

	sig := c.classifier.Classify(userMessage)
	t.escalationAsked = sig.EscalationRequested
	st.AppendTurn(inv.RoleUser, userMessage, now)
	c.updater.ApplySignals(st, sig, now)

	c.detectLoop(ctx, t, st)
	c.checkEscalation(t, st, now)

	decision := c.router.Route(st, sig)
	mem := memory.Build(st, c.opts.Memory)

	// ─── Generation ───

	var raw string
	tier := decision.Tier
	genErr := c.recovery.Execute(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			tier = router.Degrade(tier)
		}
		d := decision
		d.Tier = tier
		text := c.assembler.Build(prompt.Request{State: st, Decision: d, Memory: mem, UserMessage: userMessage})

		actx, cancel := context.WithTimeout(ctx, c.opts.GenerationTimeout)
		defer cancel()
		out, err := c.generator.Generate(actx, text, string(d.Shape))
		if err != nil {
			c.logger.Warn("generation attempt failed",
				zap.String("investigation_id", investigationID),
				zap.Int("turn", len(st.Turns)),
				zap.Int("attempt", attempt),
				zap.String("class", string(recovery.Classify(err))),
				zap.Error(err),
			)
			return err
		}
		raw = out
		return nil
	})
	if genErr != nil {
		return c.failTurn(ctx, t, original, genErr)
	}

	// ─── Update ───

	now = c.clock.Now().UTC()
	resp := parser.Parse(raw, decision.Shape)
	if resp.Degraded {
		t.degraded = true
		metrics.ParseFailures.WithLabelValues(string(decision.Shape)).Inc()
		c.logger.Info("generation output degraded to raw text",
			zap.String("investigation_id", investigationID),
			zap.Int("turn", len(st.Turns)+1),
			zap.String("shape", string(decision.Shape)),
			zap.Error(resp.Err),
		)
		c.auditLog.Log(ctx, audit.NewEvent(audit.EventParseDegraded).
			WithCorrelationID(investigationID).
			WithTurn(len(st.Turns)+1, st.Phase.String()).
			WithError(resp.Err, string(decision.Shape)).
			WithResult(audit.ResultDegraded))
	}
	out := c.updater.Apply(st, userMessage, resp, now)

	c.advance(t, st, resp, out)
	c.checkEscalation(t, st, now)

	// ─── Commit ───

	if err := c.states.Save(ctx, st); err != nil {
		if errors.Is(err, db.ErrVersionConflict) {
			metrics.StateSaveConflicts.Inc()
		}
		if ctx.Err() != nil {
			return c.failTurn(ctx, t, original, ctx.Err())
		}
		c.recordFailure(ctx, t, st.Phase, err)
		return nil, err
	}
	c.persistHandoff(ctx, t, st)

	return c.finish(ctx, t, st, out.Turn), nil
}

// detectLoop breaks a repeated next-step signal by forcing the phase
// forward and flagging the investigation for escalation.
func (c *Controller) detectLoop(ctx context.Context, t *turn, st *inv.State) {
	if st.Escalated {
		return
	}
	signal, ok := c.recovery.DetectLoop(st)
	if !ok {
		return
	}
	metrics.LoopsDetected.Inc()
	reason := fmt.Sprintf("control loop: next step %q repeated %d times", signal, c.recovery.Config().LoopWindow)

	from := st.Phase
	if target, ok := c.phases.RecommendNextPhase(st); ok {
		if err := c.phases.ForceTransition(st, target, reason); err != nil {
			c.logger.Warn("forced transition failed",
				zap.String("investigation_id", st.ID),
				zap.Error(err),
			)
		} else {
			c.recordTransition(t, from, st.Phase, true)
		}
	}
	if st.EscalationReason == "" {
		st.EscalationReason = reason
	}

	c.logger.Warn("control loop detected",
		zap.String("investigation_id", st.ID),
		zap.Int("turn", len(st.Turns)),
		zap.String("next_step", signal),
		zap.String("phase", st.Phase.String()),
	)
	c.auditLog.Log(ctx, audit.NewEvent(audit.EventLoopDetected).
		WithCorrelationID(st.ID).
		WithTurn(len(st.Turns), st.Phase.String()).
		WithDescription(reason).
		WithResult(audit.ResultDegraded))
	t.changes = append(t.changes, TurnEvent{Type: EventLoopDetected, Phase: st.Phase.String(), From: from.String(), Reason: reason})
}

// checkEscalation escalates st when any condition holds.
func (c *Controller) checkEscalation(t *turn, st *inv.State, now time.Time) {
	reason, ok := c.escalation.ShouldEscalate(st)
	if !ok {
		return
	}
	st.EscalationReason = reason
	c.escalate(t, st, now)
}

// escalate marks st escalated with its recorded reason and stages the handoff.
func (c *Controller) escalate(t *turn, st *inv.State, now time.Time) {
	st.Escalated = true
	h := c.escalation.BuildHandoff(st, now)
	t.handoff = &h
	metrics.Escalations.WithLabelValues(trigger(st.EscalationReason)).Inc()
	t.changes = append(t.changes, TurnEvent{Type: EventEscalated, Phase: st.Phase.String(), Reason: st.EscalationReason})
	c.logger.Info("investigation escalated",
		zap.String("investigation_id", st.ID),
		zap.String("reason", st.EscalationReason),
		zap.String("team", h.TargetTeam),
	)
}

// advance moves the analysis loop after a completed step, then takes at most
// one phase transition whose exit criteria hold.
func (c *Controller) advance(t *turn, st *inv.State, resp *parser.Response, out updater.Outcome) {
	if st.Phase == inv.PhaseRootCauseAnalysis && st.LoopStep != inv.StepNone && (out.StepComplete || out.RootCauseSet) {
		res := loop.StepResult{
			Summary:       summarize(resp.Answer),
			KeyInsight:    resp.KeyInsight,
			Continue:      out.ContinueTesting,
			Confidence:    resp.Confidence,
			HypothesisIDs: append(append([]string(nil), out.HypothesesAdded...), out.HypothesesTested...),
			EvidenceIDs:   out.EvidenceAdded,
		}
		before := st.CurrentIteration
		if _, err := c.loop.AdvanceStep(st, res); err != nil {
			c.logger.Warn("loop step not advanced",
				zap.String("investigation_id", st.ID),
				zap.Error(err),
			)
		}
		if st.CurrentIteration > before {
			metrics.LoopIterations.Inc()
		}
	}

	target, ok := c.phases.RecommendNextPhase(st)
	if !ok {
		return
	}
	// Mitigation is left only once it worked or the model says it is done.
	if st.Phase == inv.PhaseMitigation && !st.Mitigated && !out.PhaseComplete {
		return
	}
	if d := c.phases.CanTransition(st, target); !d.Allowed {
		return
	}
	from := st.Phase
	if err := c.phases.Transition(st, target); err != nil {
		c.logger.Warn("phase transition failed",
			zap.String("investigation_id", st.ID),
			zap.Error(err),
		)
		return
	}
	if target == inv.PhaseRootCauseAnalysis {
		metrics.LoopIterations.Inc()
	}
	c.recordTransition(t, from, target, false)
}

func (c *Controller) recordTransition(t *turn, from, to inv.Phase, forced bool) {
	metrics.PhaseTransitions.WithLabelValues(from.String(), to.String(), fmt.Sprint(forced)).Inc()
	t.changes = append(t.changes, TurnEvent{Type: EventPhaseChanged, Phase: to.String(), From: from.String()})
}

// ─── Failure paths ────────────────────────────────────────────────────────────

// failTurn persists original plus the user message and an error turn with a
// detached context. Nothing staged on the clone is kept except the user's
// escalation request and, for terminal failures, the escalation. Outside of
// cancellation a requested escalation is carried out immediately.
func (c *Controller) failTurn(ctx context.Context, t *turn, original *inv.State, genErr error) (*TurnResult, error) {
	class := recovery.Classify(genErr)
	saveCtx := context.WithoutCancel(ctx)
	now := c.clock.Now().UTC()

	// Escalations and transitions staged on the clone are discarded with it.
	t.handoff = nil
	t.changes = nil

	st := original
	st.AppendTurn(inv.RoleUser, t.message, now)
	errTurn := st.AppendTurn(inv.RoleAssistant, answerUnavailable, now)
	errTurn.Degraded = true
	errTurn.Error = genErr.Error()
	t.degraded = true

	c.logger.Error("generation failed",
		zap.String("investigation_id", t.id),
		zap.Int("turn", errTurn.Number),
		zap.String("class", string(class)),
		zap.Error(genErr),
	)
	c.auditLog.Log(saveCtx, audit.NewEvent(audit.EventGenerationFailed).
		WithCorrelationID(t.id).
		WithTurn(errTurn.Number, st.Phase.String()).
		WithError(genErr, string(class)).
		WithResult(audit.ResultFailure))

	if t.escalationAsked {
		st.EscalationRequested = true
	}

	switch class {
	case recovery.ClassCanceled:
		errTurn.Content = answerCanceled
	case recovery.ClassTerminal:
		if !st.Escalated {
			errTurn.Content = answerEscalated
			st.EscalationReason = "generation failed: " + genErr.Error()
			c.escalate(t, st, now)
		}
	default:
		if t.escalationAsked && !st.Escalated {
			c.checkEscalation(t, st, now)
			if st.Escalated {
				errTurn.Content = answerHandedOff
			}
		}
	}

	if err := c.states.Save(saveCtx, st); err != nil {
		if errors.Is(err, db.ErrVersionConflict) {
			metrics.StateSaveConflicts.Inc()
		}
		c.recordFailure(saveCtx, t, st.Phase, err)
		return nil, fmt.Errorf("save investigation %s after generation failure: %w", t.id, errors.Join(genErr, err))
	}
	c.persistHandoff(saveCtx, t, st)

	if class == recovery.ClassCanceled {
		c.recordFailure(saveCtx, t, st.Phase, genErr)
		return nil, fmt.Errorf("process turn %s: %w", t.id, genErr)
	}
	return c.finish(saveCtx, t, st, errTurn), nil
}

// recordFailure logs a turn that returns an error to the caller.
func (c *Controller) recordFailure(ctx context.Context, t *turn, p inv.Phase, err error) {
	metrics.TurnsTotal.WithLabelValues(p.String(), "failed").Inc()
	c.auditLog.Log(ctx, audit.NewEvent(audit.EventTurnFailed).
		WithCorrelationID(t.id).
		WithError(err, string(recovery.Classify(err))).
		WithDuration(c.clock.Since(t.start)).
		WithResult(audit.ResultFailure))
	c.publish(TurnEvent{
		InvestigationID: t.id,
		Type:            EventTurnFailed,
		Phase:           p.String(),
		Reason:          err.Error(),
		Timestamp:       c.clock.Now().UTC(),
	})
}

// ─── Commit helpers ───────────────────────────────────────────────────────────

// persistHandoff appends the staged handoff once state is saved. A failure
// is logged; the escalation itself is already committed with the state.
func (c *Controller) persistHandoff(ctx context.Context, t *turn, st *inv.State) {
	if t.handoff == nil {
		return
	}
	payload, err := json.Marshal(t.handoff)
	if err == nil {
		err = c.handoffs.AppendHandoff(ctx, &db.HandoffRecord{
			InvestigationID: st.ID,
			Reason:          t.handoff.Reason,
			TargetTeam:      t.handoff.TargetTeam,
			Severity:        t.handoff.Severity,
			Payload:         string(payload),
			CreatedAt:       t.handoff.CreatedAt,
		})
	}
	if err != nil {
		c.logger.Error("failed to persist handoff",
			zap.String("investigation_id", st.ID),
			zap.Error(err),
		)
		return
	}
	c.auditLog.Log(ctx, audit.NewEvent(audit.EventEscalated).
		WithCorrelationID(st.ID).
		WithTurn(len(st.Turns), st.Phase.String()).
		WithDescription(t.handoff.Reason).
		WithMetadata("target_team", t.handoff.TargetTeam).
		WithResult(audit.ResultSuccess))
}

// finish records metrics, audits the turn, publishes events and builds the
// result from committed state.
func (c *Controller) finish(ctx context.Context, t *turn, st *inv.State, last *inv.Turn) *TurnResult {
	elapsed := c.clock.Since(t.start)
	outcome := "ok"
	switch {
	case t.handoff != nil:
		outcome = "escalated"
	case t.degraded:
		outcome = "degraded"
	}
	metrics.TurnsTotal.WithLabelValues(st.Phase.String(), outcome).Inc()
	metrics.TurnDuration.WithLabelValues(st.Phase.String()).Observe(elapsed.Seconds())

	result := audit.ResultSuccess
	if t.degraded {
		result = audit.ResultDegraded
	}
	c.auditLog.Log(ctx, audit.NewEvent(audit.EventTurnProcessed).
		WithCorrelationID(st.ID).
		WithTurn(last.Number, st.Phase.String()).
		WithDuration(elapsed).
		WithMetadata("outcome", outcome).
		WithResult(result))

	for _, ch := range t.changes {
		if ch.Type == EventPhaseChanged {
			c.auditLog.Log(ctx, audit.NewEvent(audit.EventPhaseTransition).
				WithCorrelationID(st.ID).
				WithTurn(last.Number, ch.Phase).
				WithDescription(fmt.Sprintf("%s → %s", ch.From, ch.Phase)).
				WithResult(audit.ResultSuccess))
		}
	}

	ts := c.clock.Now().UTC()
	for _, ch := range t.changes {
		ch.InvestigationID = st.ID
		ch.Turn = last.Number
		ch.Timestamp = ts
		c.publish(ch)
	}
	c.publish(TurnEvent{InvestigationID: st.ID, Type: EventTurnCompleted, Turn: last.Number, Phase: st.Phase.String(), Timestamp: ts})

	c.logger.Debug("turn processed",
		zap.String("investigation_id", st.ID),
		zap.Int("turn", last.Number),
		zap.String("phase", st.Phase.String()),
		zap.String("outcome", outcome),
		zap.Duration("elapsed", elapsed),
	)

	res := summarizeState(st)
	res.Response = last.Content
	res.Turn = last.Number
	res.Created = t.created
	res.Degraded = t.degraded
	res.Handoff = t.handoff
	return res
}

func summarizeState(st *inv.State) *TurnResult {
	res := &TurnResult{
		InvestigationID:  st.ID,
		Phase:            int(st.Phase),
		PhaseName:        st.Phase.String(),
		LoopStep:         string(st.LoopStep),
		Iteration:        st.CurrentIteration,
		Mode:             string(st.Mode),
		Urgency:          string(st.Urgency),
		Coverage:         st.Coverage,
		PendingRequests:  append([]inv.EvidenceRequest(nil), st.PendingRequests...),
		Escalated:        st.Escalated,
		EscalationReason: st.EscalationReason,
		Version:          st.Version,
	}
	for _, ev := range st.SortedEvidence() {
		res.Evidence = append(res.Evidence, EvidenceSummary{ID: ev.ID, Label: ev.Label, Category: string(ev.Category)})
	}
	for _, h := range st.SortedHypotheses() {
		res.Hypotheses = append(res.Hypotheses, HypothesisSummary{
			ID:         h.ID,
			Statement:  h.Statement,
			Category:   string(h.Category),
			Likelihood: h.Likelihood,
			Tested:     h.Tested,
			TestResult: string(h.TestResult),
		})
	}
	return res
}

// summarize keeps the first line of an answer, capped at 200 runes.
func summarize(answer string) string {
	s := strings.TrimSpace(answer)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > 200 {
		s = string(r[:200])
	}
	return s
}

// trigger maps an escalation reason to its metrics label.
func trigger(reason string) string {
	switch {
	case strings.HasPrefix(reason, loop.IterationLimitReason):
		return "iteration_limit"
	case strings.HasPrefix(reason, escalation.ReasonBlockedEvidence):
		return "blocked_evidence"
	case strings.HasPrefix(reason, escalation.ReasonMitigationFailed):
		return "mitigation_failed"
	case strings.HasPrefix(reason, escalation.ReasonUserRequested):
		return "user_requested"
	case strings.HasPrefix(reason, escalation.ReasonStalled):
		return "stalled"
	case strings.HasPrefix(reason, "generation failed"):
		return triggerGeneration
	case strings.HasPrefix(reason, "control loop"):
		return triggerLoop
	}
	return "other"
}

// ─── Queries ──────────────────────────────────────────────────────────────────

// State returns the persisted state of an investigation, or db.ErrNotFound.
func (c *Controller) State(ctx context.Context, investigationID string) (*inv.State, error) {
	st, created, err := c.states.Load(ctx, investigationID)
	if err != nil {
		return nil, err
	}
	if created {
		return nil, fmt.Errorf("investigation %s: %w", investigationID, db.ErrNotFound)
	}
	return st, nil
}

// InvestigationSummary is one stored investigation as listed to the caller.
type InvestigationSummary struct {
	ID        string    `json:"id" yaml:"id"`
	Phase     int       `json:"phase" yaml:"phase"`
	PhaseName string    `json:"phase_name" yaml:"phase_name"`
	Version   int64     `json:"version" yaml:"version"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// List returns up to limit stored investigations, most recently updated
// first, skipping the first offset.
func (c *Controller) List(ctx context.Context, limit, offset int) ([]InvestigationSummary, error) {
	recs, err := c.states.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]InvestigationSummary, 0, len(recs))
	for _, r := range recs {
		out = append(out, InvestigationSummary{
			ID:        r.ID,
			Phase:     r.Phase,
			PhaseName: inv.Phase(r.Phase).String(),
			Version:   r.Version,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return out, nil
}

// Handoffs lists persisted handoffs, newest first. An empty id lists all.
func (c *Controller) Handoffs(ctx context.Context, investigationID string, limit int) ([]*db.HandoffRecord, error) {
	return c.handoffs.ListHandoffs(ctx, investigationID, limit)
}
