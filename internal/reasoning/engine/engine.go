// Package engine provides the orchestration controller, the per-turn
// coordinator of a troubleshooting investigation.
//
// Each user message is one turn:
//
//	load → repair → classify → escalation pre-check → loop detection →
//	route → assemble prompt → generate (with retries) → parse → update →
//	advance loop and phase → escalation post-check → save → respond
//
// Responsibilities:
//   - Serialize turns of the same investigation; let distinct ones run in parallel
//   - Stage every mutation on a clone and commit it only after generation returns
//   - Persist the user turn and an error turn when generation fails or is canceled
//   - Escalate to a human team and persist the handoff
//   - Stream turn events to subscribers
//   - Record metrics and audit events for every turn
//
// Suspension points are limited to the state store and the generation call.
// Everything between them is synchronous and side-effect free apart from the
// staged state.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/audit"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/config"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/db"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/llm"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/escalation"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/evidence"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/intent"
	inv "github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/investigation"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/loop"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/memory"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/phase"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/prompt"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/recovery"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/router"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/updater"
)

// ErrEmptyMessage is returned for a blank user message.
var ErrEmptyMessage = errors.New("user message is empty")

// ─── Options ──────────────────────────────────────────────────────────────────

// Options collects the thresholds of every component the controller drives.
type Options struct {
	Phase      phase.Config
	Loop       loop.Config
	Escalation escalation.Config
	Memory     memory.Config
	Recovery   recovery.Config
	Router     router.Config
	Intent     intent.Config
	Prompt     prompt.Config

	// GenerationTimeout bounds each generation attempt.
	GenerationTimeout time.Duration
	// Provider labels generation logs.
	Provider string
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		Phase:             phase.DefaultConfig(),
		Loop:              loop.DefaultConfig(),
		Escalation:        escalation.DefaultConfig(),
		Memory:            memory.DefaultConfig(),
		Recovery:          recovery.DefaultConfig(),
		Router:            router.DefaultConfig(),
		Intent:            intent.DefaultConfig(),
		Prompt:            prompt.DefaultConfig(),
		GenerationTimeout: 30 * time.Second,
		Provider:          "none",
	}
}

// OptionsFromConfig maps the orchestrator section of cfg onto component
// thresholds. Keyword tables and team rules keep their defaults.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	if cfg == nil {
		return opts
	}
	o := cfg.Orchestrator

	opts.Loop.MaxIterations = o.MaxLoopIterations
	opts.Loop.AnchoringThreshold = o.AnchoringThreshold
	opts.Loop.StallWindow = o.StallWindow

	opts.Escalation.MaxIterations = o.MaxLoopIterations
	opts.Escalation.BlockedWindow = o.BlockedEvidenceWindow
	opts.Escalation.BlockedThreshold = o.BlockedEvidenceThreshold
	opts.Escalation.MitigationAttemptLimit = o.MitigationAttemptLimit
	opts.Escalation.StallWindow = o.StallWindow

	opts.Memory.HotIterations = o.HotIterations
	opts.Memory.WarmIterations = o.WarmIterations

	opts.Recovery.MaxTransientRetries = o.MaxTransientRetries
	opts.Recovery.MaxUnknownRetries = o.MaxUnknownRetries
	opts.Recovery.BackoffBase = time.Duration(o.BackoffBaseMs) * time.Millisecond
	opts.Recovery.BackoffMax = time.Duration(o.BackoffMaxMs) * time.Millisecond
	opts.Recovery.LoopWindow = o.LoopDetectionWindow

	opts.Router.AnchoringThreshold = o.AnchoringThreshold

	if o.GenerationTimeoutSeconds > 0 {
		opts.GenerationTimeout = time.Duration(o.GenerationTimeoutSeconds) * time.Second
	}
	if cfg.LLM.Provider != "" {
		opts.Provider = cfg.LLM.Provider
	}
	return opts
}

// ─── Results and events ───────────────────────────────────────────────────────

// EvidenceSummary is one evidence item as reported to the caller.
type EvidenceSummary struct {
	ID       string `json:"id" yaml:"id"`
	Label    string `json:"label" yaml:"label"`
	Category string `json:"category" yaml:"category"`
}

// HypothesisSummary is one hypothesis as reported to the caller.
type HypothesisSummary struct {
	ID         string  `json:"id" yaml:"id"`
	Statement  string  `json:"statement" yaml:"statement"`
	Category   string  `json:"category" yaml:"category"`
	Likelihood float64 `json:"likelihood" yaml:"likelihood"`
	Tested     bool    `json:"tested" yaml:"tested"`
	TestResult string  `json:"test_result,omitempty" yaml:"test_result,omitempty"`
}

// TurnResult is what ProcessTurn returns to the caller.
type TurnResult struct {
	InvestigationID string `json:"investigation_id" yaml:"investigation_id"`
	Response        string `json:"response" yaml:"response"`
	Turn            int    `json:"turn" yaml:"turn"`
	Created         bool   `json:"created" yaml:"created"`

	Phase     int    `json:"phase" yaml:"phase"`
	PhaseName string `json:"phase_name" yaml:"phase_name"`
	LoopStep  string `json:"loop_step,omitempty" yaml:"loop_step,omitempty"`
	Iteration int    `json:"iteration" yaml:"iteration"`
	Mode      string `json:"mode" yaml:"mode"`
	Urgency   string `json:"urgency" yaml:"urgency"`

	Evidence        []EvidenceSummary     `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	Hypotheses      []HypothesisSummary   `json:"hypotheses,omitempty" yaml:"hypotheses,omitempty"`
	Coverage        float64               `json:"coverage" yaml:"coverage"`
	PendingRequests []inv.EvidenceRequest `json:"pending_requests,omitempty" yaml:"pending_requests,omitempty"`

	Escalated        bool                `json:"escalated" yaml:"escalated"`
	EscalationReason string              `json:"escalation_reason,omitempty" yaml:"escalation_reason,omitempty"`
	Handoff          *escalation.Handoff `json:"handoff,omitempty" yaml:"handoff,omitempty"`

	// Degraded marks an unstructured or fallback response.
	Degraded bool  `json:"degraded" yaml:"degraded"`
	Version  int64 `json:"version" yaml:"version"`
}

// TurnEventType names what a TurnEvent reports.
type TurnEventType string

const (
	EventPhaseChanged  TurnEventType = "phase_changed"
	EventLoopDetected  TurnEventType = "loop_detected"
	EventEscalated     TurnEventType = "escalated"
	EventTurnCompleted TurnEventType = "turn_completed"
	EventTurnFailed    TurnEventType = "turn_failed"
)

// TurnEvent is published to subscribers while a turn is processed. Events
// are published only after the turn's state is committed.
type TurnEvent struct {
	InvestigationID string        `json:"investigation_id"`
	Type            TurnEventType `json:"type"`
	Turn            int           `json:"turn"`
	Phase           string        `json:"phase"`
	From            string        `json:"from,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
}

// Subscriber receives TurnEvents for one investigation. Events that do not
// fit in the buffer are dropped.
type Subscriber struct {
	Ch <-chan TurnEvent

	id string
	ch chan TurnEvent
}

// ─── Controller ───────────────────────────────────────────────────────────────

// Controller processes turns. It is safe for concurrent use.
type Controller struct {
	opts      Options
	states    *inv.Manager
	handoffs  db.HandoffStore
	generator llm.Generator
	clock     clockwork.Clock
	logger    *zap.Logger
	auditLog  audit.Logger

	classifier *intent.Classifier
	phases     *phase.Engine
	loop       *loop.Controller
	router     *router.Router
	assembler  *prompt.Assembler
	updater    *updater.Updater
	escalation *escalation.Manager
	recovery   *recovery.Handler

	locks lockRegistry

	// Subscribers (investigation ID → list of subscribers)
	subsMu      sync.Mutex
	subscribers map[string][]*Subscriber
}

// NewController wires a controller. A nil clock uses the real clock; nil
// logger and audit logger discard their output.
func NewController(
	store db.Store,
	generator llm.Generator,
	opts Options,
	clock clockwork.Clock,
	logger *zap.Logger,
	auditLog audit.Logger,
) *Controller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLog == nil {
		auditLog = audit.NewNop()
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = DefaultOptions().GenerationTimeout
	}
	logger = logger.Named("engine")
	classifier := intent.NewClassifier(opts.Intent)

	return &Controller{
		opts:        opts,
		states:      inv.NewManager(store, clock, logger),
		handoffs:    store,
		generator:   generator,
		clock:       clock,
		logger:      logger,
		auditLog:    auditLog,
		classifier:  classifier,
		phases:      phase.NewEngine(opts.Phase, clock),
		loop:        loop.NewController(opts.Loop, clock, logger),
		router:      router.New(opts.Router),
		assembler:   prompt.NewAssembler(opts.Prompt),
		updater:     updater.New(evidence.NewTracker(nil), logger).WithAnchoringThreshold(opts.Router.AnchoringThreshold),
		escalation:  escalation.NewManager(opts.Escalation, classifier),
		recovery:    recovery.NewHandler(opts.Recovery, clock, logger),
		locks:       lockRegistry{locks: make(map[string]*lockEntry)},
		subscribers: make(map[string][]*Subscriber),
	}
}

// Subscribe registers a subscriber for events of one investigation. Call
// Unsubscribe to release it.
func (c *Controller) Subscribe(investigationID string) *Subscriber {
	ch := make(chan TurnEvent, 64)
	sub := &Subscriber{Ch: ch, id: investigationID, ch: ch}
	c.subsMu.Lock()
	c.subscribers[investigationID] = append(c.subscribers[investigationID], sub)
	c.subsMu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its channel. Repeated calls are no-ops.
func (c *Controller) Unsubscribe(sub *Subscriber) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	subs := c.subscribers[sub.id]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i], subs[i+1:]...)
			close(sub.ch)
			break
		}
	}
	if len(subs) == 0 {
		delete(c.subscribers, sub.id)
	} else {
		c.subscribers[sub.id] = subs
	}
}

// publish sends an event to all subscribers of the given investigation
// without blocking.
func (c *Controller) publish(ev TurnEvent) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, s := range c.subscribers[ev.InvestigationID] {
		select {
		case s.ch <- ev:
		default:
		}
	}
}

// ─── Per-investigation locks ──────────────────────────────────────────────────

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// lockRegistry hands out one weighted semaphore per investigation id.
// Entries are dropped once no caller holds or waits on them.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// acquire blocks until the lock for id is held or ctx is done. Waiting
// callers queue in arrival order.
func (r *lockRegistry) acquire(ctx context.Context, id string) (release func(), err error) {
	r.mu.Lock()
	e, ok := r.locks[id]
	if !ok {
		e = &lockEntry{sem: semaphore.NewWeighted(1)}
		r.locks[id] = e
	}
	e.refs++
	r.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		r.drop(id, e)
		return nil, err
	}
	return func() {
		e.sem.Release(1)
		r.drop(id, e)
	}, nil
}

func (r *lockRegistry) drop(id string, e *lockEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(r.locks, id)
	}
}

// held reports how many ids currently have a lock entry.
func (r *lockRegistry) held() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
