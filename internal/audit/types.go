package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Investigation lifecycle events
	EventInvestigationStarted EventType = "investigation.started"
	EventTurnProcessed        EventType = "investigation.turn_processed"
	EventTurnFailed           EventType = "investigation.turn_failed"
	EventPhaseTransition      EventType = "investigation.phase_transition"
	EventEscalated            EventType = "investigation.escalated"

	// Recovery events
	EventStateRepaired    EventType = "recovery.state_repaired"
	EventGenerationFailed EventType = "recovery.generation_failed"
	EventParseDegraded    EventType = "recovery.parse_degraded"
	EventLoopDetected     EventType = "recovery.loop_detected"

	// Configuration events
	EventConfigLoaded  EventType = "config.loaded"
	EventConfigChanged EventType = "config.changed"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess  Result = "success"
	ResultFailure  Result = "failure"
	ResultPending  Result = "pending"
	ResultDegraded Result = "degraded"
)

// Event represents a single audit event
type Event struct {
	// Core fields
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	// Investigation position
	Turn  int    `json:"turn,omitempty"`
	Phase string `json:"phase,omitempty"`

	// Details
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	// Error information
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultPending,
		Metadata:  make(map[string]interface{}),
	}
}

// WithCorrelationID sets the correlation ID for event tracking
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithTurn records the turn number and phase the event belongs to
func (e *Event) WithTurn(turn int, phase string) *Event {
	e.Turn = turn
	e.Phase = phase
	return e
}

// WithDescription sets a human-readable description
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithResult sets the result of the event
func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError sets error information
func (e *Event) WithError(err error, code string) *Event {
	if err != nil {
		e.Error = err.Error()
		e.ErrorCode = code
		e.Result = ResultFailure
	}
	return e
}

// WithDuration sets the duration in milliseconds
func (e *Event) WithDuration(duration time.Duration) *Event {
	e.DurationMs = duration.Milliseconds()
	return e
}

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	e.Metadata[key] = value
	return e
}
