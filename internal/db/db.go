package db

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when a state write was based on a stale
	// version. The stored record is left untouched.
	ErrVersionConflict = errors.New("state version conflict")
)

// Store is the persistence interface for the orchestration engine.
type Store interface {
	StateStore
	HandoffStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Investigation state store ────────────────────────────────────────────────

// StateRecord is one investigation's serialized state. Data is opaque to the
// store; Phase and UpdatedAt are denormalized for listing.
type StateRecord struct {
	ID        string    `json:"id"`
	Data      []byte    `json:"-"`
	Version   int64     `json:"version"`
	Phase     int       `json:"phase"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StateStore persists investigation state blobs.
type StateStore interface {
	// GetState retrieves a state record by ID. Returns ErrNotFound when absent.
	GetState(ctx context.Context, id string) (*StateRecord, error)

	// PutState writes rec atomically. rec.Version must be exactly one more
	// than the stored version (1 for a new record), otherwise
	// ErrVersionConflict is returned and nothing is written.
	PutState(ctx context.Context, rec *StateRecord) error

	// ListStates returns state summaries (without Data), most recently updated first.
	ListStates(ctx context.Context, limit, offset int) ([]*StateRecord, error)
}

// ─── Handoff store ────────────────────────────────────────────────────────────

// HandoffRecord is a persisted escalation handoff.
type HandoffRecord struct {
	ID              int64     `json:"id"`
	InvestigationID string    `json:"investigation_id"`
	Reason          string    `json:"reason"`
	TargetTeam      string    `json:"target_team"`
	Severity        string    `json:"severity"`
	Payload         string    `json:"payload"` // JSON blob
	CreatedAt       time.Time `json:"created_at"`
}

// HandoffStore persists escalation handoffs for on-call pickup.
type HandoffStore interface {
	// AppendHandoff stores a handoff. rec.ID is set on success.
	AppendHandoff(ctx context.Context, rec *HandoffRecord) error

	// ListHandoffs returns handoffs newest first. An empty investigationID
	// lists handoffs for every investigation.
	ListHandoffs(ctx context.Context, investigationID string, limit int) ([]*HandoffRecord, error)
}
