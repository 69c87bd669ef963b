package investigation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/db"
)

// Manager loads and persists investigation state through a db.StateStore.
type Manager struct {
	store  db.StateStore
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewManager creates a state manager. A nil clock uses the real clock.
func NewManager(store db.StateStore, clock clockwork.Clock, logger *zap.Logger) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, clock: clock, logger: logger.Named("state")}
}

// Load returns the persisted state for id. When none exists a fresh state is
// returned and created is true; nothing is written until Save.
func (m *Manager) Load(ctx context.Context, id string) (st *State, created bool, err error) {
	rec, err := m.store.GetState(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return New(id, m.clock.Now()), true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load investigation %s: %w", id, err)
	}

	st, err = Unmarshal(rec.Data)
	if err != nil {
		return nil, false, fmt.Errorf("load investigation %s: %w", id, err)
	}
	if st.Version != rec.Version {
		m.logger.Warn("state blob version differs from record version",
			zap.String("investigation_id", id),
			zap.Int64("blob_version", st.Version),
			zap.Int64("record_version", rec.Version),
		)
		st.Version = rec.Version
	}
	return st, false, nil
}

// Save stamps UpdatedAt, bumps Version and writes st in one transaction.
// On failure st is restored to its pre-call version and timestamp, and the
// stored record is unchanged. A concurrent writer yields db.ErrVersionConflict.
func (m *Manager) Save(ctx context.Context, st *State) error {
	prevVersion, prevUpdated := st.Version, st.UpdatedAt

	st.Version++
	st.UpdatedAt = m.clock.Now().UTC()

	data, err := Marshal(st)
	if err != nil {
		st.Version, st.UpdatedAt = prevVersion, prevUpdated
		return err
	}

	rec := &db.StateRecord{
		ID:        st.ID,
		Data:      data,
		Version:   st.Version,
		Phase:     int(st.Phase),
		UpdatedAt: st.UpdatedAt,
	}
	if err := m.store.PutState(ctx, rec); err != nil {
		st.Version, st.UpdatedAt = prevVersion, prevUpdated
		return fmt.Errorf("save investigation %s: %w", st.ID, err)
	}

	m.logger.Debug("state saved",
		zap.String("investigation_id", st.ID),
		zap.Int64("version", st.Version),
		zap.Stringer("phase", st.Phase),
	)
	return nil
}

// List returns stored investigation summaries, most recently updated first.
// Data is not populated.
func (m *Manager) List(ctx context.Context, limit, offset int) ([]*db.StateRecord, error) {
	recs, err := m.store.ListStates(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list investigations: %w", err)
	}
	return recs, nil
}
