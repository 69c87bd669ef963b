package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// stores runs a test against every Store implementation.
func stores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestStore(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
}

// ─── States ───────────────────────────────────────────────────────────────────

func TestStateCRUD(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		if _, err := s.GetState(ctx, "inv-001"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		rec := &StateRecord{
			ID:        "inv-001",
			Data:      []byte(`{"phase":0}`),
			Version:   1,
			UpdatedAt: time.Date(2026, 3, 1, 14, 20, 0, 0, time.UTC),
		}
		if err := s.PutState(ctx, rec); err != nil {
			t.Fatalf("PutState: %v", err)
		}

		got, err := s.GetState(ctx, "inv-001")
		if err != nil {
			t.Fatalf("GetState: %v", err)
		}
		if !bytes.Equal(got.Data, rec.Data) {
			t.Errorf("expected data %s, got %s", rec.Data, got.Data)
		}
		if got.Version != 1 {
			t.Errorf("expected version 1, got %d", got.Version)
		}
		if !got.UpdatedAt.Equal(rec.UpdatedAt) {
			t.Errorf("expected updated_at %s, got %s", rec.UpdatedAt, got.UpdatedAt)
		}

		// Update
		rec.Data = []byte(`{"phase":1}`)
		rec.Version = 2
		rec.Phase = 1
		if err := s.PutState(ctx, rec); err != nil {
			t.Fatalf("PutState update: %v", err)
		}
		got, err = s.GetState(ctx, "inv-001")
		if err != nil {
			t.Fatalf("GetState after update: %v", err)
		}
		if string(got.Data) != `{"phase":1}` || got.Phase != 1 {
			t.Errorf("unexpected record after update: %+v %s", got, got.Data)
		}
	})
}

func TestStateVersionConflict(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		first := &StateRecord{ID: "inv-002", Data: []byte("a"), Version: 1, UpdatedAt: time.Now()}
		if err := s.PutState(ctx, first); err != nil {
			t.Fatalf("PutState: %v", err)
		}

		// A second writer that also loaded "absent" tries to create v1.
		dup := &StateRecord{ID: "inv-002", Data: []byte("b"), Version: 1, UpdatedAt: time.Now()}
		if err := s.PutState(ctx, dup); !errors.Is(err, ErrVersionConflict) {
			t.Fatalf("expected ErrVersionConflict, got %v", err)
		}

		// Skipping a version is also a conflict.
		skip := &StateRecord{ID: "inv-002", Data: []byte("c"), Version: 3, UpdatedAt: time.Now()}
		if err := s.PutState(ctx, skip); !errors.Is(err, ErrVersionConflict) {
			t.Fatalf("expected ErrVersionConflict, got %v", err)
		}

		got, err := s.GetState(ctx, "inv-002")
		if err != nil {
			t.Fatalf("GetState: %v", err)
		}
		if string(got.Data) != "a" {
			t.Errorf("conflicting write must not change stored data, got %q", got.Data)
		}
	})
}

func TestPutStateRejectsZeroVersion(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		err := s.PutState(context.Background(), &StateRecord{ID: "x", Data: []byte("{}")})
		if err == nil {
			t.Fatal("expected error for version 0")
		}
	})
}

func TestListStates(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		for i := 0; i < 5; i++ {
			rec := &StateRecord{
				ID:        fmt.Sprintf("inv-%d", i),
				Data:      []byte("{}"),
				Version:   1,
				Phase:     i,
				UpdatedAt: base.Add(time.Duration(i) * time.Minute),
			}
			if err := s.PutState(ctx, rec); err != nil {
				t.Fatalf("PutState %d: %v", i, err)
			}
		}

		list, err := s.ListStates(ctx, 3, 0)
		if err != nil {
			t.Fatalf("ListStates: %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("expected 3 records, got %d", len(list))
		}
		if list[0].ID != "inv-4" {
			t.Errorf("expected newest first, got %s", list[0].ID)
		}
		if list[0].Data != nil {
			t.Errorf("list should not carry data")
		}

		rest, err := s.ListStates(ctx, 10, 3)
		if err != nil {
			t.Fatalf("ListStates offset: %v", err)
		}
		if len(rest) != 2 {
			t.Errorf("expected 2 records after offset, got %d", len(rest))
		}
	})
}

// ─── Handoffs ─────────────────────────────────────────────────────────────────

func TestHandoffs(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

		for _, id := range []string{"inv-a", "inv-b"} {
			if err := s.PutState(ctx, &StateRecord{ID: id, Data: []byte("{}"), Version: 1, UpdatedAt: now}); err != nil {
				t.Fatalf("PutState: %v", err)
			}
		}

		recs := []*HandoffRecord{
			{InvestigationID: "inv-a", Reason: "iteration limit reached", TargetTeam: "database-team", CreatedAt: now},
			{InvestigationID: "inv-b", Reason: "user requested", TargetTeam: "sre-oncall", CreatedAt: now.Add(time.Minute)},
			{InvestigationID: "inv-a", Reason: "stalled", TargetTeam: "database-team", CreatedAt: now.Add(2 * time.Minute)},
		}
		for _, r := range recs {
			if err := s.AppendHandoff(ctx, r); err != nil {
				t.Fatalf("AppendHandoff: %v", err)
			}
			if r.ID == 0 {
				t.Error("expected ID to be assigned")
			}
		}

		all, err := s.ListHandoffs(ctx, "", 10)
		if err != nil {
			t.Fatalf("ListHandoffs: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 handoffs, got %d", len(all))
		}
		if all[0].Reason != "stalled" {
			t.Errorf("expected newest first, got %q", all[0].Reason)
		}

		forA, err := s.ListHandoffs(ctx, "inv-a", 10)
		if err != nil {
			t.Fatalf("ListHandoffs inv-a: %v", err)
		}
		if len(forA) != 2 {
			t.Errorf("expected 2 handoffs for inv-a, got %d", len(forA))
		}
	})
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := s.PutState(ctx, &StateRecord{ID: "inv-x", Data: []byte(`{"k":1}`), Version: 1, UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("PutState: %v", err)
	}
	_ = s.Close()

	// Migrations must be idempotent on reopen.
	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.GetState(ctx, "inv-x")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if string(got.Data) != `{"k":1}` {
		t.Errorf("unexpected data %s", got.Data)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
