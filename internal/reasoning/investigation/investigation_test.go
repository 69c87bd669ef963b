package investigation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/db"
)

var t0 = time.Date(2026, 3, 14, 14, 20, 0, 0, time.UTC)

// sampleState builds a state that exercises every field.
func sampleState() *State {
	st := New("inv-sample", t0)
	st.Mode = ModeInvestigator
	st.Urgency = UrgencyCritical
	st.ProblemStatement = "API returns 500 errors"
	st.Frame = &AnomalyFrame{
		Statement:          "checkout API failing since deploy",
		AffectedComponents: []string{"api", "postgres"},
		Scope:              "all regions",
		Severity:           "sev1",
		Confidence:         0.7,
		UpdatedAt:          t0,
		Revisions:          []FrameRevision{{Old: "API failing", New: "checkout API failing since deploy", At: t0}},
	}
	ev := st.NextEvidenceID()
	st.Evidence[ev] = &EvidenceItem{ID: ev, Label: "deploy time", Category: EvidenceTimeline, CollectedAt: t0, RelatedHypotheses: []string{"hyp-001"}}
	h := st.NextHypothesisID()
	st.Hypotheses[h] = &Hypothesis{ID: h, Statement: "bad deploy", Category: HypothesisDeployment, Likelihood: 0.1 + 0.2, Tested: true, TestResult: ResultSupports, TestCount: 1, CreatedAt: t0}
	st.Counter(HypothesisDeployment).Tested = 1
	st.PendingRequests = []EvidenceRequest{{Label: "error logs", Category: EvidenceSymptoms}}
	st.AppendTurn(RoleUser, "API down", t0)
	turn := st.AppendTurn(RoleAssistant, "Looking", t0)
	turn.Payload = json.RawMessage(`{"answer": "Looking",  "urgency":"critical"}`)
	turn.NextStep = "collect logs"

	st.PhaseHistory[0].EndedAt = &t0
	st.PhaseHistory = append(st.PhaseHistory, NewExecution(PhaseRootCauseAnalysis, t0))
	st.Phase = PhaseRootCauseAnalysis
	st.LoopStep = StepScan
	it, _ := st.OpenNextIteration(t0)
	it.Steps.Mark(StepFrame)
	it.Results = map[LoopStep]string{StepFrame: "framed"}
	it.ConfidenceProgression = []float64{0.3}
	return st
}

func TestCodecRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		st   *State
	}{
		{"fresh", New("inv-1", t0)},
		{"populated", sampleState()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, err := Marshal(tt.st)
			require.NoError(t, err)

			decoded, err := Unmarshal(first)
			require.NoError(t, err)

			second, err := Marshal(decoded)
			require.NoError(t, err)
			assert.Equal(t, string(first), string(second), "serialization must be byte-stable")

			if diff := cmp.Diff(tt.st.SortedHypotheses(), decoded.SortedHypotheses()); diff != "" {
				t.Errorf("hypotheses mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnmarshalRejectsNewerSchema(t *testing.T) {
	_, err := Unmarshal([]byte(`{"schema": 99, "id": "x"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestCloneIsDeep(t *testing.T) {
	st := sampleState()
	cp, err := Clone(st)
	require.NoError(t, err)

	cp.Hypotheses["hyp-001"].Likelihood = 0.99
	cp.Turns = append(cp.Turns, &Turn{Number: 3})

	assert.InDelta(t, 0.3, st.Hypotheses["hyp-001"].Likelihood, 1e-9)
	assert.Len(t, st.Turns, 2)
}

func TestNewState(t *testing.T) {
	st := New("inv-new", t0)

	assert.Equal(t, PhaseIntake, st.Phase)
	assert.Equal(t, ModeConsultant, st.Mode)
	assert.Equal(t, StepNone, st.LoopStep)
	require.NotNil(t, st.CurrentExecution())
	assert.Equal(t, "intake", st.CurrentExecution().Name)
	assert.Nil(t, st.OpenIteration())
}

func TestIDAllocationNeverReuses(t *testing.T) {
	st := New("inv-ids", t0)
	a := st.NextEvidenceID()
	b := st.NextEvidenceID()
	delete(st.Evidence, a)
	c := st.NextEvidenceID()

	assert.Equal(t, "ev-001", a)
	assert.Equal(t, "ev-002", b)
	assert.Equal(t, "ev-003", c)
	assert.Equal(t, "hyp-001", st.NextHypothesisID())
}

func TestLessIDNumeric(t *testing.T) {
	assert.True(t, LessID("hyp-2", "hyp-10"))
	assert.True(t, LessID("hyp-999", "hyp-1000"))
	assert.False(t, LessID("hyp-010", "hyp-009"))
	assert.Equal(t, -1, IDNumber("garbage"))
}

func TestOpenNextIteration(t *testing.T) {
	st := New("inv-it", t0)
	it, err := st.OpenNextIteration(t0)
	require.NoError(t, err)
	assert.Equal(t, 1, it.Number)

	_, err = st.OpenNextIteration(t0)
	require.Error(t, err, "second open iteration must be rejected")

	end := t0.Add(time.Minute)
	it.EndedAt = &end
	it2, err := st.OpenNextIteration(end)
	require.NoError(t, err)
	assert.Equal(t, 2, it2.Number)
	assert.Len(t, st.ClosedIterations(), 1)
	assert.Len(t, st.Iterations(), 2)
}

func TestLastTurnsByRole(t *testing.T) {
	st := New("inv-turns", t0)
	for i, role := range []Role{RoleUser, RoleAssistant, RoleUser, RoleAssistant, RoleUser} {
		st.AppendTurn(role, string(rune('a'+i)), t0)
	}

	got := st.LastTurnsByRole(RoleAssistant, 5)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Content)
	assert.Equal(t, "d", got[1].Content)
	assert.Len(t, st.LastTurns(3), 3)
	assert.Equal(t, 5, st.Turns[4].Number)
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.5))
	assert.Equal(t, 1.0, Clamp01(1.7))
	assert.Equal(t, 0.4, Clamp01(0.4))
}

// ─── Manager ──────────────────────────────────────────────────────────────────

func TestManagerLoadCreatesFreshState(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	mgr := NewManager(db.NewMemoryStore(), clock, nil)

	st, created, err := mgr.Load(context.Background(), "inv-a")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "inv-a", st.ID)
	assert.Equal(t, t0, st.CreatedAt)
	assert.Equal(t, int64(0), st.Version)
}

func TestManagerSaveAndReload(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(t0)
	mgr := NewManager(store, clock, nil)

	st := sampleState()
	st.Version = 0
	clock.Advance(time.Minute)
	require.NoError(t, mgr.Save(ctx, st))
	assert.Equal(t, int64(1), st.Version)
	assert.Equal(t, t0.Add(time.Minute), st.UpdatedAt)

	rec, err := store.GetState(ctx, st.ID)
	require.NoError(t, err)

	loaded, created, err := mgr.Load(ctx, st.ID)
	require.NoError(t, err)
	assert.False(t, created)

	again, err := Marshal(loaded)
	require.NoError(t, err)
	assert.Equal(t, string(rec.Data), string(again), "load must reproduce the saved bytes")
}

func TestManagerSaveConflictLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	mgr := NewManager(store, clockwork.NewFakeClockAt(t0), nil)

	a, _, err := mgr.Load(ctx, "inv-race")
	require.NoError(t, err)
	b, _, err := mgr.Load(ctx, "inv-race")
	require.NoError(t, err)

	a.ProblemStatement = "first writer"
	require.NoError(t, mgr.Save(ctx, a))

	b.ProblemStatement = "second writer"
	err = mgr.Save(ctx, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, db.ErrVersionConflict))
	assert.Equal(t, int64(0), b.Version, "failed save must restore the version")

	stored, _, err := mgr.Load(ctx, "inv-race")
	require.NoError(t, err)
	assert.Equal(t, "first writer", stored.ProblemStatement)
}

func TestManagerListNewestFirst(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(t0)
	mgr := NewManager(db.NewMemoryStore(), clock, nil)

	for _, id := range []string{"inv-old", "inv-new"} {
		st, _, err := mgr.Load(ctx, id)
		require.NoError(t, err)
		require.NoError(t, mgr.Save(ctx, st))
		clock.Advance(time.Minute)
	}

	recs, err := mgr.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "inv-new", recs[0].ID)
	assert.Equal(t, "inv-old", recs[1].ID)
	assert.Nil(t, recs[0].Data)

	recs, err = mgr.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "inv-old", recs[0].ID)
}
