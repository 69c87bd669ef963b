package loop

import (
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inv "github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/investigation"
)

var t0 = time.Date(2026, 3, 14, 14, 20, 0, 0, time.UTC)

func newController(max int) *Controller {
	cfg := DefaultConfig()
	cfg.MaxIterations = max
	return NewController(cfg, clockwork.NewFakeClockAt(t0), nil)
}

// rcaState returns a state in RCA with the first iteration open at Frame.
func rcaState() *inv.State {
	st := inv.New("inv-loop", t0)
	st.PhaseHistory[0].EndedAt = &t0
	st.PhaseHistory = append(st.PhaseHistory, inv.NewExecution(inv.PhaseRootCauseAnalysis, t0))
	st.Phase = inv.PhaseRootCauseAnalysis
	st.LoopStep = inv.StepFrame
	_, _ = st.OpenNextIteration(t0)
	return st
}

func addHypothesis(st *inv.State, tested bool) string {
	id := st.NextHypothesisID()
	st.Hypotheses[id] = &inv.Hypothesis{ID: id, Category: inv.HypothesisCode, Likelihood: 0.5, Tested: tested}
	return id
}

func conf(v float64) *float64 { return &v }

func TestAdvanceThroughOneIteration(t *testing.T) {
	c := newController(10)
	st := rcaState()
	addHypothesis(st, false)

	steps := []inv.LoopStep{inv.StepScan, inv.StepBranch, inv.StepTest, inv.StepConclude, inv.StepFrame}
	for _, want := range steps {
		got, err := c.AdvanceStep(st, StepResult{Summary: "done", Confidence: conf(0.4)})
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, want, st.LoopStep)
	}

	assert.Equal(t, 2, st.CurrentIteration)
	closed := st.ClosedIterations()
	require.Len(t, closed, 1)
	assert.True(t, closed[0].Steps.Frame && closed[0].Steps.Scan && closed[0].Steps.Branch && closed[0].Steps.Test && closed[0].Steps.Conclude)
	assert.Equal(t, "done", closed[0].Results[inv.StepTest])
	assert.Len(t, closed[0].ConfidenceProgression, 5)
}

func TestTestStepStaysWhileUntestedAndContinue(t *testing.T) {
	c := newController(10)
	st := rcaState()
	st.LoopStep = inv.StepTest
	addHypothesis(st, false)

	next, err := c.AdvanceStep(st, StepResult{Continue: true})
	require.NoError(t, err)
	assert.Equal(t, inv.StepTest, next)

	next, err = c.AdvanceStep(st, StepResult{Continue: false})
	require.NoError(t, err)
	assert.Equal(t, inv.StepConclude, next)
}

func TestTestStepConcludesWhenNothingUntested(t *testing.T) {
	c := newController(10)
	st := rcaState()
	st.LoopStep = inv.StepTest
	addHypothesis(st, true)

	next, err := c.AdvanceStep(st, StepResult{Continue: true})
	require.NoError(t, err)
	assert.Equal(t, inv.StepConclude, next)
}

func TestConcludeWithRootCauseStops(t *testing.T) {
	c := newController(10)
	st := rcaState()
	st.LoopStep = inv.StepConclude
	st.RootCause = &inv.RootCause{Statement: "connection pool exhausted"}

	next, err := c.AdvanceStep(st, StepResult{})
	require.NoError(t, err)
	assert.Equal(t, inv.StepNone, next)
	assert.Nil(t, st.OpenIteration())
	assert.Equal(t, 1, st.CurrentIteration)
	assert.Empty(t, st.EscalationReason)
}

func TestIterationCeiling(t *testing.T) {
	c := newController(10)
	st := rcaState()

	for i := 0; i < 10; i++ {
		st.LoopStep = inv.StepConclude
		_, err := c.AdvanceStep(st, StepResult{})
		require.NoError(t, err)
	}

	assert.Equal(t, inv.StepNone, st.LoopStep)
	assert.Equal(t, 10, st.CurrentIteration)
	assert.True(t, c.IterationLimitReached(st))
	assert.Contains(t, st.EscalationReason, IterationLimitReason)
	assert.False(t, st.Escalated, "the ceiling only flags the state")
	assert.Len(t, st.ClosedIterations(), 10)
}

func TestIterationCeilingKeepsEarlierReason(t *testing.T) {
	c := newController(1)
	st := rcaState()
	st.LoopStep = inv.StepConclude
	st.EscalationReason = "control loop: next step \"check logs\" repeated 3 times"

	next, err := c.AdvanceStep(st, StepResult{})
	require.NoError(t, err)
	assert.Equal(t, inv.StepNone, next)
	assert.True(t, c.IterationLimitReached(st))
	assert.True(t, strings.HasPrefix(st.EscalationReason, "control loop"))
	assert.False(t, st.Escalated)
}

func TestAdvanceStepErrors(t *testing.T) {
	c := newController(10)

	st := inv.New("inv-x", t0)
	_, err := c.AdvanceStep(st, StepResult{})
	assert.Error(t, err, "outside RCA")

	st = rcaState()
	st.LoopStep = inv.StepNone
	_, err = c.AdvanceStep(st, StepResult{})
	assert.Error(t, err, "no active step")

	st = rcaState()
	end := t0
	st.OpenIteration().EndedAt = &end
	_, err = c.AdvanceStep(st, StepResult{})
	assert.Error(t, err, "no open iteration")
}

func TestRecordClampsConfidenceAndDedupesTouched(t *testing.T) {
	c := newController(10)
	st := rcaState()

	_, err := c.AdvanceStep(st, StepResult{
		Confidence:    conf(1.4),
		HypothesisIDs: []string{"hyp-001", "hyp-001"},
		EvidenceIDs:   []string{"ev-001"},
		KeyInsight:    "errors began at deploy",
	})
	require.NoError(t, err)

	it := st.OpenIteration()
	assert.Equal(t, []float64{1}, it.ConfidenceProgression)
	assert.Equal(t, []string{"hyp-001"}, it.HypothesesTouched)
	assert.Equal(t, "errors began at deploy", it.KeyInsight)
}

// ─── Anchoring ────────────────────────────────────────────────────────────────

func TestDetectAnchoring(t *testing.T) {
	tests := []struct {
		name     string
		counters map[inv.HypothesisCategory]*inv.CategoryStats
		detected bool
		category inv.HypothesisCategory
		forced   inv.HypothesisCategory
	}{
		{
			name: "below threshold",
			counters: map[inv.HypothesisCategory]*inv.CategoryStats{
				inv.HypothesisCode: {Tested: 2, ConsecutiveFailures: 2},
			},
		},
		{
			name: "anchored on code forces first untested category",
			counters: map[inv.HypothesisCategory]*inv.CategoryStats{
				inv.HypothesisCode:       {Tested: 4, ConsecutiveFailures: 4},
				inv.HypothesisDeployment: {Tested: 1},
			},
			detected: true,
			category: inv.HypothesisCode,
			forced:   inv.HypothesisInfrastructure,
		},
		{
			name: "all tested picks least tested",
			counters: map[inv.HypothesisCategory]*inv.CategoryStats{
				inv.HypothesisDeployment:     {Tested: 3, ConsecutiveFailures: 3},
				inv.HypothesisInfrastructure: {Tested: 2},
				inv.HypothesisCode:           {Tested: 1},
				inv.HypothesisConfiguration:  {Tested: 1},
				inv.HypothesisExternal:       {Tested: 5},
			},
			detected: true,
			category: inv.HypothesisDeployment,
			forced:   inv.HypothesisCode,
		},
		{
			name: "longest streak wins",
			counters: map[inv.HypothesisCategory]*inv.CategoryStats{
				inv.HypothesisDeployment: {Tested: 3, ConsecutiveFailures: 3},
				inv.HypothesisCode:       {Tested: 5, ConsecutiveFailures: 5},
			},
			detected: true,
			category: inv.HypothesisCode,
			forced:   inv.HypothesisInfrastructure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := inv.New("inv-a", t0)
			st.TestCounters = tt.counters

			a := DetectAnchoring(st, 3)
			assert.Equal(t, tt.detected, a.Detected)
			assert.Equal(t, tt.category, a.Category)
			assert.Equal(t, tt.forced, a.Forced)
		})
	}
}

// ─── Stall ────────────────────────────────────────────────────────────────────

func TestDetectStall(t *testing.T) {
	tests := []struct {
		name        string
		progression [][]float64
		want        bool
	}{
		{"too few iterations", [][]float64{{0.5}, {0.5}}, false},
		{"flat", [][]float64{{0.5}, {0.5}, {0.5}}, true},
		{"declining", [][]float64{{0.6}, {0.5, 0.55}, {0.4}}, true},
		{"net increase", [][]float64{{0.3}, {0.2}, {0.31}}, false},
		{"only last three count", [][]float64{{0.1}, {0.5}, {0.6}, {0.4}}, true},
		{"empty iterations are skipped", [][]float64{{0.2}, {}, {0.3}, {0.4}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := rcaState()
			exec := st.CurrentExecution()
			exec.Iterations = nil
			for i, p := range tt.progression {
				end := t0
				exec.Iterations = append(exec.Iterations, &inv.AnalysisLoopIteration{
					Number: i + 1, EndedAt: &end, ConfidenceProgression: p,
				})
			}
			assert.Equal(t, tt.want, DetectStall(st, 3))
		})
	}
}
