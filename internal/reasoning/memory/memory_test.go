package memory

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inv "github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/investigation"
)

var now = time.Date(2026, 3, 14, 14, 20, 0, 0, time.UTC)

// withIterations returns an RCA state with n closed iterations and one open.
func withIterations(n int) *inv.State {
	st := inv.New("inv-m", now)
	st.Phase = inv.PhaseRootCauseAnalysis
	exec := st.CurrentExecution()
	for i := 1; i <= n; i++ {
		end := now.Add(time.Duration(i) * time.Minute)
		exec.Iterations = append(exec.Iterations, &inv.AnalysisLoopIteration{
			Number:                i,
			StartedAt:             now,
			EndedAt:               &end,
			Results:               map[inv.LoopStep]string{inv.StepTest: "tested", inv.StepFrame: "framed"},
			HypothesesTouched:     []string{"hyp-010", "hyp-002"},
			KeyInsight:            "insight",
			ConfidenceProgression: []float64{0.3, 0.4},
		})
	}
	exec.Iterations = append(exec.Iterations, &inv.AnalysisLoopIteration{Number: n + 1, StartedAt: now})
	st.CurrentIteration = n + 1
	for i := 0; i < 4; i++ {
		id := st.NextHypothesisID()
		st.Hypotheses[id] = &inv.Hypothesis{ID: id}
	}
	return st
}

func numbersHot(c Context) []int {
	var out []int
	for _, d := range c.Hot {
		out = append(out, d.Number)
	}
	return out
}

func numbersWarm(c Context) []int {
	var out []int
	for _, b := range c.Warm {
		out = append(out, b.Number)
	}
	return out
}

func TestBuildTiers(t *testing.T) {
	tests := []struct {
		name string
		n    int
		hot  []int
		warm []int
		cold string
	}{
		{"none", 0, nil, nil, ""},
		{"hot only", 2, []int{1, 2}, nil, ""},
		{"hot and warm", 4, []int{3, 4}, []int{1, 2}, ""},
		{"all tiers", 8, []int{7, 8}, []int{4, 5, 6}, "3 earlier iterations explored 4 hypotheses in total."},
		{"single cold", 6, []int{5, 6}, []int{2, 3, 4}, "1 earlier iteration explored 4 hypotheses in total."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Build(withIterations(tt.n), DefaultConfig())
			assert.Equal(t, tt.hot, numbersHot(c))
			assert.Equal(t, tt.warm, numbersWarm(c))
			assert.Equal(t, tt.cold, c.Cold)
		})
	}
}

func TestBuildIsPureAndDeterministic(t *testing.T) {
	st := withIterations(7)
	before, err := inv.Marshal(st)
	require.NoError(t, err)

	a := Build(st, DefaultConfig())
	b := Build(st, DefaultConfig())

	after, err := inv.Marshal(st)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Empty(t, cmp.Diff(a, b))
	assert.Equal(t, a.Render(), b.Render())
}

func TestHotDetail(t *testing.T) {
	c := Build(withIterations(1), DefaultConfig())
	require.Len(t, c.Hot, 1)

	d := c.Hot[0]
	assert.Equal(t, []StepSummary{{inv.StepFrame, "framed"}, {inv.StepTest, "tested"}}, d.Results)
	assert.Equal(t, []string{"hyp-002", "hyp-010"}, d.HypothesesTouched)

	out := c.Render()
	assert.Contains(t, out, "### Iteration 1")
	assert.Contains(t, out, "- frame: framed")
	assert.Contains(t, out, "0.30 → 0.40")
}

func TestRenderEmpty(t *testing.T) {
	assert.Equal(t, "", Context{}.Render())
}

func TestPruneDropsOldestSections(t *testing.T) {
	out := Build(withIterations(9), DefaultConfig()).Render()
	require.True(t, strings.HasPrefix(out, "## Earlier Iterations"))

	pruned, removed := Prune(out, EstimateTokens(out)-1)
	assert.Equal(t, []string{"Earlier Iterations"}, removed)
	assert.True(t, strings.HasPrefix(pruned, "## Recent Iterations"))

	pruned, removed = Prune(out, 1)
	assert.Equal(t, []string{"Earlier Iterations", "Recent Iterations (summary)"}, removed)
	assert.True(t, strings.HasPrefix(pruned, "## Latest Iterations"))

	same, removed := Prune(out, 0)
	assert.Equal(t, out, same)
	assert.Nil(t, removed)
}
