package hypothesis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inv "github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/investigation"
)

var now = time.Date(2026, 3, 14, 14, 20, 0, 0, time.UTC)

func p(v float64) *float64 { return &v }

func add(t *testing.T, st *inv.State, statement string, cat inv.HypothesisCategory, likelihood float64) string {
	t.Helper()
	id, added, err := Add(st, Input{Statement: statement, Category: cat, Likelihood: p(likelihood)}, now)
	require.NoError(t, err)
	require.True(t, added)
	return id
}

func TestAddSkipsDuplicateStatements(t *testing.T) {
	st := inv.New("inv-h", now)

	id1 := add(t, st, "Connection pool exhausted", inv.HypothesisCode, 0.6)
	id2, added, err := Add(st, Input{Statement: "  connection   pool exhausted ", Category: inv.HypothesisCode}, now)
	require.NoError(t, err)

	assert.False(t, added)
	assert.Equal(t, id1, id2)
	assert.Len(t, st.Hypotheses, 1)
	assert.Equal(t, "hyp-001", id1)
}

func TestAddValidatesAndClamps(t *testing.T) {
	st := inv.New("inv-h", now)

	_, _, err := Add(st, Input{Statement: "", Category: inv.HypothesisCode}, now)
	assert.Error(t, err)
	_, _, err = Add(st, Input{Statement: "x", Category: "weather"}, now)
	assert.Error(t, err)

	id := add(t, st, "bad deploy", inv.HypothesisDeployment, 1.7)
	assert.Equal(t, 1.0, st.Hypotheses[id].Likelihood)

	id, _, err = Add(st, Input{Statement: "dns", Category: inv.HypothesisExternal}, now)
	require.NoError(t, err)
	assert.Equal(t, DefaultLikelihood, st.Hypotheses[id].Likelihood)
}

func TestAddLinksInitialEvidenceBothWays(t *testing.T) {
	st := inv.New("inv-h", now)
	st.Evidence["ev-001"] = &inv.EvidenceItem{ID: "ev-001", Label: "deploy log", Category: inv.EvidenceCode}

	id, added, err := Add(st, Input{
		Statement: "bad deploy",
		Category:  inv.HypothesisDeployment,
		Evidence:  []string{"ev-001", "ev-404", "ev-001"},
	}, now)
	require.NoError(t, err)
	require.True(t, added)

	assert.Equal(t, []string{"ev-001"}, st.Hypotheses[id].SupportingEvidence)
	assert.Equal(t, []string{id}, st.Evidence["ev-001"].RelatedHypotheses)
}

func TestUpdateAfterTest(t *testing.T) {
	st := inv.New("inv-h", now)
	id := add(t, st, "bad deploy", inv.HypothesisDeployment, 0.5)

	require.NoError(t, UpdateAfterTest(st, id, inv.ResultRefutes, nil))
	h := st.Hypotheses[id]
	assert.True(t, h.Tested)
	assert.Equal(t, inv.ResultRefutes, h.TestResult)
	assert.InDelta(t, 0.2, h.Likelihood, 1e-9)
	assert.Equal(t, 1, st.TestCounters[inv.HypothesisDeployment].ConsecutiveFailures)

	require.NoError(t, UpdateAfterTest(st, id, inv.ResultInconclusive, p(-0.5)))
	assert.Equal(t, 0.0, h.Likelihood, "likelihood is clamped")
	assert.Equal(t, 2, st.TestCounters[inv.HypothesisDeployment].ConsecutiveFailures)

	require.NoError(t, UpdateAfterTest(st, id, inv.ResultSupports, nil))
	assert.InDelta(t, 0.2, h.Likelihood, 1e-9)
	assert.Equal(t, 0, st.TestCounters[inv.HypothesisDeployment].ConsecutiveFailures)
	assert.Equal(t, 3, st.TestCounters[inv.HypothesisDeployment].Tested)
	assert.Equal(t, 3, h.TestCount)

	assert.Error(t, UpdateAfterTest(st, "hyp-999", inv.ResultSupports, nil))
	assert.Error(t, UpdateAfterTest(st, id, inv.ResultNone, nil))
}

func TestSelectNextToTestPrefersLikelihoodThenID(t *testing.T) {
	st := inv.New("inv-h", now)
	add(t, st, "a", inv.HypothesisCode, 0.4)
	b := add(t, st, "b", inv.HypothesisCode, 0.8)
	add(t, st, "c", inv.HypothesisConfiguration, 0.8)

	h := SelectNextToTest(st, 3)
	require.NotNil(t, h)
	assert.Equal(t, b, h.ID)
}

func TestSelectNextToTestHonorsAnchoring(t *testing.T) {
	st := inv.New("inv-h", now)

	// Four refuted deployment hypotheses anchor the category.
	for _, s := range []string{"d1", "d2", "d3", "d4"} {
		id := add(t, st, s, inv.HypothesisDeployment, 0.6)
		require.NoError(t, UpdateAfterTest(st, id, inv.ResultRefutes, nil))
	}
	add(t, st, "d5", inv.HypothesisDeployment, 0.9)
	infra := add(t, st, "node pressure", inv.HypothesisInfrastructure, 0.3)
	add(t, st, "bad flag", inv.HypothesisConfiguration, 0.7)

	h := SelectNextToTest(st, 3)
	require.NotNil(t, h)
	assert.Equal(t, infra, h.ID, "forced category wins over higher likelihood elsewhere")
}

func TestSelectNextToTestFallsBackOutsideAnchoredCategory(t *testing.T) {
	st := inv.New("inv-h", now)
	for _, s := range []string{"d1", "d2", "d3"} {
		id := add(t, st, s, inv.HypothesisDeployment, 0.6)
		require.NoError(t, UpdateAfterTest(st, id, inv.ResultRefutes, nil))
	}
	add(t, st, "d4", inv.HypothesisDeployment, 0.9)
	cfg := add(t, st, "bad flag", inv.HypothesisConfiguration, 0.4)

	h := SelectNextToTest(st, 3)
	require.NotNil(t, h)
	assert.Equal(t, cfg, h.ID)
}

func TestSelectNextToTestNone(t *testing.T) {
	st := inv.New("inv-h", now)
	assert.Nil(t, SelectNextToTest(st, 3))

	for _, s := range []string{"d1", "d2", "d3"} {
		id := add(t, st, s, inv.HypothesisDeployment, 0.6)
		require.NoError(t, UpdateAfterTest(st, id, inv.ResultRefutes, nil))
	}
	add(t, st, "d4", inv.HypothesisDeployment, 0.9)
	assert.Nil(t, SelectNextToTest(st, 3), "only anchored-category candidates remain")
}

func TestRankExcludesRefuted(t *testing.T) {
	st := inv.New("inv-h", now)
	a := add(t, st, "a", inv.HypothesisCode, 0.5)
	b := add(t, st, "b", inv.HypothesisCode, 0.9)
	c := add(t, st, "c", inv.HypothesisCode, 0.5)
	d := add(t, st, "d", inv.HypothesisCode, 0.95)
	require.NoError(t, UpdateAfterTest(st, d, inv.ResultRefutes, p(0)))

	var ids []string
	for _, h := range Rank(st) {
		ids = append(ids, h.ID)
	}
	assert.Equal(t, []string{b, a, c}, ids)
	assert.Equal(t, b, Top(st).ID)
}
