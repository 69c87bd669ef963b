// Package hypothesis maintains candidate explanations: creation, test
// outcomes, ranking and anchoring-aware selection of the next one to test.
package hypothesis

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/evidence"
	inv "github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/investigation"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/loop"
)

// Default likelihood deltas applied by UpdateAfterTest when the caller does
// not supply one.
const (
	SupportsDelta     = 0.2
	RefutesDelta      = -0.3
	InconclusiveDelta = -0.05
)

// DefaultLikelihood is used when a new hypothesis carries no likelihood.
const DefaultLikelihood = 0.5

// Input describes a hypothesis to add.
type Input struct {
	Statement  string
	Category   inv.HypothesisCategory
	Likelihood *float64
	Evidence   []string
}

// Add creates a hypothesis. A hypothesis whose statement matches an existing
// one (case and surrounding whitespace ignored) is not duplicated; its id is
// returned with added false.
func Add(st *inv.State, in Input, now time.Time) (id string, added bool, err error) {
	statement := strings.TrimSpace(in.Statement)
	if statement == "" {
		return "", false, fmt.Errorf("add hypothesis: empty statement")
	}
	if !in.Category.Valid() {
		return "", false, fmt.Errorf("add hypothesis: unknown category %q", in.Category)
	}
	if existing := FindByStatement(st, statement); existing != nil {
		return existing.ID, false, nil
	}

	likelihood := DefaultLikelihood
	if in.Likelihood != nil {
		likelihood = *in.Likelihood
	}

	id = st.NextHypothesisID()
	h := &inv.Hypothesis{
		ID:         id,
		Statement:  statement,
		Category:   in.Category,
		Likelihood: inv.Clamp01(likelihood),
		CreatedAt:  now.UTC(),
	}
	st.Hypotheses[id] = h
	for _, evID := range in.Evidence {
		// Unknown evidence ids are dropped.
		_ = evidence.Link(st, evID, id)
	}
	return id, true, nil
}

// FindByStatement returns the hypothesis with the given statement, or nil.
func FindByStatement(st *inv.State, statement string) *inv.Hypothesis {
	key := normalize(statement)
	for _, h := range st.SortedHypotheses() {
		if normalize(h.Statement) == key {
			return h
		}
	}
	return nil
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// DefaultDelta returns the likelihood change for a test result.
func DefaultDelta(result inv.TestResult) float64 {
	switch result {
	case inv.ResultSupports:
		return SupportsDelta
	case inv.ResultRefutes:
		return RefutesDelta
	case inv.ResultInconclusive:
		return InconclusiveDelta
	}
	return 0
}

// UpdateAfterTest records a test outcome. delta overrides the default
// likelihood change for result. The hypothesis category's counters are
// updated: supports resets the consecutive-failure streak, anything else
// extends it.
func UpdateAfterTest(st *inv.State, id string, result inv.TestResult, delta *float64) error {
	h, ok := st.Hypotheses[id]
	if !ok {
		return fmt.Errorf("update hypothesis: unknown id %q", id)
	}
	if !result.Valid() {
		return fmt.Errorf("update hypothesis %s: invalid test result %q", id, result)
	}

	d := DefaultDelta(result)
	if delta != nil {
		d = *delta
	}

	h.Tested = true
	h.TestResult = result
	h.TestCount++
	h.Likelihood = inv.Clamp01(h.Likelihood + d)

	stats := st.Counter(h.Category)
	stats.Tested++
	if result == inv.ResultSupports {
		stats.ConsecutiveFailures = 0
	} else {
		stats.ConsecutiveFailures++
	}
	return nil
}

// SelectNextToTest picks the untested hypothesis to test next: the most
// likely, ties broken by earliest id. While a category is anchored the choice
// is restricted to the forced category, falling back to any untested
// hypothesis outside the anchored category. Returns nil when nothing
// qualifies.
func SelectNextToTest(st *inv.State, anchoringThreshold int) *inv.Hypothesis {
	untested := st.UntestedHypotheses()
	if len(untested) == 0 {
		return nil
	}

	a := loop.DetectAnchoring(st, anchoringThreshold)
	if !a.Detected {
		return best(untested, nil)
	}
	if a.Forced != "" {
		if h := best(untested, func(h *inv.Hypothesis) bool { return h.Category == a.Forced }); h != nil {
			return h
		}
	}
	return best(untested, func(h *inv.Hypothesis) bool { return h.Category != a.Category })
}

// best returns the most likely hypothesis accepted by keep. hs must be sorted
// by id so the first maximum wins ties.
func best(hs []*inv.Hypothesis, keep func(*inv.Hypothesis) bool) *inv.Hypothesis {
	var top *inv.Hypothesis
	for _, h := range hs {
		if keep != nil && !keep(h) {
			continue
		}
		if top == nil || h.Likelihood > top.Likelihood {
			top = h
		}
	}
	return top
}

// Rank returns the non-refuted hypotheses, most likely first, ties by id.
func Rank(st *inv.State) []*inv.Hypothesis {
	var out []*inv.Hypothesis
	for _, h := range st.SortedHypotheses() {
		if !h.Refuted() {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Likelihood > out[j].Likelihood })
	return out
}

// Top returns the highest ranked hypothesis, or nil.
func Top(st *inv.State) *inv.Hypothesis {
	ranked := Rank(st)
	if len(ranked) == 0 {
		return nil
	}
	return ranked[0]
}
