package loop

import (
	inv "github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/investigation"
)

// Anchoring describes a fixation on one hypothesis category.
type Anchoring struct {
	Detected bool
	// Category is the anchored category.
	Category inv.HypothesisCategory
	// Streak is the consecutive non-supporting test count in Category.
	Streak int
	// Forced is the category testing should switch to. Empty when every
	// other category is unavailable.
	Forced inv.HypothesisCategory
}

// DetectAnchoring finds the category with the longest run of consecutive
// non-supporting tests at or above threshold. Ties go to the earlier
// category in canonical order.
func DetectAnchoring(st *inv.State, threshold int) Anchoring {
	if threshold <= 0 {
		return Anchoring{}
	}

	var a Anchoring
	for _, cat := range inv.HypothesisCategories {
		stats, ok := st.TestCounters[cat]
		if !ok || stats.ConsecutiveFailures < threshold {
			continue
		}
		if stats.ConsecutiveFailures > a.Streak {
			a = Anchoring{Detected: true, Category: cat, Streak: stats.ConsecutiveFailures}
		}
	}
	if a.Detected {
		a.Forced = forcedCategory(st, a.Category)
	}
	return a
}

// forcedCategory is the first never-tested category other than anchored,
// else the least-tested other category.
func forcedCategory(st *inv.State, anchored inv.HypothesisCategory) inv.HypothesisCategory {
	var least inv.HypothesisCategory
	leastCount := -1
	for _, cat := range inv.HypothesisCategories {
		if cat == anchored {
			continue
		}
		tested := 0
		if stats, ok := st.TestCounters[cat]; ok {
			tested = stats.Tested
		}
		if tested == 0 {
			return cat
		}
		if leastCount < 0 || tested < leastCount {
			least, leastCount = cat, tested
		}
	}
	return least
}

// DetectStall reports whether the last window iterations that recorded
// confidence show no net increase: the newest recorded value is not above
// the oldest. Fewer than window such iterations is never a stall.
func DetectStall(st *inv.State, window int) bool {
	if window <= 1 {
		return false
	}

	var withData []*inv.AnalysisLoopIteration
	for _, it := range st.Iterations() {
		if len(it.ConfidenceProgression) > 0 {
			withData = append(withData, it)
		}
	}
	if len(withData) < window {
		return false
	}

	recent := withData[len(withData)-window:]
	first := recent[0].ConfidenceProgression[0]
	lastProg := recent[len(recent)-1].ConfidenceProgression
	last := lastProg[len(lastProg)-1]
	return last <= first
}
