// Package evidence records collected evidence, links it to hypotheses,
// scores coverage and prioritizes what to ask the user for next.
package evidence

import (
	"fmt"
	"sort"
	"strings"
	"time"

	inv "github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/investigation"
)

// Coverage scoring.
const (
	ExtraItemBonus = 0.05
	MaxRequests    = 3
)

// Request priority weights.
const (
	weightMissingCore = 4
	weightSupportsTop = 2
	weightUncollected = 1
)

// IDFunc allocates an evidence id for st.
type IDFunc func(st *inv.State) string

// Input describes evidence to record.
type Input struct {
	Label       string
	Description string
	Category    inv.EvidenceCategory
	Content     string
	Source      string
	Hypotheses  []string
}

// Tracker records evidence. The zero value is not usable; use NewTracker.
type Tracker struct {
	nextID IDFunc
}

// NewTracker returns a tracker. A nil idFunc allocates ids from the state's
// evidence sequence.
func NewTracker(idFunc IDFunc) *Tracker {
	if idFunc == nil {
		idFunc = func(st *inv.State) string { return st.NextEvidenceID() }
	}
	return &Tracker{nextID: idFunc}
}

// Add records an evidence item, links it to any listed hypotheses and
// refreshes the stored coverage score.
func (t *Tracker) Add(st *inv.State, in Input, now time.Time) (string, error) {
	if !in.Category.Valid() {
		return "", fmt.Errorf("add evidence: unknown category %q", in.Category)
	}
	label := strings.TrimSpace(in.Label)
	if label == "" {
		label = strings.TrimSpace(in.Description)
	}
	if label == "" {
		return "", fmt.Errorf("add evidence: label or description required")
	}

	id := t.nextID(st)
	if _, exists := st.Evidence[id]; exists {
		return "", fmt.Errorf("add evidence: id %s already allocated", id)
	}
	st.Evidence[id] = &inv.EvidenceItem{
		ID:          id,
		Label:       label,
		Description: in.Description,
		Category:    in.Category,
		Content:     in.Content,
		Source:      in.Source,
		CollectedAt: now.UTC(),
	}
	for _, hypID := range in.Hypotheses {
		if err := Link(st, id, hypID); err != nil {
			return id, err
		}
	}
	RefreshCoverage(st)
	return id, nil
}

// Link relates an evidence item and a hypothesis in both directions. Linking
// twice is a no-op.
func Link(st *inv.State, evidenceID, hypothesisID string) error {
	ev, ok := st.Evidence[evidenceID]
	if !ok {
		return fmt.Errorf("link evidence: unknown evidence %q", evidenceID)
	}
	h, ok := st.Hypotheses[hypothesisID]
	if !ok {
		return fmt.Errorf("link evidence %s: unknown hypothesis %q", evidenceID, hypothesisID)
	}
	ev.RelatedHypotheses = inv.AddUnique(ev.RelatedHypotheses, hypothesisID)
	h.SupportingEvidence = inv.AddUnique(h.SupportingEvidence, evidenceID)
	return nil
}

// CoverageScore is the fraction of core categories present plus a small
// bonus per additional item, capped at 1.
func CoverageScore(st *inv.State) float64 {
	present := st.EvidenceCategoriesPresent()
	covered := 0
	for _, cat := range inv.CoreEvidenceCategories {
		if present[cat] {
			covered++
		}
	}
	extra := len(st.Evidence) - covered
	if extra < 0 {
		extra = 0
	}
	score := float64(covered)/float64(len(inv.CoreEvidenceCategories)) + ExtraItemBonus*float64(extra)
	if score > 1 {
		score = 1
	}
	return score
}

// RefreshCoverage stores the current coverage score unless it is lower than
// the stored value.
func RefreshCoverage(st *inv.State) float64 {
	if s := CoverageScore(st); s > st.Coverage {
		st.Coverage = s
	}
	return st.Coverage
}

// MissingCoreCategories returns the core categories with no evidence yet.
func MissingCoreCategories(st *inv.State) []inv.EvidenceCategory {
	present := st.EvidenceCategoriesPresent()
	var out []inv.EvidenceCategory
	for _, cat := range inv.CoreEvidenceCategories {
		if !present[cat] {
			out = append(out, cat)
		}
	}
	return out
}

// PrioritizeRequests scores candidates and returns at most MaxRequests of
// them, highest score first. Equal scores keep candidate order.
func PrioritizeRequests(st *inv.State, candidates []inv.EvidenceRequest, top *inv.Hypothesis) []inv.EvidenceRequest {
	present := st.EvidenceCategoriesPresent()
	core := make(map[inv.EvidenceCategory]bool, len(inv.CoreEvidenceCategories))
	for _, cat := range inv.CoreEvidenceCategories {
		core[cat] = true
	}

	type scored struct {
		req   inv.EvidenceRequest
		score int
	}
	var list []scored
	seen := make(map[string]bool)
	for _, c := range candidates {
		key := strings.ToLower(strings.TrimSpace(c.Label))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		s := 0
		if core[c.Category] && !present[c.Category] {
			s += weightMissingCore
		}
		if top != nil && c.HypothesisID == top.ID {
			s += weightSupportsTop
		}
		if !present[c.Category] {
			s += weightUncollected
		}
		list = append(list, scored{req: c, score: s})
	}

	sort.SliceStable(list, func(i, j int) bool { return list[i].score > list[j].score })
	if len(list) > MaxRequests {
		list = list[:MaxRequests]
	}
	out := make([]inv.EvidenceRequest, len(list))
	for i, s := range list {
		out[i] = s.req
	}
	return out
}
