package investigation

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SchemaVersion is the serialized layout version written by this package.
const SchemaVersion = 1

// New returns a fresh state: Intake phase, consultant mode, low urgency and
// an open Intake execution.
func New(id string, now time.Time) *State {
	now = now.UTC()
	st := &State{
		Schema:       SchemaVersion,
		ID:           id,
		CreatedAt:    now,
		UpdatedAt:    now,
		Phase:        PhaseIntake,
		Mode:         ModeConsultant,
		Urgency:      UrgencyLow,
		Evidence:     make(map[string]*EvidenceItem),
		Hypotheses:   make(map[string]*Hypothesis),
		TestCounters: make(map[HypothesisCategory]*CategoryStats),
	}
	st.PhaseHistory = []*PhaseExecution{NewExecution(PhaseIntake, now)}
	return st
}

// NewExecution returns an open execution record for phase.
func NewExecution(phase Phase, now time.Time) *PhaseExecution {
	return &PhaseExecution{
		Phase:     phase,
		Name:      phase.String(),
		StartedAt: now.UTC(),
	}
}

// ensureMaps initializes nil collections after decoding.
func (s *State) ensureMaps() {
	if s.Evidence == nil {
		s.Evidence = make(map[string]*EvidenceItem)
	}
	if s.Hypotheses == nil {
		s.Hypotheses = make(map[string]*Hypothesis)
	}
	if s.TestCounters == nil {
		s.TestCounters = make(map[HypothesisCategory]*CategoryStats)
	}
}

// CurrentExecution returns the open execution, or nil when none is open.
func (s *State) CurrentExecution() *PhaseExecution {
	if len(s.PhaseHistory) == 0 {
		return nil
	}
	last := s.PhaseHistory[len(s.PhaseHistory)-1]
	if !last.Open() {
		return nil
	}
	return last
}

// OpenIteration returns the open analysis-loop iteration, or nil.
func (s *State) OpenIteration() *AnalysisLoopIteration {
	exec := s.CurrentExecution()
	if exec == nil || len(exec.Iterations) == 0 {
		return nil
	}
	last := exec.Iterations[len(exec.Iterations)-1]
	if !last.Open() {
		return nil
	}
	return last
}

// Iterations returns every analysis-loop iteration in chronological order.
func (s *State) Iterations() []*AnalysisLoopIteration {
	var out []*AnalysisLoopIteration
	for _, exec := range s.PhaseHistory {
		out = append(out, exec.Iterations...)
	}
	return out
}

// ClosedIterations returns the ended iterations in chronological order.
func (s *State) ClosedIterations() []*AnalysisLoopIteration {
	var out []*AnalysisLoopIteration
	for _, it := range s.Iterations() {
		if !it.Open() {
			out = append(out, it)
		}
	}
	return out
}

// OpenNextIteration starts iteration CurrentIteration+1 on the current
// execution and returns it.
func (s *State) OpenNextIteration(now time.Time) (*AnalysisLoopIteration, error) {
	exec := s.CurrentExecution()
	if exec == nil {
		return nil, fmt.Errorf("no open phase execution")
	}
	if s.OpenIteration() != nil {
		return nil, fmt.Errorf("iteration %d is still open", s.CurrentIteration)
	}
	s.CurrentIteration++
	it := &AnalysisLoopIteration{
		Number:    s.CurrentIteration,
		StartedAt: now.UTC(),
	}
	exec.Iterations = append(exec.Iterations, it)
	return it, nil
}

// NextEvidenceID allocates the next evidence id.
func (s *State) NextEvidenceID() string {
	s.Sequences.Evidence++
	return fmt.Sprintf("ev-%03d", s.Sequences.Evidence)
}

// NextHypothesisID allocates the next hypothesis id.
func (s *State) NextHypothesisID() string {
	s.Sequences.Hypothesis++
	return fmt.Sprintf("hyp-%03d", s.Sequences.Hypothesis)
}

// IDNumber returns the numeric suffix of an id such as "hyp-012", or -1.
func IDNumber(id string) int {
	i := strings.LastIndexByte(id, '-')
	if i < 0 {
		return -1
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return -1
	}
	return n
}

// LessID orders ids by numeric suffix, falling back to string order.
func LessID(a, b string) bool {
	na, nb := IDNumber(a), IDNumber(b)
	if na != nb {
		return na < nb
	}
	return a < b
}

// SortedEvidence returns evidence items ordered by id.
func (s *State) SortedEvidence() []*EvidenceItem {
	out := make([]*EvidenceItem, 0, len(s.Evidence))
	for _, ev := range s.Evidence {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return LessID(out[i].ID, out[j].ID) })
	return out
}

// SortedHypotheses returns hypotheses ordered by id.
func (s *State) SortedHypotheses() []*Hypothesis {
	out := make([]*Hypothesis, 0, len(s.Hypotheses))
	for _, h := range s.Hypotheses {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return LessID(out[i].ID, out[j].ID) })
	return out
}

// UntestedHypotheses returns untested hypotheses ordered by id.
func (s *State) UntestedHypotheses() []*Hypothesis {
	var out []*Hypothesis
	for _, h := range s.SortedHypotheses() {
		if !h.Tested {
			out = append(out, h)
		}
	}
	return out
}

// EvidenceCategoriesPresent returns the set of collected evidence categories.
func (s *State) EvidenceCategoriesPresent() map[EvidenceCategory]bool {
	present := make(map[EvidenceCategory]bool)
	for _, ev := range s.Evidence {
		present[ev.Category] = true
	}
	return present
}

// Counter returns the stats for category, creating them on first use.
func (s *State) Counter(category HypothesisCategory) *CategoryStats {
	s.ensureMaps()
	c, ok := s.TestCounters[category]
	if !ok {
		c = &CategoryStats{}
		s.TestCounters[category] = c
	}
	return c
}

// AppendTurn adds an entry to the conversation log and returns it.
func (s *State) AppendTurn(role Role, content string, now time.Time) *Turn {
	t := &Turn{
		Number:    len(s.Turns) + 1,
		Role:      role,
		Content:   content,
		Phase:     s.Phase,
		CreatedAt: now.UTC(),
	}
	s.Turns = append(s.Turns, t)
	return t
}

// LastTurns returns up to n most recent turns, oldest first.
func (s *State) LastTurns(n int) []*Turn {
	if n <= 0 {
		return nil
	}
	if len(s.Turns) <= n {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// LastTurnsByRole returns up to n most recent turns with role, oldest first.
func (s *State) LastTurnsByRole(role Role, n int) []*Turn {
	var out []*Turn
	for i := len(s.Turns) - 1; i >= 0 && len(out) < n; i-- {
		if s.Turns[i].Role == role {
			out = append(out, s.Turns[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Clamp01 bounds v to [0, 1]. NaN becomes 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// AddUnique appends id to ids unless already present.
func AddUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
