// Package prompt turns a routing decision and investigation state into the
// text sent to the generation service.
//
// Responsibilities:
//   - Render the strategy instruction for the routed strategy
//   - Render only the state fields the decision asks for
//   - Include tiered iteration memory, pruned to a token budget
//   - State the required JSON response format for the routed shape
//
// Assembly is read-only: it never mutates the state it is given.
package prompt

import (
	"fmt"
	"strings"

	inv "github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/investigation"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/memory"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/parser"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/router"
)

// Config bounds prompt size.
type Config struct {
	// ConversationTurns is how many recent turns the conversation field shows.
	ConversationTurns int
	// MaxMemoryTokens caps the rendered memory section.
	MaxMemoryTokens int
	// MaxItems caps evidence and hypothesis listings.
	MaxItems int
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{ConversationTurns: 6, MaxMemoryTokens: 1500, MaxItems: 20}
}

// Assembler builds prompts.
type Assembler struct {
	cfg Config
}

// NewAssembler creates an assembler.
func NewAssembler(cfg Config) *Assembler {
	return &Assembler{cfg: cfg}
}

// Request is everything one prompt is built from.
type Request struct {
	State       *inv.State
	Decision    router.Decision
	Memory      memory.Context
	UserMessage string
}

// Build renders the prompt for req.
func (a *Assembler) Build(req Request) string {
	st, d := req.State, req.Decision
	var sb strings.Builder

	sb.WriteString(systemPreamble)
	sb.WriteString("\n\n## Task\n")
	sb.WriteString(a.instruction(st, d))
	if tier, ok := tierInstructions[d.Tier]; ok {
		sb.WriteString("\n")
		sb.WriteString(tier)
	}
	sb.WriteString("\n\n")

	for _, field := range d.ContextFields {
		if section := a.section(field, req); section != "" {
			sb.WriteString(section)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("## User Message\n")
	sb.WriteString(strings.TrimSpace(req.UserMessage))
	sb.WriteString("\n\n## Response Format\n")
	fmt.Fprintf(&sb, "Shape: %s\n", d.Shape)
	if fields := parser.RequiredFields(d.Shape); len(fields) > 0 {
		fmt.Fprintf(&sb, "Required fields: %s\n", strings.Join(fields, ", "))
	}
	sb.WriteString(d.Shape.Example())
	sb.WriteString("\n")
	return sb.String()
}

func (a *Assembler) instruction(st *inv.State, d router.Decision) string {
	tmpl, ok := strategyTemplates[d.Strategy]
	if !ok {
		tmpl = strategyTemplates[router.StrategyConsultant]
	}
	forced := ""
	if d.ForcedCategory != "" {
		forced = fmt.Sprintf("\nTesting has anchored on one category. Focus on %s hypotheses.", d.ForcedCategory)
	}
	if d.TargetHypothesis != "" {
		forced += fmt.Sprintf("\nTest only %s this turn. Results for other hypotheses are ignored.", d.TargetHypothesis)
	}
	rendered := strings.ReplaceAll(tmpl, "{{.Iteration}}", fmt.Sprint(st.CurrentIteration))
	rendered = strings.ReplaceAll(rendered, "{{.Forced}}", forced)
	return rendered
}

// ─── Context sections ─────────────────────────────────────────────────────────

func (a *Assembler) section(field string, req Request) string {
	st := req.State
	switch field {
	case router.FieldConversation:
		return a.conversation(st)
	case router.FieldProblemStatement:
		if st.ProblemStatement == "" {
			return ""
		}
		return "## Problem\n" + st.ProblemStatement + "\n"
	case router.FieldFrame:
		return frame(st)
	case router.FieldEvidence:
		return a.evidence(st)
	case router.FieldHypotheses:
		return a.hypotheses("## Hypotheses", st.SortedHypotheses())
	case router.FieldUntested:
		if h, ok := st.Hypotheses[req.Decision.TargetHypothesis]; ok {
			return a.hypotheses("## Hypothesis To Test", []*inv.Hypothesis{h})
		}
		return a.hypotheses("## Untested Hypotheses", st.UntestedHypotheses())
	case router.FieldTestCounters:
		return testCounters(st)
	case router.FieldMemory:
		rendered, _ := memory.Prune(req.Memory.Render(), a.cfg.MaxMemoryTokens)
		return rendered
	case router.FieldRootCause:
		if st.RootCause == nil {
			return ""
		}
		return fmt.Sprintf("## Root Cause\n%s (confidence %.2f)\n", st.RootCause.Statement, st.RootCause.Confidence)
	case router.FieldSolution:
		if st.Solution == nil {
			return ""
		}
		var sb strings.Builder
		sb.WriteString("## Solution\n")
		sb.WriteString(st.Solution.Description)
		sb.WriteString("\n")
		for i, step := range st.Solution.Steps {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
		}
		return sb.String()
	case router.FieldPendingRequests:
		if len(st.PendingRequests) == 0 {
			return ""
		}
		var sb strings.Builder
		sb.WriteString("## Outstanding Evidence Requests\n")
		for _, r := range st.PendingRequests {
			fmt.Fprintf(&sb, "- [%s] %s\n", r.Category, r.Label)
		}
		return sb.String()
	case router.FieldMitigation:
		return fmt.Sprintf("## Mitigation\nAttempts so far: %d. Mitigated: %t.\n", st.MitigationAttempts, st.Mitigated)
	case router.FieldEscalation:
		if st.EscalationReason == "" {
			return ""
		}
		return "## Escalation\nReason: " + st.EscalationReason + "\n"
	}
	return ""
}

func (a *Assembler) conversation(st *inv.State) string {
	turns := st.LastTurns(a.cfg.ConversationTurns)
	if len(turns) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Conversation\n")
	for _, t := range turns {
		fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Content)
	}
	return sb.String()
}

func frame(st *inv.State) string {
	if st.Frame == nil {
		return ""
	}
	f := st.Frame
	var sb strings.Builder
	sb.WriteString("## Problem Frame\n")
	fmt.Fprintf(&sb, "Statement: %s\n", f.Statement)
	if len(f.AffectedComponents) > 0 {
		fmt.Fprintf(&sb, "Affected: %s\n", strings.Join(f.AffectedComponents, ", "))
	}
	if f.Scope != "" {
		fmt.Fprintf(&sb, "Scope: %s\n", f.Scope)
	}
	if f.Severity != "" {
		fmt.Fprintf(&sb, "Severity: %s\n", f.Severity)
	}
	fmt.Fprintf(&sb, "Confidence: %.2f\n", f.Confidence)
	return sb.String()
}

func (a *Assembler) evidence(st *inv.State) string {
	items := st.SortedEvidence()
	if len(items) == 0 {
		return ""
	}
	// Newest items matter most once the list is long.
	if a.cfg.MaxItems > 0 && len(items) > a.cfg.MaxItems {
		items = items[len(items)-a.cfg.MaxItems:]
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Evidence (coverage %.2f)\n", st.Coverage)
	for _, ev := range items {
		fmt.Fprintf(&sb, "- %s [%s] %s", ev.ID, ev.Category, ev.Label)
		if ev.Description != "" {
			fmt.Fprintf(&sb, ": %s", ev.Description)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (a *Assembler) hypotheses(title string, hs []*inv.Hypothesis) string {
	if len(hs) == 0 {
		return ""
	}
	if a.cfg.MaxItems > 0 && len(hs) > a.cfg.MaxItems {
		hs = hs[len(hs)-a.cfg.MaxItems:]
	}
	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString("\n")
	for _, h := range hs {
		fmt.Fprintf(&sb, "- %s [%s] %.2f %s", h.ID, h.Category, h.Likelihood, h.Statement)
		if h.Tested {
			fmt.Fprintf(&sb, " (tested: %s)", h.TestResult)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func testCounters(st *inv.State) string {
	if len(st.TestCounters) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Tests By Category\n")
	for _, cat := range inv.HypothesisCategories {
		if c, ok := st.TestCounters[cat]; ok {
			fmt.Fprintf(&sb, "- %s: %d tested, %d consecutive without support\n", cat, c.Tested, c.ConsecutiveFailures)
		}
	}
	return sb.String()
}
