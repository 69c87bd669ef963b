// Package memory builds tiered conversational context from past analysis
// loop iterations.
//
// Tiers:
//
//	hot:  the most recent closed iterations, full detail
//	warm: the iterations before those, abbreviated
//	cold: everything older, folded into one sentence
//
// Building is read-only and deterministic for a given state.
package memory

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	inv "github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/investigation"
)

// Config sets the tier sizes in iterations.
type Config struct {
	HotIterations  int
	WarmIterations int
}

// DefaultConfig returns 2 hot and 3 warm iterations.
func DefaultConfig() Config {
	return Config{HotIterations: 2, WarmIterations: 3}
}

// IterationDetail is a hot-tier iteration.
type IterationDetail struct {
	Number            int
	Results           []StepSummary
	HypothesesTouched []string
	EvidenceTouched   []string
	KeyInsight        string
	Confidence        []float64
}

// StepSummary is one step's recorded result.
type StepSummary struct {
	Step   inv.LoopStep
	Result string
}

// IterationBrief is a warm-tier iteration.
type IterationBrief struct {
	Number     int
	KeyInsight string
	Touched    int
	Confidence *float64
}

// Context is the tiered memory for one generation request.
type Context struct {
	Hot  []IterationDetail
	Warm []IterationBrief
	Cold string
}

// Empty reports whether there is nothing to remember.
func (c Context) Empty() bool {
	return len(c.Hot) == 0 && len(c.Warm) == 0 && c.Cold == ""
}

var stepOrder = []inv.LoopStep{inv.StepFrame, inv.StepScan, inv.StepBranch, inv.StepTest, inv.StepConclude}

// Build partitions st's closed iterations into tiers. It does not modify st.
func Build(st *inv.State, cfg Config) Context {
	closed := st.ClosedIterations()
	hotN, warmN := max(cfg.HotIterations, 0), max(cfg.WarmIterations, 0)

	hotStart := max(len(closed)-hotN, 0)
	warmStart := max(hotStart-warmN, 0)

	var c Context
	for _, it := range closed[hotStart:] {
		c.Hot = append(c.Hot, detail(it))
	}
	for _, it := range closed[warmStart:hotStart] {
		c.Warm = append(c.Warm, brief(it))
	}
	if older := warmStart; older > 0 {
		c.Cold = fmt.Sprintf("%d earlier %s explored %d %s in total.",
			older, plural(older, "iteration", "iterations"),
			len(st.Hypotheses), plural(len(st.Hypotheses), "hypothesis", "hypotheses"))
	}
	return c
}

func detail(it *inv.AnalysisLoopIteration) IterationDetail {
	d := IterationDetail{
		Number:            it.Number,
		HypothesesTouched: sortedCopy(it.HypothesesTouched),
		EvidenceTouched:   sortedCopy(it.EvidenceTouched),
		KeyInsight:        it.KeyInsight,
		Confidence:        append([]float64(nil), it.ConfidenceProgression...),
	}
	for _, step := range stepOrder {
		if r, ok := it.Results[step]; ok && r != "" {
			d.Results = append(d.Results, StepSummary{Step: step, Result: r})
		}
	}
	return d
}

func brief(it *inv.AnalysisLoopIteration) IterationBrief {
	b := IterationBrief{
		Number:     it.Number,
		KeyInsight: it.KeyInsight,
		Touched:    len(it.HypothesesTouched),
	}
	if n := len(it.ConfidenceProgression); n > 0 {
		v := it.ConfidenceProgression[n-1]
		b.Confidence = &v
	}
	return b
}

func sortedCopy(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := append([]string(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return inv.LessID(out[i], out[j]) })
	return out
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// Render formats the context as markdown sections for a prompt.
func (c Context) Render() string {
	if c.Empty() {
		return ""
	}
	var sb strings.Builder

	if c.Cold != "" {
		sb.WriteString("## Earlier Iterations\n")
		sb.WriteString(c.Cold)
		sb.WriteString("\n\n")
	}

	if len(c.Warm) > 0 {
		sb.WriteString("## Recent Iterations (summary)\n")
		for _, b := range c.Warm {
			fmt.Fprintf(&sb, "- Iteration %d: touched %d hypotheses", b.Number, b.Touched)
			if b.Confidence != nil {
				fmt.Fprintf(&sb, ", confidence %.2f", *b.Confidence)
			}
			if b.KeyInsight != "" {
				fmt.Fprintf(&sb, ". %s", b.KeyInsight)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if len(c.Hot) > 0 {
		sb.WriteString("## Latest Iterations\n")
		for _, d := range c.Hot {
			fmt.Fprintf(&sb, "### Iteration %d\n", d.Number)
			for _, r := range d.Results {
				fmt.Fprintf(&sb, "- %s: %s\n", r.Step, r.Result)
			}
			if len(d.HypothesesTouched) > 0 {
				fmt.Fprintf(&sb, "- Hypotheses: %s\n", strings.Join(d.HypothesesTouched, ", "))
			}
			if len(d.EvidenceTouched) > 0 {
				fmt.Fprintf(&sb, "- Evidence: %s\n", strings.Join(d.EvidenceTouched, ", "))
			}
			if d.KeyInsight != "" {
				fmt.Fprintf(&sb, "- Key insight: %s\n", d.KeyInsight)
			}
			if len(d.Confidence) > 0 {
				vals := make([]string, len(d.Confidence))
				for i, v := range d.Confidence {
					vals[i] = fmt.Sprintf("%.2f", v)
				}
				fmt.Fprintf(&sb, "- Confidence: %s\n", strings.Join(vals, " → "))
			}
			sb.WriteString("\n")
		}
	}

	return strings.TrimRight(sb.String(), "\n") + "\n"
}

// EstimateTokens approximates token usage at four characters per token.
func EstimateTokens(s string) int {
	return utf8.RuneCountInString(s) / 4
}

// Prune drops whole "## " sections from the front of rendered text until it
// fits maxTokens, keeping the newest material. It returns the kept text and
// the titles of the dropped sections.
func Prune(rendered string, maxTokens int) (string, []string) {
	if maxTokens <= 0 || EstimateTokens(rendered) <= maxTokens {
		return rendered, nil
	}

	sections := splitSections(rendered)
	var removed []string
	for len(sections) > 1 && EstimateTokens(strings.Join(sections, "")) > maxTokens {
		title, _, _ := strings.Cut(strings.TrimPrefix(sections[0], "## "), "\n")
		removed = append(removed, title)
		sections = sections[1:]
	}
	return strings.Join(sections, ""), removed
}

func splitSections(s string) []string {
	var out []string
	for len(s) > 0 {
		next := strings.Index(s[1:], "\n## ")
		if next < 0 {
			out = append(out, s)
			break
		}
		cut := next + 2 // keep the newline with the previous section
		out = append(out, s[:cut])
		s = s[cut:]
	}
	return out
}
