// Package intent extracts lightweight signals from a user message: urgency,
// whether a problem is being reported, explicit escalation requests,
// blocked-access statements and evidence hints.
//
// The heuristics are keyword tables held in Config so they can be tuned
// without touching the matching code.
package intent

import (
	"regexp"
	"strings"

	inv "github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/investigation"
)

// Config holds the keyword tables. Matching is case-insensitive on whole
// phrases.
type Config struct {
	Urgency    map[inv.Urgency][]string
	Problem    []string
	Escalation []string
	Blocked    []string
	Symptom    []string
	Scope      []string
	Timeline   []string
}

// DefaultConfig returns the standard keyword tables.
func DefaultConfig() Config {
	return Config{
		Urgency: map[inv.Urgency][]string{
			inv.UrgencyCritical: {"outage", "down", "sev1", "sev-1", "p0", "data loss", "production is broken"},
			inv.UrgencyHigh:     {"urgent", "asap", "customers affected", "users affected", "sev2", "p1", "500"},
			inv.UrgencyMedium:   {"slow", "degraded", "intermittent", "flaky", "latency"},
		},
		Problem: []string{
			"error", "errors", "failing", "failed", "failure", "broken", "down", "outage",
			"crash", "crashing", "timeout", "timeouts", "not working", "exception", "slow",
			"degraded", "500", "502", "503", "504", "oom", "stuck",
		},
		Escalation: []string{
			"escalate", "talk to a human", "speak to a human", "page on-call", "page oncall",
			"need an engineer", "hand this off", "get someone",
		},
		Blocked: []string{
			"don't have access", "dont have access", "do not have access", "no access",
			"can't access", "cannot access", "can't get", "cannot get", "permission denied",
			"not allowed to", "unable to access", "locked out",
		},
		Symptom: []string{
			"error", "errors", "exception", "timeout", "crash", "failing", "down", "500",
			"502", "503", "504", "latency", "slow", "oom",
		},
		Scope: []string{
			"all users", "some users", "customers", "region", "regions", "only", "every",
			"percent", "cluster", "endpoint",
		},
		Timeline: []string{"started", "since", "ago", "began", "yesterday", "today", "after", "before", "deploy was"},
	}
}

var (
	clockTime = regexp.MustCompile(`\b([01]?\d|2[0-3]):[0-5]\d\b`)
	clauseSep = regexp.MustCompile(`[,.;\n]+`)
)

// EvidenceHint is a clause of the message that looks like evidence.
type EvidenceHint struct {
	Category inv.EvidenceCategory
	Text     string
}

// Signals is the classifier output.
type Signals struct {
	Text                string
	Urgency             inv.Urgency
	ProblemDetected     bool
	EscalationRequested bool
	BlockedEvidence     bool
	Hints               []EvidenceHint
}

// Classifier applies a Config to messages.
type Classifier struct {
	cfg Config
}

// NewClassifier returns a classifier for cfg.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify extracts signals from msg. Urgency is empty when nothing matched.
func (c *Classifier) Classify(msg string) Signals {
	lower := strings.ToLower(msg)
	s := Signals{Text: msg}

	for _, u := range []inv.Urgency{inv.UrgencyCritical, inv.UrgencyHigh, inv.UrgencyMedium} {
		if containsAny(lower, c.cfg.Urgency[u]) {
			s.Urgency = u
			break
		}
	}
	s.ProblemDetected = containsAny(lower, c.cfg.Problem)
	s.EscalationRequested = containsAny(lower, c.cfg.Escalation)
	s.BlockedEvidence = c.IsBlocked(msg)
	s.Hints = c.hints(msg)
	return s
}

// IsBlocked reports whether text says evidence cannot be obtained.
func (c *Classifier) IsBlocked(text string) bool {
	return containsAny(strings.ToLower(text), c.cfg.Blocked)
}

// hints classifies each clause of msg. A clause yields at most one hint:
// timeline wins over symptoms, symptoms over scope.
func (c *Classifier) hints(msg string) []EvidenceHint {
	var out []EvidenceHint
	for _, clause := range splitClauses(msg) {
		lower := strings.ToLower(clause)
		switch {
		case clockTime.MatchString(clause) || containsAny(lower, c.cfg.Timeline):
			out = append(out, EvidenceHint{Category: inv.EvidenceTimeline, Text: clause})
		case containsAny(lower, c.cfg.Symptom):
			out = append(out, EvidenceHint{Category: inv.EvidenceSymptoms, Text: clause})
		case containsAny(lower, c.cfg.Scope):
			out = append(out, EvidenceHint{Category: inv.EvidenceScope, Text: clause})
		}
	}
	return out
}

// splitClauses splits on punctuation. Colons are kept so clock times such as
// 14:20 stay whole.
func splitClauses(msg string) []string {
	var out []string
	for _, part := range clauseSep.Split(msg, -1) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// containsAny reports whether text contains any phrase on word boundaries.
func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if containsPhrase(text, p) {
			return true
		}
	}
	return false
}

func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	for start := 0; ; {
		i := strings.Index(text[start:], phrase)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(phrase)
		before := i == 0 || !isWordByte(text[i-1])
		after := end == len(text) || !isWordByte(text[end])
		if before && after {
			return true
		}
		start = i + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '_'
}
