// Package parser extracts structured responses from raw generation output.
//
// Parse never fails: output that cannot be decoded or lacks the fields its
// shape requires yields a degraded Response carrying the raw text.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	inv "github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/investigation"
)

// FallbackAnswer is returned when the model produced no usable text at all.
const FallbackAnswer = "I couldn't produce a structured answer this time. Could you share a bit more detail so I can continue?"

// FrameUpdate proposes a new or revised anomaly frame.
type FrameUpdate struct {
	Statement          string   `json:"statement"`
	AffectedComponents []string `json:"affected_components,omitempty"`
	Scope              string   `json:"scope,omitempty"`
	Severity           string   `json:"severity,omitempty"`
	Confidence         *float64 `json:"confidence,omitempty"`
	Reason             string   `json:"reason,omitempty"`
}

// EvidenceUpdate is newly reported evidence.
type EvidenceUpdate struct {
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category"`
	Content     string   `json:"content,omitempty"`
	Source      string   `json:"source,omitempty"`
	Hypotheses  []string `json:"hypotheses,omitempty"`
}

// HypothesisUpdate is a proposed hypothesis.
type HypothesisUpdate struct {
	Statement  string   `json:"statement"`
	Category   string   `json:"category"`
	Likelihood *float64 `json:"likelihood,omitempty"`
	Evidence   []string `json:"evidence,omitempty"`
}

// TestResultUpdate reports the outcome of testing one hypothesis. The
// hypothesis is identified by id, or by statement when the id is absent.
type TestResultUpdate struct {
	HypothesisID    string   `json:"hypothesis_id,omitempty"`
	Statement       string   `json:"statement,omitempty"`
	Result          string   `json:"result"`
	LikelihoodDelta *float64 `json:"likelihood_delta,omitempty"`
	Evidence        []string `json:"evidence,omitempty"`
}

// RootCauseUpdate identifies the root cause.
type RootCauseUpdate struct {
	Statement    string   `json:"statement"`
	HypothesisID string   `json:"hypothesis_id,omitempty"`
	Confidence   *float64 `json:"confidence,omitempty"`
}

// SolutionUpdate proposes a remediation.
type SolutionUpdate struct {
	Description  string   `json:"description"`
	Steps        []string `json:"steps,omitempty"`
	Verification string   `json:"verification,omitempty"`
}

// Response is the decoded generation output. Every field except Answer is
// optional.
type Response struct {
	Answer           string `json:"answer"`
	Mode             string `json:"mode,omitempty"`
	ProblemStatement string `json:"problem_statement,omitempty"`
	Urgency          string `json:"urgency,omitempty"`

	Frame            *FrameUpdate          `json:"frame,omitempty"`
	Evidence         []EvidenceUpdate      `json:"evidence,omitempty"`
	Hypotheses       []HypothesisUpdate    `json:"hypotheses,omitempty"`
	TestResults      []TestResultUpdate    `json:"test_results,omitempty"`
	RootCause        *RootCauseUpdate      `json:"root_cause,omitempty"`
	Solution         *SolutionUpdate       `json:"solution,omitempty"`
	EvidenceRequests []inv.EvidenceRequest `json:"evidence_requests,omitempty"`

	MitigationAttempted  bool `json:"mitigation_attempted,omitempty"`
	MitigationSuccessful bool `json:"mitigation_successful,omitempty"`

	StepComplete    bool     `json:"step_complete,omitempty"`
	ContinueTesting bool     `json:"continue_testing,omitempty"`
	PhaseComplete   bool     `json:"phase_complete,omitempty"`
	KeyInsight      string   `json:"key_insight,omitempty"`
	Confidence      *float64 `json:"confidence,omitempty"`
	NextStep        string   `json:"next_step,omitempty"`

	Shape    Shape       `json:"-"`
	Degraded bool        `json:"-"`
	Raw      string      `json:"-"`
	Err      *ParseError `json:"-"`
}

// ParseError explains why a response was degraded.
type ParseError struct {
	Shape  Shape
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s response: %s", e.Shape, e.Reason)
}

var fenced = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\r?\n?(.*?)```")

// Parse decodes raw as shape. It never returns nil.
func Parse(raw string, shape Shape) *Response {
	candidate, ok := extract(raw)
	if !ok {
		return degraded(raw, shape, "no JSON object found")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(candidate, &fields); err != nil {
		return degraded(raw, shape, err.Error())
	}
	for _, name := range RequiredFields(shape) {
		v, present := fields[name]
		if !present || isNull(v) {
			return degraded(raw, shape, fmt.Sprintf("missing required field %q", name))
		}
	}

	resp := &Response{}
	if err := json.Unmarshal(candidate, resp); err != nil {
		return degraded(raw, shape, err.Error())
	}
	if strings.TrimSpace(resp.Answer) == "" {
		return degraded(raw, shape, "empty answer")
	}
	resp.Shape = shape
	resp.Raw = raw
	return resp
}

func degraded(raw string, shape Shape, reason string) *Response {
	answer := strings.TrimSpace(stripFences(raw))
	if answer == "" {
		answer = FallbackAnswer
	}
	return &Response{
		Answer:   answer,
		Shape:    shape,
		Degraded: true,
		Raw:      raw,
		Err:      &ParseError{Shape: shape, Reason: reason},
	}
}

// Bounds on the brace scan. Each candidate costs a pass over the rest of the
// input, so both keep adversarial output from going quadratic.
const (
	maxScanBytes  = 1 << 20
	maxCandidates = 64
)

// extract finds a JSON object: first inside a fenced block, else the longest
// balanced brace-delimited substring that is valid JSON among the first
// maxCandidates opening braces of the first maxScanBytes.
func extract(raw string) ([]byte, bool) {
	for _, m := range fenced.FindAllStringSubmatch(raw, -1) {
		body := bytes.TrimSpace([]byte(m[1]))
		if len(body) > 0 && body[0] == '{' && json.Valid(body) {
			return body, true
		}
	}

	if len(raw) > maxScanBytes {
		raw = raw[:maxScanBytes]
	}
	var best []byte
	candidates := 0
	for start := 0; start < len(raw) && candidates < maxCandidates; start++ {
		if raw[start] != '{' {
			continue
		}
		candidates++
		end := matchBrace(raw, start)
		if end < 0 {
			continue
		}
		span := []byte(raw[start : end+1])
		if len(span) <= len(best) {
			continue
		}
		if json.Valid(span) {
			best = span
			// Objects nested in a valid span are shorter than it.
			start = end
		}
	}
	return best, best != nil
}

// matchBrace returns the index of the brace closing the one at start, or -1.
// Braces inside JSON strings are ignored.
func matchBrace(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func stripFences(raw string) string {
	return fenced.ReplaceAllStringFunc(raw, func(block string) string {
		m := fenced.FindStringSubmatch(block)
		if len(m) < 2 {
			return ""
		}
		return m[1]
	})
}
