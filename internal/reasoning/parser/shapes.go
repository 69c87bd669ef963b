package parser

// Shape identifies the JSON layout expected from a generation call.
type Shape string

const (
	ShapeConsultant        Shape = "consultant"
	ShapeIntake            Shape = "intake"
	ShapeProblemDefinition Shape = "problem_definition"
	ShapeTriage            Shape = "triage"
	ShapeMitigation        Shape = "mitigation"
	ShapeRCAFrame          Shape = "rca_frame"
	ShapeRCAScan           Shape = "rca_scan"
	ShapeRCABranch         Shape = "rca_branch"
	ShapeRCATest           Shape = "rca_test"
	ShapeRCAConclude       Shape = "rca_conclude"
	ShapeSolution          Shape = "solution"
	ShapeDocumentation     Shape = "documentation"
)

var requiredFields = map[Shape][]string{
	ShapeConsultant:        {"answer"},
	ShapeIntake:            {"answer"},
	ShapeProblemDefinition: {"answer", "frame"},
	ShapeTriage:            {"answer", "hypotheses"},
	ShapeMitigation:        {"answer"},
	ShapeRCAFrame:          {"answer", "frame"},
	ShapeRCAScan:           {"answer"},
	ShapeRCABranch:         {"answer", "hypotheses"},
	ShapeRCATest:           {"answer", "test_results"},
	ShapeRCAConclude:       {"answer"},
	ShapeSolution:          {"answer", "solution"},
	ShapeDocumentation:     {"answer"},
}

// RequiredFields returns the top-level keys a shape must carry.
func RequiredFields(s Shape) []string {
	return requiredFields[s]
}

// Known reports whether s is a defined shape.
func (s Shape) Known() bool {
	_, ok := requiredFields[s]
	return ok
}

// Example returns a JSON skeleton for s, used when instructing the model.
func (s Shape) Example() string {
	switch s {
	case ShapeProblemDefinition, ShapeRCAFrame:
		return `{"answer": "...", "frame": {"statement": "...", "affected_components": ["..."], "scope": "...", "severity": "high", "confidence": 0.7}, "evidence": [{"label": "...", "category": "symptoms"}], "step_complete": true}`
	case ShapeTriage, ShapeRCABranch:
		return `{"answer": "...", "hypotheses": [{"statement": "...", "category": "deployment", "likelihood": 0.6}], "confidence": 0.5, "step_complete": true}`
	case ShapeRCATest:
		return `{"answer": "...", "test_results": [{"hypothesis_id": "hyp-001", "result": "refutes"}], "continue_testing": false, "confidence": 0.5, "step_complete": true}`
	case ShapeRCAConclude:
		return `{"answer": "...", "root_cause": {"statement": "...", "hypothesis_id": "hyp-001", "confidence": 0.8}, "key_insight": "...", "step_complete": true}`
	case ShapeSolution:
		return `{"answer": "...", "solution": {"description": "...", "steps": ["..."], "verification": "..."}, "phase_complete": true}`
	case ShapeMitigation:
		return `{"answer": "...", "mitigation_attempted": true, "mitigation_successful": false}`
	case ShapeIntake:
		return `{"answer": "...", "mode": "investigator", "problem_statement": "...", "urgency": "high"}`
	}
	return `{"answer": "...", "next_step": "..."}`
}
