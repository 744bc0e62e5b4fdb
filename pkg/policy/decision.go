// Package policy implements the decision gate that authorizes targets and
// scanner actions before anything touches the network. It composes three
// layers: structural scope matching, an ordered regex rule manifest, and
// escalation to the external advisory service for cases local rules cannot
// resolve.
//
// Failure handling is deliberately asymmetric: an advisory failure during
// scope validation resolves to Unknown (ambiguity is not inherently
// dangerous), while the same failure during action validation resolves to
// Blocked (an unvalidated active action is).
package policy

import "github.com/bountyscan/bountyscan/pkg/advisory"

// Decision is the gate's verdict. The string values are part of the
// persisted audit contract and must not change.
type Decision string

const (
	Allowed            Decision = "Allowed"
	Blocked            Decision = "Blocked"
	Unknown            Decision = "Unknown"
	RequiresValidation Decision = "RequiresValidation"
)

// Result is an auditable policy decision. Immutable once produced.
type Result struct {
	Decision   Decision `json:"decision"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason"`
	Details    string   `json:"details,omitempty"`
}

// Action describes one candidate scan operation pending authorization.
// It is constructed per action and consumed exactly once by the gate.
type Action struct {
	// ScannerKind names the scanner that would run (e.g. "nuclei").
	ScannerKind string

	// Target is the host the action would touch.
	Target string

	// Template identifies the template or rule the scanner would apply.
	Template string

	// SeverityHint is the severity band requested of the scanner.
	SeverityHint string
}

// fromVerdict maps an advisory verdict onto a gate result.
func fromVerdict(v *advisory.Verdict) Result {
	var d Decision
	switch v.Decision {
	case advisory.Allowed:
		d = Allowed
	case advisory.Blocked:
		d = Blocked
	default:
		d = Unknown
	}
	return Result{
		Decision:   d,
		Confidence: v.Confidence,
		Reason:     v.Reason(),
		Details:    joinDetails(v.NextSteps),
	}
}

func joinDetails(steps []string) string {
	switch len(steps) {
	case 0:
		return ""
	case 1:
		return steps[0]
	}
	s := steps[0]
	for _, step := range steps[1:] {
		s += "; " + step
	}
	return s
}
