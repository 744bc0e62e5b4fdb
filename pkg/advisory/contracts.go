package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bountyscan/bountyscan/pkg/finding"
)

// Decision is the strictly-typed verdict the reasoning service may return.
// Any other value in a response payload is a parse failure.
type Decision string

const (
	Allowed Decision = "ALLOWED"
	Blocked Decision = "BLOCKED"
	Unknown Decision = "UNKNOWN"
)

// Verdict is the validated payload of a scope or action escalation.
type Verdict struct {
	Decision   Decision
	Confidence float64
	Reasons    []string
	// NextSteps holds suggested next steps (scope escalations) or the
	// reported risk level (action escalations).
	NextSteps []string
}

// Reason joins the individual reasons into one auditable string.
func (v *Verdict) Reason() string {
	if len(v.Reasons) == 0 {
		return "advisory validation"
	}
	return strings.Join(v.Reasons, "; ")
}

// FindingScore is the validated payload of a finding-scoring call.
type FindingScore struct {
	Score        float64
	Confidence   float64
	Explanation  string
	SeverityHint string
	IsLikelyFP   bool
}

const scopeSystemPrompt = `You are a strict security policy assistant for bug bounty programs.
Your role is to determine if a target is within the scope of a security testing program.

Respond ONLY with valid JSON in this exact format:
{
  "decision": "ALLOWED" or "BLOCKED" or "UNKNOWN",
  "confidence": 0.0 to 1.0,
  "reasons": ["reason1", "reason2"],
  "suggested_next_steps": ["step1", "step2"]
}

Rules:
- ALLOWED: Target clearly matches in-scope patterns
- BLOCKED: Target clearly matches out-of-scope patterns or is high-risk
- UNKNOWN: Insufficient information to make determination
- Never suggest evasive or destructive actions
- Be conservative - when in doubt, return UNKNOWN`

const actionSystemPrompt = `You are a security policy validator for ethical bug bounty testing.
Evaluate if a proposed scanner action is safe and appropriate.

Respond ONLY with valid JSON:
{
  "decision": "ALLOWED" or "BLOCKED",
  "confidence": 0.0 to 1.0,
  "reasons": ["reason1"],
  "risk_level": "low" or "medium" or "high"
}

BLOCK if:
- Action could cause damage or disruption
- Action involves exploitation (not just detection)
- Action is outside typical bug bounty scope

ALLOW if:
- Action is read-only or passive
- Action is standard vulnerability detection
- Risk is low and within ethical bounds`

const scoringSystemPrompt = `You are a security researcher evaluating vulnerability findings.
Score the finding from 0.0 (false positive) to 1.0 (critical true positive).

Respond with JSON:
{
  "score": 0.0 to 1.0,
  "confidence": 0.0 to 1.0,
  "explanation": "brief explanation",
  "severity": "info|low|medium|high|critical",
  "is_likely_fp": true or false
}

Consider:
- Evidence quality
- Exploitability
- Impact
- Context`

// ValidateScope escalates an unmatched target to the reasoning service.
// The prompt is bounded and deterministic for given inputs.
func (c *Client) ValidateScope(ctx context.Context, target string, inScope, outOfScope []string) (*Verdict, error) {
	prompt := fmt.Sprintf("Target: %s\n\nIn-Scope Patterns: %s\nOut-of-Scope Patterns: %s\n\nIs this target within scope for security testing?",
		target, mustJSON(inScope), mustJSON(outOfScope))

	text, err := c.Ask(ctx, prompt, scopeSystemPrompt, 500, 0.1)
	if err != nil {
		return nil, err
	}
	return parseVerdict(text, "suggested_next_steps")
}

// ActionRequest describes the scanner action being escalated.
type ActionRequest struct {
	Scanner  string
	Target   string
	Template string
	Severity string
}

// ValidateAction escalates a flagged scanner action to the reasoning
// service.
func (c *Client) ValidateAction(ctx context.Context, req ActionRequest) (*Verdict, error) {
	template := req.Template
	if template == "" {
		template = "N/A"
	}
	severity := req.Severity
	if severity == "" {
		severity = "N/A"
	}
	prompt := fmt.Sprintf("Scanner Action:\nScanner: %s\nTarget: %s\nTemplate: %s\nSeverity: %s\n\nShould this action be allowed?",
		req.Scanner, req.Target, template, severity)

	text, err := c.Ask(ctx, prompt, actionSystemPrompt, 400, 0.1)
	if err != nil {
		return nil, err
	}
	return parseVerdict(text, "risk_level")
}

// evidenceLimit bounds how much raw evidence is sent per finding.
const evidenceLimit = 500

// ScoreFinding asks the reasoning service to score a finding.
func (c *Client) ScoreFinding(ctx context.Context, f *finding.Record) (*FindingScore, error) {
	prompt := fmt.Sprintf("Finding:\nName: %s\nSeverity: %s\nDescription: %s\nEvidence: %s\n\nScore this finding:",
		orNA(f.Name), orNA(string(f.Severity)), orNA(f.Description), flattenEvidence(f.Evidence))

	text, err := c.Ask(ctx, prompt, scoringSystemPrompt, 400, 0.2)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Score       *float64 `json:"score"`
		Confidence  float64  `json:"confidence"`
		Explanation string   `json:"explanation"`
		Severity    string   `json:"severity"`
		IsLikelyFP  bool     `json:"is_likely_fp"`
	}
	if err := unmarshalStrict(text, &raw); err != nil {
		return nil, err
	}
	if raw.Score == nil {
		return nil, fmt.Errorf("advisory score payload missing score field")
	}
	if *raw.Score < 0 || *raw.Score > 1 {
		return nil, fmt.Errorf("advisory score %v outside [0,1]", *raw.Score)
	}
	return &FindingScore{
		Score:        *raw.Score,
		Confidence:   clamp01(raw.Confidence),
		Explanation:  raw.Explanation,
		SeverityHint: raw.Severity,
		IsLikelyFP:   raw.IsLikelyFP,
	}, nil
}

// parseVerdict validates a decision payload. A missing decision field or a
// value outside the enum is a failure, never silently defaulted.
func parseVerdict(text, detailField string) (*Verdict, error) {
	var raw map[string]json.RawMessage
	if err := unmarshalStrict(text, &raw); err != nil {
		return nil, err
	}

	decRaw, ok := raw["decision"]
	if !ok {
		return nil, fmt.Errorf("advisory payload missing decision field")
	}
	var decStr string
	if err := json.Unmarshal(decRaw, &decStr); err != nil {
		return nil, fmt.Errorf("advisory decision field: %w", err)
	}

	var decision Decision
	switch Decision(strings.ToUpper(decStr)) {
	case Allowed:
		decision = Allowed
	case Blocked:
		decision = Blocked
	case Unknown:
		decision = Unknown
	default:
		return nil, fmt.Errorf("advisory decision %q outside allowed values", decStr)
	}

	v := &Verdict{Decision: decision}
	if confRaw, ok := raw["confidence"]; ok {
		var conf float64
		if err := json.Unmarshal(confRaw, &conf); err != nil {
			return nil, fmt.Errorf("advisory confidence field: %w", err)
		}
		v.Confidence = clamp01(conf)
	}
	if reasonsRaw, ok := raw["reasons"]; ok {
		_ = json.Unmarshal(reasonsRaw, &v.Reasons)
	}
	if detailRaw, ok := raw[detailField]; ok {
		if err := json.Unmarshal(detailRaw, &v.NextSteps); err != nil {
			// risk_level is a bare string, not a list.
			var single string
			if json.Unmarshal(detailRaw, &single) == nil && single != "" {
				v.NextSteps = []string{single}
			}
		}
	}
	return v, nil
}

// unmarshalStrict parses JSON out of a model response, tolerating markdown
// code fences but nothing else.
func unmarshalStrict(text string, v any) error {
	cleaned := stripFences(text)
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("malformed advisory payload: %w", err)
	}
	return nil
}

// stripFences extracts the body of a ```json ... ``` or ``` ... ``` block.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	for _, fence := range []string{"```json", "```"} {
		if idx := strings.Index(trimmed, fence); idx >= 0 {
			rest := trimmed[idx+len(fence):]
			if end := strings.Index(rest, "```"); end >= 0 {
				return strings.TrimSpace(rest[:end])
			}
		}
	}
	return trimmed
}

// flattenEvidence renders evidence deterministically, bounded to
// evidenceLimit bytes.
func flattenEvidence(ev map[string]string) string {
	if len(ev) == 0 {
		return "N/A"
	}
	keys := make([]string, 0, len(ev))
	for k := range ev {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		if sb.Len() > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(ev[k])
		if sb.Len() >= evidenceLimit {
			break
		}
	}
	s := sb.String()
	if len(s) > evidenceLimit {
		s = s[:evidenceLimit]
	}
	return s
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
