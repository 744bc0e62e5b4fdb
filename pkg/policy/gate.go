package policy

import (
	"context"
	"fmt"

	"github.com/bountyscan/bountyscan/pkg/advisory"
	"github.com/bountyscan/bountyscan/pkg/scope"
)

// Advisor is the escalation contract the gate uses for cases local
// rules cannot resolve. A nil Advisor means escalation is unavailable.
type Advisor interface {
	ValidateScope(ctx context.Context, target string, inScope, outOfScope []string) (*advisory.Verdict, error)
	ValidateAction(ctx context.Context, req advisory.ActionRequest) (*advisory.Verdict, error)
}

// Auditor records every policy decision the gate makes. Implementations
// must serialize appends; the gate calls this before returning any
// decision. Audit failures never change a decision.
type Auditor interface {
	AppendPolicyDecision(target, actionKind string, res Result) error
}

// Confirmer obtains a manual override confirmation from an interactive
// channel. The returned string is the raw token the operator entered.
type Confirmer interface {
	Confirm(target, reason string) (string, error)
}

// OverrideToken is the exact confirmation an operator must supply to
// proceed against an Unknown scope decision.
const OverrideToken = "I_ACCEPT_RISK"

// Gate makes authorization decisions for targets and scanner actions.
// It is safe for concurrent use once constructed.
type Gate struct {
	manifest  *Manifest
	advisor   Advisor
	audit     Auditor
	confirmer Confirmer
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithAdvisor enables advisory escalation for unresolved decisions.
func WithAdvisor(a Advisor) GateOption {
	return func(g *Gate) { g.advisor = a }
}

// WithAuditor sets the audit sink for policy decisions.
func WithAuditor(a Auditor) GateOption {
	return func(g *Gate) { g.audit = a }
}

// WithConfirmer enables interactive manual overrides.
func WithConfirmer(c Confirmer) GateOption {
	return func(g *Gate) { g.confirmer = c }
}

// NewGate creates a gate over the given rule manifest. A nil manifest
// selects the built-in default rules.
func NewGate(m *Manifest, opts ...GateOption) *Gate {
	if m == nil {
		m = DefaultManifest()
	}
	g := &Gate{manifest: m}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ValidateScope decides whether a target may be tested at all.
//
// Out-of-scope patterns take precedence over in-scope patterns. A target
// matching neither is escalated to the advisor when one is configured;
// escalation failure resolves to Unknown, never to Allowed or Blocked.
// Every outcome is written to the audit log before it is returned.
func (g *Gate) ValidateScope(ctx context.Context, target string, def *scope.Definition) Result {
	if def == nil {
		return g.record(target, "scope_check", Result{
			Decision:   Unknown,
			Confidence: 0,
			Reason:     "no scope provided",
		})
	}

	if pattern, ok := def.MatchesOutOfScope(target); ok {
		return g.record(target, "scope_check", Result{
			Decision:   Blocked,
			Confidence: 1.0,
			Reason:     fmt.Sprintf("target matches out-of-scope pattern: %s", pattern),
		})
	}

	if pattern, ok := def.MatchesInScope(target); ok {
		return g.record(target, "scope_check", Result{
			Decision:   Allowed,
			Confidence: 1.0,
			Reason:     fmt.Sprintf("target matches in-scope pattern: %s", pattern),
		})
	}

	if g.advisor == nil {
		return g.record(target, "scope_check", Result{
			Decision:   Unknown,
			Confidence: 0,
			Reason:     "target matches no scope pattern and no advisor is configured",
		})
	}

	verdict, err := g.advisor.ValidateScope(ctx, target, def.InScope, def.OutOfScope)
	if err != nil {
		// Fail open to Unknown: ambiguity is resolved downstream, not
		// promoted to a hard decision here.
		return g.record(target, "scope_check_advisory", Result{
			Decision:   Unknown,
			Confidence: 0,
			Reason:     fmt.Sprintf("advisory scope validation failed: %v", err),
		})
	}
	return g.record(target, "scope_check_advisory", fromVerdict(verdict))
}

// ValidateAction decides whether one scanner action may run.
//
// Blocking rules are checked first and locally matched blocks are final.
// Actions matching a requires-validation rule are escalated when an
// advisor is configured; escalation failure resolves to Blocked with
// zero confidence. An action matching no rule is allowed.
func (g *Gate) ValidateAction(ctx context.Context, action Action) Result {
	kind := "scanner_" + action.ScannerKind

	if rule, ok := g.manifest.MatchBlocked(action.Template); ok {
		return g.record(action.Target, kind, Result{
			Decision:   Blocked,
			Confidence: 1.0,
			Reason:     fmt.Sprintf("template matches blocked pattern: %s", rule.ID),
		})
	}

	if rule, ok := g.manifest.MatchRequiresValidation(action.Template); ok {
		if g.advisor == nil {
			return g.record(action.Target, kind, Result{
				Decision:   RequiresValidation,
				Confidence: 0.5,
				Reason:     fmt.Sprintf("template matches validation pattern: %s", rule.ID),
			})
		}

		verdict, err := g.advisor.ValidateAction(ctx, advisory.ActionRequest{
			Scanner:  action.ScannerKind,
			Target:   action.Target,
			Template: action.Template,
			Severity: action.SeverityHint,
		})
		if err != nil {
			// Fail closed: an unvalidatable active action does not run.
			return g.record(action.Target, kind+"_advisory", Result{
				Decision:   Blocked,
				Confidence: 0,
				Reason:     fmt.Sprintf("advisory action validation failed: %v", err),
			})
		}
		return g.record(action.Target, kind+"_advisory", fromVerdict(verdict))
	}

	return g.record(action.Target, kind, Result{
		Decision:   Allowed,
		Confidence: 1.0,
		Reason:     "no policy restrictions matched",
	})
}

// RequestOverride asks the interactive channel to override a prior
// non-Allowed decision. Only the exact OverrideToken accepts the risk;
// anything else, including errors reading the channel, declines. An
// accepted override is written to the audit log.
func (g *Gate) RequestOverride(target string, prior Result) bool {
	if g.confirmer == nil {
		return false
	}
	token, err := g.confirmer.Confirm(target, prior.Reason)
	if err != nil || token != OverrideToken {
		return false
	}
	g.record(target, "manual_override", Result{
		Decision:   Allowed,
		Confidence: 1.0,
		Reason:     "manual override accepted",
		Details:    fmt.Sprintf("prior decision %s: %s", prior.Decision, prior.Reason),
	})
	return true
}

// record writes a decision to the audit log and returns it unchanged.
func (g *Gate) record(target, actionKind string, res Result) Result {
	if g.audit != nil {
		_ = g.audit.AppendPolicyDecision(target, actionKind, res)
	}
	return res
}
