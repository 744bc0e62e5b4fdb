package triage

import (
	"context"

	"github.com/bountyscan/bountyscan/pkg/advisory"
	"github.com/bountyscan/bountyscan/pkg/finding"
)

// Default fusion weights. The external signal carries more weight
// because it sees evidence context the local model cannot.
const (
	DefaultMLWeight  = 0.4
	DefaultLLMWeight = 0.6
)

// falsePositiveThreshold marks the score below which a finding is
// treated as a false positive regardless of the advisory's FP flag.
const falsePositiveThreshold = 0.3

// FindingScorer is the advisory contract triage consumes. Nil means
// the external signal is unavailable and degrades to neutral.
type FindingScorer interface {
	ScoreFinding(ctx context.Context, f *finding.Record) (*advisory.FindingScore, error)
}

// Scorer fuses the local classifier signal with the advisory signal.
type Scorer struct {
	// ml is the local model signal, seamed for tests that need an exact
	// classifier score.
	ml        func(*finding.Record) float64
	advisor   FindingScorer
	mlWeight  float64
	llmWeight float64
}

// ScorerOption configures a Scorer.
type ScorerOption func(*Scorer)

// WithWeights overrides the fusion weights. The pair is applied as
// given, without renormalization: weights are expected to sum near 1,
// and a pair summing above 1 can only push the fused score to the
// clamp. A pair with no positive weight keeps the defaults.
func WithWeights(ml, llm float64) ScorerOption {
	return func(s *Scorer) {
		if ml <= 0 && llm <= 0 {
			return
		}
		s.mlWeight = ml
		s.llmWeight = llm
	}
}

// NewScorer creates a fusion scorer. Both the classifier and the
// advisor may be nil; each missing signal contributes a neutral 0.5.
func NewScorer(classifier *Classifier, advisor FindingScorer, opts ...ScorerOption) *Scorer {
	s := &Scorer{
		ml:        classifier.Predict,
		advisor:   advisor,
		mlWeight:  DefaultMLWeight,
		llmWeight: DefaultLLMWeight,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score triages one finding and attaches the result to it. An advisory
// failure never fails triage: the external signal degrades to 0.5 with
// zero confidence and the explanation records the degradation.
func (s *Scorer) Score(ctx context.Context, f *finding.Record) *finding.TriageResult {
	mlScore := s.ml(f)

	llmScore := 0.5
	confidence := 0.0
	explanation := "advisory scoring unavailable"
	likelyFP := false

	if s.advisor != nil {
		if scored, err := s.advisor.ScoreFinding(ctx, f); err == nil {
			llmScore = scored.Score
			confidence = scored.Confidence
			explanation = scored.Explanation
			likelyFP = scored.IsLikelyFP
		} else {
			explanation = "advisory scoring failed: " + err.Error()
		}
	}

	final := clamp01(s.mlWeight*mlScore + s.llmWeight*llmScore)

	res := &finding.TriageResult{
		MLScore:          mlScore,
		LLMScore:         llmScore,
		FinalScore:       final,
		Confidence:       confidence,
		Explanation:      explanation,
		IsFalsePositive:  likelyFP || final < falsePositiveThreshold,
		SeverityAdjusted: adjustSeverity(f.Severity, final),
	}
	f.Triage = res
	return res
}

// ScoreAll triages findings in order. Cancellation stops before the
// next finding; already-triaged results are kept.
func (s *Scorer) ScoreAll(ctx context.Context, records []*finding.Record) error {
	for _, f := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.Score(ctx, f)
	}
	return nil
}

// adjustSeverity maps the fused score onto the reported severity.
// Low scores demote, a very high score promotes medium findings, and
// everything else keeps the scanner's word.
func adjustSeverity(reported finding.Severity, final float64) finding.Severity {
	switch {
	case final < falsePositiveThreshold:
		return finding.Info
	case final < 0.5:
		if reported == finding.High || reported == finding.Critical {
			return finding.Medium
		}
	case final > 0.8:
		if reported == finding.Medium {
			return finding.High
		}
	}
	return reported
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
