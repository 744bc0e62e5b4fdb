// Package finding defines the typed result contract produced by scan
// adapters and enriched by triage. A Record is created by exactly one
// adapter, owned by the pipeline run that requested it, and mutated in one
// place only: the triage scorer filling in the Triage fields.
package finding

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
)

// Record is a single security finding reported by a scan adapter.
type Record struct {
	// ID uniquely identifies the finding within a run.
	ID string `json:"id"`

	// Target is the host or URL the finding was observed on.
	Target string `json:"target"`

	// Name is the scanner's short title for the finding.
	Name string `json:"name"`

	// Severity as reported by the scanner, before triage adjustment.
	Severity Severity `json:"severity"`

	// Description is the scanner's longer explanation, if any.
	Description string `json:"description,omitempty"`

	// Evidence holds structured proof data (matched strings, URLs, headers).
	Evidence map[string]string `json:"evidence,omitempty"`

	// ScannerKind names the adapter that produced the finding.
	ScannerKind string `json:"scanner_kind"`

	// MatchedAt is the exact location the scanner matched, when known.
	MatchedAt string `json:"matched_at,omitempty"`

	// Timestamp is when the adapter produced the record.
	Timestamp time.Time `json:"timestamp"`

	// Triage is filled in by the fusion scorer. Nil until triaged.
	Triage *TriageResult `json:"triage,omitempty"`
}

// TriageResult carries the fused quality signals for a finding.
type TriageResult struct {
	MLScore          float64  `json:"ml_score"`
	LLMScore         float64  `json:"llm_score"`
	FinalScore       float64  `json:"final_score"`
	Confidence       float64  `json:"confidence"`
	Explanation      string   `json:"explanation,omitempty"`
	IsFalsePositive  bool     `json:"is_false_positive"`
	SeverityAdjusted Severity `json:"severity_adjusted"`
}

// New creates a Record with a fresh ID and timestamp.
func New(scannerKind, target, name string, severity Severity) *Record {
	return &Record{
		ID:          uuid.NewString(),
		Target:      target,
		Name:        name,
		Severity:    severity,
		ScannerKind: scannerKind,
		Timestamp:   time.Now().UTC(),
	}
}

// Fingerprint returns a stable dedup key: findings with the same scanner,
// target, name, and match location hash identically regardless of ID or
// timestamp.
func (r *Record) Fingerprint() uint64 {
	h := murmur3.New64()
	fmt.Fprintf(h, "%s|%s|%s|%s", r.ScannerKind, r.Target, r.Name, r.MatchedAt)
	return h.Sum64()
}

// FinalScore returns the fused triage score, or 0 when untriaged.
func (r *Record) FinalScore() float64 {
	if r.Triage == nil {
		return 0
	}
	return r.Triage.FinalScore
}

// EffectiveSeverity returns the triage-adjusted severity when available,
// falling back to the scanner-reported one.
func (r *Record) EffectiveSeverity() Severity {
	if r.Triage != nil && r.Triage.SeverityAdjusted != "" {
		return r.Triage.SeverityAdjusted
	}
	return r.Severity
}

// SortByScore orders findings by final score descending. Untriaged
// findings sort last; ties break on severity rank, then name, so the
// order is deterministic.
func SortByScore(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		si, sj := records[i].FinalScore(), records[j].FinalScore()
		if si != sj {
			return si > sj
		}
		ri, rj := records[i].EffectiveSeverity().Rank(), records[j].EffectiveSeverity().Rank()
		if ri != rj {
			return ri > rj
		}
		return records[i].Name < records[j].Name
	})
}

// Dedup collapses findings sharing a fingerprint, keeping first occurrence
// order.
func Dedup(records []*Record) []*Record {
	if len(records) <= 1 {
		return records
	}
	seen := make(map[uint64]bool, len(records))
	out := records[:0]
	for _, r := range records {
		fp := r.Fingerprint()
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, r)
	}
	return out
}
