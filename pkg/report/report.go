// Package report renders a run's triaged findings as a markdown report
// and a PDF summary. Findings are ordered by fused triage score;
// findings triaged as false positives are moved to an appendix rather
// than dropped, so the report stays auditable.
package report

import (
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/bountyscan/bountyscan/pkg/finding"
	"github.com/bountyscan/bountyscan/pkg/storage"
)

// Data is everything a report renderer needs, precomputed once.
type Data struct {
	RunID       string
	Target      string
	Mode        string
	Status      string
	GeneratedAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time

	// Findings ordered by final score descending, false positives
	// excluded.
	Findings []*finding.Record

	// FalsePositives holds findings triaged out of the main body.
	FalsePositives []*finding.Record

	// SeverityCounts counts kept findings per effective severity.
	SeverityCounts map[finding.Severity]int
}

// titleCaser renders severity labels in the report headings.
var titleCaser = cases.Title(language.English)

// Build assembles report data from a run record and its findings.
func Build(run *storage.RunRecord, records []*finding.Record) *Data {
	data := &Data{
		RunID:          run.ID,
		Target:         run.Target,
		Mode:           run.Mode,
		Status:         string(run.Status),
		GeneratedAt:    time.Now().UTC(),
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
		SeverityCounts: make(map[finding.Severity]int),
	}

	sorted := make([]*finding.Record, len(records))
	copy(sorted, records)
	finding.SortByScore(sorted)

	for _, r := range sorted {
		if r.Triage != nil && r.Triage.IsFalsePositive {
			data.FalsePositives = append(data.FalsePositives, r)
			continue
		}
		data.Findings = append(data.Findings, r)
		data.SeverityCounts[r.EffectiveSeverity()]++
	}
	return data
}

// TotalKept returns how many findings made the report body.
func (d *Data) TotalKept() int { return len(d.Findings) }

// SeverityRows returns kept-finding counts ordered most severe first,
// zero-count severities omitted.
type SeverityRow struct {
	Label string
	Count int
}

func (d *Data) SeverityRows() []SeverityRow {
	var rows []SeverityRow
	for _, sev := range finding.Ordered() {
		if n := d.SeverityCounts[sev]; n > 0 {
			rows = append(rows, SeverityRow{Label: titleCaser.String(sev.String()), Count: n})
		}
	}
	return rows
}
