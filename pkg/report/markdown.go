package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

const markdownTemplate = `# Security Assessment Report

**Target:** {{ .Target }}
**Run:** {{ .RunID }} ({{ .Mode }})
**Status:** {{ .Status }}
**Generated:** {{ .GeneratedAt.Format "2006-01-02 15:04:05 MST" }}

## Summary

{{ .TotalKept }} finding(s) after triage{{ with len .FalsePositives }}, {{ . }} excluded as likely false positive(s){{ end }}.
{{ if .SeverityRows }}
| Severity | Count |
|---|---|
{{- range .SeverityRows }}
| {{ .Label }} | {{ .Count }} |
{{- end }}
{{ end }}
## Findings
{{ if not .Findings }}
No findings survived triage.
{{ end }}
{{- range $i, $f := .Findings }}
### {{ add $i 1 }}. {{ $f.Name }}

- **Severity:** {{ $f.EffectiveSeverity }}{{ if ne $f.EffectiveSeverity $f.Severity }} (reported {{ $f.Severity }}){{ end }}
- **Target:** {{ $f.Target }}
- **Scanner:** {{ $f.ScannerKind }}
{{- if $f.MatchedAt }}
- **Matched at:** {{ $f.MatchedAt }}
{{- end }}
{{- with $f.Triage }}
- **Score:** {{ printf "%.2f" .FinalScore }} (ml {{ printf "%.2f" .MLScore }}, llm {{ printf "%.2f" .LLMScore }}, confidence {{ printf "%.2f" .Confidence }})
{{- if .Explanation }}
- **Assessment:** {{ .Explanation }}
{{- end }}
{{- end }}
{{- if $f.Description }}

{{ $f.Description }}
{{- end }}
{{- range $k, $v := $f.Evidence }}
- {{ $k }}: ` + "`{{ $v }}`" + `
{{- end }}
{{ end }}
{{- if .FalsePositives }}
## Appendix: excluded as likely false positives
{{ range .FalsePositives }}
- {{ .Name }} ({{ .Target }}{{ with .Triage }}, score {{ printf "%.2f" .FinalScore }}{{ end }})
{{- end }}
{{ end }}`

// MarkdownWriter renders reports as markdown.
type MarkdownWriter struct {
	tmpl *template.Template
}

// NewMarkdownWriter parses the report template once.
func NewMarkdownWriter() (*MarkdownWriter, error) {
	tmpl, err := template.New("report").Funcs(sprig.TxtFuncMap()).Parse(markdownTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	return &MarkdownWriter{tmpl: tmpl}, nil
}

// Write renders the report to w.
func (m *MarkdownWriter) Write(w io.Writer, data *Data) error {
	var buf bytes.Buffer
	if err := m.tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	// Collapse runs of blank lines left by conditional blocks.
	out := strings.ReplaceAll(buf.String(), "\n\n\n", "\n\n")
	_, err := io.WriteString(w, out)
	return err
}
