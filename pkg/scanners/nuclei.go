package scanners

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/bountyscan/bountyscan/pkg/finding"
	"github.com/bountyscan/bountyscan/pkg/jsonutil"
)

// NucleiScanner drives the nuclei binary and parses its JSONL event
// stream into finding records.
type NucleiScanner struct {
	binary string

	// runCommand is the exec seam, replaced in tests.
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewNucleiScanner locates the nuclei binary on PATH.
func NewNucleiScanner() (*NucleiScanner, error) {
	path, err := exec.LookPath("nuclei")
	if err != nil {
		return nil, fmt.Errorf("nuclei binary not found: %w", err)
	}
	return &NucleiScanner{binary: path, runCommand: runExec}, nil
}

func runExec(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	// nuclei exits nonzero when it finds nothing under some flag
	// combinations; output that parses is still a successful scan.
	if err != nil && len(out) == 0 {
		return nil, err
	}
	return out, nil
}

// Kind implements VulnScanner.
func (n *NucleiScanner) Kind() string { return "nuclei" }

// nucleiEvent is the subset of a nuclei JSONL event the pipeline keeps.
type nucleiEvent struct {
	TemplateID string `json:"template-id"`
	Info       struct {
		Name        string `json:"name"`
		Severity    string `json:"severity"`
		Description string `json:"description"`
	} `json:"info"`
	Host             string   `json:"host"`
	MatchedAt        string   `json:"matched-at"`
	MatcherName      string   `json:"matcher-name"`
	ExtractedResults []string `json:"extracted-results"`
}

// Scan runs nuclei against the target with the given constraints.
func (n *NucleiScanner) Scan(ctx context.Context, target string, opts ScanOptions) ([]*finding.Record, error) {
	args := []string{"-u", target, "-jsonl", "-silent", "-no-color"}
	if len(opts.Severities) > 0 {
		parts := make([]string, len(opts.Severities))
		for i, s := range opts.Severities {
			parts[i] = string(s)
		}
		args = append(args, "-severity", strings.Join(parts, ","))
	}
	for _, tpl := range opts.Templates {
		args = append(args, "-tags", tpl)
	}
	if opts.RatePerSecond > 0 {
		args = append(args, "-rate-limit", strconv.Itoa(opts.RatePerSecond))
	}

	out, err := n.runCommand(ctx, n.binary, args...)
	if err != nil {
		return nil, fmt.Errorf("nuclei: %w", err)
	}
	return parseNucleiOutput(target, out), nil
}

// parseNucleiOutput converts JSONL events into finding records.
// Unparseable lines are dropped rather than failing the whole scan.
func parseNucleiOutput(target string, out []byte) []*finding.Record {
	var records []*finding.Record
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var ev nucleiEvent
		if err := jsonutil.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		if ev.TemplateID == "" {
			continue
		}

		name := ev.Info.Name
		if name == "" {
			name = ev.TemplateID
		}
		host := ev.Host
		if host == "" {
			host = target
		}

		rec := finding.New("nuclei", host, name, finding.Normalize(ev.Info.Severity))
		rec.Description = ev.Info.Description
		rec.MatchedAt = ev.MatchedAt
		rec.Timestamp = time.Now().UTC()
		rec.Evidence = map[string]string{"template_id": ev.TemplateID}
		if ev.MatcherName != "" {
			rec.Evidence["matcher"] = ev.MatcherName
		}
		if len(ev.ExtractedResults) > 0 {
			rec.Evidence["extracted"] = strings.Join(ev.ExtractedResults, ", ")
		}
		records = append(records, rec)
	}
	return records
}
