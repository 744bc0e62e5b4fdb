// Package config parses CLI flags with environment fallbacks and
// enforces the hard safety caps. Invalid configuration is rejected here,
// before the pipeline produces any side effect.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/bountyscan/bountyscan/pkg/sanitize"
)

// Mode selects how far the pipeline goes.
type Mode string

const (
	// ModePassiveOnly stops after recon and probing; nothing active runs.
	ModePassiveOnly Mode = "passive-only"

	// ModeSafeScan runs the full pipeline with safe template defaults.
	ModeSafeScan Mode = "safe-scan"

	// ModeFullScan runs everything, including templates that need
	// advisory validation.
	ModeFullScan Mode = "full-scan-with-validation"
)

// Hard safety caps. Operator input above these is a configuration
// error, not a clamp.
const (
	MaxRequestsPerMinute = 100
	MaxConcurrency       = 20
)

// Config is the validated run configuration.
type Config struct {
	// Target is a single target; TargetsFile lists one per line.
	// Exactly one of the two must be set.
	Target      string
	TargetsFile string

	Mode         Mode
	ScopeFile    string
	ManifestFile string
	OutputDir    string

	// RunID with GenerateReportOnly re-renders reports for a stored run.
	RunID              string
	GenerateReportOnly bool

	// ListRuns prints the most recent stored runs and exits.
	ListRuns bool

	// AllowUnblock enables the interactive manual override prompt.
	AllowUnblock bool

	RequestsPerMinute int
	Concurrency       int

	// Triage fusion weights.
	MLWeight  float64
	LLMWeight float64
	ModelFile string

	// Advisory service credentials. Empty APIKey disables escalation.
	APIKey        string
	AdvisoryModel string

	// StoreResponses records advisory prompt/response pairs for audit.
	StoreResponses bool

	// MetricsPort enables the Prometheus endpoint when nonzero.
	MetricsPort int

	// OTLPEndpoint enables trace export when set.
	OTLPEndpoint string

	Silent  bool
	NoColor bool
}

// Parse reads flags from args (not including the program name), with
// environment fallbacks for credentials and switches.
func Parse(args []string) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet("bountyscan", flag.ContinueOnError)

	fs.StringVar(&cfg.Target, "target", "", "single target domain to test")
	fs.StringVar(&cfg.TargetsFile, "targets-file", "", "file with one target per line")
	mode := fs.String("mode", string(ModeSafeScan), "pipeline mode: passive-only, safe-scan, full-scan-with-validation")
	fs.StringVar(&cfg.ScopeFile, "scope-file", "", "scope definition file (JSON or YAML)")
	fs.StringVar(&cfg.ManifestFile, "manifest-file", "", "policy rule manifest overriding the built-in rules")
	fs.StringVar(&cfg.OutputDir, "output-dir", envOr("BOUNTYSCAN_OUTPUT_DIR", "bountyscan-output"), "directory for run state and reports")
	fs.StringVar(&cfg.RunID, "run-id", "", "existing run id (with -generate-report-only)")
	fs.BoolVar(&cfg.GenerateReportOnly, "generate-report-only", false, "re-render reports for a stored run and exit")
	fs.BoolVar(&cfg.ListRuns, "list-runs", false, "list recent stored runs and exit")
	fs.BoolVar(&cfg.AllowUnblock, "allow-unblock", false, "offer an interactive override for unknown-scope targets")
	fs.IntVar(&cfg.RequestsPerMinute, "rate", envOrInt("BOUNTYSCAN_RATE", 30), "scan requests per minute")
	fs.IntVar(&cfg.Concurrency, "concurrency", envOrInt("BOUNTYSCAN_CONCURRENCY", 5), "concurrent scan workers")
	fs.Float64Var(&cfg.MLWeight, "ml-weight", 0.4, "triage fusion weight for the local classifier")
	fs.Float64Var(&cfg.LLMWeight, "llm-weight", 0.6, "triage fusion weight for the advisory score")
	fs.StringVar(&cfg.ModelFile, "model-file", envOr("BOUNTYSCAN_MODEL_FILE", ""), "trained classifier model (JSON)")
	fs.StringVar(&cfg.APIKey, "api-key", envOr("GEMINI_API_KEY", ""), "advisory service API key")
	fs.StringVar(&cfg.AdvisoryModel, "advisory-model", envOr("BOUNTYSCAN_ADVISORY_MODEL", ""), "advisory model name")
	fs.BoolVar(&cfg.StoreResponses, "store-responses", envOrBool("BOUNTYSCAN_STORE_RESPONSES", false), "record advisory prompt/response pairs")
	fs.IntVar(&cfg.MetricsPort, "metrics-port", 0, "serve Prometheus metrics on this port (0 disables)")
	fs.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", envOr("OTEL_EXPORTER_OTLP_ENDPOINT", ""), "export traces to this OTLP gRPC endpoint")
	fs.BoolVar(&cfg.Silent, "silent", false, "suppress progress output")
	fs.BoolVar(&cfg.NoColor, "no-color", envOrBool("NO_COLOR", false), "disable colored output")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Mode = Mode(*mode)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Mode {
	case ModePassiveOnly, ModeSafeScan, ModeFullScan:
	default:
		return fmt.Errorf("invalid mode %q", c.Mode)
	}

	switch {
	case c.GenerateReportOnly:
		if c.RunID == "" {
			return fmt.Errorf("-generate-report-only requires -run-id")
		}
	case c.ListRuns:
		// Listing stored runs needs no target.
	case (c.Target == "") == (c.TargetsFile == ""):
		return fmt.Errorf("exactly one of -target or -targets-file is required")
	}

	if c.RequestsPerMinute < 1 || c.RequestsPerMinute > MaxRequestsPerMinute {
		return fmt.Errorf("rate %d outside [1,%d] requests/minute", c.RequestsPerMinute, MaxRequestsPerMinute)
	}
	if c.Concurrency < 1 || c.Concurrency > MaxConcurrency {
		return fmt.Errorf("concurrency %d outside [1,%d]", c.Concurrency, MaxConcurrency)
	}
	if c.MLWeight < 0 || c.LLMWeight < 0 || c.MLWeight+c.LLMWeight <= 0 {
		return fmt.Errorf("fusion weights must be non-negative and sum above zero")
	}
	return nil
}

// Targets returns the resolved target list: either the single target or
// the non-empty, non-comment lines of the targets file, in order. Every
// entry is normalized to a bare lowercase domain or IPv4 address (URL
// entries are reduced to their host); an entry that fails validation
// rejects the whole list before the pipeline starts.
func (c *Config) Targets() ([]string, error) {
	var raw []string
	if c.Target != "" {
		raw = []string{c.Target}
	} else {
		data, err := os.ReadFile(c.TargetsFile)
		if err != nil {
			return nil, fmt.Errorf("read targets file: %w", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			raw = append(raw, line)
		}
		if len(raw) == 0 {
			return nil, fmt.Errorf("targets file %s lists no targets", c.TargetsFile)
		}
	}

	targets := make([]string, 0, len(raw))
	for _, entry := range raw {
		domain, ok := sanitize.Domain(entry)
		if !ok {
			return nil, fmt.Errorf("invalid target %q: not a domain, URL, or IPv4 address", entry)
		}
		targets = append(targets, domain)
	}
	return targets, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		return true
	}
	return fallback
}
