// Package scanners defines the typed contracts between the pipeline and
// the external tools it drives, plus thin adapters implementing them:
// passive recon, HTTP probing, bounded crawling, and a nuclei process
// wrapper.
//
// Adapters translate tool output into finding records and nothing else.
// An empty result set is success; adapters return errors, never panic,
// and never decide policy.
package scanners

import (
	"context"

	"github.com/bountyscan/bountyscan/pkg/finding"
)

// Recon discovers candidate subdomains for a root domain using passive
// sources only.
type Recon interface {
	Discover(ctx context.Context, domain string) ([]string, error)
}

// HostInfo is one probed host.
type HostInfo struct {
	// Host is the bare hostname.
	Host string `json:"host"`

	// URL is the scheme-qualified URL that answered.
	URL string `json:"url"`

	// StatusCode is the HTTP status of the probe response.
	StatusCode int `json:"status_code"`

	// Title is the page title, when present.
	Title string `json:"title,omitempty"`
}

// Prober checks which hosts answer HTTP and captures basic metadata.
// Hosts that do not answer are omitted, not errors.
type Prober interface {
	Probe(ctx context.Context, hosts []string) ([]HostInfo, error)
}

// Crawler walks a site from a base URL and returns discovered same-host
// URLs, bounded by the implementation's depth and page limits.
type Crawler interface {
	Crawl(ctx context.Context, baseURL string) ([]string, error)
}

// ScanOptions constrain one vulnerability scan invocation. Templates
// listed here have already been authorized; the scanner must not add
// its own.
type ScanOptions struct {
	// Templates or template tags to run. Empty means the tool's safe
	// defaults.
	Templates []string

	// Severities filters which severities the tool reports.
	Severities []finding.Severity

	// RatePerSecond caps the tool's own request rate. Zero means the
	// tool default.
	RatePerSecond int
}

// VulnScanner runs one vulnerability scan against one target.
type VulnScanner interface {
	// Kind names the scanner for policy checks and finding attribution.
	Kind() string

	Scan(ctx context.Context, target string, opts ScanOptions) ([]*finding.Record, error)
}
