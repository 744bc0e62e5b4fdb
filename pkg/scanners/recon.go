package scanners

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/bountyscan/bountyscan/pkg/duration"
	"github.com/bountyscan/bountyscan/pkg/jsonutil"
)

// CertRecon discovers subdomains from certificate transparency logs.
// It is passive: nothing is sent to the target itself.
type CertRecon struct {
	baseURL    string
	httpClient *http.Client
	resolver   hostResolver

	// MaxResults bounds how many resolved subdomains are returned.
	MaxResults int
}

// hostResolver is the DNS lookup seam, satisfied by *net.Resolver.
type hostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// ReconOption configures a CertRecon.
type ReconOption func(*CertRecon)

// WithReconBaseURL overrides the transparency log endpoint, used by tests.
func WithReconBaseURL(u string) ReconOption {
	return func(r *CertRecon) { r.baseURL = u }
}

// WithResolver overrides DNS resolution, used by tests.
func WithResolver(res hostResolver) ReconOption {
	return func(r *CertRecon) { r.resolver = res }
}

// NewCertRecon creates a passive recon adapter backed by crt.sh.
func NewCertRecon(opts ...ReconOption) *CertRecon {
	r := &CertRecon{
		baseURL:    "https://crt.sh",
		httpClient: &http.Client{Timeout: duration.HTTPCrawl},
		resolver:   net.DefaultResolver,
		MaxResults: 50,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// crtEntry is one certificate log row. Only the name field matters.
type crtEntry struct {
	NameValue string `json:"name_value"`
}

// Discover queries the transparency log for the domain and returns the
// unique subdomains that resolve in DNS, sorted, root domain included
// when it resolves.
func (r *CertRecon) Discover(ctx context.Context, domain string) ([]string, error) {
	u := fmt.Sprintf("%s/?q=%s&output=json", r.baseURL, url.QueryEscape("%."+domain))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cert transparency query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cert transparency query: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}

	var entries []crtEntry
	if err := jsonutil.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("cert transparency response: %w", err)
	}

	seen := map[string]bool{domain: true}
	candidates := []string{domain}
	for _, e := range entries {
		// name_value may hold several newline-separated names.
		for _, name := range strings.Split(e.NameValue, "\n") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" || strings.Contains(name, "*") || seen[name] {
				continue
			}
			if name != domain && !strings.HasSuffix(name, "."+domain) {
				continue
			}
			seen[name] = true
			candidates = append(candidates, name)
		}
	}
	sort.Strings(candidates)

	var resolved []string
	for _, host := range candidates {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		if _, err := r.resolver.LookupHost(ctx, host); err != nil {
			continue
		}
		resolved = append(resolved, host)
		if r.MaxResults > 0 && len(resolved) >= r.MaxResults {
			break
		}
	}
	return resolved, nil
}
