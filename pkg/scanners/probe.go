package scanners

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/time/rate"

	"github.com/bountyscan/bountyscan/pkg/duration"
)

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// HTTPProber checks host liveness over HTTPS then HTTP, pacing its own
// requests independently of the pipeline's scan rate limiter.
type HTTPProber struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	schemes    []string
}

// ProbeOption configures an HTTPProber.
type ProbeOption func(*HTTPProber)

// WithProbeClient overrides the HTTP client, used by tests.
func WithProbeClient(c *http.Client) ProbeOption {
	return func(p *HTTPProber) { p.httpClient = c }
}

// WithProbeSchemes overrides the scheme preference order.
func WithProbeSchemes(schemes ...string) ProbeOption {
	return func(p *HTTPProber) { p.schemes = schemes }
}

// NewHTTPProber creates a prober paced at requestsPerSecond.
func NewHTTPProber(requestsPerSecond float64, opts ...ProbeOption) *HTTPProber {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	p := &HTTPProber{
		httpClient: &http.Client{Timeout: duration.HTTPProbe},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		schemes:    []string{"https", "http"},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe checks each host in order and returns metadata for the ones
// that answered. A host that answers on no scheme is skipped silently;
// only cancellation aborts the sweep.
func (p *HTTPProber) Probe(ctx context.Context, hosts []string) ([]HostInfo, error) {
	var alive []HostInfo
	for _, host := range hosts {
		if err := p.limiter.Wait(ctx); err != nil {
			return alive, err
		}
		if info, ok := p.probeOne(ctx, host); ok {
			alive = append(alive, info)
		}
	}
	return alive, nil
}

func (p *HTTPProber) probeOne(ctx context.Context, host string) (HostInfo, bool) {
	for _, scheme := range p.schemes {
		u := scheme + "://" + host
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			continue
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()

		return HostInfo{
			Host:       host,
			URL:        u,
			StatusCode: resp.StatusCode,
			Title:      extractTitle(body),
		}, true
	}
	return HostInfo{}, false
}

func extractTitle(body []byte) string {
	m := titleRe.FindSubmatch(body)
	if m == nil {
		return ""
	}
	title := strings.Join(strings.Fields(string(m[1])), " ")
	if len(title) > 200 {
		title = title[:200]
	}
	return title
}
