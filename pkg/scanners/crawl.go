package scanners

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/bountyscan/bountyscan/pkg/duration"
)

// HTMLCrawler walks same-host links breadth-first from a base URL,
// bounded by depth and page count.
type HTMLCrawler struct {
	httpClient *http.Client

	// MaxDepth is how many link hops from the base URL are followed.
	MaxDepth int

	// MaxPages bounds the total number of pages fetched.
	MaxPages int
}

// CrawlOption configures an HTMLCrawler.
type CrawlOption func(*HTMLCrawler)

// WithCrawlClient overrides the HTTP client, used by tests.
func WithCrawlClient(c *http.Client) CrawlOption {
	return func(h *HTMLCrawler) { h.httpClient = c }
}

// WithCrawlBounds overrides the depth and page limits.
func WithCrawlBounds(maxDepth, maxPages int) CrawlOption {
	return func(h *HTMLCrawler) {
		h.MaxDepth = maxDepth
		h.MaxPages = maxPages
	}
}

// NewHTMLCrawler creates a crawler with conservative default bounds.
func NewHTMLCrawler(opts ...CrawlOption) *HTMLCrawler {
	c := &HTMLCrawler{
		httpClient: &http.Client{Timeout: duration.HTTPCrawl},
		MaxDepth:   2,
		MaxPages:   50,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type crawlItem struct {
	url   string
	depth int
}

// Crawl returns the unique same-host URLs reachable from baseURL within
// the crawler's bounds, base URL included. Fetch failures on individual
// pages are skipped; only cancellation aborts the walk.
func (c *HTMLCrawler) Crawl(ctx context.Context, baseURL string) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{baseURL: true}
	found := []string{baseURL}
	queue := []crawlItem{{url: baseURL, depth: 0}}
	fetched := 0

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		item := queue[0]
		queue = queue[1:]

		if item.depth > c.MaxDepth || fetched >= c.MaxPages {
			continue
		}
		fetched++

		links, err := c.fetchLinks(ctx, item.url)
		if err != nil {
			continue
		}
		for _, link := range links {
			resolved := resolveLink(base, item.url, link)
			if resolved == "" || seen[resolved] {
				continue
			}
			seen[resolved] = true
			found = append(found, resolved)
			queue = append(queue, crawlItem{url: resolved, depth: item.depth + 1})
		}
	}
	return found, nil
}

func (c *HTMLCrawler) fetchLinks(ctx context.Context, pageURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, nil
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, err
	}

	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" {
					links = append(links, attr.Val)
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return links, nil
}

// resolveLink resolves href against the page it appeared on and keeps
// only http(s) URLs on the crawl's host, with fragments stripped.
func resolveLink(base *url.URL, pageURL, href string) string {
	page, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	resolved := page.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	if resolved.Host != base.Host {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}
