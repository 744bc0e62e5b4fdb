// Package advisory talks to the external reasoning service consulted for
// decisions local rules cannot resolve: scope gaps, flagged scanner
// actions, and finding quality scoring.
//
// The service is advisory-only and strictly typed: it must echo back
// parseable JSON, and any malformed response is a failure, never a partial
// success. How a failure is resolved (fail-open to Unknown for scope,
// fail-closed to Blocked for actions, neutral defaults for triage) is the
// caller's contract, not this package's.
package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bountyscan/bountyscan/pkg/duration"
	"github.com/bountyscan/bountyscan/pkg/retry"
)

// Asker is the low-level text-in/text-out contract with the reasoning
// service. Implementations must be safe for concurrent use.
type Asker interface {
	Ask(ctx context.Context, prompt, system string, maxTokens int, temperature float64) (string, error)
}

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = errors.New("advisory service not configured")

// ResponseStore receives prompt/response pairs for audit when configured.
type ResponseStore interface {
	StoreResponse(prompt, response string) error
}

// Client is an HTTP client for a Gemini-style generateContent API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	retryCfg   retry.Config
	store      ResponseStore
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, used by tests and proxies.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithRetry overrides the retry policy for API calls.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retryCfg = cfg }
}

// WithResponseStore enables prompt/response audit storage.
func WithResponseStore(s ResponseStore) Option {
	return func(c *Client) { c.store = s }
}

// NewClient creates a client for the given API key and model. An empty
// model selects a fast default.
func NewClient(apiKey, model string, opts ...Option) *Client {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	c := &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://generativelanguage.googleapis.com/v1beta",
		httpClient: &http.Client{
			Timeout: duration.AdvisoryCall,
		},
		retryCfg: retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether the client has credentials to make calls.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// request/response shapes for the generateContent wire format.
type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Ask sends a prompt to the reasoning service and returns its raw text
// response. System context is prepended to the prompt. Transient failures
// are retried with exponential backoff; an empty response is a failure.
func (c *Client) Ask(ctx context.Context, prompt, system string, maxTokens int, temperature float64) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}

	full := prompt
	if system != "" {
		full = system + "\n\n" + prompt
	}

	body, err := json.Marshal(generateRequest{
		Contents:         []content{{Parts: []part{{Text: full}}}},
		GenerationConfig: generationConfig{Temperature: temperature, MaxOutputTokens: maxTokens},
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)

	var text string
	err = retry.Do(ctx, c.retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return retry.Stop(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Stop(fmt.Errorf("advisory API status %d: %s", resp.StatusCode, truncate(data, 200)))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("advisory API status %d", resp.StatusCode)
		}

		var out generateResponse
		if err := json.Unmarshal(data, &out); err != nil {
			return fmt.Errorf("decode advisory response: %w", err)
		}
		if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
			return errors.New("empty advisory response")
		}
		text = out.Candidates[0].Content.Parts[0].Text
		return nil
	})
	if err != nil {
		return "", err
	}

	if c.store != nil {
		// Audit storage is best-effort; a store failure never fails the call.
		_ = c.store.StoreResponse(full, text)
	}
	return text, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
