// Package testutil provides shared test helpers: fault injection for
// writer error paths and a canned advisory service for escalation tests.
package testutil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// ErrFault is the sentinel error returned by fault injection helpers.
var ErrFault = errors.New("injected fault")

// FailingWriter is an io.Writer that fails after Limit bytes written.
// A zero Limit fails every Write immediately.
type FailingWriter struct {
	written int
	Limit   int
}

func (w *FailingWriter) Write(p []byte) (int, error) {
	if w.written+len(p) > w.Limit {
		remaining := w.Limit - w.written
		if remaining > 0 {
			w.written += remaining
			return remaining, ErrFault
		}
		return 0, ErrFault
	}
	w.written += len(p)
	return len(p), nil
}

// AdvisoryServer is a stand-in for the reasoning service. It answers
// generateContent calls with canned texts in order, repeating the last
// one once the script runs out.
type AdvisoryServer struct {
	*httptest.Server

	mu      sync.Mutex
	replies []string
	calls   int
	prompts []string
}

// NewAdvisoryServer starts a canned advisory service. Each reply is the
// raw model text, typically a JSON verdict or score payload.
func NewAdvisoryServer(t *testing.T, replies ...string) *AdvisoryServer {
	t.Helper()
	if len(replies) == 0 {
		t.Fatal("advisory server needs at least one canned reply")
	}

	s := &AdvisoryServer{replies: replies}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Server.Close)
	return s
}

func (s *AdvisoryServer) handle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Contents []struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	if len(req.Contents) > 0 && len(req.Contents[0].Parts) > 0 {
		s.prompts = append(s.prompts, req.Contents[0].Parts[0].Text)
	}
	idx := s.calls
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	reply := s.replies[idx]
	s.calls++
	s.mu.Unlock()

	resp := map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]string{{"text": reply}}}},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Calls reports how many requests the server has answered.
func (s *AdvisoryServer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Prompts returns the prompt texts received so far, in order.
func (s *AdvisoryServer) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.prompts))
	copy(out, s.prompts)
	return out
}
