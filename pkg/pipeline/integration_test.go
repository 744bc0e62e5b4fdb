package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bountyscan/bountyscan/pkg/advisory"
	"github.com/bountyscan/bountyscan/pkg/config"
	"github.com/bountyscan/bountyscan/pkg/policy"
	"github.com/bountyscan/bountyscan/pkg/scanners"
	"github.com/bountyscan/bountyscan/pkg/testutil"
)

// Full-scan mode with a live advisor: templates needing validation are
// escalated per action and run once the advisor allows them.
func TestRunFullScanWithAdvisorRunsValidatedTemplates(t *testing.T) {
	srv := testutil.NewAdvisoryServer(t,
		`{"decision":"ALLOWED","confidence":0.9,"reasons":["standard detection, no exploitation"],"risk_level":"low"}`,
	)
	advisor := advisory.NewClient("test-key", "", advisory.WithBaseURL(srv.URL))
	gate := policy.NewGate(nil, policy.WithAdvisor(advisor))

	scanner := &fakeScanner{}
	o := newTestOrchestrator(t, Options{
		Gate:    gate,
		Recon:   &fakeRecon{hosts: []string{"a.example.com"}},
		Prober:  &fakeProber{live: []scanners.HostInfo{{Host: "a.example.com"}}},
		Scanner: scanner,
		Mode:    config.ModeFullScan,
	})

	res := o.Run(context.Background(), "example.com")

	require.True(t, res.Success, "reason: %s", res.Reason)
	got := scanner.templates["a.example.com"]
	assert.Contains(t, got, "auth-bypass")
	assert.Contains(t, got, "file-inclusion")
	assert.Equal(t, 2, srv.Calls(), "one escalation per validation template")
}

// A blocking advisor verdict keeps the escalated template out of the
// scan while safe templates still run.
func TestRunFullScanAdvisorBlockRemovesTemplate(t *testing.T) {
	srv := testutil.NewAdvisoryServer(t,
		`{"decision":"BLOCKED","confidence":0.8,"reasons":["too intrusive for this program"],"risk_level":"high"}`,
	)
	advisor := advisory.NewClient("test-key", "", advisory.WithBaseURL(srv.URL))
	gate := policy.NewGate(nil, policy.WithAdvisor(advisor))

	scanner := &fakeScanner{}
	o := newTestOrchestrator(t, Options{
		Gate:    gate,
		Recon:   &fakeRecon{hosts: []string{"a.example.com"}},
		Prober:  &fakeProber{live: []scanners.HostInfo{{Host: "a.example.com"}}},
		Scanner: scanner,
		Mode:    config.ModeFullScan,
	})

	res := o.Run(context.Background(), "example.com")

	require.True(t, res.Success)
	got := scanner.templates["a.example.com"]
	assert.NotContains(t, got, "auth-bypass")
	assert.NotContains(t, got, "file-inclusion")
	assert.Contains(t, got, "exposure", "safe templates are unaffected by the block")
}
