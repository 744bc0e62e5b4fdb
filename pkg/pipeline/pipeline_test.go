package pipeline

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/bountyscan/bountyscan/pkg/config"
	"github.com/bountyscan/bountyscan/pkg/finding"
	"github.com/bountyscan/bountyscan/pkg/policy"
	"github.com/bountyscan/bountyscan/pkg/ratelimit"
	"github.com/bountyscan/bountyscan/pkg/scanners"
	"github.com/bountyscan/bountyscan/pkg/scope"
	"github.com/bountyscan/bountyscan/pkg/storage"
	"github.com/bountyscan/bountyscan/pkg/telemetry"
	"github.com/bountyscan/bountyscan/pkg/triage"
	"github.com/bountyscan/bountyscan/pkg/ui"
)

type fakeRecon struct {
	mu    sync.Mutex
	hosts []string
	err   error
	calls int
}

func (f *fakeRecon) Discover(ctx context.Context, domain string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.hosts, f.err
}

type fakeProber struct {
	live   []scanners.HostInfo
	err    error
	panics bool
	called bool
}

func (f *fakeProber) Probe(ctx context.Context, hosts []string) ([]scanners.HostInfo, error) {
	f.called = true
	if f.panics {
		panic("prober blew up")
	}
	return f.live, f.err
}

type fakeCrawler struct {
	urls   []string
	called bool
}

func (f *fakeCrawler) Crawl(ctx context.Context, baseURL string) ([]string, error) {
	f.called = true
	return f.urls, nil
}

type fakeScanner struct {
	mu        sync.Mutex
	perHost   map[string][]*finding.Record
	errHosts  map[string]error
	templates map[string][]string
	calls     int
}

func (f *fakeScanner) Kind() string { return "nuclei" }

func (f *fakeScanner) Scan(ctx context.Context, target string, opts scanners.ScanOptions) ([]*finding.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.templates == nil {
		f.templates = make(map[string][]string)
	}
	f.templates[target] = opts.Templates
	if err := f.errHosts[target]; err != nil {
		return nil, err
	}
	return f.perHost[target], nil
}

type memReporter struct {
	mu      sync.Mutex
	run     *storage.RunRecord
	records []*finding.Record
}

func (m *memReporter) Write(run *storage.RunRecord, records []*finding.Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.run = run
	m.records = records
	return "mem://" + run.ID, nil
}

type tokenConfirmer struct{ answer string }

func (c tokenConfirmer) Confirm(target, reason string) (string, error) {
	return c.answer, nil
}

func testScope() *scope.Definition {
	return &scope.Definition{
		InScope:    []string{"*.example.com", "example.com"},
		OutOfScope: []string{"dev.example.com"},
	}
}

func testConsole() *ui.Console {
	return ui.NewConsole(ui.WithWriter(io.Discard), ui.WithNoColor(true))
}

func testLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	l, err := ratelimit.New(6000, 10)
	require.NoError(t, err)
	return l
}

func testStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)
	return st
}

func namedFinding(target, name string, sev finding.Severity) *finding.Record {
	r := finding.New("nuclei", target, name, sev)
	r.MatchedAt = "https://" + target + "/"
	return r
}

func newTestOrchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	if opts.Gate == nil {
		opts.Gate = policy.NewGate(nil)
	}
	if opts.Scope == nil {
		opts.Scope = testScope()
	}
	if opts.Store == nil {
		opts.Store = testStore(t)
	}
	if opts.Console == nil {
		opts.Console = testConsole()
	}
	if opts.Limiter == nil {
		opts.Limiter = testLimiter(t)
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = 2
	}
	o, err := New(opts)
	require.NoError(t, err)
	return o
}

func TestNewRequiresCoreCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorContains(t, err, "policy gate")

	_, err = New(Options{Gate: policy.NewGate(nil)})
	assert.ErrorContains(t, err, "storage")
}

func TestRunBlockedTargetFailsBeforeRecon(t *testing.T) {
	recon := &fakeRecon{hosts: []string{"a.example.com"}}
	st := testStore(t)
	o := newTestOrchestrator(t, Options{Store: st, Recon: recon})

	res := o.Run(context.Background(), "dev.example.com")

	assert.False(t, res.Success)
	assert.Equal(t, ReasonBlockedByPolicy, res.Reason)
	assert.Equal(t, 0, recon.calls, "nothing runs after a blocked scope check")

	run, err := st.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, run.Status)
	assert.Equal(t, ReasonBlockedByPolicy, run.FailureReason)
}

func TestRunUnknownScopeWithoutOverrideFails(t *testing.T) {
	recon := &fakeRecon{}
	o := newTestOrchestrator(t, Options{Recon: recon})

	res := o.Run(context.Background(), "unrelated.org")

	assert.False(t, res.Success)
	assert.Equal(t, ReasonUnknownScope, res.Reason)
	assert.Equal(t, 0, recon.calls)
}

func TestRunUnknownScopeOverrideProceeds(t *testing.T) {
	gate := policy.NewGate(nil, policy.WithConfirmer(tokenConfirmer{answer: policy.OverrideToken}))
	prober := &fakeProber{}
	o := newTestOrchestrator(t, Options{
		Gate:   gate,
		Recon:  &fakeRecon{},
		Prober: prober,
		Mode:   config.ModePassiveOnly,
	})

	res := o.Run(context.Background(), "unrelated.org")

	assert.True(t, res.Success, "accepted override continues the run")
	assert.True(t, prober.called)
}

func TestRunCompletesFullPipeline(t *testing.T) {
	dup := namedFinding("a.example.com", "Exposed Panel", finding.Medium)
	scanner := &fakeScanner{perHost: map[string][]*finding.Record{
		"a.example.com": {dup, namedFinding("a.example.com", "Exposed Panel", finding.Medium)},
		"b.example.com": {namedFinding("b.example.com", "Version Banner", finding.Info)},
	}}
	reporter := &memReporter{}
	st := testStore(t)

	o := newTestOrchestrator(t, Options{
		Store: st,
		Recon: &fakeRecon{hosts: []string{"a.example.com", "b.example.com"}},
		Prober: &fakeProber{live: []scanners.HostInfo{
			{Host: "a.example.com", URL: "https://a.example.com"},
			{Host: "b.example.com", URL: "https://b.example.com"},
		}},
		Crawler:  &fakeCrawler{urls: []string{"https://a.example.com/login"}},
		Scanner:  scanner,
		Scorer:   triage.NewScorer(nil, nil),
		Reporter: reporter,
		Mode:     config.ModeSafeScan,
	})

	res := o.Run(context.Background(), "example.com")

	require.True(t, res.Success, "reason: %s", res.Reason)
	assert.Equal(t, 2, res.Findings, "duplicate findings collapse before triage")
	assert.Equal(t, "mem://"+res.RunID, res.Report)

	saved, err := st.ListFindings(res.RunID)
	require.NoError(t, err)
	require.Len(t, saved, 2)
	for _, f := range saved {
		require.NotNil(t, f.Triage, "every persisted finding is triaged")
	}

	run, err := st.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, run.Status)
	assert.Equal(t, 2, run.FindingCount)
}

func TestRunSafeScanOffersOnlySafeTemplates(t *testing.T) {
	scanner := &fakeScanner{}
	o := newTestOrchestrator(t, Options{
		Recon:   &fakeRecon{hosts: []string{"a.example.com"}},
		Prober:  &fakeProber{live: []scanners.HostInfo{{Host: "a.example.com"}}},
		Scanner: scanner,
		Mode:    config.ModeSafeScan,
	})

	res := o.Run(context.Background(), "example.com")

	require.True(t, res.Success)
	assert.ElementsMatch(t, []string{"exposure", "misconfiguration", "tech-detect"},
		scanner.templates["a.example.com"])
}

func TestRunFullScanWithoutAdvisorSkipsValidationTemplates(t *testing.T) {
	scanner := &fakeScanner{}
	o := newTestOrchestrator(t, Options{
		Recon:   &fakeRecon{hosts: []string{"a.example.com"}},
		Prober:  &fakeProber{live: []scanners.HostInfo{{Host: "a.example.com"}}},
		Scanner: scanner,
		Mode:    config.ModeFullScan,
	})

	res := o.Run(context.Background(), "example.com")

	require.True(t, res.Success)
	got := scanner.templates["a.example.com"]
	assert.NotContains(t, got, "auth-bypass", "unresolved validation templates never run")
	assert.NotContains(t, got, "file-inclusion")
	assert.Contains(t, got, "exposure")
}

func TestRunPassiveOnlyStopsAfterProbe(t *testing.T) {
	crawler := &fakeCrawler{}
	scanner := &fakeScanner{}
	st := testStore(t)

	o := newTestOrchestrator(t, Options{
		Store:   st,
		Recon:   &fakeRecon{hosts: []string{"a.example.com"}},
		Prober:  &fakeProber{live: []scanners.HostInfo{{Host: "a.example.com"}}},
		Crawler: crawler,
		Scanner: scanner,
		Mode:    config.ModePassiveOnly,
	})

	res := o.Run(context.Background(), "example.com")

	require.True(t, res.Success)
	assert.False(t, crawler.called)
	assert.Equal(t, 0, scanner.calls)

	run, err := st.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, run.Status)
}

func TestRunHostScanFailureIsIsolated(t *testing.T) {
	scanner := &fakeScanner{
		perHost: map[string][]*finding.Record{
			"b.example.com": {namedFinding("b.example.com", "Open Redirect", finding.Low)},
		},
		errHosts: map[string]error{"a.example.com": context.DeadlineExceeded},
	}

	o := newTestOrchestrator(t, Options{
		Recon: &fakeRecon{hosts: []string{"a.example.com", "b.example.com"}},
		Prober: &fakeProber{live: []scanners.HostInfo{
			{Host: "a.example.com"},
			{Host: "b.example.com"},
		}},
		Scanner: scanner,
	})

	res := o.Run(context.Background(), "example.com")

	require.True(t, res.Success, "one failed host does not fail the run")
	assert.Equal(t, 1, res.Findings)
}

func TestRunPanicBecomesFailedRun(t *testing.T) {
	st := testStore(t)
	o := newTestOrchestrator(t, Options{
		Store:  st,
		Recon:  &fakeRecon{hosts: []string{"a.example.com"}},
		Prober: &fakeProber{panics: true},
	})

	res := o.Run(context.Background(), "example.com")

	assert.False(t, res.Success)
	assert.Equal(t, ReasonInternalError, res.Reason)

	run, err := st.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, run.Status)
}

func TestRunReconFailureFallsBackToTarget(t *testing.T) {
	prober := &fakeProber{}
	o := newTestOrchestrator(t, Options{
		Recon:  &fakeRecon{err: context.DeadlineExceeded},
		Prober: prober,
		Mode:   config.ModePassiveOnly,
	})

	res := o.Run(context.Background(), "example.com")
	assert.True(t, res.Success, "recon failure degrades, the target itself is still probed")
	assert.True(t, prober.called)
}

func TestRunAllTargetsAreIndependent(t *testing.T) {
	o := newTestOrchestrator(t, Options{
		Recon:  &fakeRecon{},
		Prober: &fakeProber{},
		Mode:   config.ModePassiveOnly,
	})
	results := o.RunAll(context.Background(), []string{"dev.example.com", "api.example.com"})

	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.Equal(t, ReasonBlockedByPolicy, results[0].Reason)
	assert.True(t, results[1].Success, "a blocked target never poisons the next run")
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := newTestOrchestrator(t, Options{
		Recon:  &fakeRecon{hosts: []string{"a.example.com"}},
		Prober: &fakeProber{live: []scanners.HostInfo{{Host: "a.example.com"}}},
	})

	res := o.Run(ctx, "example.com")
	assert.False(t, res.Success)
	assert.Equal(t, ReasonCancelled, res.Reason)
}

type creationStore struct {
	*storage.Store
	createdAs storage.Status
}

func (c *creationStore) CreateRun(rec *storage.RunRecord) error {
	c.createdAs = rec.Status
	return c.Store.CreateRun(rec)
}

func TestRunStartsQueuedAndFinishesCompleted(t *testing.T) {
	st := &creationStore{Store: testStore(t)}
	o := newTestOrchestrator(t, Options{
		Store:  st,
		Recon:  &fakeRecon{},
		Prober: &fakeProber{},
		Mode:   config.ModePassiveOnly,
	})

	res := o.Run(context.Background(), "api.example.com")

	require.True(t, res.Success)
	assert.Equal(t, storage.StatusQueued, st.createdAs, "runs are registered before they start")

	run, err := st.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, run.Status)
}

func TestRunIDEncodesTimestampAndTarget(t *testing.T) {
	o := newTestOrchestrator(t, Options{Mode: config.ModePassiveOnly})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return fixed }

	res := o.Run(context.Background(), "api.example.com")
	assert.Equal(t, "1772366400_01_api_example_com", res.RunID)
}

func TestRunIDsUniqueWithinSameSecond(t *testing.T) {
	st := testStore(t)
	o := newTestOrchestrator(t, Options{
		Store:  st,
		Recon:  &fakeRecon{},
		Prober: &fakeProber{},
		Mode:   config.ModePassiveOnly,
	})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return fixed }

	first := o.Run(context.Background(), "api.example.com")
	second := o.Run(context.Background(), "api.example.com")

	require.True(t, first.Success)
	require.True(t, second.Success, "reason: %s", second.Reason)
	assert.NotEqual(t, first.RunID, second.RunID)

	run, err := st.GetRun(second.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, run.Status)
}

func TestRunEmitsStageSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	o := newTestOrchestrator(t, Options{
		Recon:  &fakeRecon{},
		Prober: &fakeProber{},
		Mode:   config.ModePassiveOnly,
		Tracer: telemetry.NewTracerFromProvider(tp),
	})

	res := o.Run(context.Background(), "api.example.com")
	require.True(t, res.Success, "reason: %s", res.Reason)

	byName := make(map[string]sdktrace.ReadOnlySpan)
	for _, span := range recorder.Ended() {
		byName[span.Name()] = span
	}
	require.Contains(t, byName, "bountyscan.run")
	for _, stage := range []string{StageScopeCheck, StageRecon, StageProbe} {
		span, ok := byName["bountyscan.stage."+stage]
		require.True(t, ok, "missing span for stage %s", stage)
		assert.Equal(t, byName["bountyscan.run"].SpanContext().SpanID(),
			span.Parent().SpanID(), "stage %s is a child of the run span", stage)
	}
}
