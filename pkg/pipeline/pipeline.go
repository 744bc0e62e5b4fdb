// Package pipeline orchestrates a policy-gated testing run as an
// explicit state machine: ScopeCheck, Recon, Probe, Crawl, Scan,
// Triage, Report. Policy outcomes are terminal states, not errors;
// collaborator failures are isolated to their stage and degrade the
// run instead of aborting it.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bountyscan/bountyscan/pkg/config"
	"github.com/bountyscan/bountyscan/pkg/duration"
	"github.com/bountyscan/bountyscan/pkg/finding"
	"github.com/bountyscan/bountyscan/pkg/policy"
	"github.com/bountyscan/bountyscan/pkg/ratelimit"
	"github.com/bountyscan/bountyscan/pkg/sanitize"
	"github.com/bountyscan/bountyscan/pkg/scanners"
	"github.com/bountyscan/bountyscan/pkg/scope"
	"github.com/bountyscan/bountyscan/pkg/storage"
	"github.com/bountyscan/bountyscan/pkg/telemetry"
	"github.com/bountyscan/bountyscan/pkg/triage"
	"github.com/bountyscan/bountyscan/pkg/ui"
	"github.com/bountyscan/bountyscan/pkg/workerpool"
)

// Pipeline stages, in execution order.
const (
	StageScopeCheck = "scope_check"
	StageRecon      = "recon"
	StageProbe      = "probe"
	StageCrawl      = "crawl"
	StageScan       = "scan"
	StageTriage     = "triage"
	StageReport     = "report"
)

// Terminal failure reasons with stable spelling; other tooling reads
// them from the run record.
const (
	ReasonBlockedByPolicy = "blocked_by_policy"
	ReasonUnknownScope    = "unknown_scope"
	ReasonInternalError   = "internal_error"
	ReasonCancelled       = "cancelled"
)

// maxCrawlSeeds bounds how many live hosts seed the crawl stage.
const maxCrawlSeeds = 5

// Store is the storage collaborator contract. Failures are logged and
// never abort a stage.
type Store interface {
	CreateRun(rec *storage.RunRecord) error
	SetStage(runID, stage string) error
	FinishRun(runID string, status storage.Status, failureReason string) error
	SaveFindings(runID string, records []*finding.Record) error
	GetRun(runID string) (*storage.RunRecord, error)
}

// Reporter receives the final triaged finding set and returns an opaque
// report location.
type Reporter interface {
	Write(run *storage.RunRecord, records []*finding.Record) (string, error)
}

// Result is the structured outcome of one target's run.
type Result struct {
	RunID    string
	Target   string
	Success  bool
	Reason   string
	Findings int
	Report   string
}

// Orchestrator drives runs. Collaborators are injected at construction;
// optional ones (crawler, scanner, metrics, tracer) may be nil and
// their stages degrade accordingly.
type Orchestrator struct {
	gate    *policy.Gate
	scope   *scope.Definition
	recon   scanners.Recon
	prober  scanners.Prober
	crawler scanners.Crawler
	scanner scanners.VulnScanner
	scorer  *triage.Scorer
	store   Store
	report  Reporter
	limiter *ratelimit.Limiter
	console *ui.Console
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer

	mode        config.Mode
	concurrency int

	// seq disambiguates run IDs started within the same second.
	seq atomic.Uint64

	// now is the clock seam for deterministic run IDs in tests.
	now func() time.Time
}

// Options bundles the orchestrator's collaborators.
type Options struct {
	Gate     *policy.Gate
	Scope    *scope.Definition
	Recon    scanners.Recon
	Prober   scanners.Prober
	Crawler  scanners.Crawler
	Scanner  scanners.VulnScanner
	Scorer   *triage.Scorer
	Store    Store
	Reporter Reporter
	Limiter  *ratelimit.Limiter
	Console  *ui.Console
	Metrics  *telemetry.Metrics
	Tracer   *telemetry.Tracer

	Mode        config.Mode
	Concurrency int
}

// New creates an orchestrator. Gate, Store, and Console are required.
func New(opts Options) (*Orchestrator, error) {
	if opts.Gate == nil {
		return nil, fmt.Errorf("pipeline: policy gate is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("pipeline: storage is required")
	}
	if opts.Console == nil {
		return nil, fmt.Errorf("pipeline: console is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Mode == "" {
		opts.Mode = config.ModeSafeScan
	}
	if opts.Limiter == nil {
		l, err := ratelimit.New(60, opts.Concurrency)
		if err != nil {
			return nil, err
		}
		opts.Limiter = l
	}
	return &Orchestrator{
		gate:        opts.Gate,
		scope:       opts.Scope,
		recon:       opts.Recon,
		prober:      opts.Prober,
		crawler:     opts.Crawler,
		scanner:     opts.Scanner,
		scorer:      opts.Scorer,
		store:       opts.Store,
		report:      opts.Reporter,
		limiter:     opts.Limiter,
		console:     opts.Console,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		mode:        opts.Mode,
		concurrency: opts.Concurrency,
		now:         time.Now,
	}, nil
}

// RunAll processes targets sequentially. One target's failure never
// stops the next target's run.
func (o *Orchestrator) RunAll(ctx context.Context, targets []string) []Result {
	results := make([]Result, 0, len(targets))
	for _, target := range targets {
		results = append(results, o.Run(ctx, target))
		if ctx.Err() != nil {
			break
		}
	}
	return results
}

// Run executes the full pipeline for one target. A panic anywhere in
// the run is converted into a Failed result, never propagated.
func (o *Orchestrator) Run(ctx context.Context, target string) (res Result) {
	runID := o.newRunID(target)
	res = Result{RunID: runID, Target: target}

	defer func() {
		if r := recover(); r != nil {
			o.console.Error("run %s panicked: %v\n%s", runID, r, debug.Stack())
			o.finish(runID, &res, false, ReasonInternalError)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, duration.Run)
	defer cancel()

	runCtx, span := o.tracer.StartRun(ctx, runID, target, string(o.mode))
	defer func() { o.tracer.EndRun(span, !res.Success, res.Reason) }()
	ctx = runCtx

	// Runs are created queued; the first stage transition marks them
	// running.
	if err := o.store.CreateRun(&storage.RunRecord{
		ID:        runID,
		Target:    target,
		Mode:      string(o.mode),
		Status:    storage.StatusQueued,
		Stage:     StageScopeCheck,
		StartedAt: o.now().UTC(),
	}); err != nil {
		o.console.Error("create run %s: %v", runID, err)
	}
	o.console.RunHeader(runID, target, string(o.mode), nil)

	// ScopeCheck. Policy outcomes here are terminal states.
	scopeCtx, endScope := o.stage(ctx, runID, StageScopeCheck)
	decision := o.gate.ValidateScope(scopeCtx, target, o.scope)
	endScope()
	o.metrics.RecordDecision(StageScopeCheck, string(decision.Decision))
	switch decision.Decision {
	case policy.Allowed:
		o.console.Success("scope: %s", decision.Reason)
	case policy.Blocked:
		o.console.Error("scope: %s", decision.Reason)
		o.finish(runID, &res, false, ReasonBlockedByPolicy)
		return res
	default:
		o.console.Warn("scope: %s", decision.Reason)
		if !o.gate.RequestOverride(target, decision) {
			o.finish(runID, &res, false, ReasonUnknownScope)
			return res
		}
		o.console.Warn("manual override accepted for %s", target)
	}

	hosts := o.runRecon(ctx, runID, target)
	live := o.runProbe(ctx, runID, hosts)

	if o.mode == config.ModePassiveOnly {
		o.console.Info("passive-only mode, stopping after probe")
		o.persistFindings(runID, nil)
		o.finish(runID, &res, true, "")
		return res
	}
	if ctx.Err() != nil {
		o.finish(runID, &res, false, ReasonCancelled)
		return res
	}

	o.runCrawl(ctx, runID, live)
	if ctx.Err() != nil {
		o.finish(runID, &res, false, ReasonCancelled)
		return res
	}

	records := o.runScan(ctx, runID, live)
	if ctx.Err() != nil {
		o.persistFindings(runID, records)
		o.finish(runID, &res, false, ReasonCancelled)
		return res
	}

	records = o.runTriage(ctx, runID, records)
	o.persistFindings(runID, records)
	res.Findings = len(records)

	res.Report = o.runReport(ctx, runID, records)
	o.finish(runID, &res, true, "")
	return res
}

// newRunID builds a unique run identifier from the clock and the
// sanitized target. The sequence keeps IDs distinct when the same
// target starts twice within one second.
func (o *Orchestrator) newRunID(target string) string {
	return fmt.Sprintf("%d_%02d_%s", o.now().Unix(), o.seq.Add(1), sanitize.RunToken(target))
}

// runRecon discovers candidate hosts. On failure the target itself
// remains the single candidate.
func (o *Orchestrator) runRecon(ctx context.Context, runID, target string) []string {
	ctx, endStage := o.stage(ctx, runID, StageRecon)
	defer endStage()
	if o.recon == nil {
		return []string{target}
	}

	stageCtx, cancel := context.WithTimeout(ctx, duration.StageRecon)
	defer cancel()

	start := o.now()
	hosts, err := o.recon.Discover(stageCtx, target)
	o.metrics.ObserveStage(StageRecon, o.now().Sub(start))
	if err != nil {
		o.console.Warn("recon degraded: %v", err)
	}
	if len(hosts) == 0 {
		hosts = []string{target}
	}
	o.console.Info("%d candidate host(s)", len(hosts))
	return hosts
}

// runProbe filters candidates down to hosts that answer HTTP.
func (o *Orchestrator) runProbe(ctx context.Context, runID string, hosts []string) []scanners.HostInfo {
	ctx, endStage := o.stage(ctx, runID, StageProbe)
	defer endStage()
	if o.prober == nil {
		live := make([]scanners.HostInfo, len(hosts))
		for i, h := range hosts {
			live[i] = scanners.HostInfo{Host: h}
		}
		return live
	}

	stageCtx, cancel := context.WithTimeout(ctx, duration.StageProbe)
	defer cancel()

	start := o.now()
	live, err := o.prober.Probe(stageCtx, hosts)
	o.metrics.ObserveStage(StageProbe, o.now().Sub(start))
	if err != nil {
		o.console.Warn("probe degraded: %v", err)
	}
	o.console.Info("%d live host(s)", len(live))
	return live
}

// runCrawl enumerates surface on a bounded set of seed hosts. Results
// inform the operator; per-host failures are isolated.
func (o *Orchestrator) runCrawl(ctx context.Context, runID string, live []scanners.HostInfo) {
	ctx, endStage := o.stage(ctx, runID, StageCrawl)
	defer endStage()
	if o.crawler == nil || len(live) == 0 {
		return
	}

	stageCtx, cancel := context.WithTimeout(ctx, duration.StageCrawl)
	defer cancel()

	seeds := live
	if len(seeds) > maxCrawlSeeds {
		seeds = seeds[:maxCrawlSeeds]
	}

	start := o.now()
	total := 0
	for _, host := range seeds {
		if stageCtx.Err() != nil {
			break
		}
		base := host.URL
		if base == "" {
			base = "https://" + host.Host
		}
		urls, err := o.crawler.Crawl(stageCtx, base)
		if err != nil {
			o.console.Warn("crawl %s: %v", host.Host, err)
			continue
		}
		total += len(urls)
	}
	o.metrics.ObserveStage(StageCrawl, o.now().Sub(start))
	o.console.Info("crawl found %d URL(s) across %d seed host(s)", total, len(seeds))
}

// runScan scans every live host through the policy gate and the rate
// limiter, with a worker pool bounding parallelism. Per-host failures
// are isolated and counted.
func (o *Orchestrator) runScan(ctx context.Context, runID string, live []scanners.HostInfo) []*finding.Record {
	ctx, endStage := o.stage(ctx, runID, StageScan)
	defer endStage()
	if o.scanner == nil || len(live) == 0 {
		return nil
	}

	start := o.now()
	defer func() { o.metrics.ObserveStage(StageScan, o.now().Sub(start)) }()

	pool := workerpool.New(o.concurrency)
	defer pool.Close()

	var mu sync.Mutex
	var records []*finding.Record
	var failed int

	workerpool.ForEach(pool, live, func(host scanners.HostInfo) {
		if ctx.Err() != nil {
			return
		}
		recs, err := o.scanHost(ctx, host)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failed++
			o.console.Warn("scan %s: %v", host.Host, err)
			o.metrics.RecordScan(o.scanner.Kind(), "error")
			return
		}
		records = append(records, recs...)
	})

	if failed > 0 {
		o.console.Warn("%d host scan(s) failed", failed)
	}
	records = finding.Dedup(records)
	o.console.Info("%d finding(s) after dedup", len(records))
	return records
}

// scanHost authorizes the templates for one host, then runs the
// scanner inside a scoped rate-limiter acquisition.
func (o *Orchestrator) scanHost(ctx context.Context, host scanners.HostInfo) ([]*finding.Record, error) {
	var allowed []string
	for _, tpl := range o.candidateTemplates() {
		decision := o.gate.ValidateAction(ctx, policy.Action{
			ScannerKind: o.scanner.Kind(),
			Target:      host.Host,
			Template:    tpl,
		})
		o.metrics.RecordDecision("scanner_"+o.scanner.Kind(), string(decision.Decision))
		switch decision.Decision {
		case policy.Allowed:
			allowed = append(allowed, tpl)
		case policy.Blocked:
			o.console.Warn("template %s blocked for %s: %s", tpl, host.Host, decision.Reason)
		default:
			// RequiresValidation without a resolving advisor never runs.
			o.console.Warn("template %s skipped for %s: %s", tpl, host.Host, decision.Reason)
		}
	}
	if len(allowed) == 0 {
		o.console.Warn("no authorized templates for %s, skipping", host.Host)
		return nil, nil
	}

	scanCtx, cancel := context.WithTimeout(ctx, duration.StageScan)
	defer cancel()

	var records []*finding.Record
	err := o.limiter.Do(scanCtx, func(ctx context.Context) error {
		recs, err := o.scanner.Scan(ctx, host.Host, scanners.ScanOptions{Templates: allowed})
		if err != nil {
			return err
		}
		records = recs
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.metrics.RecordScan(o.scanner.Kind(), "ok")
	return records, nil
}

// candidateTemplates returns the template tags the run mode permits.
// Tags requiring advisory validation are only attempted in full-scan
// mode; the gate still authorizes each one individually.
func (o *Orchestrator) candidateTemplates() []string {
	safe := []string{"exposure", "misconfiguration", "tech-detect"}
	if o.mode == config.ModeFullScan {
		return append(safe, "auth-bypass", "file-inclusion")
	}
	return safe
}

// runTriage scores every finding. Per-finding failures are isolated
// inside the scorer; cancellation keeps partial results.
func (o *Orchestrator) runTriage(ctx context.Context, runID string, records []*finding.Record) []*finding.Record {
	ctx, endStage := o.stage(ctx, runID, StageTriage)
	defer endStage()
	if o.scorer == nil || len(records) == 0 {
		return records
	}

	start := o.now()
	if err := o.scorer.ScoreAll(ctx, records); err != nil {
		o.console.Warn("triage interrupted: %v", err)
	}
	o.metrics.ObserveStage(StageTriage, o.now().Sub(start))

	for _, r := range records {
		outcome := "kept"
		if r.Triage != nil && r.Triage.IsFalsePositive {
			outcome = "false_positive"
		} else {
			o.console.Finding(string(r.EffectiveSeverity()), r.Name, r.Target)
		}
		o.metrics.RecordFinding(string(r.EffectiveSeverity()), outcome)
	}
	return records
}

// runReport renders the final report. A report failure degrades the
// run's output, not its status: findings are already persisted.
func (o *Orchestrator) runReport(ctx context.Context, runID string, records []*finding.Record) string {
	_, endStage := o.stage(ctx, runID, StageReport)
	defer endStage()
	if o.report == nil {
		return ""
	}

	run, err := o.store.GetRun(runID)
	if err != nil {
		o.console.Error("load run for report: %v", err)
		return ""
	}

	finding.SortByScore(records)
	location, err := o.report.Write(run, records)
	if err != nil {
		o.console.Error("write report: %v", err)
		return ""
	}
	o.console.Success("report written to %s", location)
	return location
}

// stage announces a transition, records it, and opens a child span
// that the returned func closes when the stage ends.
func (o *Orchestrator) stage(ctx context.Context, runID, name string) (context.Context, func()) {
	o.console.Stage(name)
	if err := o.store.SetStage(runID, name); err != nil {
		o.console.Warn("record stage %s: %v", name, err)
	}
	ctx, span := o.tracer.StartStage(ctx, name)
	return ctx, func() { span.End() }
}

func (o *Orchestrator) persistFindings(runID string, records []*finding.Record) {
	if err := o.store.SaveFindings(runID, records); err != nil {
		o.console.Warn("persist findings: %v", err)
	}
}

func (o *Orchestrator) finish(runID string, res *Result, success bool, reason string) {
	res.Success = success
	res.Reason = reason

	status := storage.StatusCompleted
	if !success {
		status = storage.StatusFailed
	}
	if err := o.store.FinishRun(runID, status, reason); err != nil {
		o.console.Warn("record run status: %v", err)
	}
	o.metrics.RecordRun(string(status))

	if success {
		o.console.Success("run %s completed", runID)
	} else {
		o.console.Error("run %s failed: %s", runID, reason)
	}
}
