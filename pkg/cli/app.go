// Package cli assembles the application from a validated configuration:
// storage, the policy gate, the advisory client, scan adapters, triage,
// and reporting, wired into the pipeline orchestrator. The cmd
// entrypoint stays a thin shell around App.
package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/bountyscan/bountyscan/pkg/advisory"
	"github.com/bountyscan/bountyscan/pkg/config"
	"github.com/bountyscan/bountyscan/pkg/pipeline"
	"github.com/bountyscan/bountyscan/pkg/policy"
	"github.com/bountyscan/bountyscan/pkg/ratelimit"
	"github.com/bountyscan/bountyscan/pkg/report"
	"github.com/bountyscan/bountyscan/pkg/scanners"
	"github.com/bountyscan/bountyscan/pkg/scope"
	"github.com/bountyscan/bountyscan/pkg/storage"
	"github.com/bountyscan/bountyscan/pkg/telemetry"
	"github.com/bountyscan/bountyscan/pkg/triage"
	"github.com/bountyscan/bountyscan/pkg/ui"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailed  = 1
	ExitUsage   = 2
	ExitStartup = 3
)

// probeRequestsPerSecond caps the lightweight liveness probes. These are
// cheap HEAD-class requests, budgeted separately from scan traffic.
const probeRequestsPerSecond = 5

// listRunsLimit bounds -list-runs output to the most recent runs.
const listRunsLimit = 20

// App is the assembled application.
type App struct {
	cfg     *config.Config
	console *ui.Console
}

// New creates an App around a validated configuration.
func New(cfg *config.Config) *App {
	return &App{
		cfg:     cfg,
		console: ui.NewConsole(ui.WithSilent(cfg.Silent), ui.WithNoColor(cfg.NoColor)),
	}
}

// Run executes the configured command and returns the process exit code.
func (a *App) Run(ctx context.Context) int {
	a.console.Banner()

	store, err := storage.NewStore(a.cfg.OutputDir)
	if err != nil {
		a.console.Error("open output directory: %v", err)
		return ExitStartup
	}
	defer store.Close()

	if a.cfg.ListRuns {
		return a.listRuns(store)
	}

	reporter, err := report.NewFileReporter(filepath.Join(a.cfg.OutputDir, "reports"))
	if err != nil {
		a.console.Error("init reporter: %v", err)
		return ExitStartup
	}

	if a.cfg.GenerateReportOnly {
		return a.regenerateReport(store, reporter)
	}

	targets, err := a.cfg.Targets()
	if err != nil {
		a.console.Error("%v", err)
		return ExitUsage
	}

	orch, cleanup, err := a.buildOrchestrator(ctx, store, reporter)
	if err != nil {
		a.console.Error("%v", err)
		return ExitStartup
	}
	defer cleanup()

	results := orch.RunAll(ctx, targets)

	code := ExitOK
	for _, res := range results {
		if !res.Success {
			code = ExitFailed
		}
	}
	return code
}

// listRuns prints the most recent stored runs, newest first.
func (a *App) listRuns(store *storage.Store) int {
	runs := store.ListRuns(listRunsLimit)
	if len(runs) == 0 {
		a.console.Info("no stored runs in %s", a.cfg.OutputDir)
		return ExitOK
	}
	for _, r := range runs {
		a.console.Info("%s  %-9s  stage=%-11s  findings=%d  %s",
			r.ID, r.Status, r.Stage, r.FindingCount, r.Target)
	}
	return ExitOK
}

// regenerateReport re-renders reports for a stored run without touching
// the network.
func (a *App) regenerateReport(store *storage.Store, reporter *report.FileReporter) int {
	run, err := store.GetRun(a.cfg.RunID)
	if err != nil {
		a.console.Error("load run %s: %v", a.cfg.RunID, err)
		return ExitFailed
	}
	records, err := store.ListFindings(a.cfg.RunID)
	if err != nil {
		a.console.Error("load findings for %s: %v", a.cfg.RunID, err)
		return ExitFailed
	}

	location, err := reporter.Write(run, records)
	if err != nil {
		a.console.Error("write report: %v", err)
		return ExitFailed
	}
	a.console.Success("report written to %s", location)
	return ExitOK
}

// buildOrchestrator wires the pipeline's collaborators. The returned
// cleanup shuts down telemetry and must run after the last pipeline call.
func (a *App) buildOrchestrator(ctx context.Context, store *storage.Store, reporter *report.FileReporter) (*pipeline.Orchestrator, func(), error) {
	cfg := a.cfg

	var def *scope.Definition
	if cfg.ScopeFile != "" {
		var err error
		if def, err = scope.Load(cfg.ScopeFile); err != nil {
			return nil, nil, err
		}
	}

	manifest := policy.DefaultManifest()
	if cfg.ManifestFile != "" {
		var err error
		if manifest, err = policy.LoadManifest(cfg.ManifestFile); err != nil {
			return nil, nil, err
		}
	}

	var client *advisory.Client
	if cfg.APIKey != "" {
		advOpts := []advisory.Option{}
		if cfg.StoreResponses {
			advOpts = append(advOpts, advisory.WithResponseStore(store))
		}
		client = advisory.NewClient(cfg.APIKey, cfg.AdvisoryModel, advOpts...)
	} else {
		a.console.Warn("no advisory API key configured, escalation is unavailable")
	}

	gateOpts := []policy.GateOption{policy.WithAuditor(store)}
	if client != nil {
		gateOpts = append(gateOpts, policy.WithAdvisor(client))
	}
	if cfg.AllowUnblock {
		gateOpts = append(gateOpts, policy.WithConfirmer(ui.NewOverridePrompt()))
	}
	gate := policy.NewGate(manifest, gateOpts...)

	var classifier *triage.Classifier
	if cfg.ModelFile != "" {
		var err error
		if classifier, err = triage.LoadClassifier(cfg.ModelFile); err != nil {
			return nil, nil, fmt.Errorf("load classifier: %w", err)
		}
	}
	var findingScorer triage.FindingScorer
	if client != nil {
		findingScorer = client
	}
	scorer := triage.NewScorer(classifier, findingScorer,
		triage.WithWeights(cfg.MLWeight, cfg.LLMWeight))

	limiter, err := ratelimit.New(cfg.RequestsPerMinute, cfg.Concurrency)
	if err != nil {
		return nil, nil, err
	}

	var scanner scanners.VulnScanner
	if cfg.Mode != config.ModePassiveOnly {
		nuclei, err := scanners.NewNucleiScanner()
		if err != nil {
			a.console.Warn("nuclei unavailable, scan stage will be skipped: %v", err)
		} else {
			scanner = nuclei
		}
	}

	var metrics *telemetry.Metrics
	if cfg.MetricsPort != 0 {
		if metrics, err = telemetry.NewMetrics(telemetry.MetricsOptions{Port: cfg.MetricsPort}); err != nil {
			return nil, nil, fmt.Errorf("start metrics endpoint: %w", err)
		}
	}
	var tracer *telemetry.Tracer
	if cfg.OTLPEndpoint != "" {
		if tracer, err = telemetry.NewTracer(ctx, telemetry.TracerOptions{
			Endpoint: cfg.OTLPEndpoint,
			Insecure: true,
		}); err != nil {
			return nil, nil, fmt.Errorf("connect trace exporter: %w", err)
		}
	}
	cleanup := func() {
		if metrics != nil {
			_ = metrics.Close()
		}
		if tracer != nil {
			_ = tracer.Close()
		}
	}

	orch, err := pipeline.New(pipeline.Options{
		Gate:        gate,
		Scope:       def,
		Recon:       scanners.NewCertRecon(),
		Prober:      scanners.NewHTTPProber(probeRequestsPerSecond),
		Crawler:     scanners.NewHTMLCrawler(),
		Scanner:     scanner,
		Scorer:      scorer,
		Store:       store,
		Reporter:    reporter,
		Limiter:     limiter,
		Console:     a.console,
		Metrics:     metrics,
		Tracer:      tracer,
		Mode:        cfg.Mode,
		Concurrency: cfg.Concurrency,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return orch, cleanup, nil
}
