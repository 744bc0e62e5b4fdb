// Package duration centralizes timeout and interval constants so that
// every stage of the pipeline pulls its deadlines from one place.
//
// Usage:
//
//	ctx, cancel := context.WithTimeout(ctx, duration.StageScan)
package duration

import "time"

// HTTP timeouts.
const (
	// HTTPProbe bounds a single liveness probe request.
	HTTPProbe = 5 * time.Second

	// HTTPCrawl bounds a single page fetch during crawling.
	HTTPCrawl = 10 * time.Second

	// AdvisoryCall bounds one request to the advisory service.
	AdvisoryCall = 60 * time.Second
)

// Pipeline stage deadlines.
const (
	// StageRecon bounds the passive reconnaissance stage.
	StageRecon = 5 * time.Minute

	// StageProbe bounds the HTTP probing stage.
	StageProbe = 5 * time.Minute

	// StageCrawl bounds the crawl stage across all seed hosts.
	StageCrawl = 10 * time.Minute

	// StageScan bounds a single host's vulnerability scan.
	StageScan = 15 * time.Minute

	// Run bounds a complete single-target pipeline run.
	Run = 45 * time.Minute
)

// Retry backoff bounds for external calls.
const (
	// RetryInitial is the first backoff delay.
	RetryInitial = 2 * time.Second

	// RetryMax caps any single backoff delay.
	RetryMax = 10 * time.Second
)
