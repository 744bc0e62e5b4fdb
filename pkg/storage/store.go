// Package storage provides file-based persistence for pipeline runs:
// a run index, per-run finding sets, and append-only audit logs for
// policy decisions and advisory exchanges.
//
// Data is stored as JSON for portability. For high-volume production
// use, consider upgrading to a database backend.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bountyscan/bountyscan/pkg/finding"
	"github.com/bountyscan/bountyscan/pkg/jsonutil"
	"github.com/bountyscan/bountyscan/pkg/policy"
)

// Status is a run's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// RunRecord is the persisted state of one pipeline run.
type RunRecord struct {
	// ID is the unique run identifier.
	ID string `json:"id"`

	// Target is the host the run tests.
	Target string `json:"target"`

	// Mode is the pipeline mode the run was started with.
	Mode string `json:"mode"`

	// Status is the run's current lifecycle state.
	Status Status `json:"status"`

	// Stage names the pipeline stage the run is in or stopped at.
	Stage string `json:"stage"`

	// FailureReason explains a failed run (e.g. "blocked_by_policy").
	FailureReason string `json:"failure_reason,omitempty"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when the run reached a terminal state.
	FinishedAt time.Time `json:"finished_at,omitempty"`

	// FindingCount is the number of findings persisted for the run.
	FindingCount int `json:"finding_count"`
}

// runIndex tracks all stored runs for quick lookup.
type runIndex struct {
	Runs map[string]*RunRecord `json:"runs"`
}

// Store manages run state and audit logs under one base directory.
type Store struct {
	mu       sync.RWMutex
	basePath string
	index    *runIndex

	// auditMu serializes appends so concurrent decisions never interleave
	// within a line.
	auditMu sync.Mutex
}

// NewStore creates a store rooted at the specified directory.
func NewStore(basePath string) (*Store, error) {
	for _, dir := range []string{basePath, filepath.Join(basePath, "runs"), filepath.Join(basePath, "audit")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	store := &Store{
		basePath: basePath,
		index:    &runIndex{Runs: make(map[string]*RunRecord)},
	}
	if err := store.loadIndex(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return store, nil
}

func (s *Store) indexPath() string {
	return filepath.Join(s.basePath, "index.json")
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.basePath, "runs", runID)
}

func (s *Store) loadIndex() error {
	return jsonutil.ReadFile(s.indexPath(), s.index)
}

func (s *Store) saveIndex() error {
	return jsonutil.WriteFileAtomic(s.indexPath(), s.index)
}

// CreateRun registers a new run. The ID must be unique.
func (s *Store) CreateRun(rec *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index.Runs[rec.ID]; ok {
		return fmt.Errorf("run %s already exists", rec.ID)
	}
	if err := os.MkdirAll(s.runDir(rec.ID), 0755); err != nil {
		return err
	}
	s.index.Runs[rec.ID] = copyRunRecord(rec)
	return s.saveIndex()
}

// UpdateRun applies a mutation to a run record and persists it.
func (s *Store) UpdateRun(runID string, update func(*RunRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.index.Runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	update(rec)
	return s.saveIndex()
}

// SetStage records the stage a run is currently in.
func (s *Store) SetStage(runID, stage string) error {
	return s.UpdateRun(runID, func(r *RunRecord) {
		r.Stage = stage
		r.Status = StatusRunning
	})
}

// FinishRun moves a run to a terminal state. The failure reason is kept
// only for failed runs.
func (s *Store) FinishRun(runID string, status Status, failureReason string) error {
	return s.UpdateRun(runID, func(r *RunRecord) {
		r.Status = status
		r.FinishedAt = time.Now().UTC()
		if status == StatusFailed {
			r.FailureReason = failureReason
		}
	})
}

// GetRun retrieves a run record by ID.
func (s *Store) GetRun(runID string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.index.Runs[runID]
	if !ok {
		return nil, errors.New("run not found")
	}
	return copyRunRecord(rec), nil
}

// ListRuns returns runs sorted by start time descending.
func (s *Store) ListRuns(limit int) []*RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*RunRecord, 0, len(s.index.Runs))
	for _, rec := range s.index.Runs {
		records = append(records, copyRunRecord(rec))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}

func copyRunRecord(r *RunRecord) *RunRecord {
	c := *r
	return &c
}

// SaveFindings persists a run's finding set, replacing any previous
// set, and updates the run's finding count.
func (s *Store) SaveFindings(runID string, records []*finding.Record) error {
	if _, err := s.GetRun(runID); err != nil {
		return err
	}
	path := filepath.Join(s.runDir(runID), "findings.json")
	if err := jsonutil.WriteFileAtomic(path, records); err != nil {
		return err
	}
	return s.UpdateRun(runID, func(r *RunRecord) {
		r.FindingCount = len(records)
	})
}

// ListFindings loads a run's persisted findings. A run with no findings
// saved yet returns an empty slice.
func (s *Store) ListFindings(runID string) ([]*finding.Record, error) {
	if _, err := s.GetRun(runID); err != nil {
		return nil, err
	}
	var records []*finding.Record
	err := jsonutil.ReadFile(filepath.Join(s.runDir(runID), "findings.json"), &records)
	if os.IsNotExist(err) {
		return []*finding.Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}

// auditEntry is one line of the policy decision log.
type auditEntry struct {
	Target     string          `json:"target"`
	ActionKind string          `json:"action_kind"`
	Decision   policy.Decision `json:"decision"`
	Reason     string          `json:"reason"`
	Confidence float64         `json:"confidence"`
	Timestamp  time.Time       `json:"timestamp"`
}

// AppendPolicyDecision writes one policy decision to the append-only
// audit log. Appends are serialized so the log preserves decision
// order.
func (s *Store) AppendPolicyDecision(target, actionKind string, res policy.Result) error {
	return s.appendLine("policy_decisions.jsonl", auditEntry{
		Target:     target,
		ActionKind: actionKind,
		Decision:   res.Decision,
		Reason:     res.Reason,
		Confidence: res.Confidence,
		Timestamp:  time.Now().UTC(),
	})
}

// ReadPolicyDecisions returns all audit entries in append order.
func (s *Store) ReadPolicyDecisions() ([]PolicyDecision, error) {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	path := filepath.Join(s.basePath, "audit", "policy_decisions.jsonl")
	entries, err := readJSONL[auditEntry](path)
	if err != nil {
		return nil, err
	}
	out := make([]PolicyDecision, len(entries))
	for i, e := range entries {
		out[i] = PolicyDecision(e)
	}
	return out, nil
}

// PolicyDecision is one recorded gate decision.
type PolicyDecision struct {
	Target     string          `json:"target"`
	ActionKind string          `json:"action_kind"`
	Decision   policy.Decision `json:"decision"`
	Reason     string          `json:"reason"`
	Confidence float64         `json:"confidence"`
	Timestamp  time.Time       `json:"timestamp"`
}

// advisoryExchange is one line of the advisory response log.
type advisoryExchange struct {
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// StoreResponse records one advisory prompt/response pair for audit.
func (s *Store) StoreResponse(prompt, response string) error {
	return s.appendLine("advisory_responses.jsonl", advisoryExchange{
		Prompt:    prompt,
		Response:  response,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Store) appendLine(name string, v any) error {
	data, err := jsonutil.Marshal(v)
	if err != nil {
		return err
	}

	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.basePath, "audit", name),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// Close closes the store (no-op for file-based storage).
func (s *Store) Close() error {
	return nil
}
