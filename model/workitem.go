package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus is the closed set of states a WorkItem can be in. Transitions are
// driven solely by the worker loop and the retry scheduler.
type JobStatus string

const (
	StatusReady      JobStatus = "ready"
	StatusInProgress JobStatus = "in_progress"
	StatusFinished   JobStatus = "finished"
	StatusFailed     JobStatus = "failed"
	StatusScheduled  JobStatus = "scheduled"
	StatusDeferred   JobStatus = "deferred"
)

// JobStatuses lists every status bucket the queue store keeps a registry for.
var JobStatuses = []JobStatus{
	StatusReady,
	StatusInProgress,
	StatusFinished,
	StatusFailed,
	StatusScheduled,
	StatusDeferred,
}

// ParseJobStatus converts a raw registry value back into a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	switch JobStatus(s) {
	case StatusReady, StatusInProgress, StatusFinished, StatusFailed, StatusScheduled, StatusDeferred:
		return JobStatus(s), nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// Terminal reports whether the status is an end state. A duplicate submission
// of a non-terminal item is absorbed; a terminal item is replaced.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed:
		return true
	case StatusReady, StatusInProgress, StatusScheduled, StatusDeferred:
		return false
	}
	return false
}

// DefaultRetryDelays is the backoff sequence applied between attempts.
var DefaultRetryDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// DefaultMaxAttempts bounds how often a work item is retried before it is
// marked permanently failed.
const DefaultMaxAttempts = 5

// WorkItem is the unit of queued, retryable execution. State lives entirely
// in the queue store; worker and scheduler processes hold no state of their
// own so a crash loses no work.
type WorkItem struct {
	JobID         string          `json:"job_id"`
	IdentityKey   string          `json:"identity_key"`
	Queue         string          `json:"queue"`
	Payload       SourceDocument  `json:"payload"`
	Status        JobStatus       `json:"status"`
	AttemptCount  int             `json:"attempt_count"`
	MaxAttempts   int             `json:"max_attempts"`
	RetryDelays   []time.Duration `json:"retry_delays"`
	NextAttemptAt time.Time       `json:"next_attempt_at,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	LastError     string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     time.Time       `json:"started_at,omitempty"`
	EndedAt       time.Time       `json:"ended_at,omitempty"`
}

// NewWorkItem builds a ready work item for a document with the default retry
// policy. The job id carries a module prefix for log readability.
func NewWorkItem(document SourceDocument, queue string) *WorkItem {
	return &WorkItem{
		JobID:        GenerateUUIDWithSuffix("job"),
		IdentityKey:  document.IdentityKey(),
		Queue:        queue,
		Payload:      document,
		Status:       StatusReady,
		MaxAttempts:  DefaultMaxAttempts,
		RetryDelays:  DefaultRetryDelays,
		CreatedAt:    time.Now().UTC(),
		AttemptCount: 0,
	}
}

// NextDelay returns the backoff delay to wait before the next attempt, based
// on how many attempts have already run. Attempts past the configured
// sequence reuse the last delay.
func (w *WorkItem) NextDelay() time.Duration {
	if len(w.RetryDelays) == 0 {
		return 0
	}
	idx := w.AttemptCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(w.RetryDelays) {
		idx = len(w.RetryDelays) - 1
	}
	return w.RetryDelays[idx]
}

// AttemptsExhausted reports whether the item has used up its retry budget.
func (w *WorkItem) AttemptsExhausted() bool {
	return w.AttemptCount >= w.MaxAttempts
}

// ToJSON serializes the work item for storage in the queue store.
func (w *WorkItem) ToJSON() ([]byte, error) {
	return json.Marshal(w)
}

// WorkItemFromJSON deserializes a work item fetched from the queue store.
func WorkItemFromJSON(data []byte) (*WorkItem, error) {
	var item WorkItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, err
	}
	return &item, nil
}
