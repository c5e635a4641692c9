package models

import (
	"errors"
	"fmt"
)

var (
	// ErrDataUnavailable means a price or resolution could not be fetched; skip the item.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrMalformedEstimate means the estimator returned a missing or out-of-range value.
	ErrMalformedEstimate = errors.New("malformed estimate")
	// ErrDuplicateSignal means an unresolved prediction already exists for the market.
	ErrDuplicateSignal = errors.New("duplicate signal")
	// ErrConfigUnreadable means the agent configuration document is missing or corrupt.
	ErrConfigUnreadable = errors.New("agent config unreadable")
	// ErrApplyFailure means a proposal could not be applied.
	ErrApplyFailure = errors.New("apply failure")

	ErrNotFound  = errors.New("not found")
	ErrNotActive = errors.New("prediction is not active")
)

// JobResult is the per-run outcome every batch job reports.
type JobResult struct {
	Job       string
	Processed int
	Skipped   int
	Failed    int
}

func (r JobResult) String() string {
	return fmt.Sprintf("%s: processed=%d skipped=%d failed=%d", r.Job, r.Processed, r.Skipped, r.Failed)
}

// Add merges counts from another result.
func (r *JobResult) Add(o JobResult) {
	r.Processed += o.Processed
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}
