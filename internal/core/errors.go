package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned by curation and commit operations outside
	// the Complete state.
	ErrNotReady = errors.New("import not ready: no completed job")

	// ErrCommitInFlight is returned while a previous commit is outstanding.
	ErrCommitInFlight = errors.New("commit already in progress")

	// ErrNothingToCommit is returned when the working set is empty.
	ErrNothingToCommit = errors.New("nothing to commit: working set is empty")

	// ErrAlreadySeeded is returned when a store is seeded twice in one run.
	ErrAlreadySeeded = errors.New("working set already seeded for this run")

	// ErrSuperseded is returned by Submit when Reset or another Submit
	// replaced the run before the backend answered.
	ErrSuperseded = errors.New("import superseded by a newer run")

	// ErrSessionNotFound is returned for unknown or expired sessions.
	ErrSessionNotFound = errors.New("session not found")
)

// InvalidInputError reports a document rejected before submission.
// The workflow state is left unchanged.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

// SubmissionError wraps a failed submit call.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// TransportError wraps a failed status call.
type TransportError struct {
	Handle JobHandle
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("status transport for job %s: %v", e.Handle, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// JobFailedError carries the detail of a job the backend reported as failed.
type JobFailedError struct {
	Handle JobHandle
	Detail string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("extraction job %s failed: %s", e.Handle, e.Detail)
}

// ResultFetchError wraps a failed result fetch.
type ResultFetchError struct {
	Handle JobHandle
	Err    error
}

func (e *ResultFetchError) Error() string {
	return fmt.Sprintf("fetch result for job %s: %v", e.Handle, e.Err)
}

func (e *ResultFetchError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed commit. The working set is preserved.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
