package core

// workflow.go implements the import state machine for one session:
//
//	Idle --Submit--> Uploading --accepted--> Processing --Complete--> Complete
//	                     |                       |
//	                     +--failed--> Error <----+--Error / transport failure / fetch failure
//
// Reset returns to Idle from any state. Submit implies Reset.
//
// Every transition runs under w.mu. Transitions out of Processing stop the
// poller before doing anything else, and every remote response is matched
// against the run generation and job handle it was issued for; responses
// for a superseded run never change state.

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// State is the lifecycle state of a Workflow.
type State string

const (
	StateIdle       State = "idle"
	StateUploading  State = "uploading"
	StateProcessing State = "processing"
	StateComplete   State = "complete"
	StateError      State = "error"
)

// WorkflowConfig tunes a Workflow. Zero values fall back to defaults.
type WorkflowConfig struct {
	PollInterval      time.Duration
	MaxFileSize       int64    // bytes; 0 disables the check
	AllowedExtensions []string // e.g. ".pdf"; empty allows any name
	Logger            *slog.Logger
}

// Snapshot is an immutable view of a Workflow, emitted after every change.
type Snapshot struct {
	Version    uint64        `json:"version"`
	State      State         `json:"state"`
	FileName   string        `json:"fileName,omitempty"`
	JobHandle  JobHandle     `json:"jobHandle,omitempty"`
	JobStatus  JobState      `json:"jobStatus,omitempty"`
	Message    string        `json:"message,omitempty"`
	Error      string        `json:"error,omitempty"`
	Err        error         `json:"-"`
	Columns    []string      `json:"columns"`
	Rows       []Record      `json:"rows"`
	Selection  []string      `json:"selection"`
	Committing bool          `json:"committing"`
	LastCommit *CommitResult `json:"lastCommit,omitempty"`
}

// CanCommit reports whether a commit would be accepted.
func (s Snapshot) CanCommit() bool {
	return s.State == StateComplete && !s.Committing && len(s.Rows) > 0
}

// CanDelete reports whether DeleteSelected would remove anything.
func (s Snapshot) CanDelete() bool {
	return s.State == StateComplete && !s.Committing && len(s.Selection) > 0
}

// Workflow coordinates one import run at a time: submission, polling,
// result materialization, curation and commit.
type Workflow struct {
	jobs      JobClient
	committer Committer
	cfg       WorkflowConfig
	logger    *slog.Logger
	store     *CurationStore

	mu         sync.Mutex
	state      State
	gen        uint64
	runCancel  context.CancelFunc
	runCtx     context.Context
	poll       *poller
	fileName   string
	handle     JobHandle
	status     JobStatus
	message    string
	err        error
	committing bool
	lastCommit *CommitResult
	version    uint64

	listenerMu sync.Mutex
	listeners  map[int]chan Snapshot
	nextID     int
}

// NewWorkflow creates an idle workflow.
func NewWorkflow(jobs JobClient, committer Committer, cfg WorkflowConfig) *Workflow {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	cfg.AllowedExtensions = normalizeExtensions(cfg.AllowedExtensions)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Workflow{
		jobs:      jobs,
		committer: committer,
		cfg:       cfg,
		logger:    logger,
		store:     NewCurationStore(),
		state:     StateIdle,
		listeners: make(map[int]chan Snapshot),
	}
}

// Submit validates doc and starts a new run, cancelling any active one.
//
// An invalid document returns *InvalidInputError and leaves the workflow
// untouched. Otherwise Submit blocks until the backend accepts or rejects
// the document; polling then continues in the background. A rejected
// submission moves the workflow to Error and returns *SubmissionError.
func (w *Workflow) Submit(ctx context.Context, doc Document) error {
	if err := ValidateDocument(doc, w.cfg); err != nil {
		w.logger.Info("document rejected", "file", doc.Name, "reason", err.Error())
		return err
	}

	w.mu.Lock()
	w.cancelRunLocked()
	w.beginRunLocked()
	gen := w.gen
	runCtx := w.runCtx
	w.state = StateUploading
	w.fileName = doc.Name
	w.message = "Uploading…"
	w.lastCommit = nil
	w.publishLocked()
	w.mu.Unlock()

	// The upload ends with the caller's ctx or when the run is superseded.
	submitCtx, cancel := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(runCtx, cancel)
	start := time.Now()
	handle, status, err := w.jobs.Submit(submitCtx, doc)
	stopAfter()
	cancel()

	w.mu.Lock()
	if w.gen != gen {
		w.mu.Unlock()
		w.logger.Info("submission superseded", "file", doc.Name, "job_handle", handle)
		return ErrSuperseded
	}

	if err != nil {
		serr := asSubmissionError(err)
		w.failLocked(serr)
		w.publishLocked()
		w.mu.Unlock()
		return serr
	}

	w.handle = handle
	w.status = status
	w.state = StateProcessing
	w.message = status.Message
	if w.message == "" {
		w.message = "Processing started…"
	}
	if !status.State.IsTerminal() {
		w.poll = startPoller(runCtx, w.cfg.PollInterval, func(pctx context.Context) bool {
			return w.pollOnce(pctx, runCtx, gen, handle)
		})
	}
	w.publishLocked()
	w.mu.Unlock()

	w.logger.Info("job submitted",
		"file", doc.Name,
		"job_handle", handle,
		"status", status.State,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if status.State.IsTerminal() {
		w.handleStatus(runCtx, gen, handle, status, nil)
	}
	return nil
}

// Reset cancels any active run and discards the working set.
func (w *Workflow) Reset() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cancelRunLocked()
	w.state = StateIdle
	w.lastCommit = nil
	return w.publishLocked()
}

// Close resets the workflow and closes all subscriber channels.
func (w *Workflow) Close() {
	w.Reset()

	w.listenerMu.Lock()
	defer w.listenerMu.Unlock()
	for id, ch := range w.listeners {
		close(ch)
		delete(w.listeners, id)
	}
}

// pollOnce performs one status request for the run identified by gen.
func (w *Workflow) pollOnce(pctx, runCtx context.Context, gen uint64, handle JobHandle) bool {
	status, err := w.jobs.Status(pctx, handle)
	if pctx.Err() != nil {
		return true
	}
	return w.handleStatus(runCtx, gen, handle, status, err)
}

// handleStatus applies one status observation. It reports whether polling
// should end.
func (w *Workflow) handleStatus(runCtx context.Context, gen uint64, handle JobHandle, status JobStatus, err error) bool {
	w.mu.Lock()

	if !w.activeLocked(gen, handle) || w.state != StateProcessing {
		w.mu.Unlock()
		w.logger.Debug("dropped stale status", "job_handle", handle, "status", status.State)
		return true
	}

	if err != nil {
		w.stopPollLocked()
		w.failLocked(asTransportError(handle, err))
		w.publishLocked()
		w.mu.Unlock()
		return true
	}

	w.status = status

	switch status.State {
	case JobComplete:
		w.stopPollLocked()
		w.message = "Loading extracted records…"
		w.publishLocked()
		w.mu.Unlock()

		w.fetchResult(runCtx, gen, handle)
		return true

	case JobError:
		w.stopPollLocked()
		detail := status.ErrorDetail
		if detail == "" {
			detail = "Unknown error"
		}
		w.failLocked(&JobFailedError{Handle: handle, Detail: detail})
		w.publishLocked()
		w.mu.Unlock()
		return true

	default:
		if status.Message != "" {
			w.message = status.Message
		}
		w.publishLocked()
		w.mu.Unlock()
		return false
	}
}

// fetchResult loads the job result and seeds the store.
func (w *Workflow) fetchResult(ctx context.Context, gen uint64, handle JobHandle) {
	start := time.Now()
	raw, err := w.jobs.FetchResult(ctx, handle)

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.activeLocked(gen, handle) || w.state != StateProcessing {
		w.logger.Debug("dropped stale result", "job_handle", handle)
		return
	}

	if err == nil {
		err = w.store.Seed(raw)
	}
	if err != nil {
		w.failLocked(asResultFetchError(handle, err))
		w.publishLocked()
		return
	}

	w.state = StateComplete
	w.message = fmt.Sprintf("Extracted %d records", w.store.Len())
	w.publishLocked()

	w.logger.Info("job result loaded",
		"job_handle", handle,
		"records", len(raw),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// ApplyPatches merges draft edits into the working set.
func (w *Workflow) ApplyPatches(patches []DraftPatch) (Snapshot, error) {
	return w.mutate("apply patches", func(s *CurationStore) {
		s.ApplyPatches(patches)
	})
}

// Select replaces the row selection.
func (w *Workflow) Select(ids []string) (Snapshot, error) {
	return w.mutate("select", func(s *CurationStore) {
		s.Select(ids)
	})
}

// InsertRow appends an empty row after the highest order.
func (w *Workflow) InsertRow() (Record, Snapshot, error) {
	var rec Record
	snap, err := w.mutate("insert row", func(s *CurationStore) {
		rec = s.InsertRow()
	})
	return rec, snap, err
}

// DeleteSelected removes the selected rows. An empty selection is a no-op.
func (w *Workflow) DeleteSelected() (int, Snapshot, error) {
	var n int
	snap, err := w.mutate("delete selected", func(s *CurationStore) {
		n = s.DeleteSelected()
	})
	return n, snap, err
}

func (w *Workflow) mutate(op string, fn func(*CurationStore)) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateComplete {
		return Snapshot{}, fmt.Errorf("%s: %w", op, ErrNotReady)
	}
	if w.committing {
		return Snapshot{}, fmt.Errorf("%s: %w", op, ErrCommitInFlight)
	}

	fn(w.store)
	return w.publishLocked(), nil
}

// Commit persists the order-sorted working set. Only one commit may be
// outstanding. On success the working set is discarded and the workflow
// returns to Idle; on failure everything is kept so the user can retry.
func (w *Workflow) Commit(ctx context.Context, containerName string) (CommitResult, error) {
	w.mu.Lock()
	if w.state != StateComplete {
		w.mu.Unlock()
		return CommitResult{}, fmt.Errorf("commit: %w", ErrNotReady)
	}
	if w.committing {
		w.mu.Unlock()
		return CommitResult{}, ErrCommitInFlight
	}
	rows := w.store.Snapshot()
	if len(rows) == 0 {
		w.mu.Unlock()
		return CommitResult{}, ErrNothingToCommit
	}

	w.committing = true
	w.err = nil
	w.message = "Saving…"
	gen, handle := w.gen, w.handle
	w.publishLocked()
	w.mu.Unlock()

	start := time.Now()
	res, err := w.committer.Commit(ctx, CommitRequest{
		JobHandle:     handle,
		ContainerName: strings.TrimSpace(containerName),
		Rows:          rows,
	})

	w.mu.Lock()
	defer w.mu.Unlock()

	current := w.gen == gen
	if current {
		w.committing = false
	}

	if err != nil {
		perr := asPersistenceError(err)
		if current {
			w.err = perr
			w.message = perr.Error()
			w.publishLocked()
		}
		w.logger.Warn("commit failed", "job_handle", handle, "rows", len(rows), "error", err)
		return CommitResult{}, perr
	}

	if current {
		w.cancelRunLocked()
		w.state = StateIdle
		w.lastCommit = &res
		w.message = commitSummary(res)
		w.publishLocked()
	}

	w.logger.Info("commit completed",
		"job_handle", handle,
		"created", res.CreatedCount,
		"container_id", res.ContainerID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// Snapshot returns the current state without emitting it.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// State returns the current lifecycle state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Subscribe returns a channel that receives a Snapshot after every change,
// starting with the current one. Slow subscribers miss intermediate
// snapshots. The returned func unsubscribes and closes the channel.
func (w *Workflow) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)

	// Same lock order as publishLocked: w.mu, then listenerMu.
	w.mu.Lock()
	w.listenerMu.Lock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = ch
	ch <- w.snapshotLocked()
	w.listenerMu.Unlock()
	w.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.listenerMu.Lock()
			defer w.listenerMu.Unlock()
			if c, ok := w.listeners[id]; ok {
				delete(w.listeners, id)
				close(c)
			}
		})
	}
}

// publishLocked bumps the version and delivers the new snapshot.
// Listener channels never block, so holding w.mu here is safe.
func (w *Workflow) publishLocked() Snapshot {
	w.version++
	snap := w.snapshotLocked()

	w.listenerMu.Lock()
	defer w.listenerMu.Unlock()

	for _, ch := range w.listeners {
		select {
		case ch <- snap:
		default:
			// Listener is slow, skip this update
		}
	}
	return snap
}

func (w *Workflow) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:    w.version,
		State:      w.state,
		FileName:   w.fileName,
		JobHandle:  w.handle,
		JobStatus:  w.status.State,
		Message:    w.message,
		Err:        w.err,
		Columns:    w.store.Columns(),
		Rows:       w.store.Rows(),
		Selection:  w.store.Selection(),
		Committing: w.committing,
	}
	if w.err != nil {
		snap.Error = w.err.Error()
	}
	if w.lastCommit != nil {
		c := *w.lastCommit
		snap.LastCommit = &c
	}
	return snap
}

func (w *Workflow) activeLocked(gen uint64, handle JobHandle) bool {
	return w.gen == gen && w.handle == handle
}

func (w *Workflow) beginRunLocked() {
	w.runCtx, w.runCancel = context.WithCancel(context.Background())
}

// cancelRunLocked stops polling first, then invalidates every outstanding
// response for the current run and clears run data.
func (w *Workflow) cancelRunLocked() {
	w.stopPollLocked()
	if w.runCancel != nil {
		w.runCancel()
		w.runCancel = nil
	}
	w.gen++
	w.handle = ""
	w.status = JobStatus{}
	w.fileName = ""
	w.message = ""
	w.err = nil
	w.committing = false
	w.store.Reset()
}

func (w *Workflow) stopPollLocked() {
	if w.poll != nil {
		w.poll.stop()
		w.poll = nil
	}
}

func (w *Workflow) failLocked(err error) {
	w.state = StateError
	w.err = err
	w.message = err.Error()
	w.logger.Warn("import failed", "job_handle", w.handle, "file", w.fileName, "error", err)
}

// ValidateDocument checks doc before it is handed to the backend.
func ValidateDocument(doc Document, cfg WorkflowConfig) error {
	if strings.TrimSpace(doc.Name) == "" || len(doc.Data) == 0 {
		return &InvalidInputError{Reason: "no file provided"}
	}
	if cfg.MaxFileSize > 0 && int64(len(doc.Data)) > cfg.MaxFileSize {
		return &InvalidInputError{
			Reason: fmt.Sprintf("file too large: %d bytes exceeds %d", len(doc.Data), cfg.MaxFileSize),
		}
	}

	ext := strings.ToLower(filepath.Ext(doc.Name))
	allowed := normalizeExtensions(cfg.AllowedExtensions)
	if len(allowed) > 0 && !containsString(allowed, ext) {
		return &InvalidInputError{
			Reason: fmt.Sprintf("unsupported file type %q (allowed: %s)", ext, strings.Join(allowed, ", ")),
		}
	}
	if ext == ".pdf" && !bytes.HasPrefix(doc.Data, []byte("%PDF-")) {
		return &InvalidInputError{Reason: "file content is not a PDF"}
	}
	return nil
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func commitSummary(res CommitResult) string {
	msg := fmt.Sprintf("Saved %d records", res.CreatedCount)
	if res.ContainerID != "" {
		name := res.ContainerName
		if name == "" {
			name = res.ContainerID
		}
		msg += fmt.Sprintf(" under %q", name)
	}
	return msg
}

func asSubmissionError(err error) error {
	var e *SubmissionError
	if errors.As(err, &e) {
		return err
	}
	return &SubmissionError{Err: err}
}

func asTransportError(handle JobHandle, err error) error {
	var e *TransportError
	if errors.As(err, &e) {
		return err
	}
	return &TransportError{Handle: handle, Err: err}
}

func asResultFetchError(handle JobHandle, err error) error {
	var e *ResultFetchError
	if errors.As(err, &e) {
		return err
	}
	return &ResultFetchError{Handle: handle, Err: err}
}

func asPersistenceError(err error) error {
	var e *PersistenceError
	if errors.As(err, &e) {
		return err
	}
	return &PersistenceError{Err: err}
}
