// Package core provides the business logic for document import and curation.
//
// The package contains the import controller independent of any UI or
// transport layer. It can be driven by web handlers, the CLI, or tests
// without modification.
//
// # Architecture
//
// The package is organized around a few key concepts:
//
//   - JobClient: the contract for the remote extraction backend (submit,
//     status, fetch result). Implemented over HTTP by package extract.
//   - Workflow: the state machine for one import run
//     (Idle -> Uploading -> Processing -> Complete | Error).
//   - CurationStore: the editable working set produced by a completed job.
//   - Committer: the contract for persisting a curated snapshot.
//     Implemented over Postgres by package store.
//   - Sessions: one Workflow per client session, swept when idle.
//
// # Import Flow
//
//  1. Client calls [Workflow.Submit] with a [Document]
//  2. The document is validated, then handed to [JobClient.Submit]
//  3. A poller asks [JobClient.Status] every PollInterval, one request at a time
//  4. On Complete, polling stops and [JobClient.FetchResult] seeds the store
//  5. The user edits rows via [Workflow.ApplyPatches], [Workflow.InsertRow],
//     [Workflow.Select] and [Workflow.DeleteSelected]
//  6. [Workflow.Commit] sends the order-sorted rows to the [Committer]
//
// Every state change is published as an immutable [Snapshot] to subscribers
// registered with [Workflow.Subscribe].
//
// # Stale Responses
//
// Each run has a generation number. Reset and Submit bump it and cancel the
// poller while holding the workflow lock, and every poll or fetch response is
// checked against the generation and job handle before it may change state.
// A response for a superseded run is dropped.
//
// # Error Handling
//
// Remote failures are typed ([SubmissionError], [TransportError],
// [JobFailedError], [ResultFetchError], [PersistenceError]) and become state
// transitions rather than escaping to the caller's caller. [MapError] turns
// any of them into a user-facing message with a support code.
package core
