package core

import (
	"bytes"
	"context"
	"encoding/json"
)

// Document is the source file handed to the extraction backend.
// The workflow never keeps it after submission.
type Document struct {
	Name string
	Data []byte
}

// JobHandle identifies one extraction job on the backend.
type JobHandle string

// JobState is the backend-reported state of an extraction job.
type JobState string

const (
	JobQueued     JobState = "Queued"
	JobProcessing JobState = "Processing"
	JobComplete   JobState = "Complete"
	JobError      JobState = "Error"
)

// IsTerminal reports whether no further status changes are expected.
func (s JobState) IsTerminal() bool {
	return s == JobComplete || s == JobError
}

// JobStatus is a single status observation for a job.
type JobStatus struct {
	State       JobState `json:"status"`
	Message     string   `json:"message,omitempty"`
	ErrorDetail string   `json:"errorMessage,omitempty"`
}

// Field is one named text value of a record.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Fields is an ordered set of named values. Names are unique.
type Fields []Field

// Get returns the value for name.
func (f Fields) Get(name string) (string, bool) {
	for _, fld := range f {
		if fld.Name == name {
			return fld.Value, true
		}
	}
	return "", false
}

// Set returns f with name set to value. Unknown names are appended.
func (f Fields) Set(name, value string) Fields {
	for i := range f {
		if f[i].Name == name {
			f[i].Value = value
			return f
		}
	}
	return append(f, Field{Name: name, Value: value})
}

// Names returns the field names in order.
func (f Fields) Names() []string {
	names := make([]string, len(f))
	for i, fld := range f {
		names[i] = fld.Name
	}
	return names
}

// Clone returns a copy that shares no memory with f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	copy(out, f)
	return out
}

// MarshalJSON encodes the fields as a JSON object, keeping their order.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := writeFields(&buf, f, false); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Reserved keys in the flattened record encoding. Fields with these names
// are never emitted or accepted as plain values.
const (
	keyID    = "id"
	keyOrder = "order"
)

// IsReservedField reports whether name collides with the record envelope.
func IsReservedField(name string) bool {
	return name == keyID || name == keyOrder
}

// Record is one extracted row under curation.
type Record struct {
	ID     string
	Order  int
	Fields Fields
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	r.Fields = r.Fields.Clone()
	return r
}

// MarshalJSON flattens the record: {"id": ..., "order": n, "<field>": "<value>", ...}.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	id, _ := json.Marshal(r.ID)
	order, _ := json.Marshal(r.Order)
	buf.WriteString(`"id":`)
	buf.Write(id)
	buf.WriteString(`,"order":`)
	buf.Write(order)
	if err := writeFields(&buf, r.Fields, true); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// RawRecord is a result item as returned by the extraction backend.
// ID and Order are optional.
type RawRecord struct {
	ID     string
	Order  *int
	Fields Fields
}

// DraftPatch is a partial update for one record, keyed by ID.
type DraftPatch struct {
	ID     string
	Order  *int
	Fields map[string]string
}

// CommitRequest carries a finalized, order-sorted snapshot to a Committer.
type CommitRequest struct {
	JobHandle     JobHandle
	ContainerName string
	Rows          []Record
}

// CommitResult summarizes a successful commit.
type CommitResult struct {
	CreatedCount  int    `json:"createdCount"`
	ContainerID   string `json:"containerId,omitempty"`
	ContainerName string `json:"containerName,omitempty"`
}

// JobClient is the remote extraction backend.
//
// Submit fails with *SubmissionError, Status with *TransportError and
// FetchResult with *ResultFetchError. Status must be safe to call repeatedly.
// FetchResult is only valid once Status has reported JobComplete.
type JobClient interface {
	Submit(ctx context.Context, doc Document) (JobHandle, JobStatus, error)
	Status(ctx context.Context, handle JobHandle) (JobStatus, error)
	FetchResult(ctx context.Context, handle JobHandle) ([]RawRecord, error)
}

// Committer persists curated rows. Commit is not idempotent; callers must
// not issue a second commit while one is outstanding.
type Committer interface {
	Commit(ctx context.Context, req CommitRequest) (CommitResult, error)
}

// EncodeCommitRows returns the wire form of a commit: a JSON list of
// {"order": n, "<field>": "<value>", ...} sorted by order ascending.
func EncodeCommitRows(rows []Record) ([]byte, error) {
	sorted := SortByOrder(rows)

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, r := range sorted {
		if i > 0 {
			buf.WriteByte(',')
		}
		order, _ := json.Marshal(r.Order)
		buf.WriteString(`{"order":`)
		buf.Write(order)
		if err := writeFields(&buf, r.Fields, true); err != nil {
			return nil, err
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// writeFields appends "name":"value" pairs, skipping reserved names.
// When leadingComma is set every pair is prefixed with a comma.
func writeFields(buf *bytes.Buffer, fields Fields, leadingComma bool) error {
	first := !leadingComma
	for _, f := range fields {
		if IsReservedField(f.Name) {
			continue
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return err
		}
		value, err := json.Marshal(f.Value)
		if err != nil {
			return err
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	return nil
}
