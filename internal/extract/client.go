// Package extract is the HTTP client for the remote extraction backend.
//
// The backend accepts a document, processes it asynchronously and exposes
// the job status and, once complete, the extracted records:
//
//	POST {base}/jobs              {"fileName": "...", "content": "<base64>"}
//	GET  {base}/jobs/{id}         {"status": "...", "message": "...", "errorMessage": "..."}
//	GET  {base}/jobs/{id}/result  [{"id": "...", "order": 1, "<field>": "<value>", ...}]
//
// Client implements core.JobClient.
package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JonMunkholm/importwizard/internal/core"
)

// DefaultTimeout bounds a single backend request.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 32 << 20

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string // sent as a bearer token when set
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client talks to the extraction backend over HTTP.
type Client struct {
	base  string
	token string
	http  *http.Client
	log   *slog.Logger
}

var _ core.JobClient = (*Client)(nil)

// New creates a Client. BaseURL must be an absolute http(s) URL.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("base url must be an absolute http(s) URL, got %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		base:  strings.TrimRight(u.String(), "/"),
		token: cfg.Token,
		http:  &http.Client{Timeout: timeout},
		log:   logger,
	}, nil
}

type submitRequest struct {
	FileName string `json:"fileName"`
	Content  string `json:"content"`
}

type submitResponse struct {
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type statusResponse struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	ErrorMessage string `json:"errorMessage"`
}

// Submit uploads doc and returns the new job's handle and initial status.
func (c *Client) Submit(ctx context.Context, doc core.Document) (core.JobHandle, core.JobStatus, error) {
	body := submitRequest{
		FileName: doc.Name,
		Content:  base64.StdEncoding.EncodeToString(doc.Data),
	}

	raw, err := c.do(ctx, http.MethodPost, "/jobs", body)
	if err != nil {
		return "", core.JobStatus{}, &core.SubmissionError{Err: err}
	}

	var resp submitResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", core.JobStatus{}, &core.SubmissionError{Err: fmt.Errorf("decode submit response: %w", err)}
	}
	if resp.JobID == "" {
		return "", core.JobStatus{}, &core.SubmissionError{Err: fmt.Errorf("submit response has no job id")}
	}

	state := core.JobQueued
	if resp.Status != "" {
		state, err = ParseJobState(resp.Status)
		if err != nil {
			return "", core.JobStatus{}, &core.SubmissionError{Err: err}
		}
	}

	c.log.Info("extract.submit",
		"file", doc.Name,
		"bytes", len(doc.Data),
		"job_handle", resp.JobID,
		"status", state,
	)

	return core.JobHandle(resp.JobID), core.JobStatus{State: state, Message: resp.Message}, nil
}

// Status returns the job's current status. It is safe to repeat.
func (c *Client) Status(ctx context.Context, handle core.JobHandle) (core.JobStatus, error) {
	raw, err := c.do(ctx, http.MethodGet, jobPath(handle), nil)
	if err != nil {
		return core.JobStatus{}, &core.TransportError{Handle: handle, Err: err}
	}

	var resp statusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return core.JobStatus{}, &core.TransportError{Handle: handle, Err: fmt.Errorf("decode status: %w", err)}
	}

	state, err := ParseJobState(resp.Status)
	if err != nil {
		return core.JobStatus{}, &core.TransportError{Handle: handle, Err: err}
	}

	return core.JobStatus{State: state, Message: resp.Message, ErrorDetail: resp.ErrorMessage}, nil
}

// FetchResult downloads the extracted records of a completed job.
func (c *Client) FetchResult(ctx context.Context, handle core.JobHandle) ([]core.RawRecord, error) {
	raw, err := c.do(ctx, http.MethodGet, jobPath(handle)+"/result", nil)
	if err != nil {
		return nil, &core.ResultFetchError{Handle: handle, Err: err}
	}

	records, err := DecodeRecords(raw)
	if err != nil {
		return nil, &core.ResultFetchError{Handle: handle, Err: err}
	}

	c.log.Info("extract.result", "job_handle", handle, "records", len(records))
	return records, nil
}

// ParseJobState maps a backend status string to a JobState,
// ignoring case and surrounding space.
func ParseJobState(s string) (core.JobState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "pending":
		return core.JobQueued, nil
	case "processing", "running":
		return core.JobProcessing, nil
	case "complete", "completed":
		return core.JobComplete, nil
	case "error", "failed":
		return core.JobError, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

func jobPath(handle core.JobHandle) string {
	return "/jobs/" + url.PathEscape(string(handle))
}

// do sends one request and returns the response body of a 2xx reply.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.log.Debug("extract.http",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		return nil, &StatusError{Code: resp.StatusCode, Body: snippet(raw)}
	}
	return raw, nil
}

// StatusError is a non-2xx reply from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("extraction backend returned %d", e.Code)
	}
	return fmt.Sprintf("extraction backend returned %d: %s", e.Code, e.Body)
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
