package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/importwizard/internal/config"
	"github.com/JonMunkholm/importwizard/internal/core"
)

var pdfBytes = []byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\n")

// completeJobs finishes every job at submission time.
type completeJobs struct {
	mu        sync.Mutex
	submitErr error
	result    []core.RawRecord
}

func (j *completeJobs) Submit(ctx context.Context, doc core.Document) (core.JobHandle, core.JobStatus, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.submitErr != nil {
		return "", core.JobStatus{}, j.submitErr
	}
	return "job-1", core.JobStatus{State: core.JobComplete}, nil
}

func (j *completeJobs) Status(ctx context.Context, h core.JobHandle) (core.JobStatus, error) {
	return core.JobStatus{State: core.JobComplete}, nil
}

func (j *completeJobs) FetchResult(ctx context.Context, h core.JobHandle) ([]core.RawRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, nil
}

type recordingCommitter struct {
	mu   sync.Mutex
	err  error
	reqs []core.CommitRequest
}

func (c *recordingCommitter) Commit(ctx context.Context, req core.CommitRequest) (core.CommitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	if c.err != nil {
		return core.CommitResult{}, c.err
	}
	return core.CommitResult{CreatedCount: len(req.Rows), ContainerName: req.ContainerName}, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

func order(i int) *int { return &i }

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Upload: config.UploadConfig{
			MaxFileSize:       1 << 20,
			AllowedExtensions: []string{".pdf"},
			MaxConcurrent:     2,
			MaxWaitTime:       time.Second,
		},
		Session: config.SessionConfig{TTL: time.Hour},
	}
}

type testEnv struct {
	srv       *Server
	jobs      *completeJobs
	committer *recordingCommitter
}

func newTestEnv(t *testing.T, cfg *config.Config, db Pinger) *testEnv {
	t.Helper()
	env := &testEnv{
		jobs: &completeJobs{result: []core.RawRecord{
			{ID: "r2", Order: order(2), Fields: core.Fields{{Name: "question", Value: "Q2"}}},
			{ID: "r1", Order: order(1), Fields: core.Fields{{Name: "question", Value: "Q1"}}},
		}},
		committer: &recordingCommitter{},
	}
	factory := func() *core.Workflow {
		return core.NewWorkflow(env.jobs, env.committer, core.WorkflowConfig{
			PollInterval:      10 * time.Millisecond,
			MaxFileSize:       cfg.Upload.MaxFileSize,
			AllowedExtensions: cfg.Upload.AllowedExtensions,
		})
	}
	sessions := core.NewSessions(factory, cfg.Session.TTL, nil)
	limiter := core.NewSubmitLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime)
	env.srv = NewServer(cfg, sessions, limiter, db)
	t.Cleanup(func() {
		env.srv.Shutdown(context.Background())
		sessions.CloseAll()
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, strings.NewReader(body), "application/json")
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/sessions", nil, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if resp.Snapshot.State != core.StateIdle {
		t.Errorf("new session state = %q, want Idle", resp.Snapshot.State)
	}
	return resp.ID
}

func (e *testEnv) upload(t *testing.T, id, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write(data)
	mw.Close()
	return e.do(t, http.MethodPost, "/api/sessions/"+id+"/upload", &buf, mw.FormDataContentType())
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var snap map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v (body %s)", err, rec.Body)
	}
	return snap
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v (body %s)", err, rec.Body)
	}
	return resp
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		db         Pinger
		wantStatus int
		wantDB     string
	}{
		{"no database", nil, http.StatusOK, ""},
		{"database ok", fakePinger{}, http.StatusOK, "ok"},
		{"database down", fakePinger{err: errors.New("refused")}, http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testConfig(), tt.db)
			rec := env.do(t, http.MethodGet, "/health", nil, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var resp healthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Database != tt.wantDB {
				t.Errorf("database = %q, want %q", resp.Database, tt.wantDB)
			}
			if resp.Submissions.MaxConcurrent != 2 {
				t.Errorf("submissions = %+v", resp.Submissions)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	rec := env.do(t, http.MethodGet, "/health", nil, "")
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}

func TestUnknownSession(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	rec := env.do(t, http.MethodGet, "/api/sessions/nope/", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := decodeError(t, rec).Code; got != "SES001" {
		t.Errorf("code = %q, want SES001", got)
	}
}

func TestImportFlow(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	id := env.createSession(t)
	base := "/api/sessions/" + id

	rec := env.upload(t, id, "faq.pdf", pdfBytes)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("upload status = %d, body = %s", rec.Code, rec.Body)
	}
	if snap := decodeSnapshot(t, rec); snap["state"] != string(core.StateComplete) {
		t.Fatalf("state after upload = %v, want Complete", snap["state"])
	}

	rec = env.doJSON(t, http.MethodPost, base+"/patches",
		`{"patches":[{"id":"r1","fields":{"answer":"A1"}},{"id":"ghost","fields":{"answer":"x"}}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patches status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = env.do(t, http.MethodPost, base+"/rows", nil, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("insert status = %d, body = %s", rec.Code, rec.Body)
	}
	var inserted struct {
		Record map[string]any `json:"record"`
	}
	json.Unmarshal(rec.Body.Bytes(), &inserted)
	newID, _ := inserted.Record["id"].(string)
	if newID == "" || inserted.Record["order"] != float64(3) {
		t.Fatalf("inserted record = %v", inserted.Record)
	}

	rec = env.doJSON(t, http.MethodPost, base+"/selection", `{"ids":["`+newID+`"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("select status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, base+"/rows/delete", nil, "")
	var deleted deleteResponse
	json.Unmarshal(rec.Body.Bytes(), &deleted)
	if rec.Code != http.StatusOK || deleted.Deleted != 1 {
		t.Fatalf("delete status = %d, deleted = %d", rec.Code, deleted.Deleted)
	}

	rec = env.do(t, http.MethodGet, base+"/export.xlsx", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "faq.xlsx") {
		t.Errorf("Content-Disposition = %q", got)
	}
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	rows, _ := f.GetRows("Records")
	f.Close()
	if len(rows) != 3 {
		t.Errorf("exported %d rows, want header + 2", len(rows))
	}

	rec = env.doJSON(t, http.MethodPost, base+"/commit", `{"containerName":"  FAQ  "}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("commit status = %d, body = %s", rec.Code, rec.Body)
	}
	var committed commitResponse
	json.Unmarshal(rec.Body.Bytes(), &committed)
	if committed.Result.CreatedCount != 2 || committed.Snapshot.State != core.StateIdle {
		t.Errorf("commit response = %+v", committed)
	}

	req := env.committer.reqs[0]
	if req.ContainerName != "FAQ" || req.Rows[0].ID != "r1" {
		t.Errorf("commit request = %+v", req)
	}
	if v, _ := req.Rows[0].Fields.Get("answer"); v != "A1" {
		t.Errorf("committed answer = %q, want A1", v)
	}
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		data     []byte
		wantCode string
	}{
		{"wrong extension", "notes.txt", pdfBytes, "IMP001"},
		{"not a pdf", "fake.pdf", []byte("hello"), "IMP001"},
		{"empty", "empty.pdf", nil, "IMP001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testConfig(), nil)
			id := env.createSession(t)

			rec := env.upload(t, id, tt.file, tt.data)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body)
			}
			if got := decodeError(t, rec).Code; got != tt.wantCode {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}

			rec = env.do(t, http.MethodGet, "/api/sessions/"+id+"/", nil, "")
			var resp sessionResponse
			json.Unmarshal(rec.Body.Bytes(), &resp)
			if resp.Snapshot.State != core.StateIdle {
				t.Errorf("state after rejection = %q, want Idle", resp.Snapshot.State)
			}
		})
	}
}

func TestUploadSubmissionFailure(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.jobs.submitErr = errors.New("connection refused")
	id := env.createSession(t)

	rec := env.upload(t, id, "faq.pdf", pdfBytes)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if got := decodeError(t, rec).Code; got != "JOB001" {
		t.Errorf("code = %q, want JOB001", got)
	}
}

func TestCurationBeforeComplete(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	id := env.createSession(t)
	base := "/api/sessions/" + id

	for _, path := range []string{"/rows", "/rows/delete", "/commit"} {
		rec := env.do(t, http.MethodPost, base+path, nil, "")
		if rec.Code != http.StatusConflict {
			t.Errorf("POST %s status = %d, want 409", path, rec.Code)
		}
	}
	if rec := env.do(t, http.MethodGet, base+"/export.xlsx", nil, ""); rec.Code != http.StatusConflict {
		t.Errorf("export status = %d, want 409", rec.Code)
	}
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	id := env.createSession(t)
	base := "/api/sessions/" + id
	env.upload(t, id, "faq.pdf", pdfBytes)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"malformed json", "/patches", `{"patches":`},
		{"patches missing", "/patches", `{}`},
		{"patch without id", "/patches", `{"patches":[{"fields":{"a":"b"}}]}`},
		{"container name too long", "/commit", `{"containerName":"` + strings.Repeat("x", 201) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.doJSON(t, http.MethodPost, base+tt.path, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", rec.Code, rec.Body)
			}
		})
	}
}

func TestCommitFailureKeepsWorkingSet(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.committer.err = errors.New("deadlock detected")
	id := env.createSession(t)
	base := "/api/sessions/" + id
	env.upload(t, id, "faq.pdf", pdfBytes)

	rec := env.do(t, http.MethodPost, base+"/commit", nil, "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := decodeError(t, rec).Code; got != "SAV001" {
		t.Errorf("code = %q, want SAV001", got)
	}

	rec = env.do(t, http.MethodGet, base+"/", nil, "")
	var resp sessionResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Snapshot.State != core.StateComplete || len(resp.Snapshot.Rows) != 2 {
		t.Errorf("after failed commit: state %q, %d rows", resp.Snapshot.State, len(resp.Snapshot.Rows))
	}
}

func TestResetAndDelete(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	id := env.createSession(t)
	base := "/api/sessions/" + id
	env.upload(t, id, "faq.pdf", pdfBytes)

	rec := env.do(t, http.MethodPost, base+"/reset", nil, "")
	if snap := decodeSnapshot(t, rec); snap["state"] != string(core.StateIdle) {
		t.Errorf("state after reset = %v", snap["state"])
	}

	if rec := env.do(t, http.MethodDelete, base+"/", nil, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, base+"/", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.createSession(t)
	env.createSession(t)

	rec := env.do(t, http.MethodGet, "/api/sessions", nil, "")
	var list []core.SessionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("len(list) = %d, want 2", len(list))
	}
}

func TestStatusPartial(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	id := env.createSession(t)
	env.upload(t, id, "<faq>.pdf", pdfBytes)

	rec := env.do(t, http.MethodGet, "/api/sessions/"+id+"/status", nil, "")
	body := rec.Body.String()
	if !strings.Contains(body, "status-complete") || !strings.Contains(body, "2 rows") {
		t.Errorf("partial = %s", body)
	}
	if strings.Contains(body, "<faq>") {
		t.Error("file name not escaped")
	}
}

func TestHTMXErrorPartial(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	id := env.createSession(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/rows", nil)
	req.Header.Set("HX-Request", "true")
	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want HTML", ct)
	}
	if !strings.Contains(rec.Body.String(), "IMP002") {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestEvents(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	id := env.createSession(t)

	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/sessions/"+id+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatalf("read first event: %v", err)
	}
	first := string(buf[:n])
	if !strings.Contains(first, "event: snapshot") || !strings.Contains(first, `"state":"idle"`) {
		t.Errorf("first event = %q", first)
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     2,
		window:   time.Minute,
		now:      func() time.Time { return now },
	}

	if !rl.allow("a") || !rl.allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.allow("a") {
		t.Error("third request in window should be limited")
	}
	if !rl.allow("b") {
		t.Error("other client should not share the budget")
	}

	now = now.Add(61 * time.Second)
	if !rl.allow("a") {
		t.Error("request after window should pass")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, UploadLimit: 1}
	env := newTestEnv(t, cfg, nil)

	if rec := env.do(t, http.MethodGet, "/health", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}
	rec := env.do(t, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rec.Code)
	}
	if got := decodeError(t, rec).Code; got != "RATE001" {
		t.Errorf("code = %q, want RATE001", got)
	}
}
