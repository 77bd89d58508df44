package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/importwizard/internal/core"
	"github.com/JonMunkholm/importwizard/internal/export"
	"github.com/JonMunkholm/importwizard/internal/logging"
)

// maxJSONBody bounds curation and commit request bodies.
const maxJSONBody = 10 << 20

type sessionResponse struct {
	ID       string        `json:"id"`
	Snapshot core.Snapshot `json:"snapshot"`
}

type patchDTO struct {
	ID     string            `json:"id" validate:"required,max=128"`
	Order  *int              `json:"order"`
	Fields map[string]string `json:"fields" validate:"omitempty,max=100,dive,keys,required,max=200,endkeys,max=20000"`
}

type patchRequest struct {
	Patches []patchDTO `json:"patches" validate:"required,max=10000,dive"`
}

type selectRequest struct {
	IDs []string `json:"ids" validate:"max=10000,dive,required,max=128"`
}

type commitRequest struct {
	ContainerName string `json:"containerName" validate:"max=200"`
}

type insertResponse struct {
	Record   core.Record   `json:"record"`
	Snapshot core.Snapshot `json:"snapshot"`
}

type deleteResponse struct {
	Deleted  int           `json:"deleted"`
	Snapshot core.Snapshot `json:"snapshot"`
}

type commitResponse struct {
	Result   core.CommitResult `json:"result"`
	Message  string            `json:"message"`
	Snapshot core.Snapshot     `json:"snapshot"`
}

type healthResponse struct {
	Status      string                   `json:"status"`
	Database    string                   `json:"database,omitempty"`
	Sessions    int                      `json:"sessions"`
	Submissions core.SubmitLimiterStatus `json:"submissions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Sessions:    s.sessions.Len(),
		Submissions: s.limiter.Status(),
	}

	status := http.StatusOK
	if s.db != nil {
		resp.Database = "ok"
		if err := s.db.Ping(r.Context()); err != nil {
			logging.FromContext(r.Context()).Warn("health: database ping failed", "error", err)
			resp.Status = "degraded"
			resp.Database = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, wf := s.sessions.Create()
	writeJSON(w, http.StatusCreated, sessionResponse{ID: id, Snapshot: wf.Snapshot()})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap := workflowFrom(r.Context()).Snapshot()
	writeJSON(w, http.StatusOK, sessionResponse{ID: chi.URLParam(r, "sessionID"), Snapshot: snap})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(chi.URLParam(r, "sessionID")); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStatusPartial renders the status line as an HTML fragment.
func (s *Server) handleStatusPartial(w http.ResponseWriter, r *http.Request) {
	snap := workflowFrom(r.Context()).Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusBadge(snap).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Warn("render status partial", "error", err)
	}
}

// handleExport downloads the working set as an XLSX workbook.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	snap := workflowFrom(r.Context()).Snapshot()
	if snap.State != core.StateComplete {
		s.respondError(w, r, fmt.Errorf("export: %w", core.ErrNotReady), 0)
		return
	}

	data, err := export.XLSX(snap.Columns, snap.Rows)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(snap.FileName)))
	w.Write(data)
}

func (s *Server) handlePatches(w http.ResponseWriter, r *http.Request) {
	var req patchRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	patches := make([]core.DraftPatch, len(req.Patches))
	for i, p := range req.Patches {
		patches[i] = core.DraftPatch{ID: p.ID, Order: p.Order, Fields: p.Fields}
	}

	snap, err := workflowFrom(r.Context()).ApplyPatches(patches)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	snap, err := workflowFrom(r.Context()).Select(req.IDs)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleInsertRow(w http.ResponseWriter, r *http.Request) {
	rec, snap, err := workflowFrom(r.Context()).InsertRow()
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusCreated, insertResponse{Record: rec, Snapshot: snap})
}

func (s *Server) handleDeleteSelected(w http.ResponseWriter, r *http.Request) {
	n, snap, err := workflowFrom(r.Context()).DeleteSelected()
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: n, Snapshot: snap})
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	wf := workflowFrom(r.Context())
	res, err := wf.Commit(r.Context(), req.ContainerName)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	snap := wf.Snapshot()
	logging.FromContext(r.Context()).Info("records committed",
		"created", res.CreatedCount,
		"container_id", res.ContainerID,
	)
	writeJSON(w, http.StatusOK, commitResponse{Result: res, Message: snap.Message, Snapshot: snap})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, workflowFrom(r.Context()).Reset())
}

// decodeAndValidate reads a JSON body into v and validates it. An empty
// body leaves v at its zero value. It reports whether the handler should
// continue; on false the error response has been written.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err), http.StatusBadRequest)
		return false
	}

	if err := s.validate.Struct(v); err != nil {
		s.respondValidation(w, r, err)
		return false
	}
	return true
}
