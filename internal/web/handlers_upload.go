package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/importwizard/internal/core"
	"github.com/JonMunkholm/importwizard/internal/logging"
)

// multipartOverhead is added to the document size limit for form framing.
const multipartOverhead = 1 << 20

// sseHeartbeat keeps idle event streams alive through proxies.
var sseHeartbeat = 15 * time.Second

// handleUpload accepts a document as multipart field "file" and submits it.
// It returns once the backend has accepted the job; progress follows on the
// event stream.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.respondError(w, r, &core.InvalidInputError{Reason: "file too large or invalid form"}, http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, &core.InvalidInputError{Reason: "no file provided"}, http.StatusBadRequest)
		return
	}
	defer file.Close()

	// One extra byte lets the workflow see an oversized file.
	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("read upload: %w", err), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	release, err := s.limiter.Acquire(ctx)
	if err != nil {
		if errors.Is(err, core.ErrTooManySubmissions) {
			w.Header().Set("Retry-After", "30")
		}
		s.respondError(w, r, err, 0)
		return
	}
	defer release()

	wf := workflowFrom(ctx)
	doc := core.Document{Name: header.Filename, Data: data}
	if err := wf.Submit(ctx, doc); err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	logging.WithFields(ctx, "file", header.Filename).Info("document submitted", "bytes", len(data), "state", wf.State())
	writeJSON(w, http.StatusAccepted, wf.Snapshot())
}

// handleEvents streams workflow snapshots via Server-Sent Events.
// The event ID is the snapshot version; a reconnecting client sending
// Last-Event-ID skips snapshots it has already seen.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var lastEventID uint64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastEventID, _ = strconv.ParseUint(v, 10, 64)
	} else if v := r.URL.Query().Get("lastEventId"); v != "" {
		lastEventID, _ = strconv.ParseUint(v, 10, 64)
	}

	updates, unsubscribe := workflowFrom(r.Context()).Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		logging.FromContext(r.Context()).Warn("sse: streaming not supported", "error", err)
		return
	}

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				// Session closed
				fmt.Fprint(w, "event: closed\ndata: {}\n\n")
				rc.Flush()
				return
			}
			if snap.Version <= lastEventID && lastEventID != 0 {
				continue
			}

			data, err := json.Marshal(snap)
			if err != nil {
				logging.FromContext(r.Context()).Warn("sse: encode snapshot", "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Version, data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}
