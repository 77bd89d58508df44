package web

import (
	"context"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/importwizard/internal/core"
)

type ctxKey int

const ctxKeyWorkflow ctxKey = iota

// sessionCtx resolves {sessionID} to its workflow and tags the request
// context with the session and client IP for logging.
func (s *Server) sessionCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionID")
		wf, err := s.sessions.Get(id)
		if err != nil {
			s.respondError(w, r, err, http.StatusNotFound)
			return
		}

		ctx := WithRequestMetadata(r.Context(), r)
		ctx = core.ContextWithSessionID(ctx, id)
		ctx = context.WithValue(ctx, ctxKeyWorkflow, wf)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// workflowFrom returns the workflow attached by sessionCtx.
func workflowFrom(ctx context.Context) *core.Workflow {
	wf, _ := ctx.Value(ctxKeyWorkflow).(*core.Workflow)
	return wf
}

// WithRequestMetadata adds the client IP to context for logging.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	return core.ContextWithIPAddress(ctx, clientIP(r))
}

// clientIP returns the host part of RemoteAddr, already processed by
// TrustedRealIP.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
