package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL is how long an untouched session is kept.
const DefaultSessionTTL = 30 * time.Minute

// WorkflowFactory builds the workflow behind a new session.
type WorkflowFactory func() *Workflow

// SessionInfo describes one live session.
type SessionInfo struct {
	ID       string    `json:"id"`
	Created  time.Time `json:"created"`
	LastSeen time.Time `json:"lastSeen"`
	State    State     `json:"state"`
}

type session struct {
	id       string
	wf       *Workflow
	created  time.Time
	lastSeen time.Time
}

// Sessions tracks the workflows of concurrent import sessions. Each
// session owns exactly one Workflow; sessions idle longer than the TTL
// are closed by the sweeper.
type Sessions struct {
	factory WorkflowFactory
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewSessions creates an empty session registry.
func NewSessions(factory WorkflowFactory, ttl time.Duration, logger *slog.Logger) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{
		factory:  factory,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Create starts a new session with an idle workflow.
func (s *Sessions) Create() (string, *Workflow) {
	id := uuid.New().String()
	now := s.now()
	sess := &session{id: id, wf: s.factory(), created: now, lastSeen: now}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	s.logger.Info("session created", "session_id", id)
	return id, sess.wf
}

// Get returns the session's workflow and marks the session as used.
func (s *Sessions) Get(id string) (*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}
	sess.lastSeen = s.now()
	return sess.wf, nil
}

// Delete closes the session's workflow and forgets the session.
func (s *Sessions) Delete(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}
	sess.wf.Close()
	s.logger.Info("session deleted", "session_id", id)
	return nil
}

// List returns every live session.
func (s *Sessions) List() []SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, SessionInfo{
			ID:       sess.id,
			Created:  sess.created,
			LastSeen: sess.lastSeen,
			State:    sess.wf.State(),
		})
	}
	return out
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// StartSweeper closes expired sessions every interval until ctx is done.
func (s *Sessions) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.sweep(s.now()); n > 0 {
					s.logger.Info("expired sessions closed", "count", n)
				}
			}
		}
	}()
}

// CloseAll closes every session. Used on shutdown.
func (s *Sessions) CloseAll() {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range all {
		sess.wf.Close()
	}
}

// sweep closes sessions not seen since now-ttl. A session with a commit
// in flight is kept until the commit finishes.
func (s *Sessions) sweep(now time.Time) int {
	cutoff := now.Add(-s.ttl)

	var expired []*session
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) && !sess.wf.Snapshot().Committing {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.wf.Close()
		s.logger.Debug("session expired", "session_id", sess.id, "last_seen", sess.lastSeen)
	}
	return len(expired)
}
