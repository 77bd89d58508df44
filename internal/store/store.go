// Package store persists committed records in Postgres.
//
// Tables:
//
//	import_containers  one row per named commit (the "quiz" a batch belongs to)
//	curated_records    one row per committed record, fields kept as jsonb
//
// A commit is a single transaction: the optional container insert and a
// COPY of every record either all land or none do.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/importwizard/internal/core"
)

// CommitTimeout bounds a single commit transaction.
var CommitTimeout = 2 * time.Minute

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// Store commits curated records. It implements core.Committer.
type Store struct {
	db    DB
	log   *slog.Logger
	now   func() time.Time
	newID func() uuid.UUID
}

var _ core.Committer = (*Store)(nil)

// New creates a Store backed by db (normally a *pgxpool.Pool).
func New(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:    db,
		log:   logger,
		now:   time.Now,
		newID: uuid.New,
	}
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS import_containers (
		id         uuid PRIMARY KEY,
		name       text NOT NULL,
		job_handle text NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS curated_records (
		id           uuid PRIMARY KEY,
		container_id uuid NULL REFERENCES import_containers(id) ON DELETE CASCADE,
		job_handle   text NOT NULL,
		position     int  NOT NULL,
		sort_order   int  NOT NULL,
		fields       jsonb NOT NULL,
		created_at   timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS curated_records_container_idx ON curated_records (container_id, position)`,
	`CREATE INDEX IF NOT EXISTS curated_records_job_idx ON curated_records (job_handle)`,
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

var recordColumns = []string{"id", "container_id", "job_handle", "position", "sort_order", "fields", "created_at"}

// Commit writes req.Rows sorted by order. A container row is created when
// req.ContainerName is set. Every failure is a *core.PersistenceError and
// leaves the database unchanged.
func (s *Store) Commit(ctx context.Context, req core.CommitRequest) (core.CommitResult, error) {
	if len(req.Rows) == 0 {
		return core.CommitResult{}, &core.PersistenceError{Err: core.ErrNothingToCommit}
	}

	ctx, cancel := context.WithTimeout(ctx, CommitTimeout)
	defer cancel()

	start := time.Now()
	now := s.now().UTC()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return core.CommitResult{}, &core.PersistenceError{Err: fmt.Errorf("begin transaction: %w", err)}
	}
	defer tx.Rollback(ctx)

	var result core.CommitResult
	container := pgtype.UUID{}

	if req.ContainerName != "" {
		id := s.newID()
		_, err := tx.Exec(ctx,
			`INSERT INTO import_containers (id, name, job_handle, created_at) VALUES ($1, $2, $3, $4)`,
			pgtype.UUID{Bytes: id, Valid: true}, req.ContainerName, string(req.JobHandle), now,
		)
		if err != nil {
			return core.CommitResult{}, &core.PersistenceError{Err: fmt.Errorf("insert container: %w", err)}
		}
		container = pgtype.UUID{Bytes: id, Valid: true}
		result.ContainerID = id.String()
		result.ContainerName = req.ContainerName
	}

	rows, err := buildRecordRows(req, container, now, s.newID)
	if err != nil {
		return core.CommitResult{}, &core.PersistenceError{Err: err}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"curated_records"}, recordColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return core.CommitResult{}, &core.PersistenceError{Err: fmt.Errorf("copy records: %w", err)}
	}

	if err := tx.Commit(ctx); err != nil {
		return core.CommitResult{}, &core.PersistenceError{Err: fmt.Errorf("commit: %w", err)}
	}

	result.CreatedCount = int(n)

	s.log.Info("records committed",
		"job_handle", req.JobHandle,
		"created", result.CreatedCount,
		"container_id", result.ContainerID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}
