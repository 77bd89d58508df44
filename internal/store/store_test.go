package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/importwizard/internal/core"
)

// fakeTx implements the parts of pgx.Tx the store touches.
type fakeTx struct {
	pgx.Tx

	execErr   error
	copyErr   error
	commitErr error

	execSQL    []string
	copyTable  pgx.Identifier
	copyCols   []string
	copyRows   [][]any
	committed  bool
	rolledBack bool
}

func (tx *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.execSQL = append(tx.execSQL, sql)
	return pgconn.NewCommandTag("INSERT 0 1"), tx.execErr
}

func (tx *fakeTx) CopyFrom(ctx context.Context, table pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	if tx.copyErr != nil {
		return 0, tx.copyErr
	}
	tx.copyTable = table
	tx.copyCols = cols
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return 0, err
		}
		tx.copyRows = append(tx.copyRows, vals)
	}
	return int64(len(tx.copyRows)), nil
}

func (tx *fakeTx) Commit(ctx context.Context) error {
	if tx.commitErr != nil {
		return tx.commitErr
	}
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(ctx context.Context) error {
	if !tx.committed {
		tx.rolledBack = true
	}
	return nil
}

type fakeDB struct {
	tx       *fakeTx
	beginErr error
	execSQL  []string
	execErr  error
}

func (db *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if db.beginErr != nil {
		return nil, db.beginErr
	}
	return db.tx, nil
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.execSQL = append(db.execSQL, sql)
	return pgconn.CommandTag{}, db.execErr
}

func (db *fakeDB) Ping(ctx context.Context) error { return nil }

func newTestStore(db DB) *Store {
	s := New(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return s
}

func record(id string, order int, question string) core.Record {
	return core.Record{ID: id, Order: order, Fields: core.Fields{{Name: "question", Value: question}}}
}

func TestStore_CommitWithContainer(t *testing.T) {
	tx := &fakeTx{}
	s := newTestStore(&fakeDB{tx: tx})

	res, err := s.Commit(context.Background(), core.CommitRequest{
		JobHandle:     "job-1",
		ContainerName: "Biology",
		Rows:          []core.Record{record("b", 2, "second"), record("a", 1, "first")},
	})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if res.CreatedCount != 2 || res.ContainerName != "Biology" {
		t.Errorf("Commit() = %+v", res)
	}
	if _, err := uuid.Parse(res.ContainerID); err != nil {
		t.Errorf("ContainerID %q is not a UUID", res.ContainerID)
	}
	if len(tx.execSQL) != 1 || !strings.Contains(tx.execSQL[0], "import_containers") {
		t.Errorf("exec = %v, want one container insert", tx.execSQL)
	}
	if tx.copyTable[0] != "curated_records" {
		t.Errorf("copy table = %v", tx.copyTable)
	}
	if !tx.committed {
		t.Error("transaction not committed")
	}

	first := tx.copyRows[0]
	if first[5] != `{"question":"first"}` {
		t.Errorf("first copied fields = %v, want sorted by order", first[5])
	}
	if c := first[1].(pgtype.UUID); !c.Valid || uuid.UUID(c.Bytes).String() != res.ContainerID {
		t.Errorf("container_id = %v, want %s", c, res.ContainerID)
	}
}

func TestStore_CommitWithoutContainer(t *testing.T) {
	tx := &fakeTx{}
	s := newTestStore(&fakeDB{tx: tx})

	res, err := s.Commit(context.Background(), core.CommitRequest{
		JobHandle: "job-1",
		Rows:      []core.Record{record("a", 1, "only")},
	})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if res.ContainerID != "" || res.CreatedCount != 1 {
		t.Errorf("Commit() = %+v", res)
	}
	if len(tx.execSQL) != 0 {
		t.Errorf("unexpected exec: %v", tx.execSQL)
	}
	if c := tx.copyRows[0][1].(pgtype.UUID); c.Valid {
		t.Error("container_id should be NULL")
	}
}

func TestStore_CommitFailuresRollBack(t *testing.T) {
	boom := errors.New("deadlock detected")

	tests := []struct {
		name string
		db   *fakeDB
	}{
		{"begin", &fakeDB{beginErr: boom}},
		{"container insert", &fakeDB{tx: &fakeTx{execErr: boom}}},
		{"copy", &fakeDB{tx: &fakeTx{copyErr: boom}}},
		{"commit", &fakeDB{tx: &fakeTx{commitErr: boom}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(tt.db)
			_, err := s.Commit(context.Background(), core.CommitRequest{
				JobHandle:     "job-1",
				ContainerName: "Quiz",
				Rows:          []core.Record{record("a", 1, "q")},
			})

			var perr *core.PersistenceError
			if !errors.As(err, &perr) || !errors.Is(err, boom) {
				t.Fatalf("Commit() error = %v, want PersistenceError wrapping cause", err)
			}
			if tt.db.tx != nil && !tt.db.tx.rolledBack {
				t.Error("transaction was not rolled back")
			}
		})
	}
}

func TestStore_CommitEmpty(t *testing.T) {
	s := newTestStore(&fakeDB{tx: &fakeTx{}})
	_, err := s.Commit(context.Background(), core.CommitRequest{JobHandle: "j"})
	if !errors.Is(err, core.ErrNothingToCommit) {
		t.Errorf("Commit() error = %v, want ErrNothingToCommit", err)
	}
}

func TestStore_EnsureSchema(t *testing.T) {
	db := &fakeDB{}
	s := newTestStore(db)

	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if len(db.execSQL) != len(schemaStatements) {
		t.Errorf("statements = %d, want %d", len(db.execSQL), len(schemaStatements))
	}

	db.execErr = errors.New("permission denied")
	if err := s.EnsureSchema(context.Background()); err == nil {
		t.Error("EnsureSchema() error = nil, want error")
	}
}

func TestBuildRecordRows(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ids := 0
	newID := func() uuid.UUID {
		ids++
		return uuid.UUID{byte(ids)}
	}

	rows, err := buildRecordRows(core.CommitRequest{
		JobHandle: "job-9",
		Rows: []core.Record{
			record("x", 5, "five"),
			record("y", 1, "one-a"),
			record("z", 1, "one-b"),
		},
	}, pgtype.UUID{}, now, newID)
	if err != nil {
		t.Fatalf("buildRecordRows() error = %v", err)
	}

	wantFields := []string{`{"question":"one-a"}`, `{"question":"one-b"}`, `{"question":"five"}`}
	for i, row := range rows {
		if len(row) != len(recordColumns) {
			t.Fatalf("row %d has %d values, want %d", i, len(row), len(recordColumns))
		}
		if row[3] != int32(i+1) {
			t.Errorf("row %d position = %v", i, row[3])
		}
		if row[5] != wantFields[i] {
			t.Errorf("row %d fields = %v, want %s", i, row[5], wantFields[i])
		}
		if row[2] != "job-9" || row[6] != now {
			t.Errorf("row %d = %v", i, row)
		}
	}
}
