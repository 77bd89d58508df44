package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/importwizard/internal/core"
)

// buildRecordRows converts the request into COPY rows matching
// recordColumns. Rows are sorted by order, ties keep request order, and
// position is the 1-based rank after sorting.
func buildRecordRows(req core.CommitRequest, container pgtype.UUID, now time.Time, newID func() uuid.UUID) ([][]any, error) {
	sorted := core.SortByOrder(req.Rows)

	rows := make([][]any, 0, len(sorted))
	for i, r := range sorted {
		fields, err := r.Fields.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("encode record %s: %w", r.ID, err)
		}
		rows = append(rows, []any{
			pgtype.UUID{Bytes: newID(), Valid: true},
			container,
			string(req.JobHandle),
			int32(i + 1),
			int32(r.Order),
			string(fields),
			now,
		})
	}
	return rows, nil
}
