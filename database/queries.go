package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DBTX is an interface that both sql.DB and sql.Tx implement.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Queries provides table-aware database operations.
type Queries struct {
	db        DBTX
	tableName string
}

// NewQueries creates a new Queries instance with the given table name.
func NewQueries(db DBTX, tableName string) *Queries {
	return &Queries{
		db:        db,
		tableName: tableName,
	}
}

var (
	listSegmentsSQL = `
SELECT ring_id, id, owner, start_offset, width, created_at, seq, mode
FROM %s_segments
WHERE ring_id = $1
ORDER BY start_offset ASC, owner ASC;`

	setSegmentSQL = `
INSERT INTO %s_segments (ring_id, id, owner, start_offset, width, created_at, seq, mode)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (ring_id, id)
DO UPDATE SET
    owner = EXCLUDED.owner,
    start_offset = EXCLUDED.start_offset,
    width = EXCLUDED.width,
    created_at = EXCLUDED.created_at,
    seq = EXCLUDED.seq,
    mode = EXCLUDED.mode;`

	deleteSegmentsSQL = `
DELETE FROM %s_segments
WHERE ring_id = $1 AND id = ANY($2::uuid[]);`

	deleteOwnerSQL = `
DELETE FROM %s_segments
WHERE ring_id = $1 AND owner = $2;`

	tableSizeSQL = `
SELECT pg_total_relation_size(to_regclass($1));`
)

// ListSegments returns all segment records of a ring, ordered by offset.
func (q *Queries) ListSegments(ctx context.Context, ringID string) ([]*SegmentRecord, error) {
	return q.list(ctx, fmt.Sprintf(listSegmentsSQL, q.tableName), ringID)
}

func (q *Queries) list(ctx context.Context, query string, args ...any) ([]*SegmentRecord, error) {
	var rows, err = q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()

	var segments []*SegmentRecord
	for rows.Next() {
		var s SegmentRecord
		if err := rows.Scan(&s.RingID, &s.ID, &s.Owner, &s.Offset, &s.Width, &s.CreatedAt, &s.Seq, &s.Mode); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segments = append(segments, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return segments, nil
}

// SetSegment inserts or updates a segment record.
func (q *Queries) SetSegment(ctx context.Context, s *SegmentRecord) error {
	var query = fmt.Sprintf(setSegmentSQL, q.tableName)
	_, err := q.db.ExecContext(ctx, query,
		s.RingID, s.ID, s.Owner, s.Offset, s.Width, s.CreatedAt, s.Seq, s.Mode,
	)
	if err != nil {
		return fmt.Errorf("failed to set segment: %w", err)
	}
	return nil
}

// DeleteSegments removes records by id.
func (q *Queries) DeleteSegments(ctx context.Context, ringID string, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	var keys = make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	var query = fmt.Sprintf(deleteSegmentsSQL, q.tableName)
	if _, err := q.db.ExecContext(ctx, query, ringID, pq.Array(keys)); err != nil {
		return fmt.Errorf("failed to delete segments: %w", err)
	}
	return nil
}

// DeleteOwner removes every record of an owner.
func (q *Queries) DeleteOwner(ctx context.Context, ringID, owner string) error {
	var query = fmt.Sprintf(deleteOwnerSQL, q.tableName)
	if _, err := q.db.ExecContext(ctx, query, ringID, owner); err != nil {
		return fmt.Errorf("failed to delete owner: %w", err)
	}
	return nil
}

// TableSize returns the bytes used by the segments table and its indexes.
func (q *Queries) TableSize(ctx context.Context) (uint64, error) {
	var (
		query = tableSizeSQL
		size  sql.NullInt64
		err   = q.db.QueryRowContext(ctx, query, q.tableName+"_segments").Scan(&size)
	)
	if err != nil {
		return 0, fmt.Errorf("failed to read table size: %w", err)
	}
	if !size.Valid || size.Int64 < 0 {
		return 0, nil
	}
	return uint64(size.Int64), nil
}
