package db

import (
	"context"

	"commrelay/internal/types"
)

// OffsetRepository provides data access for the comm_offsets table: one row
// per change source holding the highest source id already processed. Both
// methods are meant to run on the watcher's tick transaction so the cursor
// advances atomically with the work it covers.
type OffsetRepository struct {
	db DBTX
}

// NewOffsetRepository creates an OffsetRepository backed by the given
// database connection (pool or transaction).
func NewOffsetRepository(db DBTX) *OffsetRepository {
	return &OffsetRepository{db: db}
}

// GetForUpdate reads the cursor for a source, locking the row for the rest of
// the transaction. A missing cursor is initialized to 0, so the first tick of
// a new source scans from the beginning.
func (r *OffsetRepository) GetForUpdate(ctx context.Context, source string) (int64, error) {
	var lastID int64
	err := r.db.QueryRow(ctx,
		`SELECT last_id FROM comm_offsets WHERE source = $1 FOR UPDATE`,
		source,
	).Scan(&lastID)
	if err == nil {
		return lastID, nil
	}

	// Insert the initial row and lock it. ON CONFLICT covers the race where
	// another transaction initialized the same source first.
	_, execErr := r.db.Exec(ctx,
		`INSERT INTO comm_offsets (source, last_id) VALUES ($1, 0)
		 ON CONFLICT (source) DO NOTHING`,
		source,
	)
	if execErr != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to initialize offset cursor", execErr)
	}
	err = r.db.QueryRow(ctx,
		`SELECT last_id FROM comm_offsets WHERE source = $1 FOR UPDATE`,
		source,
	).Scan(&lastID)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to read offset cursor", err)
	}
	return lastID, nil
}

// Advance moves the cursor forward. The WHERE guard keeps the cursor
// monotonic even if a caller passes a stale value.
func (r *OffsetRepository) Advance(ctx context.Context, source string, lastID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE comm_offsets
		    SET last_id = $2, updated_at = now()
		  WHERE source = $1 AND last_id < $2`,
		source, lastID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to advance offset cursor", err)
	}
	return nil
}
