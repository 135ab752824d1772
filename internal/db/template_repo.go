package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"commrelay/internal/types"
)

// TemplateRepository provides data access for the comm_templates table.
type TemplateRepository struct {
	db DBTX
}

// NewTemplateRepository creates a TemplateRepository backed by the given
// database connection (pool or transaction).
func NewTemplateRepository(db DBTX) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// Resolve returns the active template for (code, channel). A missing or
// inactive template is ErrCodeNotFoundTemplate; the processor fails the task
// without attempting delivery.
func (r *TemplateRepository) Resolve(ctx context.Context, code string, channel types.Channel) (*types.TemplateRecord, error) {
	var rec types.TemplateRecord
	err := r.db.QueryRow(ctx,
		`SELECT code, channel, template_ref, subject
		   FROM comm_templates
		  WHERE code = $1 AND channel = $2 AND active`,
		code, channel,
	).Scan(&rec.Code, &rec.Channel, &rec.TemplateRef, &rec.Subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTemplate,
				"no active template for code "+code+" on channel "+string(channel), nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to resolve template", err)
	}
	return &rec, nil
}
