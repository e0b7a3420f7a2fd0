package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/followup-engine/internal/model"
)

type SenderRepositoryInterface interface {
	Create(ctx context.Context, s *model.SenderConfig) error
	GetByID(ctx context.Context, id int64) (*model.SenderConfig, error)
}

type SenderRepository struct {
	DB *sql.DB
}

func (r *SenderRepository) Create(ctx context.Context, s *model.SenderConfig) error {
	s.CreatedAt = now()
	query := `
        INSERT INTO sender_configs (principal_id, name, from_email, from_phone, created_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query, s.PrincipalID, s.Name, s.FromEmail, s.FromPhone, s.CreatedAt).Scan(&s.ID)
}

func (r *SenderRepository) GetByID(ctx context.Context, id int64) (*model.SenderConfig, error) {
	query := `
        SELECT id, principal_id, name, from_email, from_phone, created_at
        FROM sender_configs WHERE id=$1
    `
	var s model.SenderConfig
	err := r.DB.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.PrincipalID, &s.Name, &s.FromEmail, &s.FromPhone, &s.CreatedAt)
	if err != nil {
		return nil, notFound(err, "sender config", id)
	}
	return &s, nil
}
