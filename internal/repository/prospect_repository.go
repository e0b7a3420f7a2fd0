package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/followup-engine/internal/model"
)

// ProspectRepositoryInterface defines methods used by the dispatcher and reconciler
type ProspectRepositoryInterface interface {
	Create(ctx context.Context, p *model.Prospect) error
	GetByID(ctx context.Context, id int64) (*model.Prospect, error)
	ListBySender(ctx context.Context, senderConfigID int64) ([]model.Prospect, error)
	MarkUnsubscribed(ctx context.Context, id int64) error
}

type ProspectRepository struct {
	DB *sql.DB
}

const prospectColumns = `id, sender_config_id, email, phone, first_name, segment, watch_pct, minutes_watched,
        challenge_notes, goal_notes, unsubscribed, unsubscribed_at, created_at`

func (r *ProspectRepository) Create(ctx context.Context, p *model.Prospect) error {
	p.CreatedAt = now()
	query := `
        INSERT INTO prospects (sender_config_id, email, phone, first_name, segment, watch_pct, minutes_watched,
            challenge_notes, goal_notes, unsubscribed, unsubscribed_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query, p.SenderConfigID, p.Email, p.Phone, p.FirstName, p.Segment,
		p.WatchPct, p.MinutesWatched, p.ChallengeNotes, p.GoalNotes, p.Unsubscribed, p.UnsubscribedAt,
		p.CreatedAt).Scan(&p.ID)
}

// GetByID fetches a prospect by ID
func (r *ProspectRepository) GetByID(ctx context.Context, id int64) (*model.Prospect, error) {
	query := `SELECT ` + prospectColumns + ` FROM prospects WHERE id=$1`
	p, err := scanProspect(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "prospect", id)
	}
	return p, nil
}

func (r *ProspectRepository) ListBySender(ctx context.Context, senderConfigID int64) ([]model.Prospect, error) {
	query := `SELECT ` + prospectColumns + ` FROM prospects WHERE sender_config_id=$1 ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query, senderConfigID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prospects := []model.Prospect{}
	for rows.Next() {
		p, err := scanProspect(rows)
		if err != nil {
			return nil, err
		}
		prospects = append(prospects, *p)
	}
	return prospects, rows.Err()
}

// MarkUnsubscribed sets the permanent flag. Calling it again is a no-op and
// keeps the original timestamp.
func (r *ProspectRepository) MarkUnsubscribed(ctx context.Context, id int64) error {
	query := `
        UPDATE prospects
        SET unsubscribed=TRUE, unsubscribed_at=COALESCE(unsubscribed_at, $1)
        WHERE id=$2
    `
	res, err := r.DB.ExecContext(ctx, query, now(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(sql.ErrNoRows, "prospect", id)
	}
	return err
}

func scanProspect(row rowScanner) (*model.Prospect, error) {
	var p model.Prospect
	err := row.Scan(&p.ID, &p.SenderConfigID, &p.Email, &p.Phone, &p.FirstName, &p.Segment, &p.WatchPct,
		&p.MinutesWatched, &p.ChallengeNotes, &p.GoalNotes, &p.Unsubscribed, &p.UnsubscribedAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
