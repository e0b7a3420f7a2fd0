package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/unclebandit/followup-engine/internal/model"
)

type SequenceRepositoryInterface interface {
	Create(ctx context.Context, s *model.Sequence) error
	GetByID(ctx context.Context, id int64) (*model.Sequence, error)
	ListBySender(ctx context.Context, senderConfigID int64, includeArchived bool) ([]*model.Sequence, error)
	SaveContext(ctx context.Context, id int64, gc model.GenerationContext) error
	UpdateTotal(ctx context.Context, id int64, total int) error
	Archive(ctx context.Context, id int64) error
}

type SequenceRepository struct {
	DB *sql.DB
}

const sequenceColumns = `id, sender_config_id, name, segments, total_messages, deadline_hours, context,
        offer_link, replay_link, booking_link, archived_at, created_at, updated_at`

func (r *SequenceRepository) Create(ctx context.Context, s *model.Sequence) error {
	s.CreatedAt = now()
	if s.Segments == nil {
		s.Segments = []string{}
	}
	segments, err := encodeJSON(s.Segments)
	if err != nil {
		return err
	}
	var gc sql.NullString
	if s.Context != nil {
		raw, err := encodeJSON(s.Context)
		if err != nil {
			return err
		}
		gc = sql.NullString{String: raw, Valid: true}
	}
	query := `
        INSERT INTO sequences (sender_config_id, name, segments, total_messages, deadline_hours, context,
            offer_link, replay_link, booking_link, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query, s.SenderConfigID, s.Name, segments, s.TotalMessages, s.DeadlineHours, gc,
		s.OfferLink, s.ReplayLink, s.BookingLink, s.CreatedAt).Scan(&s.ID)
}

// GetByID returns the sequence whether or not it is archived.
func (r *SequenceRepository) GetByID(ctx context.Context, id int64) (*model.Sequence, error) {
	query := `SELECT ` + sequenceColumns + ` FROM sequences WHERE id=$1`
	s, err := scanSequence(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "sequence", id)
	}
	return s, nil
}

func (r *SequenceRepository) ListBySender(ctx context.Context, senderConfigID int64, includeArchived bool) ([]*model.Sequence, error) {
	query := `SELECT ` + sequenceColumns + ` FROM sequences WHERE sender_config_id=$1`
	if !includeArchived {
		query += ` AND archived_at IS NULL`
	}
	query += ` ORDER BY id`

	rows, err := r.DB.QueryContext(ctx, query, senderConfigID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sequences := []*model.Sequence{}
	for rows.Next() {
		s, err := scanSequence(rows)
		if err != nil {
			return nil, err
		}
		sequences = append(sequences, s)
	}
	return sequences, rows.Err()
}

// SaveContext stores the generation input so single messages can later be
// regenerated without the caller resending it.
func (r *SequenceRepository) SaveContext(ctx context.Context, id int64, gc model.GenerationContext) error {
	raw, err := encodeJSON(gc)
	if err != nil {
		return err
	}
	segments, err := encodeJSON(gc.Segments)
	if err != nil {
		return err
	}
	query := `
        UPDATE sequences
        SET context=$1, segments=$2, deadline_hours=$3, updated_at=$4
        WHERE id=$5
    `
	return r.execOne(ctx, id, query, raw, segments, gc.DeadlineHours, now(), id)
}

func (r *SequenceRepository) UpdateTotal(ctx context.Context, id int64, total int) error {
	query := `UPDATE sequences SET total_messages=$1, updated_at=$2 WHERE id=$3`
	return r.execOne(ctx, id, query, total, now(), id)
}

// Archive is a soft delete; archiving twice keeps the first timestamp.
func (r *SequenceRepository) Archive(ctx context.Context, id int64) error {
	ts := now()
	query := `
        UPDATE sequences
        SET archived_at=COALESCE(archived_at, $1), updated_at=$2
        WHERE id=$3
    `
	return r.execOne(ctx, id, query, ts, ts, id)
}

func (r *SequenceRepository) execOne(ctx context.Context, id int64, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(sql.ErrNoRows, "sequence", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSequence(row rowScanner) (*model.Sequence, error) {
	var (
		s        model.Sequence
		segments sql.NullString
		gc       sql.NullString
	)
	err := row.Scan(&s.ID, &s.SenderConfigID, &s.Name, &segments, &s.TotalMessages, &s.DeadlineHours, &gc,
		&s.OfferLink, &s.ReplayLink, &s.BookingLink, &s.ArchivedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(segments, &s.Segments); err != nil {
		return nil, fmt.Errorf("sequence %d segments: %w", s.ID, err)
	}
	if gc.Valid {
		s.Context = &model.GenerationContext{}
		if err := decodeJSON(gc, s.Context); err != nil {
			return nil, fmt.Errorf("sequence %d context: %w", s.ID, err)
		}
	}
	if s.Segments == nil {
		s.Segments = []string{}
	}
	return &s, nil
}
