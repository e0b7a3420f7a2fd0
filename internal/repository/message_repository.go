package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/unclebandit/followup-engine/internal/model"
)

type MessageRepositoryInterface interface {
	Upsert(ctx context.Context, m *model.MessageTemplate) error
	GetByID(ctx context.Context, id int64) (*model.MessageTemplate, error)
	ListBySequence(ctx context.Context, sequenceID int64) ([]*model.MessageTemplate, error)
	UpdateContent(ctx context.Context, m *model.MessageTemplate) error
	Compact(ctx context.Context, sequenceID int64, keep []int64) error
}

type MessageRepository struct {
	DB *sql.DB
}

const messageColumns = `id, sequence_id, position, channel, delay_minutes, subject, body, cta, variant,
        template_type, segment, created_at, updated_at, retired_at`

// Upsert writes the message at (sequence_id, position), replacing the content
// of the live row already there. The row keeps its id, so readers never see
// the slot disappear while a sequence is regenerated.
func (r *MessageRepository) Upsert(ctx context.Context, m *model.MessageTemplate) error {
	ts := now()
	query := `
        INSERT INTO message_templates
            (sequence_id, position, channel, delay_minutes, subject, body, cta, variant, template_type, segment, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (sequence_id, position) WHERE retired_at IS NULL DO UPDATE SET
            channel=excluded.channel,
            delay_minutes=excluded.delay_minutes,
            subject=excluded.subject,
            body=excluded.body,
            cta=excluded.cta,
            variant=excluded.variant,
            template_type=excluded.template_type,
            segment=excluded.segment,
            updated_at=excluded.updated_at
        RETURNING id, created_at, updated_at
    `
	return r.DB.QueryRowContext(ctx, query,
		m.SequenceID, m.Position, m.Channel, m.DelayMinutes, m.Subject, m.Body, m.CTA, m.Variant,
		m.TemplateType, m.Segment, ts, ts,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

// GetByID also returns retired messages so deliveries can still resolve them.
func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*model.MessageTemplate, error) {
	query := `SELECT ` + messageColumns + ` FROM message_templates WHERE id=$1`
	m, err := scanMessage(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "message", id)
	}
	return m, nil
}

func (r *MessageRepository) ListBySequence(ctx context.Context, sequenceID int64) ([]*model.MessageTemplate, error) {
	query := `SELECT ` + messageColumns + ` FROM message_templates WHERE sequence_id=$1 AND retired_at IS NULL ORDER BY position`
	rows, err := r.DB.QueryContext(ctx, query, sequenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*model.MessageTemplate{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// UpdateContent replaces generated content in place. Identity, position,
// channel and delay are left alone.
func (r *MessageRepository) UpdateContent(ctx context.Context, m *model.MessageTemplate) error {
	m.UpdatedAt = now()
	query := `
        UPDATE message_templates
        SET subject=$1, body=$2, cta=$3, template_type=$4, segment=$5, updated_at=$6
        WHERE id=$7 AND retired_at IS NULL
    `
	res, err := r.DB.ExecContext(ctx, query, m.Subject, m.Body, m.CTA, m.TemplateType, m.Segment, m.UpdatedAt, m.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(sql.ErrNoRows, "message", m.ID)
	}
	return err
}

// Compact drops every live message of the sequence not listed in keep and
// renumbers the survivors 1..n in their current order. A dropped message that
// deliveries reference is retired instead of deleted, so its history stays
// intact. Positions are first negated so the renumbering never collides with
// the unique index.
func (r *MessageRepository) Compact(ctx context.Context, sequenceID int64, keep []int64) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stale := `sequence_id=$1 AND retired_at IS NULL`
	args := []any{sequenceID}
	if len(keep) > 0 {
		stale += fmt.Sprintf(` AND id NOT IN (%s)`, placeholders(2, len(keep)))
		for _, id := range keep {
			args = append(args, id)
		}
	}

	retire := fmt.Sprintf(`UPDATE message_templates SET retired_at=$%d WHERE %s
        AND EXISTS (SELECT 1 FROM deliveries d WHERE d.message_id = message_templates.id)`, len(args)+1, stale)
	if _, err := tx.ExecContext(ctx, retire, append(args, now())...); err != nil {
		return fmt.Errorf("compact sequence %d: retire sent: %w", sequenceID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM message_templates WHERE `+stale, args...); err != nil {
		return fmt.Errorf("compact sequence %d: delete stale: %w", sequenceID, err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT id FROM message_templates WHERE sequence_id=$1 AND retired_at IS NULL ORDER BY position`, sequenceID)
	if err != nil {
		return err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE message_templates SET position = -position WHERE sequence_id=$1 AND retired_at IS NULL`, sequenceID); err != nil {
		return fmt.Errorf("compact sequence %d: stage positions: %w", sequenceID, err)
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE message_templates SET position=$1 WHERE id=$2`, i+1, id); err != nil {
			return fmt.Errorf("compact sequence %d: renumber: %w", sequenceID, err)
		}
	}
	return tx.Commit()
}

func scanMessage(row rowScanner) (*model.MessageTemplate, error) {
	var m model.MessageTemplate
	err := row.Scan(&m.ID, &m.SequenceID, &m.Position, &m.Channel, &m.DelayMinutes, &m.Subject, &m.Body, &m.CTA,
		&m.Variant, &m.TemplateType, &m.Segment, &m.CreatedAt, &m.UpdatedAt, &m.RetiredAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
