package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/unclebandit/followup-engine/internal/model"
)

type DeliveryRepositoryInterface interface {
	Create(ctx context.Context, d *model.Delivery) error
	GetByID(ctx context.Context, id string) (*model.Delivery, error)
	FindByProviderMessageID(ctx context.Context, provider, providerMessageID string) (*model.Delivery, error)
	ListBySequence(ctx context.Context, sequenceID int64) ([]*model.Delivery, error)
	TouchLastEventAt(ctx context.Context, id string, at time.Time) error
}

// DeliveryRepository stores one row per send attempt. Rows are never updated
// except for last_event_at, which only moves forward.
type DeliveryRepository struct {
	DB *sql.DB
}

const deliveryColumns = `d.id, d.message_id, d.prospect_id, d.channel, d.provider, d.provider_message_id,
        d.dispatch_outcome, d.last_error, d.last_event_at, d.created_at`

func (r *DeliveryRepository) Create(ctx context.Context, d *model.Delivery) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now()
	}
	query := `
        INSERT INTO deliveries (id, message_id, prospect_id, channel, provider, provider_message_id,
            dispatch_outcome, last_error, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	_, err := r.DB.ExecContext(ctx, query, d.ID, d.MessageID, d.ProspectID, d.Channel, d.Provider,
		d.ProviderMessageID, d.Outcome, d.LastError, d.CreatedAt)
	return err
}

func (r *DeliveryRepository) GetByID(ctx context.Context, id string) (*model.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries d WHERE d.id=$1`
	d, err := scanDelivery(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "delivery", id)
	}
	return d, nil
}

// FindByProviderMessageID is the fallback correlation for callbacks that lost
// their echoed metadata. The most recent attempt wins.
func (r *DeliveryRepository) FindByProviderMessageID(ctx context.Context, provider, providerMessageID string) (*model.Delivery, error) {
	query := `
        SELECT ` + deliveryColumns + `
        FROM deliveries d
        WHERE d.provider=$1 AND d.provider_message_id=$2
        ORDER BY d.created_at DESC
        LIMIT 1
    `
	d, err := scanDelivery(r.DB.QueryRowContext(ctx, query, provider, providerMessageID))
	if err != nil {
		return nil, notFound(err, "delivery", provider+":"+providerMessageID)
	}
	return d, nil
}

func (r *DeliveryRepository) ListBySequence(ctx context.Context, sequenceID int64) ([]*model.Delivery, error) {
	query := `
        SELECT ` + deliveryColumns + `
        FROM deliveries d
        JOIN message_templates m ON m.id = d.message_id
        WHERE m.sequence_id=$1
        ORDER BY d.created_at, d.id
    `
	rows, err := r.DB.QueryContext(ctx, query, sequenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deliveries := []*model.Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// TouchLastEventAt advances last_event_at to at unless it already holds a
// later time. Concurrent callers can run in any order.
func (r *DeliveryRepository) TouchLastEventAt(ctx context.Context, id string, at time.Time) error {
	query := `
        UPDATE deliveries
        SET last_event_at = CASE
            WHEN last_event_at IS NULL OR last_event_at < $1 THEN $1
            ELSE last_event_at
        END
        WHERE id=$2
    `
	res, err := r.DB.ExecContext(ctx, query, at.UTC(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(sql.ErrNoRows, "delivery", id)
	}
	return err
}

func scanDelivery(row rowScanner) (*model.Delivery, error) {
	var d model.Delivery
	err := row.Scan(&d.ID, &d.MessageID, &d.ProspectID, &d.Channel, &d.Provider, &d.ProviderMessageID,
		&d.Outcome, &d.LastError, &d.LastEventAt, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
