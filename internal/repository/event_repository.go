package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/followup-engine/internal/model"
)

type EventRepositoryInterface interface {
	Append(ctx context.Context, e *model.Event) error
	ListByDelivery(ctx context.Context, deliveryID string) ([]model.Event, error)
	ListBySequence(ctx context.Context, sequenceID int64) ([]model.Event, error)
}

// EventRepository is the append-only event log. There is no update or delete.
type EventRepository struct {
	DB *sql.DB
}

const eventColumns = `e.seq, e.id, e.delivery_id, e.prospect_id, e.event_type, e.provider, e.provider_message_id,
        e.recipient, e.occurred_at, e.received_at, e.metadata`

// Append inserts the event and records the store-assigned Seq on it.
func (r *EventRepository) Append(ctx context.Context, e *model.Event) error {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	meta, err := encodeJSON(e.Metadata)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO delivery_events (id, delivery_id, prospect_id, event_type, provider, provider_message_id,
            recipient, occurred_at, received_at, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING seq
    `
	return r.DB.QueryRowContext(ctx, query, e.ID, e.DeliveryID, e.ProspectID, e.Type, e.Provider,
		e.ProviderMessageID, e.Recipient, e.OccurredAt.UTC(), e.ReceivedAt.UTC(), meta).Scan(&e.Seq)
}

// ListByDelivery returns the delivery's history in append order.
func (r *EventRepository) ListByDelivery(ctx context.Context, deliveryID string) ([]model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM delivery_events e WHERE e.delivery_id=$1 ORDER BY e.seq`
	return r.list(ctx, query, deliveryID)
}

func (r *EventRepository) ListBySequence(ctx context.Context, sequenceID int64) ([]model.Event, error) {
	query := `
        SELECT ` + eventColumns + `
        FROM delivery_events e
        JOIN deliveries d ON d.id = e.delivery_id
        JOIN message_templates m ON m.id = d.message_id
        WHERE m.sequence_id=$1
        ORDER BY e.seq
    `
	return r.list(ctx, query, sequenceID)
}

func (r *EventRepository) list(ctx context.Context, query string, args ...any) ([]model.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		var (
			e    model.Event
			meta sql.NullString
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.DeliveryID, &e.ProspectID, &e.Type, &e.Provider,
			&e.ProviderMessageID, &e.Recipient, &e.OccurredAt, &e.ReceivedAt, &meta); err != nil {
			return nil, err
		}
		if err := decodeJSON(meta, &e.Metadata); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
