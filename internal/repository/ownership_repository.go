package repository

import (
	"context"
	"database/sql"
)

// OwnershipRepositoryInterface resolves each resource up the chain
// delivery -> message -> sequence -> sender config to the owning principal.
type OwnershipRepositoryInterface interface {
	SequenceOwner(ctx context.Context, sequenceID int64) (string, error)
	MessageOwner(ctx context.Context, messageID int64) (string, error)
	DeliveryOwner(ctx context.Context, deliveryID string) (string, error)
	ProspectOwner(ctx context.Context, prospectID int64) (string, error)
}

type OwnershipRepository struct {
	DB *sql.DB
}

func (r *OwnershipRepository) SequenceOwner(ctx context.Context, sequenceID int64) (string, error) {
	query := `
        SELECT sc.principal_id
        FROM sequences s
        JOIN sender_configs sc ON sc.id = s.sender_config_id
        WHERE s.id=$1
    `
	return r.owner(ctx, query, "sequence", sequenceID)
}

func (r *OwnershipRepository) MessageOwner(ctx context.Context, messageID int64) (string, error) {
	query := `
        SELECT sc.principal_id
        FROM message_templates m
        JOIN sequences s ON s.id = m.sequence_id
        JOIN sender_configs sc ON sc.id = s.sender_config_id
        WHERE m.id=$1
    `
	return r.owner(ctx, query, "message", messageID)
}

func (r *OwnershipRepository) DeliveryOwner(ctx context.Context, deliveryID string) (string, error) {
	query := `
        SELECT sc.principal_id
        FROM deliveries d
        JOIN message_templates m ON m.id = d.message_id
        JOIN sequences s ON s.id = m.sequence_id
        JOIN sender_configs sc ON sc.id = s.sender_config_id
        WHERE d.id=$1
    `
	return r.owner(ctx, query, "delivery", deliveryID)
}

func (r *OwnershipRepository) ProspectOwner(ctx context.Context, prospectID int64) (string, error) {
	query := `
        SELECT sc.principal_id
        FROM prospects p
        JOIN sender_configs sc ON sc.id = p.sender_config_id
        WHERE p.id=$1
    `
	return r.owner(ctx, query, "prospect", prospectID)
}

func (r *OwnershipRepository) owner(ctx context.Context, query, kind string, id any) (string, error) {
	var principal string
	if err := r.DB.QueryRowContext(ctx, query, id).Scan(&principal); err != nil {
		return "", notFound(err, kind, id)
	}
	return principal, nil
}
