package service

import (
	"context"

	"github.com/unclebandit/followup-engine/internal/eventlog"
	"github.com/unclebandit/followup-engine/internal/model"
	"github.com/unclebandit/followup-engine/internal/repository"
)

// DeliveryView is a delivery with its status derived from the event history.
type DeliveryView struct {
	Delivery *model.Delivery      `json:"delivery"`
	Status   model.DeliveryStatus `json:"status"`
	Events   []model.Event        `json:"events"`
}

type DeliveryQuery struct {
	Deliveries repository.DeliveryRepositoryInterface
	Events     repository.EventRepositoryInterface
	Ownership  *Ownership
}

func (q *DeliveryQuery) Get(ctx context.Context, principal, deliveryID string) (*DeliveryView, error) {
	if err := q.Ownership.Require(ctx, principal, DeliveryResource(deliveryID)); err != nil {
		return nil, err
	}
	d, err := q.Deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	events, err := q.Events.ListByDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []model.Event{}
	}
	return &DeliveryView{Delivery: d, Status: eventlog.Derive(d.Outcome, events), Events: events}, nil
}
