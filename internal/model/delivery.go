package model

import "time"

type EventType string

const (
	EventSent         EventType = "sent"
	EventDelivered    EventType = "delivered"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventBounced      EventType = "bounced"
	EventComplained   EventType = "complained"
	EventUnsubscribed EventType = "unsubscribed"
)

// Terminal reports whether the event type ends a delivery's lifecycle.
func (t EventType) Terminal() bool {
	return t == EventBounced || t == EventComplained || t == EventUnsubscribed
}

func (t EventType) Valid() bool {
	switch t {
	case EventSent, EventDelivered, EventOpened, EventClicked,
		EventBounced, EventComplained, EventUnsubscribed:
		return true
	}
	return false
}

type DeliveryStatus string

const (
	StatusSent         DeliveryStatus = "sent"
	StatusDelivered    DeliveryStatus = "delivered"
	StatusOpened       DeliveryStatus = "opened"
	StatusClicked      DeliveryStatus = "clicked"
	StatusBounced      DeliveryStatus = "bounced"
	StatusComplained   DeliveryStatus = "complained"
	StatusUnsubscribed DeliveryStatus = "unsubscribed"
	StatusFailed       DeliveryStatus = "failed"
)

// DispatchOutcome is fixed when the delivery row is written and never changes.
type DispatchOutcome string

const (
	OutcomeSent   DispatchOutcome = "sent"
	OutcomeFailed DispatchOutcome = "failed"
)

// Delivery is one send attempt of a message template to a prospect. It has no
// status column: status is derived from the delivery's events.
type Delivery struct {
	ID                string          `db:"id" json:"id"`
	MessageID         int64           `db:"message_id" json:"message_id"`
	ProspectID        int64           `db:"prospect_id" json:"prospect_id"`
	Channel           Channel         `db:"channel" json:"channel"`
	Provider          string          `db:"provider" json:"provider"`
	ProviderMessageID string          `db:"provider_message_id" json:"provider_message_id,omitempty"`
	Outcome           DispatchOutcome `db:"dispatch_outcome" json:"dispatch_outcome"`
	LastError         string          `db:"last_error" json:"last_error,omitempty"`
	LastEventAt       *time.Time      `db:"last_event_at" json:"last_event_at,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
}

// Event is an immutable fact recorded from a provider callback. Seq is the
// append order assigned by the store.
type Event struct {
	ID                string         `db:"id" json:"id"`
	Seq               int64          `db:"seq" json:"seq"`
	DeliveryID        string         `db:"delivery_id" json:"delivery_id"`
	ProspectID        int64          `db:"prospect_id" json:"prospect_id"`
	Type              EventType      `db:"event_type" json:"event_type"`
	Provider          string         `db:"provider" json:"provider"`
	ProviderMessageID string         `db:"provider_message_id" json:"provider_message_id,omitempty"`
	Recipient         string         `db:"recipient" json:"recipient,omitempty"`
	OccurredAt        time.Time      `db:"occurred_at" json:"occurred_at"`
	ReceivedAt        time.Time      `db:"received_at" json:"received_at"`
	Metadata          map[string]any `db:"metadata" json:"metadata,omitempty"`
}
