package model

import "time"

// SenderConfig is the root of the ownership chain. PrincipalID is the
// authenticated account that owns everything hanging off this config.
type SenderConfig struct {
	ID          int64     `db:"id" json:"id"`
	PrincipalID string    `db:"principal_id" json:"principal_id"`
	Name        string    `db:"name" json:"name"`
	FromEmail   string    `db:"from_email" json:"from_email"`
	FromPhone   string    `db:"from_phone" json:"from_phone"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

type Sequence struct {
	ID             int64              `db:"id" json:"id"`
	SenderConfigID int64              `db:"sender_config_id" json:"sender_config_id"`
	Name           string             `db:"name" json:"name"`
	Segments       []string           `db:"segments" json:"segments"`
	TotalMessages  int                `db:"total_messages" json:"total_messages"`
	DeadlineHours  int                `db:"deadline_hours" json:"deadline_hours"`
	Context        *GenerationContext `db:"generation_context" json:"generation_context,omitempty"`
	OfferLink      string             `db:"offer_link" json:"offer_link,omitempty"`
	ReplayLink     string             `db:"replay_link" json:"replay_link,omitempty"`
	BookingLink    string             `db:"booking_link" json:"booking_link,omitempty"`
	ArchivedAt     *time.Time         `db:"archived_at" json:"archived_at,omitempty"`
	CreatedAt      time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt      *time.Time         `db:"updated_at" json:"updated_at,omitempty"`
}

// Offer describes what the sequence is selling.
type Offer struct {
	Name      string   `json:"name"`
	Price     float64  `json:"price"`
	Bonuses   []string `json:"bonuses,omitempty"`
	Guarantee string   `json:"guarantee"`
}

type Webinar struct {
	Title string `json:"title"`
}

// GenerationContext is the input of a batch generation. A snapshot is kept on
// the sequence so a single message can be regenerated later without the caller
// resending it.
type GenerationContext struct {
	Count         int      `json:"count"`
	DeadlineHours int      `json:"deadline_hours"`
	Segments      []string `json:"segments"`
	Offer         Offer    `json:"offer"`
	Webinar       Webinar  `json:"webinar"`
}

// MessageTemplate is one step of a sequence. RetiredAt is set when a
// regeneration dropped a message that deliveries still reference; retired
// messages are not listed and cannot be sent.
type MessageTemplate struct {
	ID           int64      `db:"id" json:"id"`
	SequenceID   int64      `db:"sequence_id" json:"sequence_id"`
	Position     int        `db:"position" json:"order"`
	Channel      Channel    `db:"channel" json:"channel"`
	DelayMinutes int        `db:"delay_minutes" json:"delay_minutes"`
	Subject      string     `db:"subject" json:"subject,omitempty"`
	Body         string     `db:"body" json:"body"`
	CTA          string     `db:"cta" json:"cta"`
	Variant      string     `db:"variant" json:"variant,omitempty"`
	TemplateType string     `db:"template_type" json:"template_type"`
	Segment      string     `db:"segment" json:"segment"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	RetiredAt    *time.Time `db:"retired_at" json:"retired_at,omitempty"`
}
