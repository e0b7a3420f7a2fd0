// Package channel defines the Channel Provider capability and the email and
// SMS implementations behind it.
package channel

import (
	"context"
	"net/http"
	"time"

	"github.com/unclebandit/followup-engine/internal/model"
)

// Outbound is a rendered message ready to hand to a provider. Metadata is
// opaque to the provider and comes back verbatim on every correlated callback.
type Outbound struct {
	To              string
	From            string
	FromName        string
	Subject         string
	Body            string
	TrackingEnabled bool
	Metadata        map[string]string
}

type SendResult struct {
	ProviderMessageID string
}

// InboundRequest is a raw provider callback. URL is the public URL the
// provider called, which some signature schemes cover.
type InboundRequest struct {
	Provider string
	URL      string
	Headers  http.Header
	Body     []byte
}

// CanonicalEvent is a provider callback translated into the engine's vocabulary.
type CanonicalEvent struct {
	Type              model.EventType
	Recipient         string
	ProviderMessageID string
	OccurredAt        time.Time
	Metadata          map[string]string
}

// DeliveryID returns the correlation key echoed back from Send.
func (e *CanonicalEvent) DeliveryID() string {
	if e == nil || e.Metadata == nil {
		return ""
	}
	return e.Metadata[MetadataDeliveryID]
}

const MetadataDeliveryID = "delivery_id"

// Provider sends messages on one channel and understands its own callbacks.
//
// Send returns *appErrors.ProviderError on failure. VerifyWebhook never
// panics and returns false for anything it cannot authenticate.
// ParseWebhookEvent returns nil, nil for provider events outside the
// canonical vocabulary.
type Provider interface {
	Name() string
	Channel() model.Channel
	Send(ctx context.Context, msg Outbound) (SendResult, error)
	VerifyWebhook(req InboundRequest) bool
	ParseWebhookEvent(req InboundRequest) (*CanonicalEvent, error)
}

// BatchSplitter is implemented by providers that post several events per callback.
type BatchSplitter interface {
	SplitWebhook(req InboundRequest) ([]InboundRequest, error)
}
