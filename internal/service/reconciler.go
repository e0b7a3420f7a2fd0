package service

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/unclebandit/followup-engine/internal/channel"
	appErrors "github.com/unclebandit/followup-engine/internal/errors"
	"github.com/unclebandit/followup-engine/internal/eventlog"
	"github.com/unclebandit/followup-engine/internal/events"
	"github.com/unclebandit/followup-engine/internal/logger"
	"github.com/unclebandit/followup-engine/internal/metrics"
	"github.com/unclebandit/followup-engine/internal/model"
	"github.com/unclebandit/followup-engine/internal/repository"
)

const (
	WebhookRejected     = "rejected"
	WebhookIgnored      = "ignored"
	WebhookUncorrelated = "uncorrelated"
	WebhookRecorded     = "recorded"
	WebhookFailed       = "failed"
)

// Outcome is the result of handling one inbound callback. StatusCode is what
// the provider is told; internal failures still answer 200.
type Outcome struct {
	StatusCode int                  `json:"-"`
	Status     string               `json:"status"`
	Events     int                  `json:"events"`
	DeliveryID string               `json:"delivery_id,omitempty"`
	Delivery   model.DeliveryStatus `json:"delivery_status,omitempty"`
}

// Reconciler turns provider callbacks into event log entries.
type Reconciler struct {
	Providers  *channel.Registry
	Deliveries repository.DeliveryRepositoryInterface
	Events     repository.EventRepositoryInterface
	Prospects  repository.ProspectRepositoryInterface
	Sink       events.Sink
	Logger     *zap.Logger
	NewID      func() string
	Now        func() time.Time
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Reconciler) newID() string {
	if r.NewID != nil {
		return r.NewID()
	}
	return uuid.NewString()
}

// Reconcile authenticates and applies one callback request. A request whose
// signature does not verify changes nothing and gets 401. Unrecognised events
// and callbacks that match no delivery are acknowledged without changes.
// Every recognised, correlated event is appended to the log, and an
// unsubscribe also sets the prospect's permanent flag.
func (r *Reconciler) Reconcile(ctx context.Context, req channel.InboundRequest) Outcome {
	ctx, span := tracer.Start(ctx, "reconciler.Reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("provider", req.Provider))

	out := r.reconcile(ctx, req)
	span.SetAttributes(attribute.String("outcome", out.Status), attribute.Int("events", out.Events))
	metrics.WebhooksTotal.WithLabelValues(req.Provider, out.Status).Inc()
	return out
}

func (r *Reconciler) reconcile(ctx context.Context, req channel.InboundRequest) Outcome {
	log := logger.WithTrace(ctx, r.Logger).With(zap.String("provider", req.Provider))

	provider, ok := r.Providers.ByName(req.Provider)
	if !ok {
		return Outcome{StatusCode: http.StatusNotFound, Status: WebhookRejected}
	}
	if !provider.VerifyWebhook(req) {
		log.Warn("webhook signature rejected")
		return Outcome{StatusCode: http.StatusUnauthorized, Status: WebhookRejected}
	}

	parts := []channel.InboundRequest{req}
	if splitter, ok := provider.(channel.BatchSplitter); ok {
		split, err := splitter.SplitWebhook(req)
		if err != nil {
			log.Error("webhook payload undecodable", zap.Error(appErrors.Reconciliation("decode", err)))
			return Outcome{StatusCode: http.StatusOK, Status: WebhookFailed}
		}
		parts = split
	}

	out := Outcome{StatusCode: http.StatusOK, Status: WebhookIgnored}
	var sawFailed, sawUncorrelated bool
	for _, part := range parts {
		res := r.apply(ctx, log, provider, part)
		switch res.Status {
		case WebhookFailed:
			sawFailed = true
		case WebhookUncorrelated:
			sawUncorrelated = true
		}
		out.Events += res.Events
		if res.DeliveryID != "" {
			out.DeliveryID = res.DeliveryID
			out.Delivery = res.Delivery
		}
	}
	switch {
	case sawFailed:
		out.Status = WebhookFailed
	case out.Events > 0:
		out.Status = WebhookRecorded
	case sawUncorrelated:
		out.Status = WebhookUncorrelated
	}
	return out
}

// apply handles a single event. Errors never escape: they are logged with the
// correlation id and reported as a failed outcome.
func (r *Reconciler) apply(ctx context.Context, log *zap.Logger, provider channel.Provider, req channel.InboundRequest) Outcome {
	ok := Outcome{StatusCode: http.StatusOK}

	ev, err := provider.ParseWebhookEvent(req)
	if err != nil {
		log.Error("webhook event unparseable", zap.Error(appErrors.Reconciliation("parse", err)))
		ok.Status = WebhookFailed
		return ok
	}
	if ev == nil || !ev.Type.Valid() {
		ok.Status = WebhookIgnored
		return ok
	}

	delivery, err := r.correlate(ctx, provider.Name(), ev)
	if err != nil {
		if appErrors.IsNotFound(err) {
			log.Info("webhook event matches no delivery",
				zap.String("delivery_id", ev.DeliveryID()), zap.String("provider_message_id", ev.ProviderMessageID))
			ok.Status = WebhookUncorrelated
			return ok
		}
		log.Error("webhook correlation failed", zap.String("delivery_id", ev.DeliveryID()),
			zap.Error(appErrors.Reconciliation("correlate", err)))
		ok.Status = WebhookFailed
		return ok
	}
	log = log.With(zap.String("delivery_id", delivery.ID))

	receivedAt := r.now()
	occurredAt := ev.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = receivedAt
	}
	providerMessageID := ev.ProviderMessageID
	if providerMessageID == "" {
		providerMessageID = delivery.ProviderMessageID
	}
	metadata := make(map[string]any, len(ev.Metadata))
	for k, v := range ev.Metadata {
		metadata[k] = v
	}
	event := model.Event{
		ID:                r.newID(),
		DeliveryID:        delivery.ID,
		ProspectID:        delivery.ProspectID,
		Type:              ev.Type,
		Provider:          provider.Name(),
		ProviderMessageID: providerMessageID,
		Recipient:         ev.Recipient,
		OccurredAt:        occurredAt.UTC(),
		ReceivedAt:        receivedAt,
		Metadata:          metadata,
	}

	// The log is the source of truth: append first, whatever the event does
	// to derived status.
	if err := r.Events.Append(ctx, &event); err != nil {
		log.Error("event append failed", zap.Error(appErrors.Reconciliation("append", err)))
		ok.Status = WebhookFailed
		return ok
	}
	metrics.EventsAppendedTotal.WithLabelValues(string(event.Type)).Inc()
	ok.Events = 1
	ok.Status = WebhookRecorded
	ok.DeliveryID = delivery.ID

	if err := r.Deliveries.TouchLastEventAt(ctx, delivery.ID, event.OccurredAt); err != nil {
		log.Error("last_event_at update failed", zap.Error(appErrors.Reconciliation("touch", err)))
		ok.Status = WebhookFailed
	}
	if event.Type == model.EventUnsubscribed {
		if err := r.Prospects.MarkUnsubscribed(ctx, delivery.ProspectID); err != nil {
			log.Error("prospect unsubscribe failed", zap.Int64("prospect_id", delivery.ProspectID),
				zap.Error(appErrors.Reconciliation("unsubscribe", err)))
			ok.Status = WebhookFailed
		}
	}

	history, err := r.Events.ListByDelivery(ctx, delivery.ID)
	if err != nil {
		log.Error("event history read failed", zap.Error(appErrors.Reconciliation("derive", err)))
		ok.Status = WebhookFailed
	} else {
		ok.Delivery = eventlog.Derive(delivery.Outcome, history)
		log.Info("webhook event recorded", zap.String("event_type", string(event.Type)),
			zap.String("delivery_status", string(ok.Delivery)))
	}

	if r.Sink != nil {
		if err := r.Sink.Publish(ctx, event); err != nil {
			log.Warn("event not published to analytics", zap.Error(err))
		}
	}
	return ok
}

// correlate prefers the delivery id echoed in metadata and falls back to the
// provider's own message id.
func (r *Reconciler) correlate(ctx context.Context, provider string, ev *channel.CanonicalEvent) (*model.Delivery, error) {
	if id := ev.DeliveryID(); id != "" {
		d, err := r.Deliveries.GetByID(ctx, id)
		if err == nil {
			if d.Provider == provider {
				return d, nil
			}
		} else if !appErrors.IsNotFound(err) {
			return nil, err
		}
	}
	if ev.ProviderMessageID != "" {
		return r.Deliveries.FindByProviderMessageID(ctx, provider, ev.ProviderMessageID)
	}
	return nil, appErrors.NotFound("delivery", ev.DeliveryID())
}
