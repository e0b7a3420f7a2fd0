package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/unclebandit/followup-engine/internal/channel"
	appErrors "github.com/unclebandit/followup-engine/internal/errors"
	"github.com/unclebandit/followup-engine/internal/logger"
	"github.com/unclebandit/followup-engine/internal/metrics"
	"github.com/unclebandit/followup-engine/internal/model"
	"github.com/unclebandit/followup-engine/internal/queue"
	"github.com/unclebandit/followup-engine/internal/repository"
)

var tracer = otel.Tracer("github.com/unclebandit/followup-engine/internal/service")

// Dispatcher turns a (message, prospect) pair into a provider send and a
// Delivery record.
type Dispatcher struct {
	Messages   repository.MessageRepositoryInterface
	Sequences  repository.SequenceRepositoryInterface
	Senders    repository.SenderRepositoryInterface
	Prospects  repository.ProspectRepositoryInterface
	Deliveries repository.DeliveryRepositoryInterface
	Providers  *channel.Registry
	Ownership  *Ownership
	Queue      queue.Queue
	Logger     *zap.Logger
	// Timeout bounds a single provider call.
	Timeout time.Duration
	// TrackingEnabled turns on open and click tracking for email.
	TrackingEnabled bool
	NewID           func() string
	Now             func() time.Time
}

func (d *Dispatcher) newID() string {
	if d.NewID != nil {
		return d.NewID()
	}
	return uuid.NewString()
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) load(ctx context.Context, messageID, prospectID int64) (*model.MessageTemplate, *model.Prospect, *model.Sequence, *model.SenderConfig, error) {
	m, err := d.Messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	p, err := d.Prospects.GetByID(ctx, prospectID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	seq, err := d.Sequences.GetByID(ctx, m.SequenceID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	sender, err := d.Senders.GetByID(ctx, seq.SenderConfigID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return m, p, seq, sender, nil
}

// Dispatch sends one message to one prospect.
//
// Unsubscribed prospects are refused before any provider is called. A
// successful send records a Delivery with outcome sent. A permanent provider
// failure records a Delivery with outcome failed and returns the error. A
// retryable failure records nothing so the caller can simply try again.
func (d *Dispatcher) Dispatch(ctx context.Context, messageID, prospectID int64) (*model.Delivery, error) {
	ctx, span := tracer.Start(ctx, "dispatcher.Dispatch")
	defer span.End()
	span.SetAttributes(attribute.Int64("message.id", messageID), attribute.Int64("prospect.id", prospectID))

	delivery, err := d.dispatch(ctx, messageID, prospectID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return delivery, err
}

func (d *Dispatcher) dispatch(ctx context.Context, messageID, prospectID int64) (*model.Delivery, error) {
	log := logger.WithTrace(ctx, d.Logger).With(zap.Int64("message_id", messageID), zap.Int64("prospect_id", prospectID))

	m, err := d.Messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.RetiredAt != nil {
		return nil, appErrors.Conflict(fmt.Sprintf("message %d was retired by a regeneration", m.ID))
	}
	p, err := d.Prospects.GetByID(ctx, prospectID)
	if err != nil {
		return nil, err
	}
	if p.Unsubscribed {
		metrics.DispatchTotal.WithLabelValues(string(m.Channel), "refused").Inc()
		return nil, appErrors.ProspectUnsubscribed(p.ID)
	}
	provider, err := d.Providers.ForChannel(m.Channel)
	if err != nil {
		return nil, appErrors.Validation("message channel cannot be sent", map[string]string{"channel": err.Error()})
	}
	to := p.Destination(m.Channel)
	if to == "" {
		return nil, appErrors.Validation("prospect cannot be reached", map[string]string{
			"prospect_id": fmt.Sprintf("prospect %d has no %s address", p.ID, m.Channel),
		})
	}
	seq, err := d.Sequences.GetByID(ctx, m.SequenceID)
	if err != nil {
		return nil, err
	}
	if seq.ArchivedAt != nil {
		return nil, appErrors.Conflict(fmt.Sprintf("sequence %d is archived", seq.ID))
	}
	sender, err := d.Senders.GetByID(ctx, seq.SenderConfigID)
	if err != nil {
		return nil, err
	}

	rendered := render(m, p, seq, sender)
	delivery := &model.Delivery{
		ID:         d.newID(),
		MessageID:  m.ID,
		ProspectID: p.ID,
		Channel:    m.Channel,
		Provider:   provider.Name(),
		CreatedAt:  d.now(),
	}
	out := channel.Outbound{
		To:              to,
		From:            sender.FromEmail,
		FromName:        sender.Name,
		Subject:         rendered.Subject,
		Body:            rendered.Body,
		TrackingEnabled: d.TrackingEnabled,
		Metadata:        map[string]string{channel.MetadataDeliveryID: delivery.ID},
	}
	if m.Channel == model.ChannelSMS {
		out.From = sender.FromPhone
		out.Subject = ""
	}

	res, sendErr := d.send(ctx, provider, out)
	if sendErr != nil {
		var perr *appErrors.ProviderError
		if !errors.As(sendErr, &perr) {
			perr = appErrors.NewProviderError(provider.Name(), true, sendErr)
		}
		if perr.Retryable {
			metrics.DispatchTotal.WithLabelValues(string(m.Channel), "retryable").Inc()
			log.Warn("provider send failed, retryable", zap.String("provider", provider.Name()), zap.Error(sendErr))
			return nil, perr
		}
		delivery.Outcome = model.OutcomeFailed
		delivery.LastError = perr.Error()
		if err := d.Deliveries.Create(ctx, delivery); err != nil {
			log.Error("failed to record failed delivery", zap.Error(err))
			return nil, errors.Join(perr, err)
		}
		metrics.DispatchTotal.WithLabelValues(string(m.Channel), "failed").Inc()
		log.Warn("provider send failed permanently", zap.String("delivery_id", delivery.ID), zap.Error(sendErr))
		return delivery, perr
	}

	delivery.Outcome = model.OutcomeSent
	delivery.ProviderMessageID = res.ProviderMessageID
	if err := d.Deliveries.Create(context.WithoutCancel(ctx), delivery); err != nil {
		// The provider accepted the message; losing the row loses correlation.
		log.Error("message sent but delivery not recorded",
			zap.String("delivery_id", delivery.ID), zap.String("provider_message_id", res.ProviderMessageID), zap.Error(err))
		return nil, fmt.Errorf("record delivery: %w", err)
	}
	metrics.DispatchTotal.WithLabelValues(string(m.Channel), "sent").Inc()
	log.Info("message dispatched", zap.String("delivery_id", delivery.ID), zap.String("provider", provider.Name()))
	return delivery, nil
}

func (d *Dispatcher) send(ctx context.Context, provider channel.Provider, out channel.Outbound) (channel.SendResult, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	start := time.Now()
	res, err := provider.Send(ctx, out)
	metrics.ProviderSendDuration.WithLabelValues(provider.Name()).Observe(time.Since(start).Seconds())
	return res, err
}

// StepError is one prospect that did not receive the message.
type StepError struct {
	ProspectID int64  `json:"prospect_id"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

type StepResult struct {
	Deliveries []*model.Delivery `json:"deliveries"`
	Errors     []StepError       `json:"errors"`
}

func validateProspectIDs(prospectIDs []int64) error {
	if len(prospectIDs) == 0 {
		return appErrors.Validation("invalid dispatch request", map[string]string{"prospect_ids": "at least one prospect is required"})
	}
	for _, id := range prospectIDs {
		if id <= 0 {
			return appErrors.Validation("invalid dispatch request", map[string]string{"prospect_ids": "ids must be positive"})
		}
	}
	return nil
}

// DispatchSequenceStep sends one message to each prospect in turn. A failure
// for one prospect is reported in the result and never stops the others.
func (d *Dispatcher) DispatchSequenceStep(ctx context.Context, principal string, messageID int64, prospectIDs []int64) (*StepResult, error) {
	if err := validateProspectIDs(prospectIDs); err != nil {
		return nil, err
	}
	if err := d.Ownership.Require(ctx, principal, MessageResource(messageID)); err != nil {
		return nil, err
	}

	result := &StepResult{Deliveries: []*model.Delivery{}, Errors: []StepError{}}
	for _, pid := range prospectIDs {
		if err := d.Ownership.Require(ctx, principal, ProspectResource(pid)); err != nil {
			result.Errors = append(result.Errors, StepError{ProspectID: pid, Message: err.Error()})
			continue
		}
		delivery, err := d.Dispatch(ctx, messageID, pid)
		if err != nil {
			result.Errors = append(result.Errors, StepError{ProspectID: pid, Message: err.Error(), Retryable: appErrors.IsRetryable(err)})
			continue
		}
		result.Deliveries = append(result.Deliveries, delivery)
	}
	return result, nil
}

type EnqueueResult struct {
	Queued int         `json:"queued"`
	Errors []StepError `json:"errors"`
}

// Enqueue publishes one dispatch job per prospect for the worker to run.
func (d *Dispatcher) Enqueue(ctx context.Context, principal string, messageID int64, prospectIDs []int64) (*EnqueueResult, error) {
	if err := validateProspectIDs(prospectIDs); err != nil {
		return nil, err
	}
	if err := d.Ownership.Require(ctx, principal, MessageResource(messageID)); err != nil {
		return nil, err
	}
	if d.Queue == nil {
		return nil, fmt.Errorf("no dispatch queue configured")
	}

	result := &EnqueueResult{Errors: []StepError{}}
	for _, pid := range prospectIDs {
		if err := d.Ownership.Require(ctx, principal, ProspectResource(pid)); err != nil {
			result.Errors = append(result.Errors, StepError{ProspectID: pid, Message: err.Error()})
			continue
		}
		if err := d.Queue.Publish(ctx, queue.DispatchJob{MessageID: messageID, ProspectID: pid}); err != nil {
			result.Errors = append(result.Errors, StepError{ProspectID: pid, Message: err.Error(), Retryable: true})
			continue
		}
		result.Queued++
	}
	return result, nil
}
