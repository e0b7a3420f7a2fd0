// Package events fans canonical delivery events out to analytics consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/unclebandit/followup-engine/internal/metrics"
	"github.com/unclebandit/followup-engine/internal/model"
)

// Sink receives every event appended to the event log.
type Sink interface {
	Publish(ctx context.Context, e model.Event) error
}

// NopSink drops events. It is used when no broker is configured.
type NopSink struct{}

func (NopSink) Publish(context.Context, model.Event) error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes events to a topic keyed by delivery id, so one delivery's
// events stay in order on a single partition.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		topic: topic,
	}
}

// envelope is the wire shape of a published event.
type envelope struct {
	ID                string          `json:"id"`
	Seq               int64           `json:"seq"`
	DeliveryID        string          `json:"delivery_id"`
	ProspectID        int64           `json:"prospect_id"`
	Type              model.EventType `json:"type"`
	Provider          string          `json:"provider"`
	ProviderMessageID string          `json:"provider_message_id,omitempty"`
	OccurredAt        time.Time       `json:"occurred_at"`
	ReceivedAt        time.Time       `json:"received_at"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
}

func (s *KafkaSink) Publish(ctx context.Context, e model.Event) error {
	value, err := json.Marshal(envelope{
		ID:                e.ID,
		Seq:               e.Seq,
		DeliveryID:        e.DeliveryID,
		ProspectID:        e.ProspectID,
		Type:              e.Type,
		Provider:          e.Provider,
		ProviderMessageID: e.ProviderMessageID,
		OccurredAt:        e.OccurredAt,
		ReceivedAt:        e.ReceivedAt,
		Metadata:          e.Metadata,
	})
	if err != nil {
		return err
	}
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.DeliveryID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	})
	if err != nil {
		metrics.KafkaPublishFailureTotal.WithLabelValues(s.topic).Inc()
		return err
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
