package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/unclebandit/followup-engine/internal/logger"
	"github.com/unclebandit/followup-engine/internal/metrics"
)

const retryHeader = "x-retry-count"

// AMQPQueue publishes dispatch jobs to a durable RabbitMQ queue. A failed job
// is republished with an incremented retry header until MaxRetries is reached.
type AMQPQueue struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	Name       string
	MaxRetries int
	Logger     *zap.Logger
}

func NewAMQPQueue(url, name string, maxRetries int, logger *zap.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	_, err = ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", name, err)
	}
	return &AMQPQueue{conn: conn, ch: ch, Name: name, MaxRetries: maxRetries, Logger: logger}, nil
}

func (q *AMQPQueue) Publish(_ context.Context, job DispatchJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.ch.Publish("", q.Name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{retryHeader: int32(job.Attempt)},
		Body:         body,
	})
}

// Subscribe consumes until ctx is done or the channel closes.
func (q *AMQPQueue) Subscribe(ctx context.Context, handler Handler) error {
	msgs, err := q.ch.Consume(
		q.Name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	log := logger.OrNop(q.Logger)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("amqp delivery channel closed")
			}
			q.handle(ctx, log, d, handler)
		}
	}
}

func (q *AMQPQueue) handle(ctx context.Context, log *zap.Logger, d amqp.Delivery, handler Handler) {
	job, err := DecodeJob(d.Body, d.Headers)
	if err != nil {
		log.Warn("dropping invalid dispatch job", zap.Error(err))
		_ = d.Ack(false)
		return
	}

	if err := handler(ctx, job); err != nil {
		if job.Attempt < q.MaxRetries {
			job.Attempt++
			if perr := q.Publish(ctx, job); perr == nil {
				metrics.QueueRetriesTotal.WithLabelValues(q.Name).Inc()
				_ = d.Ack(false)
				return
			}
			_ = d.Nack(false, true)
			return
		}
		log.Error("dispatch job permanently failed",
			zap.Int64("message_id", job.MessageID), zap.Int64("prospect_id", job.ProspectID), zap.Error(err))
	}
	_ = d.Ack(false)
}

func (q *AMQPQueue) Close() error {
	if q.ch != nil {
		q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// DecodeJob reads a job body. The retry header, when present, wins over the
// attempt recorded in the body.
func DecodeJob(body []byte, headers amqp.Table) (DispatchJob, error) {
	var job DispatchJob
	if err := json.Unmarshal(body, &job); err != nil {
		return job, fmt.Errorf("decode dispatch job: %w", err)
	}
	if job.MessageID <= 0 || job.ProspectID <= 0 {
		return job, fmt.Errorf("dispatch job missing message or prospect id")
	}
	switch v := headers[retryHeader].(type) {
	case int32:
		job.Attempt = int(v)
	case int64:
		job.Attempt = int(v)
	case int:
		job.Attempt = v
	}
	return job, nil
}
