package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/followup-engine/internal/logger"
)

// DispatchJob asks a worker to send one message to one prospect.
type DispatchJob struct {
	MessageID  int64 `json:"message_id"`
	ProspectID int64 `json:"prospect_id"`
	Attempt    int   `json:"attempt"`
}

// Handler processes a job. A non-nil error means the job should be retried.
type Handler func(ctx context.Context, job DispatchJob) error

// Queue interface
type Queue interface {
	Publish(ctx context.Context, job DispatchJob) error
	Subscribe(ctx context.Context, handler Handler) error
}

// InMemoryQueue runs jobs in goroutines with bounded retries. It is meant for
// development and tests; jobs do not survive a restart.
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   []Handler
	wg         sync.WaitGroup
	MaxRetries int
	Backoff    time.Duration
	Logger     *zap.Logger
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(maxRetries int, logger *zap.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		MaxRetries: maxRetries,
		Backoff:    500 * time.Millisecond,
		Logger:     logger,
	}
}

// Publish hands the job to every subscriber
func (q *InMemoryQueue) Publish(ctx context.Context, job DispatchJob) error {
	q.mu.Lock()
	handlers := append([]Handler(nil), q.handlers...)
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for dispatch jobs")
	}
	for _, handler := range handlers {
		q.wg.Add(1)
		go q.processJob(context.WithoutCancel(ctx), handler, job)
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(ctx context.Context, handler Handler, job DispatchJob) {
	defer q.wg.Done()
	log := logger.OrNop(q.Logger).With(zap.Int64("message_id", job.MessageID), zap.Int64("prospect_id", job.ProspectID))

	for {
		err := handler(ctx, job)
		if err == nil {
			return
		}
		if job.Attempt >= q.MaxRetries {
			log.Error("dispatch job permanently failed", zap.Int("attempts", job.Attempt+1), zap.Error(err))
			return
		}
		job.Attempt++
		log.Warn("dispatch job failed, retrying", zap.Int("attempt", job.Attempt), zap.Error(err))

		// linear backoff before retry
		time.Sleep(time.Duration(job.Attempt) * q.Backoff)
	}
}

// Subscribe adds a handler. It does not block.
func (q *InMemoryQueue) Subscribe(_ context.Context, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
	return nil
}

// Wait blocks until every published job has finished, retries included.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}
