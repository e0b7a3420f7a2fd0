package service

import (
	"context"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/followup-engine/internal/errors"
	"github.com/unclebandit/followup-engine/internal/logger"
	"github.com/unclebandit/followup-engine/internal/model"
	"github.com/unclebandit/followup-engine/internal/queue"
)

// DispatchFunc is the send operation the worker runs for each job.
type DispatchFunc func(ctx context.Context, messageID, prospectID int64) (*model.Delivery, error)

// Worker processes dispatch jobs
type Worker struct {
	Dispatch DispatchFunc
	Logger   *zap.Logger
}

// Constructor
func NewWorker(dispatch DispatchFunc, logger *zap.Logger) *Worker {
	return &Worker{Dispatch: dispatch, Logger: logger}
}

// Handle runs one job. It returns an error only when the job is worth
// retrying; permanent failures are logged and acknowledged.
func (w *Worker) Handle(ctx context.Context, job queue.DispatchJob) error {
	log := logger.OrNop(w.Logger).With(
		zap.Int64("message_id", job.MessageID),
		zap.Int64("prospect_id", job.ProspectID),
		zap.Int("attempt", job.Attempt),
	)
	delivery, err := w.Dispatch(ctx, job.MessageID, job.ProspectID)
	if err == nil {
		log.Info("dispatch job done", zap.String("delivery_id", delivery.ID))
		return nil
	}
	if appErrors.IsPermanent(err) {
		log.Warn("dispatch job dropped", zap.Error(err))
		return nil
	}
	return err
}
