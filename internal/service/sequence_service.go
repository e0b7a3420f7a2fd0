package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/followup-engine/internal/errors"
	"github.com/unclebandit/followup-engine/internal/eventlog"
	"github.com/unclebandit/followup-engine/internal/generator"
	"github.com/unclebandit/followup-engine/internal/logger"
	"github.com/unclebandit/followup-engine/internal/model"
	"github.com/unclebandit/followup-engine/internal/repository"
)

// SequenceDetail is a sequence with its ordered messages and the derived
// status counts of every delivery sent from it.
type SequenceDetail struct {
	Sequence *model.Sequence          `json:"sequence"`
	Messages []*model.MessageTemplate `json:"messages"`
	Stats    map[string]int           `json:"stats"`
}

// SequenceService puts the ownership check in front of generation and the
// sequence reads.
type SequenceService struct {
	Senders    repository.SenderRepositoryInterface
	Sequences  repository.SequenceRepositoryInterface
	Messages   repository.MessageRepositoryInterface
	Deliveries repository.DeliveryRepositoryInterface
	Events     repository.EventRepositoryInterface
	Generator  *generator.Generator
	Ownership  *Ownership
	Logger     *zap.Logger
	// Timeout bounds a whole batch generation.
	Timeout time.Duration
}

// Generate runs a batch generation. When the slots were written but the
// bookkeeping afterwards failed, the slot result is returned together with
// the error.
func (s *SequenceService) Generate(ctx context.Context, principal string, sequenceID int64, gc model.GenerationContext) (*generator.Result, error) {
	if err := s.Ownership.Require(ctx, principal, SequenceResource(sequenceID)); err != nil {
		return nil, err
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	res, err := s.Generator.Generate(ctx, sequenceID, gc)
	if err != nil {
		if res != nil {
			logger.OrNop(s.Logger).Error("sequence bookkeeping failed after generation",
				zap.Int64("sequence_id", sequenceID),
				zap.Int("messages", len(res.Messages)),
				zap.Int("errors", len(res.Errors)),
				zap.Error(err),
			)
		}
		return res, err
	}
	logger.OrNop(s.Logger).Info("sequence generated",
		zap.Int64("sequence_id", sequenceID),
		zap.Int("messages", len(res.Messages)),
		zap.Int("errors", len(res.Errors)),
	)
	return res, nil
}

func (s *SequenceService) Regenerate(ctx context.Context, principal string, messageID int64, templateType, segment string) (*model.MessageTemplate, error) {
	if err := s.Ownership.Require(ctx, principal, MessageResource(messageID)); err != nil {
		return nil, err
	}
	return s.Generator.RegenerateMessage(ctx, messageID, templateType, segment)
}

// Archive hides a sequence from listings. Existing deliveries keep
// reconciling; archiving twice is a no-op.
func (s *SequenceService) Archive(ctx context.Context, principal string, sequenceID int64) (*model.Sequence, error) {
	if err := s.Ownership.Require(ctx, principal, SequenceResource(sequenceID)); err != nil {
		return nil, err
	}
	if err := s.Sequences.Archive(ctx, sequenceID); err != nil {
		return nil, err
	}
	return s.Sequences.GetByID(ctx, sequenceID)
}

func (s *SequenceService) Detail(ctx context.Context, principal string, sequenceID int64) (*SequenceDetail, error) {
	if err := s.Ownership.Require(ctx, principal, SequenceResource(sequenceID)); err != nil {
		return nil, err
	}
	seq, err := s.Sequences.GetByID(ctx, sequenceID)
	if err != nil {
		return nil, err
	}
	messages, err := s.Messages.ListBySequence(ctx, sequenceID)
	if err != nil {
		return nil, err
	}
	deliveries, err := s.Deliveries.ListBySequence(ctx, sequenceID)
	if err != nil {
		return nil, err
	}
	events, err := s.Events.ListBySequence(ctx, sequenceID)
	if err != nil {
		return nil, err
	}

	byDelivery := eventlog.GroupByDelivery(events)
	histories := make([]eventlog.History, 0, len(deliveries))
	for _, d := range deliveries {
		histories = append(histories, eventlog.History{Delivery: *d, Events: byDelivery[d.ID]})
	}
	if messages == nil {
		messages = []*model.MessageTemplate{}
	}
	return &SequenceDetail{Sequence: seq, Messages: messages, Stats: eventlog.Summarize(histories)}, nil
}

// ListBySender returns the sender's sequences in creation order. Archived
// sequences are only included on request.
func (s *SequenceService) ListBySender(ctx context.Context, principal string, senderConfigID int64, includeArchived bool) ([]*model.Sequence, error) {
	sender, err := s.Senders.GetByID(ctx, senderConfigID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return nil, appErrors.Unauthorized(fmt.Sprintf("sender config %d is not accessible", senderConfigID))
		}
		return nil, err
	}
	if principal == "" || sender.PrincipalID != principal {
		return nil, appErrors.Unauthorized(fmt.Sprintf("sender config %d is not accessible", senderConfigID))
	}
	seqs, err := s.Sequences.ListBySender(ctx, senderConfigID, includeArchived)
	if err != nil {
		return nil, err
	}
	if seqs == nil {
		seqs = []*model.Sequence{}
	}
	return seqs, nil
}
