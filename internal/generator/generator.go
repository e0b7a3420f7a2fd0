// Package generator plans and writes the messages of a follow-up sequence.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/followup-engine/internal/errors"
	"github.com/unclebandit/followup-engine/internal/logger"
	"github.com/unclebandit/followup-engine/internal/metrics"
	"github.com/unclebandit/followup-engine/internal/model"
	"github.com/unclebandit/followup-engine/internal/repository"
)

const (
	MaxMessages      = 20
	MaxDeadlineHours = 720
)

// SlotError records why one slot produced no message. Index is the 0-based
// slot index in the request.
type SlotError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// Result holds one entry per requested slot, either in Messages or in Errors.
type Result struct {
	Messages []*model.MessageTemplate `json:"messages"`
	Errors   []SlotError              `json:"errors"`
}

type Generator struct {
	Sequences repository.SequenceRepositoryInterface
	Messages  repository.MessageRepositoryInterface
	Content   ContentGenerator
	Logger    *zap.Logger
	// SlotTimeout bounds each content call. Zero means no extra bound.
	SlotTimeout time.Duration
}

// Validate checks a generation request without touching storage.
func Validate(gc model.GenerationContext) error {
	fields := map[string]string{}
	if gc.Count < 1 || gc.Count > MaxMessages {
		fields["count"] = fmt.Sprintf("must be between 1 and %d", MaxMessages)
	}
	if gc.DeadlineHours < 1 || gc.DeadlineHours > MaxDeadlineHours {
		fields["deadline_hours"] = fmt.Sprintf("must be between 1 and %d", MaxDeadlineHours)
	}
	if strings.TrimSpace(gc.Offer.Name) == "" {
		fields["offer.name"] = "is required"
	}
	if gc.Offer.Price < 0 {
		fields["offer.price"] = "must not be negative"
	}
	if strings.TrimSpace(gc.Webinar.Title) == "" {
		fields["webinar.title"] = "is required"
	}
	for i, s := range gc.Segments {
		if strings.TrimSpace(s) == "" {
			fields[fmt.Sprintf("segments[%d]", i)] = "must not be blank"
		}
	}
	if len(fields) > 0 {
		return appErrors.Validation("invalid generation request", fields)
	}
	return nil
}

// Generate writes every planned slot of the sequence. Slots are generated and
// stored one at a time; a failed slot is reported in Result.Errors and does
// not stop the others. Once all slots are attempted the sequence is compacted
// so positions stay contiguous and rows from an earlier, longer run are gone.
func (g *Generator) Generate(ctx context.Context, sequenceID int64, gc model.GenerationContext) (*Result, error) {
	if err := Validate(gc); err != nil {
		return nil, err
	}
	seq, err := g.Sequences.GetByID(ctx, sequenceID)
	if err != nil {
		return nil, err
	}
	if seq.ArchivedAt != nil {
		return nil, appErrors.Conflict(fmt.Sprintf("sequence %d is archived", sequenceID))
	}
	if err := g.Sequences.SaveContext(ctx, sequenceID, gc); err != nil {
		return nil, fmt.Errorf("save generation context: %w", err)
	}

	log := logger.OrNop(g.Logger).With(zap.Int64("sequence_id", sequenceID))
	slots := Plan(gc)
	result := &Result{Messages: []*model.MessageTemplate{}, Errors: []SlotError{}}
	keep := make([]int64, 0, len(slots))

	for i, slot := range slots {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, SlotError{Index: i, Message: "generation cancelled: " + err.Error()})
			metrics.GenerationSlotsTotal.WithLabelValues("cancelled").Inc()
			continue
		}
		m, err := g.generateSlot(ctx, seq, gc, slot)
		if err != nil {
			log.Warn("slot generation failed", zap.Int("index", i), zap.Error(err))
			result.Errors = append(result.Errors, SlotError{Index: i, Message: err.Error()})
			metrics.GenerationSlotsTotal.WithLabelValues("error").Inc()
			continue
		}
		keep = append(keep, m.ID)
		result.Messages = append(result.Messages, m)
		metrics.GenerationSlotsTotal.WithLabelValues("ok").Inc()
	}

	// Finish the bookkeeping even if the caller went away mid-batch.
	bg := context.WithoutCancel(ctx)
	if err := g.Messages.Compact(bg, sequenceID, keep); err != nil {
		return result, fmt.Errorf("compact sequence %d: %w", sequenceID, err)
	}
	if err := g.Sequences.UpdateTotal(bg, sequenceID, len(keep)); err != nil {
		return result, fmt.Errorf("update sequence %d total: %w", sequenceID, err)
	}

	// Compaction may have renumbered positions.
	stored, err := g.Messages.ListBySequence(bg, sequenceID)
	if err != nil {
		return result, err
	}
	byID := make(map[int64]*model.MessageTemplate, len(stored))
	for _, m := range stored {
		byID[m.ID] = m
	}
	for i, m := range result.Messages {
		if fresh, ok := byID[m.ID]; ok {
			result.Messages[i] = fresh
		}
	}

	log.Info("sequence generated", zap.Int("messages", len(result.Messages)), zap.Int("errors", len(result.Errors)))
	return result, nil
}

func (g *Generator) generateSlot(ctx context.Context, seq *model.Sequence, gc model.GenerationContext, slot Slot) (*model.MessageTemplate, error) {
	content, err := g.content(ctx, SlotRequest{
		SequenceID:    seq.ID,
		Slot:          slot,
		Total:         gc.Count,
		DeadlineHours: gc.DeadlineHours,
		Offer:         gc.Offer,
		Webinar:       gc.Webinar,
	})
	if err != nil {
		return nil, err
	}
	m := &model.MessageTemplate{
		SequenceID:   seq.ID,
		Position:     slot.Position,
		Channel:      slot.Channel,
		DelayMinutes: slot.DelayMinutes,
		Subject:      content.Subject,
		Body:         content.Body,
		CTA:          content.CTA,
		Variant:      slot.Variant,
		TemplateType: slot.TemplateType,
		Segment:      slot.Segment,
	}
	if err := g.Messages.Upsert(ctx, m); err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}
	return m, nil
}

// content calls the collaborator under the slot timeout and rejects empty copy.
func (g *Generator) content(ctx context.Context, req SlotRequest) (Content, error) {
	if g.SlotTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.SlotTimeout)
		defer cancel()
	}
	c, err := g.Content.GenerateMessage(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Content{}, fmt.Errorf("content generation timed out")
		}
		return Content{}, err
	}
	if strings.TrimSpace(c.Body) == "" {
		return Content{}, fmt.Errorf("content generator returned an empty body")
	}
	if req.Slot.Channel == model.ChannelEmail && strings.TrimSpace(c.Subject) == "" {
		return Content{}, fmt.Errorf("content generator returned an email without a subject")
	}
	if req.Slot.Channel == model.ChannelSMS {
		c.Subject = ""
	}
	return c, nil
}

// RegenerateMessage rewrites the copy of one message in place. Only the
// message and its sequence row are read; the sequence's stored generation
// context supplies the offer and webinar facts. Empty templateType or segment
// keep the message's current value.
func (g *Generator) RegenerateMessage(ctx context.Context, messageID int64, templateType, segment string) (*model.MessageTemplate, error) {
	templateType = strings.TrimSpace(templateType)
	if templateType != "" && !KnownTemplateType(templateType) {
		return nil, appErrors.Validation("invalid regeneration request", map[string]string{
			"template_type": "must be one of " + strings.Join(TemplateTypes, ", "),
		})
	}

	m, err := g.Messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.RetiredAt != nil {
		return nil, appErrors.Conflict(fmt.Sprintf("message %d was retired by a regeneration", m.ID))
	}
	seq, err := g.Sequences.GetByID(ctx, m.SequenceID)
	if err != nil {
		return nil, err
	}
	if seq.ArchivedAt != nil {
		return nil, appErrors.Conflict(fmt.Sprintf("sequence %d is archived", seq.ID))
	}
	if seq.Context == nil {
		return nil, appErrors.Conflict(fmt.Sprintf("sequence %d has not been generated yet", seq.ID))
	}

	if templateType == "" {
		templateType = m.TemplateType
	}
	if s := strings.TrimSpace(segment); s != "" {
		m.Segment = s
	}
	m.TemplateType = templateType

	content, err := g.content(ctx, SlotRequest{
		SequenceID: seq.ID,
		Slot: Slot{
			Position:     m.Position,
			Channel:      m.Channel,
			DelayMinutes: m.DelayMinutes,
			TemplateType: m.TemplateType,
			Segment:      m.Segment,
			Variant:      m.Variant,
		},
		Total:         seq.TotalMessages,
		DeadlineHours: seq.Context.DeadlineHours,
		Offer:         seq.Context.Offer,
		Webinar:       seq.Context.Webinar,
	})
	if err != nil {
		return nil, appErrors.ContentFailed(err)
	}
	m.Subject = content.Subject
	m.Body = content.Body
	m.CTA = content.CTA

	if err := g.Messages.UpdateContent(ctx, m); err != nil {
		return nil, err
	}
	logger.OrNop(g.Logger).Info("message regenerated",
		zap.Int64("message_id", m.ID), zap.String("template_type", m.TemplateType))
	return m, nil
}
