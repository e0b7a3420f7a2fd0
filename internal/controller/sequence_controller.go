package controller

import (
	"context"
	"net/http"

	"github.com/unclebandit/followup-engine/internal/generator"
	"github.com/unclebandit/followup-engine/internal/middleware"
	"github.com/unclebandit/followup-engine/internal/model"
	"github.com/unclebandit/followup-engine/internal/response"
)

type SequenceService interface {
	Generate(ctx context.Context, principal string, sequenceID int64, gc model.GenerationContext) (*generator.Result, error)
	Archive(ctx context.Context, principal string, sequenceID int64) (*model.Sequence, error)
	Regenerate(ctx context.Context, principal string, messageID int64, templateType, segment string) (*model.MessageTemplate, error)
}

type SequenceController struct {
	Sequences SequenceService
}

type generateResponse struct {
	Success  bool                     `json:"success"`
	Messages []*model.MessageTemplate `json:"messages"`
	Errors   []generator.SlotError    `json:"errors"`

	// Bookkeeping is set when the slots were written but compacting the
	// sequence or updating its total failed.
	Bookkeeping string `json:"bookkeeping_error,omitempty"`
}

const bookkeepingFailed = "sequence bookkeeping failed; message order and total may be stale until the sequence is generated again"

// Generate answers 200 when every slot was written and 207 when some failed
// or the sequence could not be finalised.
func (c *SequenceController) Generate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	var body model.GenerationContext
	if err := decodeBody(w, r, &body); err != nil {
		response.Error(w, err)
		return
	}

	res, err := c.Sequences.Generate(r.Context(), middleware.PrincipalFrom(r.Context()), id, body)
	if err != nil && res != nil {
		// Not final; a retry with the same idempotency key must run again.
		w.Header().Set("Cache-Control", "no-store")
		response.JSON(w, http.StatusMultiStatus, generateResponse{
			Messages:    res.Messages,
			Errors:      res.Errors,
			Bookkeeping: bookkeepingFailed,
		})
		return
	}
	if err != nil {
		response.Error(w, err)
		return
	}
	status := http.StatusOK
	if len(res.Errors) > 0 {
		status = http.StatusMultiStatus
	}
	response.JSON(w, status, generateResponse{
		Success:  len(res.Errors) == 0,
		Messages: res.Messages,
		Errors:   res.Errors,
	})
}

func (c *SequenceController) Archive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	seq, err := c.Sequences.Archive(r.Context(), middleware.PrincipalFrom(r.Context()), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, seq)
}

func (c *SequenceController) Regenerate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	var body struct {
		TemplateType string `json:"template_type"`
		Segment      string `json:"segment"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		response.Error(w, err)
		return
	}
	m, err := c.Sequences.Regenerate(r.Context(), middleware.PrincipalFrom(r.Context()), id, body.TemplateType, body.Segment)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, m)
}
