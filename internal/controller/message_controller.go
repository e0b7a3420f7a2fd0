package controller

import (
	"context"
	"net/http"

	appErrors "github.com/unclebandit/followup-engine/internal/errors"
	"github.com/unclebandit/followup-engine/internal/middleware"
	"github.com/unclebandit/followup-engine/internal/response"
	"github.com/unclebandit/followup-engine/internal/service"
)

type Dispatcher interface {
	Preview(ctx context.Context, principal string, messageID, prospectID int64) (*service.Rendered, error)
	DispatchSequenceStep(ctx context.Context, principal string, messageID int64, prospectIDs []int64) (*service.StepResult, error)
	Enqueue(ctx context.Context, principal string, messageID int64, prospectIDs []int64) (*service.EnqueueResult, error)
}

type MessageController struct {
	Dispatcher Dispatcher
}

func (c *MessageController) Preview(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	var body struct {
		ProspectID int64 `json:"prospect_id"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		response.Error(w, err)
		return
	}
	if body.ProspectID <= 0 {
		response.Error(w, appErrors.Validation("invalid preview request", map[string]string{"prospect_id": "is required"}))
		return
	}

	rendered, err := c.Dispatcher.Preview(r.Context(), middleware.PrincipalFrom(r.Context()), id, body.ProspectID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, rendered)
}

// Dispatch sends inline, or queues one job per prospect when async is set.
func (c *MessageController) Dispatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	var body struct {
		ProspectIDs []int64 `json:"prospect_ids"`
		Async       bool    `json:"async"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		response.Error(w, err)
		return
	}
	principal := middleware.PrincipalFrom(r.Context())

	if body.Async {
		res, err := c.Dispatcher.Enqueue(r.Context(), principal, id, body.ProspectIDs)
		if err != nil {
			response.Error(w, err)
			return
		}
		response.JSON(w, http.StatusAccepted, res)
		return
	}

	res, err := c.Dispatcher.DispatchSequenceStep(r.Context(), principal, id, body.ProspectIDs)
	if err != nil {
		response.Error(w, err)
		return
	}
	status := http.StatusOK
	if len(res.Errors) > 0 {
		status = http.StatusMultiStatus
	}
	response.JSON(w, status, res)
}
