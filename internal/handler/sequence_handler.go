package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/followup-engine/internal/errors"
	"github.com/unclebandit/followup-engine/internal/middleware"
	"github.com/unclebandit/followup-engine/internal/model"
	"github.com/unclebandit/followup-engine/internal/response"
	"github.com/unclebandit/followup-engine/internal/service"
)

type SequenceReader interface {
	Detail(ctx context.Context, principal string, sequenceID int64) (*service.SequenceDetail, error)
	ListBySender(ctx context.Context, principal string, senderConfigID int64, includeArchived bool) ([]*model.Sequence, error)
}

// SequenceHandler serves the sequence read endpoints.
type SequenceHandler struct {
	Sequences SequenceReader
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, appErrors.Validation("invalid path parameter", map[string]string{"id": "must be a positive integer"})
	}
	return id, nil
}

// GetSequenceWithStats returns the sequence, its messages in order and the
// derived delivery status counts.
func (h *SequenceHandler) GetSequenceWithStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	details, err := h.Sequences.Detail(r.Context(), middleware.PrincipalFrom(r.Context()), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, details)
}

// ListSequences returns a page of a sender's sequences.
func (h *SequenceHandler) ListSequences(w http.ResponseWriter, r *http.Request) {
	senderID, err := pathID(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	page := 1
	pageSize := 10
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if ps, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && ps > 0 && ps <= 100 {
		pageSize = ps
	}
	includeArchived, _ := strconv.ParseBool(r.URL.Query().Get("include_archived"))

	all, err := h.Sequences.ListBySender(r.Context(), middleware.PrincipalFrom(r.Context()), senderID, includeArchived)
	if err != nil {
		response.Error(w, err)
		return
	}

	total := len(all)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"data": all[start:end],
		"pagination": Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: (total + pageSize - 1) / pageSize,
		},
	})
}
