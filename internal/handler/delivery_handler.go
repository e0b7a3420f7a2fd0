package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/followup-engine/internal/errors"
	"github.com/unclebandit/followup-engine/internal/middleware"
	"github.com/unclebandit/followup-engine/internal/response"
	"github.com/unclebandit/followup-engine/internal/service"
)

type DeliveryReader interface {
	Get(ctx context.Context, principal, deliveryID string) (*service.DeliveryView, error)
}

type DeliveryHandler struct {
	Deliveries DeliveryReader
}

// GetDelivery returns a delivery with its status derived from the event log.
func (h *DeliveryHandler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		response.Error(w, appErrors.Validation("invalid path parameter", map[string]string{"id": "is required"}))
		return
	}
	view, err := h.Deliveries.Get(r.Context(), middleware.PrincipalFrom(r.Context()), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, view)
}
