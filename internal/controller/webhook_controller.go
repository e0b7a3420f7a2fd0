package controller

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/followup-engine/internal/channel"
	"github.com/unclebandit/followup-engine/internal/logger"
	"github.com/unclebandit/followup-engine/internal/response"
	"github.com/unclebandit/followup-engine/internal/service"
)

type Reconciler interface {
	Reconcile(ctx context.Context, req channel.InboundRequest) service.Outcome
}

// WebhookController receives provider callbacks. There is no principal on
// this route; the provider signature is the only authentication.
type WebhookController struct {
	Reconciler Reconciler
	// PublicBaseURL is the externally visible origin, used to rebuild the URL
	// the provider signed.
	PublicBaseURL string
	Logger        *zap.Logger
}

func (c *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		logger.OrNop(c.Logger).Warn("webhook body unreadable", zap.String("provider", provider), zap.Error(err))
		response.WriteProblem(w, response.Problem{Status: http.StatusBadRequest, Detail: "unreadable body"})
		return
	}

	out := c.Reconciler.Reconcile(r.Context(), channel.InboundRequest{
		Provider: provider,
		URL:      c.publicURL(r),
		Headers:  r.Header.Clone(),
		Body:     body,
	})
	response.JSON(w, out.StatusCode, out)
}

func (c *WebhookController) publicURL(r *http.Request) string {
	base := strings.TrimRight(c.PublicBaseURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
			scheme = fwd
		}
		base = scheme + "://" + r.Host
	}
	return base + r.URL.RequestURI()
}
