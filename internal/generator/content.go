package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/unclebandit/followup-engine/internal/model"
)

// SlotRequest is everything the content collaborator gets to write one message.
type SlotRequest struct {
	SequenceID    int64         `json:"sequence_id"`
	Slot          Slot          `json:"slot"`
	Total         int           `json:"total"`
	DeadlineHours int           `json:"deadline_hours"`
	Offer         model.Offer   `json:"offer"`
	Webinar       model.Webinar `json:"webinar"`
}

// Content is generated copy. Body and Subject may contain {token} placeholders.
type Content struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	CTA     string `json:"cta"`
}

// ContentGenerator writes the copy for a single slot.
type ContentGenerator interface {
	GenerateMessage(ctx context.Context, req SlotRequest) (Content, error)
}

// HTTPContent calls an external content service that answers a SlotRequest
// with a Content document.
type HTTPContent struct {
	URL    string
	APIKey string
	Client *http.Client
}

func NewHTTPContent(url, apiKey string, timeout time.Duration) *HTTPContent {
	return &HTTPContent{
		URL:    url,
		APIKey: apiKey,
		Client: &http.Client{Timeout: timeout},
	}
}

func (h *HTTPContent) GenerateMessage(ctx context.Context, req SlotRequest) (Content, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Content{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(payload))
	if err != nil {
		return Content{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.APIKey)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return Content{}, fmt.Errorf("content service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Content{}, fmt.Errorf("content service: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return Content{}, fmt.Errorf("content service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var c Content
	if err := json.Unmarshal(body, &c); err != nil {
		return Content{}, fmt.Errorf("content service: decode response: %w", err)
	}
	return c, nil
}

// TemplateContent writes fixed copy per template type. It is used when no
// content service is configured.
type TemplateContent struct{}

type copyTemplate struct {
	subject string
	email   string
	sms     string
	cta     string
}

var templateCopy = map[string]copyTemplate{
	TemplateReminder: {
		subject: "{first_name}, your replay of %s is ready",
		email:   "Hi {first_name},\n\nYou watched {watch_pct}% of %s. The part you missed is where it all comes together.\n\nPick up where you left off: {replay_link}\n\n{sender_name}",
		sms:     "Hi {first_name}, your replay of %s is ready: {replay_link}",
		cta:     "Watch the replay",
	},
	TemplateValue: {
		subject: "The one idea from %s worth acting on",
		email:   "Hi {first_name},\n\nYou told us your goal is {goal_notes}. {offer_title} was built for exactly that.\n\nSee how it works: {offer_link}\n\n{sender_name}",
		sms:     "{first_name}, here is how {offer_title} gets you to {goal_notes}: {offer_link}",
		cta:     "See the offer",
	},
	TemplateUrgency: {
		subject: "Time is running out on %s",
		email:   "Hi {first_name},\n\nThe window for {offer_title} closes soon. If {challenge_notes} is still in your way, let's talk it through.\n\nBook a call: {booking_link}\n\n{sender_name}",
		sms:     "{first_name}, {offer_title} closes soon. Grab a time: {booking_link}",
		cta:     "Book a call",
	},
	TemplateLastChance: {
		subject: "Last chance, {first_name}",
		email:   "Hi {first_name},\n\nThis is the final reminder: {offer_title} closes tonight.\n\nJoin here: {offer_link}\n\n{sender_name}",
		sms:     "Last chance {first_name}: {offer_title} closes tonight. {offer_link}",
		cta:     "Join now",
	},
}

func (TemplateContent) GenerateMessage(ctx context.Context, req SlotRequest) (Content, error) {
	if err := ctx.Err(); err != nil {
		return Content{}, err
	}
	tpl, ok := templateCopy[req.Slot.TemplateType]
	if !ok {
		return Content{}, fmt.Errorf("no copy for template type %q", req.Slot.TemplateType)
	}
	title := req.Webinar.Title
	c := Content{CTA: tpl.cta}
	if req.Slot.Channel == model.ChannelSMS {
		c.Body = fill(tpl.sms, title)
		return c, nil
	}
	c.Subject = fill(tpl.subject, title)
	c.Body = fill(tpl.email, title)
	return c, nil
}

// fill substitutes the webinar title for %s without treating the rest of the
// copy as a format string.
func fill(s, title string) string {
	return strings.ReplaceAll(s, "%s", title)
}
