package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	appErrors "github.com/unclebandit/followup-engine/internal/errors"
	"github.com/unclebandit/followup-engine/internal/model"
)

const (
	SendGridName            = "sendgrid"
	SendGridSignatureHeader = "X-Webhook-Signature"
)

// SendGridClient is the subset of *sendgrid.Client used for sends.
type SendGridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

type SendGridConfig struct {
	APIKey        string `yaml:"api_key"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// SendGridProvider delivers email through SendGrid. Metadata travels as
// custom args, which SendGrid repeats as top-level keys on event callbacks.
type SendGridProvider struct {
	Client        SendGridClient
	WebhookSecret string
}

func NewSendGridProvider(cfg SendGridConfig) *SendGridProvider {
	return &SendGridProvider{
		Client:        sendgrid.NewSendClient(cfg.APIKey),
		WebhookSecret: cfg.WebhookSecret,
	}
}

func (p *SendGridProvider) Name() string           { return SendGridName }
func (p *SendGridProvider) Channel() model.Channel { return model.ChannelEmail }

func (p *SendGridProvider) Send(ctx context.Context, msg Outbound) (SendResult, error) {
	if strings.TrimSpace(msg.To) == "" {
		return SendResult{}, appErrors.NewProviderError(SendGridName, false, fmt.Errorf("missing recipient"))
	}

	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail(msg.FromName, msg.From))
	message.Subject = msg.Subject

	personalization := mail.NewPersonalization()
	personalization.AddTos(mail.NewEmail("", msg.To))
	for k, v := range msg.Metadata {
		personalization.SetCustomArg(k, v)
	}
	message.AddPersonalizations(personalization)
	message.AddContent(mail.NewContent("text/plain", msg.Body))

	tracking := mail.NewTrackingSettings()
	tracking.SetClickTracking(mail.NewClickTrackingSetting().SetEnable(msg.TrackingEnabled))
	tracking.SetOpenTracking(mail.NewOpenTrackingSetting().SetEnable(msg.TrackingEnabled))
	message.SetTrackingSettings(tracking)

	resp, err := p.Client.SendWithContext(ctx, message)
	if err != nil {
		return SendResult{}, appErrors.NewProviderError(SendGridName, true, fmt.Errorf("sendgrid send error: %w", err))
	}
	if resp.StatusCode >= 400 {
		perr := appErrors.NewProviderError(SendGridName, retryableStatus(resp.StatusCode),
			fmt.Errorf("sendgrid API error: %d %s", resp.StatusCode, resp.Body))
		perr.StatusCode = resp.StatusCode
		return SendResult{}, perr
	}

	return SendResult{ProviderMessageID: headerFirst(resp.Headers, "X-Message-Id")}, nil
}

func (p *SendGridProvider) VerifyWebhook(req InboundRequest) bool {
	if req.Headers == nil {
		return false
	}
	return VerifyHMAC(p.WebhookSecret, req.Body, req.Headers.Get(SendGridSignatureHeader))
}

// SplitWebhook breaks SendGrid's event array into one request per event.
// A single JSON object is accepted as a batch of one.
func (p *SendGridProvider) SplitWebhook(req InboundRequest) ([]InboundRequest, error) {
	body := strings.TrimSpace(string(req.Body))
	if !strings.HasPrefix(body, "[") {
		return []InboundRequest{req}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(req.Body, &items); err != nil {
		return nil, fmt.Errorf("sendgrid: decode event batch: %w", err)
	}
	out := make([]InboundRequest, 0, len(items))
	for _, item := range items {
		sub := req
		sub.Body = item
		out = append(out, sub)
	}
	return out, nil
}

var sendGridEvents = map[string]model.EventType{
	"processed":         model.EventSent,
	"delivered":         model.EventDelivered,
	"open":              model.EventOpened,
	"click":             model.EventClicked,
	"bounce":            model.EventBounced,
	"dropped":           model.EventBounced,
	"spamreport":        model.EventComplained,
	"unsubscribe":       model.EventUnsubscribed,
	"group_unsubscribe": model.EventUnsubscribed,
}

// Keys SendGrid itself sets on an event; everything else that is a string is
// one of our custom args.
var sendGridReserved = map[string]struct{}{
	"email": {}, "timestamp": {}, "event": {}, "sg_message_id": {}, "sg_event_id": {},
	"smtp-id": {}, "category": {}, "reason": {}, "status": {}, "response": {},
	"attempt": {}, "useragent": {}, "ip": {}, "url": {}, "url_offset": {}, "type": {},
	"tls": {}, "cert_err": {}, "asm_group_id": {}, "marketing_campaign_id": {},
	"marketing_campaign_name": {}, "sg_machine_open": {}, "bounce_classification": {},
	"pool": {}, "send_at": {},
}

func (p *SendGridProvider) ParseWebhookEvent(req InboundRequest) (*CanonicalEvent, error) {
	var raw map[string]any
	if err := json.Unmarshal(req.Body, &raw); err != nil {
		return nil, fmt.Errorf("sendgrid: decode event: %w", err)
	}
	name, _ := raw["event"].(string)
	typ, ok := sendGridEvents[name]
	if !ok {
		return nil, nil
	}

	ev := &CanonicalEvent{
		Type:     typ,
		Metadata: map[string]string{},
	}
	ev.Recipient, _ = raw["email"].(string)
	if id, ok := raw["sg_message_id"].(string); ok {
		ev.ProviderMessageID = sendGridMessageID(id)
	}
	if ts, ok := raw["timestamp"].(float64); ok && ts > 0 {
		ev.OccurredAt = time.Unix(int64(ts), 0).UTC()
	}
	for k, v := range raw {
		if _, reserved := sendGridReserved[k]; reserved {
			continue
		}
		if s, ok := v.(string); ok {
			ev.Metadata[k] = s
		}
	}
	return ev, nil
}

// sendGridMessageID trims the filter suffix SendGrid appends to the id it
// returned in X-Message-Id.
func sendGridMessageID(id string) string {
	if i := strings.IndexByte(id, '.'); i > 0 {
		return id[:i]
	}
	return id
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func headerFirst(headers map[string][]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}
