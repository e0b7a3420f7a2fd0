package channel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	appErrors "github.com/unclebandit/followup-engine/internal/errors"
	"github.com/unclebandit/followup-engine/internal/model"
)

const (
	TwilioName            = "twilio"
	TwilioSignatureHeader = "X-Twilio-Signature"
)

// TwilioMessenger is the subset of the Twilio REST API used for sends.
type TwilioMessenger interface {
	CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error)
}

type TwilioConfig struct {
	AccountSID    string        `yaml:"account_sid"`
	AuthToken     string        `yaml:"auth_token"`
	DefaultRegion string        `yaml:"default_region"`
	Timeout       time.Duration `yaml:"timeout"`
}

// TwilioProvider delivers SMS through Twilio. Twilio does not echo arbitrary
// data, so metadata rides in the StatusCallback query string and is read back
// from the callback URL.
type TwilioProvider struct {
	Messenger     TwilioMessenger
	AuthToken     string
	CallbackURL   string
	DefaultRegion string

	// HTTPTimeout is the timeout set on the REST client. When positive, Send
	// waits for the outcome of a call that outlives ctx.
	HTTPTimeout time.Duration
	Now         func() time.Time
}

func NewTwilioProvider(cfg TwilioConfig, callbackURL string) *TwilioProvider {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	if cfg.Timeout > 0 {
		rest.SetTimeout(cfg.Timeout)
	}
	return &TwilioProvider{
		Messenger:     rest.Api,
		AuthToken:     cfg.AuthToken,
		CallbackURL:   callbackURL,
		DefaultRegion: cfg.DefaultRegion,
		HTTPTimeout:   cfg.Timeout,
	}
}

func (p *TwilioProvider) Name() string           { return TwilioName }
func (p *TwilioProvider) Channel() model.Channel { return model.ChannelSMS }

type twilioResult struct {
	msg *api.ApiV2010Message
	err error
}

// Send creates the message. The Twilio client takes no context, so the call
// runs in its own goroutine. Without an HTTP timeout ctx bounds the wait and
// an expired ctx is reported as retryable. With one, the call is already
// bounded, so Send waits for its real outcome: a message Twilio accepted
// after the deadline is reported as sent and never dispatched twice.
func (p *TwilioProvider) Send(ctx context.Context, msg Outbound) (SendResult, error) {
	to, err := NormalizePhone(msg.To, p.DefaultRegion)
	if err != nil {
		return SendResult{}, appErrors.NewProviderError(TwilioName, false, err)
	}

	params := &api.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(msg.From)
	params.SetBody(msg.Body)
	if cb := p.statusCallback(msg.Metadata); cb != "" {
		params.SetStatusCallback(cb)
	}

	done := make(chan twilioResult, 1)
	go func() {
		m, err := p.Messenger.CreateMessage(params)
		done <- twilioResult{msg: m, err: err}
	}()

	select {
	case <-ctx.Done():
		if p.HTTPTimeout <= 0 {
			return SendResult{}, appErrors.NewProviderError(TwilioName, true, fmt.Errorf("twilio send: %w", ctx.Err()))
		}
		return twilioOutcome(<-done)
	case res := <-done:
		return twilioOutcome(res)
	}
}

func twilioOutcome(res twilioResult) (SendResult, error) {
	if res.err != nil {
		return SendResult{}, classifyTwilioError(res.err)
	}
	if res.msg == nil || res.msg.Sid == nil {
		return SendResult{}, appErrors.NewProviderError(TwilioName, true, fmt.Errorf("twilio returned no message sid"))
	}
	return SendResult{ProviderMessageID: *res.msg.Sid}, nil
}

func classifyTwilioError(err error) error {
	var restErr *twclient.TwilioRestError
	if errors.As(err, &restErr) {
		perr := appErrors.NewProviderError(TwilioName, retryableStatus(restErr.Status), err)
		perr.StatusCode = restErr.Status
		return perr
	}
	return appErrors.NewProviderError(TwilioName, true, err)
}

func (p *TwilioProvider) statusCallback(metadata map[string]string) string {
	if p.CallbackURL == "" {
		return ""
	}
	if len(metadata) == 0 {
		return p.CallbackURL
	}
	q := url.Values{}
	for k, v := range metadata {
		q.Set(k, v)
	}
	sep := "?"
	if strings.Contains(p.CallbackURL, "?") {
		sep = "&"
	}
	return p.CallbackURL + sep + q.Encode()
}

// VerifyWebhook checks X-Twilio-Signature over the full callback URL and the
// posted form parameters.
func (p *TwilioProvider) VerifyWebhook(req InboundRequest) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if req.Headers == nil || strings.TrimSpace(p.AuthToken) == "" || req.URL == "" {
		return false
	}
	signature := strings.TrimSpace(req.Headers.Get(TwilioSignatureHeader))
	if signature == "" {
		return false
	}
	form, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return false
	}
	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}
	validator := twclient.NewRequestValidator(p.AuthToken)
	return validator.Validate(req.URL, params, signature)
}

var twilioStatuses = map[string]model.EventType{
	"sent":        model.EventSent,
	"delivered":   model.EventDelivered,
	"read":        model.EventOpened,
	"undelivered": model.EventBounced,
	"failed":      model.EventBounced,
}

// ParseWebhookEvent reads a form-encoded status callback. Twilio sends no
// event timestamp, so OccurredAt is the receipt time.
func (p *TwilioProvider) ParseWebhookEvent(req InboundRequest) (*CanonicalEvent, error) {
	form, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return nil, fmt.Errorf("twilio: decode status callback: %w", err)
	}
	typ, ok := twilioStatuses[strings.ToLower(form.Get("MessageStatus"))]
	if !ok {
		return nil, nil
	}

	ev := &CanonicalEvent{
		Type:              typ,
		Recipient:         form.Get("To"),
		ProviderMessageID: form.Get("MessageSid"),
		OccurredAt:        p.now(),
		Metadata:          map[string]string{},
	}
	if u, err := url.Parse(req.URL); err == nil {
		for k := range u.Query() {
			ev.Metadata[k] = u.Query().Get(k)
		}
	}
	return ev, nil
}

func (p *TwilioProvider) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}
