package service

import (
	"context"
	"strconv"

	"github.com/unclebandit/followup-engine/internal/model"
	"github.com/unclebandit/followup-engine/internal/tokens"
)

// TokenValues builds the substitution map for one prospect. Only tokens with a
// non-empty value are included, so anything unknown stays literal.
func TokenValues(p *model.Prospect, seq *model.Sequence, sender *model.SenderConfig) map[string]string {
	values := map[string]string{}
	set := func(token, v string) {
		if v != "" {
			values[token] = v
		}
	}
	if p != nil {
		set(tokens.FirstName, p.FirstName)
		if p.WatchPct != nil {
			set(tokens.WatchPct, strconv.Itoa(*p.WatchPct))
		}
		if p.MinutesWatched != nil {
			set(tokens.Minutes, strconv.Itoa(*p.MinutesWatched))
		}
		set(tokens.ChallengeNotes, p.ChallengeNotes)
		set(tokens.GoalNotes, p.GoalNotes)
	}
	if seq != nil {
		set(tokens.OfferLink, seq.OfferLink)
		set(tokens.ReplayLink, seq.ReplayLink)
		set(tokens.BookingLink, seq.BookingLink)
		if seq.Context != nil {
			set(tokens.OfferTitle, seq.Context.Offer.Name)
		}
	}
	if sender != nil {
		set(tokens.SenderName, sender.Name)
	}
	return values
}

// Rendered is a message after token substitution.
type Rendered struct {
	MessageID  int64         `json:"message_id"`
	ProspectID int64         `json:"prospect_id"`
	Channel    model.Channel `json:"channel"`
	Subject    string        `json:"subject,omitempty"`
	Body       string        `json:"body"`
	CTA        string        `json:"cta"`
	// Unresolved lists tokens left in the output because no value was known.
	Unresolved []string `json:"unresolved_tokens"`
}

func render(m *model.MessageTemplate, p *model.Prospect, seq *model.Sequence, sender *model.SenderConfig) Rendered {
	values := TokenValues(p, seq, sender)
	r := Rendered{
		MessageID:  m.ID,
		ProspectID: p.ID,
		Channel:    m.Channel,
		Subject:    tokens.Interpolate(m.Subject, values),
		Body:       tokens.Interpolate(m.Body, values),
		CTA:        m.CTA,
	}
	r.Unresolved = tokens.Unresolved(r.Subject + "\n" + r.Body)
	if r.Unresolved == nil {
		r.Unresolved = []string{}
	}
	return r
}

// Preview renders a message for a prospect without sending anything.
func (d *Dispatcher) Preview(ctx context.Context, principal string, messageID, prospectID int64) (*Rendered, error) {
	if err := d.Ownership.Require(ctx, principal, MessageResource(messageID)); err != nil {
		return nil, err
	}
	if err := d.Ownership.Require(ctx, principal, ProspectResource(prospectID)); err != nil {
		return nil, err
	}
	m, p, seq, sender, err := d.load(ctx, messageID, prospectID)
	if err != nil {
		return nil, err
	}
	r := render(m, p, seq, sender)
	return &r, nil
}
