package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/unclebandit/followup-engine/internal/channel"
	appErrors "github.com/unclebandit/followup-engine/internal/errors"
	"github.com/unclebandit/followup-engine/internal/model"
)

// store is an in-memory stand-in for the SQL schema, shared by the fake
// repositories below.
type store struct {
	mu         sync.Mutex
	senders    map[int64]*model.SenderConfig
	sequences  map[int64]*model.Sequence
	messages   map[int64]*model.MessageTemplate
	prospects  map[int64]*model.Prospect
	deliveries map[string]*model.Delivery
	events     []model.Event
	nextID     int64
	nextSeq    int64
	appendErr  error
	compactErr error
}

func newStore() *store {
	return &store{
		senders:    map[int64]*model.SenderConfig{},
		sequences:  map[int64]*model.Sequence{},
		messages:   map[int64]*model.MessageTemplate{},
		prospects:  map[int64]*model.Prospect{},
		deliveries: map[string]*model.Delivery{},
		nextID:     100,
	}
}

func (s *store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *store) addSender(principal string) *model.SenderConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &model.SenderConfig{ID: s.id(), PrincipalID: principal, Name: "Dana", FromEmail: "dana@example.com", FromPhone: "+15550001111"}
	s.senders[c.ID] = c
	return c
}

func (s *store) addSequence(senderID int64) *model.Sequence {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := &model.Sequence{
		ID:             s.id(),
		SenderConfigID: senderID,
		Name:           "Webinar follow-up",
		OfferLink:      "https://example.com/offer",
		Context: &model.GenerationContext{
			Count:         3,
			DeadlineHours: 48,
			Offer:         model.Offer{Name: "Scale Academy", Price: 997},
			Webinar:       model.Webinar{Title: "Scaling Without Burnout"},
		},
	}
	s.sequences[seq.ID] = seq
	return seq
}

func (s *store) addMessage(sequenceID int64, ch model.Channel, subject, body string) *model.MessageTemplate {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &model.MessageTemplate{
		ID:           s.id(),
		SequenceID:   sequenceID,
		Channel:      ch,
		Subject:      subject,
		Body:         body,
		TemplateType: "value",
		Segment:      "all",
	}
	n := 1
	for _, other := range s.messages {
		if other.SequenceID == sequenceID {
			n++
		}
	}
	m.Position = n
	s.messages[m.ID] = m
	return m
}

func (s *store) addProspect(senderID int64, email, phone string) *model.Prospect {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &model.Prospect{ID: s.id(), SenderConfigID: senderID, Email: email, Phone: phone, FirstName: "Sam", Segment: "all"}
	s.prospects[p.ID] = p
	return p
}

func (s *store) deliveryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deliveries)
}

func (s *store) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type fakeSenders struct{ s *store }

func (f fakeSenders) Create(_ context.Context, c *model.SenderConfig) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	c.ID = f.s.id()
	f.s.senders[c.ID] = c
	return nil
}

func (f fakeSenders) GetByID(_ context.Context, id int64) (*model.SenderConfig, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	c, ok := f.s.senders[id]
	if !ok {
		return nil, appErrors.NotFound("sender config", id)
	}
	cp := *c
	return &cp, nil
}

type fakeSequences struct{ s *store }

func (f fakeSequences) Create(_ context.Context, seq *model.Sequence) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	seq.ID = f.s.id()
	f.s.sequences[seq.ID] = seq
	return nil
}

func (f fakeSequences) GetByID(_ context.Context, id int64) (*model.Sequence, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	seq, ok := f.s.sequences[id]
	if !ok {
		return nil, appErrors.NotFound("sequence", id)
	}
	cp := *seq
	return &cp, nil
}

func (f fakeSequences) ListBySender(_ context.Context, senderID int64, includeArchived bool) ([]*model.Sequence, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*model.Sequence
	for _, seq := range f.s.sequences {
		if seq.SenderConfigID == senderID && (includeArchived || seq.ArchivedAt == nil) {
			cp := *seq
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f fakeSequences) SaveContext(_ context.Context, id int64, gc model.GenerationContext) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	seq, ok := f.s.sequences[id]
	if !ok {
		return appErrors.NotFound("sequence", id)
	}
	seq.Context = &gc
	seq.Segments = gc.Segments
	seq.DeadlineHours = gc.DeadlineHours
	return nil
}

func (f fakeSequences) UpdateTotal(_ context.Context, id int64, total int) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	seq, ok := f.s.sequences[id]
	if !ok {
		return appErrors.NotFound("sequence", id)
	}
	seq.TotalMessages = total
	return nil
}

func (f fakeSequences) Archive(_ context.Context, id int64) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	seq, ok := f.s.sequences[id]
	if !ok {
		return appErrors.NotFound("sequence", id)
	}
	if seq.ArchivedAt == nil {
		now := time.Now().UTC()
		seq.ArchivedAt = &now
	}
	return nil
}

type fakeMessages struct{ s *store }

func (f fakeMessages) Upsert(_ context.Context, m *model.MessageTemplate) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, existing := range f.s.messages {
		if existing.SequenceID == m.SequenceID && existing.Position == m.Position && existing.RetiredAt == nil {
			m.ID = existing.ID
			cp := *m
			f.s.messages[m.ID] = &cp
			return nil
		}
	}
	m.ID = f.s.id()
	cp := *m
	f.s.messages[m.ID] = &cp
	return nil
}

func (f fakeMessages) GetByID(_ context.Context, id int64) (*model.MessageTemplate, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	m, ok := f.s.messages[id]
	if !ok {
		return nil, appErrors.NotFound("message", id)
	}
	cp := *m
	return &cp, nil
}

func (f fakeMessages) ListBySequence(_ context.Context, sequenceID int64) ([]*model.MessageTemplate, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*model.MessageTemplate
	for _, m := range f.s.messages {
		if m.SequenceID == sequenceID && m.RetiredAt == nil {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (f fakeMessages) UpdateContent(_ context.Context, m *model.MessageTemplate) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	existing, ok := f.s.messages[m.ID]
	if !ok {
		return appErrors.NotFound("message", m.ID)
	}
	existing.Subject, existing.Body, existing.CTA = m.Subject, m.Body, m.CTA
	existing.TemplateType, existing.Segment = m.TemplateType, m.Segment
	return nil
}

func (f fakeMessages) Compact(_ context.Context, sequenceID int64, keep []int64) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.compactErr != nil {
		return f.s.compactErr
	}
	kept := map[int64]bool{}
	for _, id := range keep {
		kept[id] = true
	}
	sent := map[int64]bool{}
	for _, d := range f.s.deliveries {
		sent[d.MessageID] = true
	}
	var rows []*model.MessageTemplate
	for id, m := range f.s.messages {
		if m.SequenceID != sequenceID || m.RetiredAt != nil {
			continue
		}
		if !kept[id] {
			if sent[id] {
				now := time.Now().UTC()
				m.RetiredAt = &now
			} else {
				delete(f.s.messages, id)
			}
			continue
		}
		rows = append(rows, m)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Position < rows[j].Position })
	for i, m := range rows {
		m.Position = i + 1
	}
	return nil
}

type fakeProspects struct{ s *store }

func (f fakeProspects) Create(_ context.Context, p *model.Prospect) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p.ID = f.s.id()
	f.s.prospects[p.ID] = p
	return nil
}

func (f fakeProspects) GetByID(_ context.Context, id int64) (*model.Prospect, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.prospects[id]
	if !ok {
		return nil, appErrors.NotFound("prospect", id)
	}
	cp := *p
	return &cp, nil
}

func (f fakeProspects) ListBySender(_ context.Context, senderID int64) ([]model.Prospect, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []model.Prospect
	for _, p := range f.s.prospects {
		if p.SenderConfigID == senderID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f fakeProspects) MarkUnsubscribed(_ context.Context, id int64) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.prospects[id]
	if !ok {
		return appErrors.NotFound("prospect", id)
	}
	if !p.Unsubscribed {
		now := time.Now().UTC()
		p.Unsubscribed = true
		p.UnsubscribedAt = &now
	}
	return nil
}

type fakeDeliveries struct{ s *store }

func (f fakeDeliveries) Create(_ context.Context, d *model.Delivery) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, dup := f.s.deliveries[d.ID]; dup {
		return errors.New("duplicate delivery id")
	}
	cp := *d
	f.s.deliveries[d.ID] = &cp
	return nil
}

func (f fakeDeliveries) GetByID(_ context.Context, id string) (*model.Delivery, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	d, ok := f.s.deliveries[id]
	if !ok {
		return nil, appErrors.NotFound("delivery", id)
	}
	cp := *d
	return &cp, nil
}

func (f fakeDeliveries) FindByProviderMessageID(_ context.Context, provider, providerMessageID string) (*model.Delivery, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, d := range f.s.deliveries {
		if d.Provider == provider && d.ProviderMessageID == providerMessageID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, appErrors.NotFound("delivery", providerMessageID)
}

func (f fakeDeliveries) ListBySequence(_ context.Context, sequenceID int64) ([]*model.Delivery, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*model.Delivery
	for _, d := range f.s.deliveries {
		if m, ok := f.s.messages[d.MessageID]; ok && m.SequenceID == sequenceID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f fakeDeliveries) TouchLastEventAt(_ context.Context, id string, at time.Time) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	d, ok := f.s.deliveries[id]
	if !ok {
		return appErrors.NotFound("delivery", id)
	}
	if d.LastEventAt == nil || at.After(*d.LastEventAt) {
		t := at
		d.LastEventAt = &t
	}
	return nil
}

type fakeEvents struct{ s *store }

func (f fakeEvents) Append(_ context.Context, e *model.Event) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.appendErr != nil {
		return f.s.appendErr
	}
	f.s.nextSeq++
	e.Seq = f.s.nextSeq
	f.s.events = append(f.s.events, *e)
	return nil
}

func (f fakeEvents) ListByDelivery(_ context.Context, deliveryID string) ([]model.Event, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []model.Event
	for _, e := range f.s.events {
		if e.DeliveryID == deliveryID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f fakeEvents) ListBySequence(_ context.Context, sequenceID int64) ([]model.Event, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []model.Event
	for _, e := range f.s.events {
		d, ok := f.s.deliveries[e.DeliveryID]
		if !ok {
			continue
		}
		if m, ok := f.s.messages[d.MessageID]; ok && m.SequenceID == sequenceID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeOwnership struct{ s *store }

func (f fakeOwnership) senderOwner(senderID int64) (string, error) {
	c, ok := f.s.senders[senderID]
	if !ok {
		return "", appErrors.NotFound("sender config", senderID)
	}
	return c.PrincipalID, nil
}

func (f fakeOwnership) SequenceOwner(_ context.Context, id int64) (string, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	seq, ok := f.s.sequences[id]
	if !ok {
		return "", appErrors.NotFound("sequence", id)
	}
	return f.senderOwner(seq.SenderConfigID)
}

func (f fakeOwnership) MessageOwner(_ context.Context, id int64) (string, error) {
	f.s.mu.Lock()
	m, ok := f.s.messages[id]
	f.s.mu.Unlock()
	if !ok {
		return "", appErrors.NotFound("message", id)
	}
	return f.SequenceOwner(context.Background(), m.SequenceID)
}

func (f fakeOwnership) DeliveryOwner(_ context.Context, id string) (string, error) {
	f.s.mu.Lock()
	d, ok := f.s.deliveries[id]
	f.s.mu.Unlock()
	if !ok {
		return "", appErrors.NotFound("delivery", id)
	}
	return f.MessageOwner(context.Background(), d.MessageID)
}

func (f fakeOwnership) ProspectOwner(_ context.Context, id int64) (string, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.prospects[id]
	if !ok {
		return "", appErrors.NotFound("prospect", id)
	}
	return f.senderOwner(p.SenderConfigID)
}

// fakeProvider accepts callbacks signed with the header X-Test-Signature: ok
// and a JSON body {"type","delivery_id","provider_message_id","occurred_at"}.
type fakeProvider struct {
	mu      sync.Mutex
	name    string
	channel model.Channel
	sendErr error
	sent    []channel.Outbound
	nextSID int
}

func newFakeProvider(name string, ch model.Channel) *fakeProvider {
	return &fakeProvider{name: name, channel: ch}
}

func (p *fakeProvider) Name() string           { return p.name }
func (p *fakeProvider) Channel() model.Channel { return p.channel }

func (p *fakeProvider) Send(_ context.Context, msg channel.Outbound) (channel.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	if p.sendErr != nil {
		return channel.SendResult{}, p.sendErr
	}
	p.nextSID++
	return channel.SendResult{ProviderMessageID: fmt.Sprintf("%s-msg-%d", p.name, p.nextSID)}, nil
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func (p *fakeProvider) VerifyWebhook(req channel.InboundRequest) bool {
	return req.Headers != nil && req.Headers.Get("X-Test-Signature") == "ok"
}

type fakeCallback struct {
	Type              string    `json:"type"`
	DeliveryID        string    `json:"delivery_id,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func (p *fakeProvider) ParseWebhookEvent(req channel.InboundRequest) (*channel.CanonicalEvent, error) {
	var cb fakeCallback
	if err := json.Unmarshal(req.Body, &cb); err != nil {
		return nil, err
	}
	typ := model.EventType(cb.Type)
	if !typ.Valid() {
		return nil, nil
	}
	ev := &channel.CanonicalEvent{
		Type:              typ,
		ProviderMessageID: cb.ProviderMessageID,
		OccurredAt:        cb.OccurredAt,
		Metadata:          map[string]string{},
	}
	if cb.DeliveryID != "" {
		ev.Metadata[channel.MetadataDeliveryID] = cb.DeliveryID
	}
	return ev, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
	err    error
}

func (s *recordingSink) Publish(_ context.Context, e model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

// fixture wires every service against one store.
type fixture struct {
	store      *store
	email      *fakeProvider
	sms        *fakeProvider
	ownership  *Ownership
	dispatcher *Dispatcher
	reconciler *Reconciler
	sink       *recordingSink
	sender     *model.SenderConfig
	sequence   *model.Sequence
	message    *model.MessageTemplate
	prospect   *model.Prospect
}

const principal = "acct-1"

func newFixture() *fixture {
	s := newStore()
	email := newFakeProvider("fakemail", model.ChannelEmail)
	sms := newFakeProvider("fakesms", model.ChannelSMS)
	registry := channel.NewRegistry(email, sms)
	ownership := &Ownership{Repo: fakeOwnership{s}}
	sink := &recordingSink{}

	ids := 0
	newID := func() string {
		ids++
		return fmt.Sprintf("id-%d", ids)
	}

	f := &fixture{store: s, email: email, sms: sms, ownership: ownership, sink: sink}
	f.dispatcher = &Dispatcher{
		Messages:   fakeMessages{s},
		Sequences:  fakeSequences{s},
		Senders:    fakeSenders{s},
		Prospects:  fakeProspects{s},
		Deliveries: fakeDeliveries{s},
		Providers:  registry,
		Ownership:  ownership,
		NewID:      newID,
	}
	f.reconciler = &Reconciler{
		Providers:  registry,
		Deliveries: fakeDeliveries{s},
		Events:     fakeEvents{s},
		Prospects:  fakeProspects{s},
		Sink:       sink,
		NewID:      newID,
	}

	f.sender = s.addSender(principal)
	f.sequence = s.addSequence(f.sender.ID)
	f.message = s.addMessage(f.sequence.ID, model.ChannelEmail, "{first_name}, the replay is up", "Hi {first_name}, grab {offer_title} at {offer_link}.")
	f.prospect = s.addProspect(f.sender.ID, "sam@example.com", "+15551234567")
	return f
}
