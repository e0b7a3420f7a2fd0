package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/followup-engine/internal/errors"
	"github.com/unclebandit/followup-engine/internal/generator"
	"github.com/unclebandit/followup-engine/internal/model"
)

func newSequenceService(f *fixture) *SequenceService {
	s := f.store
	return &SequenceService{
		Senders:    fakeSenders{s},
		Sequences:  fakeSequences{s},
		Messages:   fakeMessages{s},
		Deliveries: fakeDeliveries{s},
		Events:     fakeEvents{s},
		Generator: &generator.Generator{
			Sequences: fakeSequences{s},
			Messages:  fakeMessages{s},
			Content:   generator.TemplateContent{},
		},
		Ownership: f.ownership,
		Timeout:   time.Second,
	}
}

type ownerErrRepo struct{ fakeOwnership }

func (ownerErrRepo) SequenceOwner(context.Context, int64) (string, error) {
	return "", errors.New("connection refused")
}

func TestOwnershipRequire(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	assert.NoError(t, f.ownership.Require(ctx, principal, SequenceResource(f.sequence.ID)))
	assert.NoError(t, f.ownership.Require(ctx, principal, MessageResource(f.message.ID)))
	assert.NoError(t, f.ownership.Require(ctx, principal, ProspectResource(f.prospect.ID)))

	d := sent(t, f)
	assert.NoError(t, f.ownership.Require(ctx, principal, DeliveryResource(d.ID)))

	assert.True(t, appErrors.IsUnauthorized(f.ownership.Require(ctx, "acct-2", DeliveryResource(d.ID))))
	assert.True(t, appErrors.IsUnauthorized(f.ownership.Require(ctx, "", SequenceResource(f.sequence.ID))))
	// A missing resource is indistinguishable from someone else's.
	assert.True(t, appErrors.IsUnauthorized(f.ownership.Require(ctx, principal, MessageResource(777))))

	broken := &Ownership{Repo: ownerErrRepo{fakeOwnership{f.store}}}
	err := broken.Require(ctx, principal, SequenceResource(f.sequence.ID))
	require.Error(t, err)
	assert.False(t, appErrors.IsUnauthorized(err))
}

func TestSequenceServiceGenerate(t *testing.T) {
	f := newFixture()
	svc := newSequenceService(f)
	gc := model.GenerationContext{
		Count:         4,
		DeadlineHours: 72,
		Offer:         model.Offer{Name: "Scale Academy", Price: 997},
		Webinar:       model.Webinar{Title: "Scaling Without Burnout"},
	}

	_, err := svc.Generate(context.Background(), "acct-2", f.sequence.ID, gc)
	assert.True(t, appErrors.IsUnauthorized(err))

	res, err := svc.Generate(context.Background(), principal, f.sequence.ID, gc)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Messages, 4)
	for i, m := range res.Messages {
		assert.Equal(t, i+1, m.Position)
	}

	seq, err := fakeSequences{f.store}.GetByID(context.Background(), f.sequence.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, seq.TotalMessages)
	assert.Equal(t, 72, seq.DeadlineHours)
}

func TestSequenceServiceGenerateKeepsSlotsWhenBookkeepingFails(t *testing.T) {
	f := newFixture()
	f.store.compactErr = errors.New("connection reset")
	svc := newSequenceService(f)
	gc := model.GenerationContext{
		Count:         3,
		DeadlineHours: 24,
		Offer:         model.Offer{Name: "Scale Academy", Price: 997},
		Webinar:       model.Webinar{Title: "Scaling Without Burnout"},
	}

	res, err := svc.Generate(context.Background(), principal, f.sequence.ID, gc)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Len(t, res.Messages, 3)
	assert.Empty(t, res.Errors)
}

func TestSequenceServiceArchive(t *testing.T) {
	f := newFixture()
	svc := newSequenceService(f)

	seq, err := svc.Archive(context.Background(), principal, f.sequence.ID)
	require.NoError(t, err)
	require.NotNil(t, seq.ArchivedAt)
	first := *seq.ArchivedAt

	again, err := svc.Archive(context.Background(), principal, f.sequence.ID)
	require.NoError(t, err)
	assert.True(t, first.Equal(*again.ArchivedAt))

	_, err = svc.Regenerate(context.Background(), principal, f.message.ID, "", "")
	assert.True(t, appErrors.IsPermanent(err))

	_, err = svc.Archive(context.Background(), "acct-2", f.sequence.ID)
	assert.True(t, appErrors.IsUnauthorized(err))
}

func TestSequenceServiceRegenerate(t *testing.T) {
	f := newFixture()
	svc := newSequenceService(f)

	m, err := svc.Regenerate(context.Background(), principal, f.message.ID, generator.TemplateUrgency, "")
	require.NoError(t, err)
	assert.Equal(t, generator.TemplateUrgency, m.TemplateType)
	assert.NotEmpty(t, m.Body)

	_, err = svc.Regenerate(context.Background(), "acct-2", f.message.ID, "", "")
	assert.True(t, appErrors.IsUnauthorized(err))
}

func TestSequenceServiceDetailStats(t *testing.T) {
	f := newFixture()
	svc := newSequenceService(f)

	opened := sent(t, f)
	bounced := sent(t, f)
	f.email.sendErr = appErrors.NewProviderError("fakemail", false, errors.New("rejected"))
	_, err := f.dispatcher.Dispatch(context.Background(), f.message.ID, f.prospect.ID)
	require.Error(t, err)

	for _, cb := range []fakeCallback{
		{Type: "delivered", DeliveryID: opened.ID},
		{Type: "opened", DeliveryID: opened.ID},
		{Type: "bounced", DeliveryID: bounced.ID},
		{Type: "opened", DeliveryID: bounced.ID},
	} {
		f.reconciler.Reconcile(context.Background(), callback(t, "fakemail", cb))
	}

	detail, err := svc.Detail(context.Background(), principal, f.sequence.ID)
	require.NoError(t, err)
	assert.Equal(t, f.sequence.ID, detail.Sequence.ID)
	require.Len(t, detail.Messages, 1)
	assert.Equal(t, 3, detail.Stats["total"])
	assert.Equal(t, 1, detail.Stats["opened"])
	assert.Equal(t, 1, detail.Stats["bounced"])
	assert.Equal(t, 1, detail.Stats["failed"])
	assert.Equal(t, 0, detail.Stats["clicked"])

	_, err = svc.Detail(context.Background(), "acct-2", f.sequence.ID)
	assert.True(t, appErrors.IsUnauthorized(err))
}

func TestDeliveryQueryDerivesStatus(t *testing.T) {
	f := newFixture()
	q := &DeliveryQuery{Deliveries: fakeDeliveries{f.store}, Events: fakeEvents{f.store}, Ownership: f.ownership}
	d := sent(t, f)

	view, err := q.Get(context.Background(), principal, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, view.Status)
	assert.Empty(t, view.Events)

	f.reconciler.Reconcile(context.Background(), callback(t, "fakemail", fakeCallback{Type: "clicked", DeliveryID: d.ID}))
	view, err = q.Get(context.Background(), principal, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusClicked, view.Status)
	require.Len(t, view.Events, 1)

	_, err = q.Get(context.Background(), "acct-2", d.ID)
	assert.True(t, appErrors.IsUnauthorized(err))
}

func TestSequenceServiceListBySender(t *testing.T) {
	f := newFixture()
	svc := newSequenceService(f)
	archived := f.store.addSequence(f.sender.ID)
	now := time.Now()
	archived.ArchivedAt = &now

	seqs, err := svc.ListBySender(context.Background(), principal, f.sender.ID, false)
	require.NoError(t, err)
	require.Len(t, seqs, 1)
	assert.Equal(t, f.sequence.ID, seqs[0].ID)

	seqs, err = svc.ListBySender(context.Background(), principal, f.sender.ID, true)
	require.NoError(t, err)
	assert.Len(t, seqs, 2)

	_, err = svc.ListBySender(context.Background(), "acct-2", f.sender.ID, false)
	assert.True(t, appErrors.IsUnauthorized(err))
	_, err = svc.ListBySender(context.Background(), principal, 9999, false)
	assert.True(t, appErrors.IsUnauthorized(err))
}
