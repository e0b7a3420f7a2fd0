package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/followup-engine/internal/errors"
	"github.com/unclebandit/followup-engine/internal/model"
)

func newDelivery(t *testing.T, repo *DeliveryRepository, messageID, prospectID int64, providerID string) *model.Delivery {
	t.Helper()
	d := &model.Delivery{
		ID:                uuid.NewString(),
		MessageID:         messageID,
		ProspectID:        prospectID,
		Channel:           model.ChannelEmail,
		Provider:          "sendgrid",
		ProviderMessageID: providerID,
		Outcome:           model.OutcomeSent,
	}
	require.NoError(t, repo.Create(context.Background(), d))
	return d
}

func TestDeliveryLookups(t *testing.T) {
	db := openTestDB(t)
	f := seedFixture(t, db, "user-1")
	m := insertMessage(t, db, f.sequence.ID, 1)
	repo := &DeliveryRepository{DB: db}
	ctx := context.Background()

	d := newDelivery(t, repo, m.ID, f.prospect.ID, "sg-1")

	got, err := repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSent, got.Outcome)
	assert.Nil(t, got.LastEventAt)

	byProvider, err := repo.FindByProviderMessageID(ctx, "sendgrid", "sg-1")
	require.NoError(t, err)
	assert.Equal(t, d.ID, byProvider.ID)

	_, err = repo.FindByProviderMessageID(ctx, "twilio", "sg-1")
	assert.True(t, appErrors.IsNotFound(err))

	list, err := repo.ListBySequence(ctx, f.sequence.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDeliveryTouchLastEventAtOnlyMovesForward(t *testing.T) {
	db := openTestDB(t)
	f := seedFixture(t, db, "user-1")
	m := insertMessage(t, db, f.sequence.ID, 1)
	repo := &DeliveryRepository{DB: db}
	ctx := context.Background()
	d := newDelivery(t, repo, m.ID, f.prospect.ID, "sg-1")

	later := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	require.NoError(t, repo.TouchLastEventAt(ctx, d.ID, later))
	require.NoError(t, repo.TouchLastEventAt(ctx, d.ID, earlier))

	got, err := repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastEventAt)
	assert.True(t, later.Equal(*got.LastEventAt))

	assert.True(t, appErrors.IsNotFound(repo.TouchLastEventAt(ctx, "missing", later)))
}

func TestEventLogAppendAssignsSeq(t *testing.T) {
	db := openTestDB(t)
	f := seedFixture(t, db, "user-1")
	m := insertMessage(t, db, f.sequence.ID, 1)
	d := newDelivery(t, &DeliveryRepository{DB: db}, m.ID, f.prospect.ID, "sg-1")
	repo := &EventRepository{DB: db}
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, typ := range []model.EventType{model.EventOpened, model.EventDelivered, model.EventOpened} {
		e := &model.Event{
			ID:         uuid.NewString(),
			DeliveryID: d.ID,
			ProspectID: f.prospect.ID,
			Type:       typ,
			Provider:   "sendgrid",
			OccurredAt: at.Add(time.Duration(-i) * time.Minute),
			ReceivedAt: at,
			Metadata:   map[string]any{"delivery_id": d.ID},
		}
		require.NoError(t, repo.Append(ctx, e))
		assert.Positive(t, e.Seq)
	}

	events, err := repo.ListByDelivery(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, model.EventOpened, events[0].Type)
	assert.Equal(t, model.EventDelivered, events[1].Type)
	assert.Less(t, events[0].Seq, events[1].Seq)
	assert.Equal(t, d.ID, events[0].Metadata["delivery_id"])

	bySeq, err := repo.ListBySequence(ctx, f.sequence.ID)
	require.NoError(t, err)
	assert.Len(t, bySeq, 3)
}

func TestProspectMarkUnsubscribedIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	f := seedFixture(t, db, "user-1")
	repo := &ProspectRepository{DB: db}
	ctx := context.Background()

	require.NoError(t, repo.MarkUnsubscribed(ctx, f.prospect.ID))
	first, err := repo.GetByID(ctx, f.prospect.ID)
	require.NoError(t, err)
	assert.True(t, first.Unsubscribed)
	require.NotNil(t, first.UnsubscribedAt)

	require.NoError(t, repo.MarkUnsubscribed(ctx, f.prospect.ID))
	second, err := repo.GetByID(ctx, f.prospect.ID)
	require.NoError(t, err)
	assert.True(t, second.Unsubscribed)
	assert.True(t, first.UnsubscribedAt.Equal(*second.UnsubscribedAt))
}

func TestOwnershipChain(t *testing.T) {
	db := openTestDB(t)
	f := seedFixture(t, db, "user-1")
	m := insertMessage(t, db, f.sequence.ID, 1)
	d := newDelivery(t, &DeliveryRepository{DB: db}, m.ID, f.prospect.ID, "sg-1")
	repo := &OwnershipRepository{DB: db}
	ctx := context.Background()

	owner, err := repo.SequenceOwner(ctx, f.sequence.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", owner)

	owner, err = repo.MessageOwner(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", owner)

	owner, err = repo.DeliveryOwner(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", owner)

	owner, err = repo.ProspectOwner(ctx, f.prospect.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", owner)

	_, err = repo.DeliveryOwner(ctx, "nope")
	assert.True(t, appErrors.IsNotFound(err))
}
