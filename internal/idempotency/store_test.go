package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreKeepsFirstResponse(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	ctx := context.Background()

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Save(ctx, "k", Response{Status: 200, Body: []byte("first")}))
	require.NoError(t, s.Save(ctx, "k", Response{Status: 200, Body: []byte("second")}))

	got, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "first", string(got.Body))
}

func TestMemoryStoreExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(time.Minute)
	s.Now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "k", Response{Status: 200}))
	now = now.Add(2 * time.Minute)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}
