package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipcourse/credits-service/internal/domain"
)

func TestSettle(t *testing.T) {
	ctx := context.Background()

	t.Run("appends record without touching the balance", func(t *testing.T) {
		svc, store, _ := newTestService(t, nil)
		ownerID := uuid.New()
		seedWallet(t, store, ownerID, "7", testStart)

		res, err := svc.Settle(ctx, SettleRequest{
			OwnerID:        ownerID,
			Amount:         decimal.NewFromInt(3),
			IdempotencyKey: "settle-1",
			ReasonCode:     "video_generation",
		})
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, res.LedgerID)

		// The debit happened at hold time; settlement is audit only.
		assert.True(t, storedBalance(t, store, ownerID).Equal(decimal.NewFromInt(7)))

		entries, _, err := store.ListByOwner(ctx, ownerID, 10, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, domain.EntryTypeSettle, entries[0].EntryType)
		assert.True(t, entries[0].Delta.IsZero())
		assert.Equal(t, "3", entries[0].Metadata["settled_amount"])
	})

	t.Run("retry with same key returns original entry", func(t *testing.T) {
		svc, store, _ := newTestService(t, nil)
		ownerID := uuid.New()

		first, err := svc.Settle(ctx, SettleRequest{
			OwnerID:        ownerID,
			Amount:         decimal.NewFromInt(3),
			IdempotencyKey: "settle-2",
		})
		require.NoError(t, err)

		second, err := svc.Settle(ctx, SettleRequest{
			OwnerID:        ownerID,
			Amount:         decimal.NewFromInt(3),
			IdempotencyKey: "settle-2",
		})
		require.NoError(t, err)

		assert.Equal(t, first.LedgerID, second.LedgerID)
		assert.Equal(t, 1, countEntries(t, store, ownerID, domain.EntryTypeSettle))
	})

	t.Run("key already used for a hold is rejected", func(t *testing.T) {
		svc, _, _ := newTestService(t, nil)
		ownerID := uuid.New()

		_, err := svc.Reserve(ctx, ReserveRequest{
			OwnerID:        ownerID,
			Amount:         decimal.NewFromInt(2),
			IdempotencyKey: "shared-key",
		})
		require.NoError(t, err)

		_, err = svc.Settle(ctx, SettleRequest{
			OwnerID:        ownerID,
			Amount:         decimal.NewFromInt(2),
			IdempotencyKey: "shared-key",
		})
		assert.ErrorIs(t, err, domain.ErrIdempotencyReuse)
	})

	t.Run("validation", func(t *testing.T) {
		svc, _, _ := newTestService(t, nil)

		_, err := svc.Settle(ctx, SettleRequest{
			OwnerID:        uuid.New(),
			Amount:         decimal.NewFromInt(1),
			IdempotencyKey: "",
		})
		assert.ErrorIs(t, err, domain.ErrMissingIdempotencyKey)
	})
}
