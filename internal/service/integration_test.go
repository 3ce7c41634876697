package service_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipcourse/credits-service/internal/config"
	"github.com/clipcourse/credits-service/internal/domain"
	"github.com/clipcourse/credits-service/internal/repository"
	"github.com/clipcourse/credits-service/internal/service"
	"github.com/clipcourse/credits-service/internal/testutil"
)

func setupCreditService(t *testing.T, db *sql.DB) *service.Service {
	t.Helper()
	return service.NewService(
		repository.NewWalletRepository(db),
		repository.NewLedgerRepository(db),
		&config.Config{
			Capacity:         10,
			SecondsPerCredit: 360,
			InitialBalance:   10,
			MaxAttempts:      10,
		},
	)
}

func TestReserveSettle_HappyPath(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCreditService(t, db)
	ctx := context.Background()

	ownerID := uuid.New()
	testutil.SeedWallet(t, db, ownerID, 10, 10, 0, time.Now())

	res, err := svc.Reserve(ctx, service.ReserveRequest{
		OwnerID:        ownerID,
		Amount:         decimal.NewFromInt(3),
		IdempotencyKey: uuid.NewString(),
		ReasonCode:     "video_generation",
	})
	require.NoError(t, err)
	require.True(t, res.Reserved)

	assert.True(t, testutil.GetWalletBalance(t, db, ownerID).Equal(decimal.NewFromInt(7)))
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, ownerID, domain.EntryTypeHold))

	_, err = svc.Settle(ctx, service.SettleRequest{
		OwnerID:        ownerID,
		Amount:         decimal.NewFromInt(3),
		IdempotencyKey: uuid.NewString(),
		ReasonCode:     "video_generation",
	})
	require.NoError(t, err)

	// Settlement is ledger-only; the balance moved at hold time.
	assert.True(t, testutil.GetWalletBalance(t, db, ownerID).Equal(decimal.NewFromInt(7)))
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, ownerID, domain.EntryTypeSettle))
}

func TestReserve_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCreditService(t, db)
	ctx := context.Background()

	ownerID := uuid.New()
	testutil.SeedWallet(t, db, ownerID, 10, 10, 0, time.Now())
	key := uuid.NewString()

	first, err := svc.Reserve(ctx, service.ReserveRequest{
		OwnerID:        ownerID,
		Amount:         decimal.NewFromInt(3),
		IdempotencyKey: key,
	})
	require.NoError(t, err)

	second, err := svc.Reserve(ctx, service.ReserveRequest{
		OwnerID:        ownerID,
		Amount:         decimal.NewFromInt(3),
		IdempotencyKey: key,
	})
	require.NoError(t, err)

	assert.Equal(t, first.LedgerID, second.LedgerID)
	assert.True(t, testutil.GetWalletBalance(t, db, ownerID).Equal(decimal.NewFromInt(7)),
		"retried reserve must debit once")
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, ownerID, domain.EntryTypeHold))
}

func TestReserve_InsufficientBalance(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCreditService(t, db)
	ctx := context.Background()

	ownerID := uuid.New()
	testutil.SeedWallet(t, db, ownerID, 2, 10, 0, time.Now())

	res, err := svc.Reserve(ctx, service.ReserveRequest{
		OwnerID:        ownerID,
		Amount:         decimal.NewFromInt(5),
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)

	assert.False(t, res.Reserved)
	assert.True(t, res.Required.Equal(decimal.NewFromInt(5)))
	assert.True(t, testutil.GetWalletBalance(t, db, ownerID).Equal(decimal.NewFromInt(2)))
	assert.Equal(t, 0, testutil.CountLedgerEntries(t, db, ownerID, domain.EntryTypeHold))
}

func TestRefund_RestoresBalanceCapped(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCreditService(t, db)
	ctx := context.Background()

	ownerID := uuid.New()
	testutil.SeedWallet(t, db, ownerID, 10, 10, 0, time.Now())

	_, err := svc.Reserve(ctx, service.ReserveRequest{
		OwnerID:        ownerID,
		Amount:         decimal.NewFromInt(3),
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)

	_, err = svc.Refund(ctx, service.RefundRequest{
		OwnerID:        ownerID,
		Amount:         decimal.NewFromInt(3),
		IdempotencyKey: uuid.NewString(),
		ReasonCode:     "generation_failed",
	})
	require.NoError(t, err)
	assert.True(t, testutil.GetWalletBalance(t, db, ownerID).Equal(decimal.NewFromInt(10)))

	// A further credit cannot push the bucket above capacity.
	_, err = svc.Refund(ctx, service.RefundRequest{
		OwnerID:        ownerID,
		Amount:         decimal.NewFromInt(5),
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)
	assert.True(t, testutil.GetWalletBalance(t, db, ownerID).Equal(decimal.NewFromInt(10)))
}

func TestGetWallet_RefillsLazily(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCreditService(t, db)
	ctx := context.Background()

	ownerID := uuid.New()
	testutil.SeedWallet(t, db, ownerID, 7, 10, 360, time.Now().Add(-1800*time.Second))

	snap, err := svc.GetWallet(ctx, ownerID)
	require.NoError(t, err)

	assert.True(t, snap.Balance.Equal(decimal.NewFromInt(10)), "balance: %s", snap.Balance)
	assert.True(t, testutil.GetWalletBalance(t, db, ownerID).Equal(decimal.NewFromInt(10)),
		"refill must be persisted")
}

func TestConsumeFlat_EndToEnd(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCreditService(t, db)
	ctx := context.Background()

	ownerID := uuid.New()
	testutil.SeedWallet(t, db, ownerID, 10, 10, 0, time.Now())

	res, err := svc.ConsumeFlat(ctx, service.ConsumeRequest{
		OwnerID:        ownerID,
		Amount:         decimal.NewFromInt(2),
		IdempotencyKey: uuid.NewString(),
		ReasonCode:     "image_generation",
	})
	require.NoError(t, err)
	require.True(t, res.Reserved)

	assert.True(t, testutil.GetWalletBalance(t, db, ownerID).Equal(decimal.NewFromInt(8)))
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, ownerID, domain.EntryTypeHold))
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, ownerID, domain.EntryTypeSettle))
}

func TestReserve_ConcurrentOverdraft(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCreditService(t, db)
	ctx := context.Background()

	ownerID := uuid.New()
	testutil.SeedWallet(t, db, ownerID, 10, 10, 0, time.Now())

	const writers = 12

	type outcome struct {
		res *service.ReserveResult
		err error
	}
	results := make(chan outcome, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Reserve(ctx, service.ReserveRequest{
				OwnerID:        ownerID,
				Amount:         decimal.NewFromInt(1),
				IdempotencyKey: uuid.NewString(),
			})
			results <- outcome{res: res, err: err}
		}()
	}
	wg.Wait()
	close(results)

	reserved, insufficient := 0, 0
	for o := range results {
		require.NoError(t, o.err)
		if o.res.Reserved {
			reserved++
		} else {
			insufficient++
		}
	}

	assert.Equal(t, 10, reserved, "exactly ten holds should succeed")
	assert.Equal(t, writers-10, insufficient)
	assert.True(t, testutil.GetWalletBalance(t, db, ownerID).Equal(decimal.Zero),
		"balance must land on zero, never negative")
	assert.Equal(t, 10, testutil.CountLedgerEntries(t, db, ownerID, domain.EntryTypeHold))
}
