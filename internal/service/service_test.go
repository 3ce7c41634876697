package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clipcourse/credits-service/internal/config"
	"github.com/clipcourse/credits-service/internal/domain"
	"github.com/clipcourse/credits-service/internal/repository"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Capacity:         10,
		SecondsPerCredit: 360,
		InitialBalance:   10,
		MaxAttempts:      5,
	}
}

// newTestService wires a service over the in-memory store with a frozen
// clock. Tests that need time to pass move the clock explicitly.
func newTestService(t *testing.T, cfg *config.Config) (*Service, *repository.MemoryStore, *time.Time) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	store := repository.NewMemoryStore()
	svc := NewService(store, store, cfg)

	clock := testStart
	svc.now = func() time.Time { return clock }
	return svc, store, &clock
}

func seedWallet(t *testing.T, store *repository.MemoryStore, ownerID uuid.UUID, balance string, lastRefillAt time.Time) {
	t.Helper()
	err := store.Ensure(context.Background(), &domain.Wallet{
		OwnerID:          ownerID,
		Balance:          decimal.RequireFromString(balance),
		Capacity:         decimal.NewFromInt(10),
		RefillRatePerSec: decimal.RequireFromString("0.002778"),
		LastRefillAt:     lastRefillAt,
		CreatedAt:        lastRefillAt,
	})
	if err != nil {
		t.Fatalf("seed wallet: %v", err)
	}
}

func storedBalance(t *testing.T, store *repository.MemoryStore, ownerID uuid.UUID) decimal.Decimal {
	t.Helper()
	w, err := store.GetByOwner(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("read wallet: %v", err)
	}
	return w.Balance
}

func countEntries(t *testing.T, store *repository.MemoryStore, ownerID uuid.UUID, entryType domain.EntryType) int {
	t.Helper()
	entries, _, err := store.ListByOwner(context.Background(), ownerID, 0, 0)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	n := 0
	for _, e := range entries {
		if e.EntryType == entryType {
			n++
		}
	}
	return n
}

// conflictingWallets rejects every conditional update, simulating a wallet
// row under permanent write contention.
type conflictingWallets struct {
	*repository.MemoryStore
}

func (c *conflictingWallets) UpdateBalanceCAS(context.Context, uuid.UUID, decimal.Decimal, time.Time, decimal.Decimal, time.Time) error {
	return domain.ErrVersionConflict
}

// failingLedger rejects every append, forcing the post-debit compensation
// path.
type failingLedger struct {
	*repository.MemoryStore
}

func (f *failingLedger) InsertIfAbsent(context.Context, *domain.LedgerEntry) (bool, *domain.LedgerEntry, error) {
	return false, nil, errors.New("ledger unavailable")
}

// slowWallets stretches the window between a read and its conditional update
// so concurrent writers actually collide.
type slowWallets struct {
	*repository.MemoryStore
	delay time.Duration
}

func (s *slowWallets) UpdateBalanceCAS(ctx context.Context, ownerID uuid.UUID,
	newBalance decimal.Decimal, newLastRefillAt time.Time,
	prevBalance decimal.Decimal, prevLastRefillAt time.Time) error {
	time.Sleep(s.delay)
	return s.MemoryStore.UpdateBalanceCAS(ctx, ownerID, newBalance, newLastRefillAt, prevBalance, prevLastRefillAt)
}
