package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clipcourse/credits-service/internal/config"
	"github.com/clipcourse/credits-service/internal/domain"
	"github.com/clipcourse/credits-service/internal/logging"
	"github.com/clipcourse/credits-service/internal/refill"
)

// Service orchestrates the credit wallet: lazy refill on every read,
// reserve/settle/refund with idempotency keys, and a bounded optimistic
// retry loop around every write.
type Service struct {
	wallets walletRepository
	ledger  ledgerRepository
	config  *config.Config
	now     func() time.Time
}

func NewService(wallets walletRepository, ledger ledgerRepository, cfg *config.Config) *Service {
	return &Service{
		wallets: wallets,
		ledger:  ledger,
		config:  cfg,
		now:     time.Now,
	}
}

// GetWallet returns the owner's wallet snapshot with refill applied, creating
// the wallet with configured defaults on first access.
func (s *Service) GetWallet(ctx context.Context, ownerID uuid.UUID) (*domain.Snapshot, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("GetWallet: %w", domain.ErrAuthRequired)
	}

	if s.config.Bypass {
		snap := s.bypassSnapshot(ownerID)
		return &snap, nil
	}

	if err := s.ensure(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("GetWallet: %w", err)
	}

	w, err := s.refresh(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("GetWallet: %w", err)
	}

	snap := s.snapshotOf(w)
	return &snap, nil
}

// Ledger returns a page of the owner's audit trail, newest first.
func (s *Service) Ledger(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error) {
	if ownerID == uuid.Nil {
		return nil, 0, fmt.Errorf("Ledger: %w", domain.ErrAuthRequired)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	entries, total, err := s.ledger.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("Ledger: %w", err)
	}
	return entries, total, nil
}

// ensure creates the wallet row with configured defaults. Insert-if-absent:
// an existing row is never touched.
func (s *Service) ensure(ctx context.Context, ownerID uuid.UUID) error {
	now := s.now()
	return s.wallets.Ensure(ctx, &domain.Wallet{
		OwnerID:          ownerID,
		Balance:          refill.Balance(s.config.InitialBalanceDecimal()),
		Capacity:         refill.Balance(s.config.CapacityDecimal()),
		RefillRatePerSec: refill.Rate(s.config.RefillRatePerSec()),
		LastRefillAt:     now,
		CreatedAt:        now,
	})
}

// refresh reconciles the wallet's balance with elapsed time and returns the
// stored row state. Each attempt is one optimistic cycle: read, compute
// refill, conditionally persist matching the observed (balance,
// last_refill_at) pair. When the retry budget runs out the last read row is
// returned as-is; refill progress is recomputed by the next toucher, so a
// reader should not fail just because writers are busy.
func (s *Service) refresh(ctx context.Context, ownerID uuid.UUID) (*domain.Wallet, error) {
	var w *domain.Wallet
	var err error

	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		w, err = s.wallets.GetByOwner(ctx, ownerID)
		if err != nil {
			return nil, fmt.Errorf("refresh: %w", err)
		}

		now := s.now()
		next, changed := refill.Compute(w.Balance, w.Capacity, w.RefillRatePerSec, w.LastRefillAt, now)
		if !changed {
			return w, nil
		}

		err = s.wallets.UpdateBalanceCAS(ctx, ownerID, next, now, w.Balance, w.LastRefillAt)
		if err == nil {
			w.Balance = next
			w.LastRefillAt = now
			return w, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, fmt.Errorf("refresh: %w", err)
		}
		s.backoff(attempt)
	}

	logging.FromContext(ctx).Warn("refill not persisted within retry budget",
		"owner_id", ownerID)
	return w, nil
}

func (s *Service) snapshotOf(w *domain.Wallet) domain.Snapshot {
	balance, _ := refill.Compute(w.Balance, w.Capacity, w.RefillRatePerSec, w.LastRefillAt, s.now())
	return domain.Snapshot{
		OwnerID:          w.OwnerID,
		Balance:          balance,
		Capacity:         w.Capacity,
		RefillRatePerSec: w.RefillRatePerSec,
		LastRefillAt:     w.LastRefillAt,
		SecondsToFull:    domain.SecondsToFull(balance, w.Capacity, w.RefillRatePerSec),
	}
}

// bypassSnapshot is the metering-disabled view: always full, never written.
func (s *Service) bypassSnapshot(ownerID uuid.UUID) domain.Snapshot {
	capacity := refill.Balance(s.config.CapacityDecimal())
	rate := refill.Rate(s.config.RefillRatePerSec())
	return domain.Snapshot{
		OwnerID:          ownerID,
		Balance:          capacity,
		Capacity:         capacity,
		RefillRatePerSec: rate,
		LastRefillAt:     s.now(),
		SecondsToFull:    domain.SecondsToFull(capacity, capacity, rate),
		Bypass:           true,
	}
}

// backoff sleeps briefly between optimistic retries. Jitter keeps two
// callers that collided once from colliding on every subsequent attempt.
func (s *Service) backoff(attempt int) {
	base := time.Duration(attempt+1) * 5 * time.Millisecond
	jitter := time.Duration(rand.Int64N(int64(5 * time.Millisecond)))
	time.Sleep(base + jitter)
}

// validate runs the pre-I/O checks shared by every mutating operation and
// returns the amount rounded to the stored balance scale.
func validate(ownerID uuid.UUID, amount decimal.Decimal, idempotencyKey string) (decimal.Decimal, error) {
	if ownerID == uuid.Nil {
		return decimal.Zero, domain.ErrAuthRequired
	}
	amount = refill.Balance(amount)
	if amount.Sign() <= 0 {
		return decimal.Zero, domain.ErrInvalidAmount
	}
	if idempotencyKey == "" {
		return decimal.Zero, domain.ErrMissingIdempotencyKey
	}
	return amount, nil
}
