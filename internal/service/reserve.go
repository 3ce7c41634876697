package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clipcourse/credits-service/internal/domain"
	"github.com/clipcourse/credits-service/internal/logging"
	"github.com/clipcourse/credits-service/internal/refill"
)

type ReserveRequest struct {
	OwnerID        uuid.UUID
	Amount         decimal.Decimal
	IdempotencyKey string
	ReasonCode     string
	RefID          *string
}

// ReserveResult is a tagged success/insufficient outcome. Insufficient
// balance is a normal business result, not an error: Required carries the
// requested amount and Wallet the current snapshot so callers can show
// "need N more, refills in M seconds".
type ReserveResult struct {
	Reserved bool
	LedgerID uuid.UUID
	Amount   decimal.Decimal
	Required decimal.Decimal
	Wallet   domain.Snapshot
}

// Reserve debits amount from the owner's wallet and appends a hold entry
// under the idempotency key. Retrying with the same key returns the original
// result without a second debit.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (*ReserveResult, error) {
	log := logging.FromContext(ctx)

	amount, err := validate(req.OwnerID, req.Amount, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("Reserve: %w", err)
	}

	if s.config.Bypass {
		return &ReserveResult{Reserved: true, Amount: amount, Wallet: s.bypassSnapshot(req.OwnerID)}, nil
	}

	if err := s.ensure(ctx, req.OwnerID); err != nil {
		return nil, fmt.Errorf("Reserve: %w", err)
	}

	if replay, err := s.replayHold(ctx, req.OwnerID, amount, req.IdempotencyKey); err != nil {
		return nil, fmt.Errorf("Reserve: %w", err)
	} else if replay != nil {
		return replay, nil
	}

	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		w, err := s.refresh(ctx, req.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("Reserve: %w", err)
		}

		if w.Balance.LessThan(amount) {
			return s.insufficient(w, amount), nil
		}

		next := refill.Balance(w.Balance.Sub(amount))
		err = s.wallets.UpdateBalanceCAS(ctx, req.OwnerID, next, w.LastRefillAt, w.Balance, w.LastRefillAt)
		if err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				s.backoff(attempt)
				continue
			}
			return nil, fmt.Errorf("Reserve: %w", err)
		}
		w.Balance = next

		entry := &domain.LedgerEntry{
			ID:             uuid.New(),
			OwnerID:        req.OwnerID,
			Delta:          amount.Neg(),
			EntryType:      domain.EntryTypeHold,
			ReasonCode:     req.ReasonCode,
			RefID:          req.RefID,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      s.now(),
		}
		inserted, existing, ierr := s.ledger.InsertIfAbsent(ctx, entry)
		if ierr != nil {
			// The debit already happened; put it back before surfacing the
			// failure. Best effort, not a transaction.
			s.compensate(ctx, req.OwnerID, amount, log)
			return nil, fmt.Errorf("Reserve: append hold: %w", ierr)
		}
		if !inserted {
			// A concurrent writer holds this key. Their debit stands, ours is
			// reversed; the existing entry must describe the same hold or the
			// key is being misused.
			s.compensate(ctx, req.OwnerID, amount, log)
			if existing.EntryType != domain.EntryTypeHold || !existing.Delta.Equal(amount.Neg()) {
				return nil, fmt.Errorf("Reserve: %w", domain.ErrIdempotencyReuse)
			}
			if cur, err := s.refresh(ctx, req.OwnerID); err == nil {
				w = cur
			}
			return &ReserveResult{Reserved: true, LedgerID: existing.ID, Amount: amount, Wallet: s.snapshotOf(w)}, nil
		}

		log.Info("credits reserved",
			"owner_id", req.OwnerID,
			"amount", amount,
			"ledger_id", entry.ID,
			"reason_code", req.ReasonCode,
		)
		return &ReserveResult{Reserved: true, LedgerID: entry.ID, Amount: amount, Wallet: s.snapshotOf(w)}, nil
	}

	// Budget exhausted: distinguish plain exhaustion of funds from contention.
	w, err := s.refresh(ctx, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("Reserve: %w", err)
	}
	if w.Balance.LessThan(amount) {
		return s.insufficient(w, amount), nil
	}
	return nil, fmt.Errorf("Reserve: %w", domain.ErrReserveConflict)
}

// replayHold returns the original reserve result when the key was already
// used for an identical hold, nil when the key is fresh.
func (s *Service) replayHold(ctx context.Context, ownerID uuid.UUID, amount decimal.Decimal, key string) (*ReserveResult, error) {
	existing, err := s.ledger.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}
	if existing.EntryType != domain.EntryTypeHold || !existing.Delta.Equal(amount.Neg()) {
		return nil, domain.ErrIdempotencyReuse
	}

	w, err := s.refresh(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &ReserveResult{Reserved: true, LedgerID: existing.ID, Amount: amount, Wallet: s.snapshotOf(w)}, nil
}

func (s *Service) insufficient(w *domain.Wallet, amount decimal.Decimal) *ReserveResult {
	return &ReserveResult{
		Reserved: false,
		Amount:   amount,
		Required: amount,
		Wallet:   s.snapshotOf(w),
	}
}

// compensate credits amount back after a post-debit failure, clamped at
// capacity. Best effort: exhausting the retries leaves the wallet
// under-credited and is loudly logged rather than propagated.
func (s *Service) compensate(ctx context.Context, ownerID uuid.UUID, amount decimal.Decimal, log *slog.Logger) {
	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		w, err := s.wallets.GetByOwner(ctx, ownerID)
		if err != nil {
			log.Error("compensating credit read failed", "owner_id", ownerID, "amount", amount, "error", err)
			return
		}

		next := refill.Balance(w.Balance.Add(amount))
		if next.GreaterThan(w.Capacity) {
			next = w.Capacity
		}
		err = s.wallets.UpdateBalanceCAS(ctx, ownerID, next, w.LastRefillAt, w.Balance, w.LastRefillAt)
		if err == nil {
			return
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			log.Error("compensating credit write failed", "owner_id", ownerID, "amount", amount, "error", err)
			return
		}
		s.backoff(attempt)
	}
	log.Error("compensating credit not applied within retry budget", "owner_id", ownerID, "amount", amount)
}
