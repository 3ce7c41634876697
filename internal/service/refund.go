package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clipcourse/credits-service/internal/domain"
	"github.com/clipcourse/credits-service/internal/logging"
	"github.com/clipcourse/credits-service/internal/refill"
)

type RefundRequest struct {
	OwnerID        uuid.UUID
	Amount         decimal.Decimal
	IdempotencyKey string
	ReasonCode     string
	RefID          *string
}

type RefundResult struct {
	LedgerID uuid.UUID
	Wallet   domain.Snapshot
}

// Refund credits amount back to the wallet, capped at capacity, and appends
// a refund entry. Idempotent under the same key.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	res, err := s.credit(ctx, req, domain.EntryTypeRefund)
	if err != nil {
		return nil, fmt.Errorf("Refund: %w", err)
	}
	return res, nil
}

type GrantRequest = RefundRequest

// Grant adds credits outside the hold/settle cycle (promotions, support
// adjustments). Same capped credit protocol as refunds, recorded as grant.
func (s *Service) Grant(ctx context.Context, req GrantRequest) (*RefundResult, error) {
	res, err := s.credit(ctx, req, domain.EntryTypeGrant)
	if err != nil {
		return nil, fmt.Errorf("Grant: %w", err)
	}
	return res, nil
}

// credit is the shared OCC loop for balance-increasing operations: refresh,
// add capped at capacity, conditional write, append ledger entry.
func (s *Service) credit(ctx context.Context, req RefundRequest, entryType domain.EntryType) (*RefundResult, error) {
	log := logging.FromContext(ctx)

	amount, err := validate(req.OwnerID, req.Amount, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	if s.config.Bypass {
		return &RefundResult{Wallet: s.bypassSnapshot(req.OwnerID)}, nil
	}

	if err := s.ensure(ctx, req.OwnerID); err != nil {
		return nil, err
	}

	if existing, err := s.ledger.GetByIdempotencyKey(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		if existing.EntryType != entryType || !existing.Delta.Equal(amount) {
			return nil, domain.ErrIdempotencyReuse
		}
		w, err := s.refresh(ctx, req.OwnerID)
		if err != nil {
			return nil, err
		}
		return &RefundResult{LedgerID: existing.ID, Wallet: s.snapshotOf(w)}, nil
	}

	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		w, err := s.refresh(ctx, req.OwnerID)
		if err != nil {
			return nil, err
		}

		next := refill.Balance(w.Balance.Add(amount))
		if next.GreaterThan(w.Capacity) {
			next = w.Capacity
		}
		err = s.wallets.UpdateBalanceCAS(ctx, req.OwnerID, next, w.LastRefillAt, w.Balance, w.LastRefillAt)
		if err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				s.backoff(attempt)
				continue
			}
			return nil, err
		}
		w.Balance = next

		entry := &domain.LedgerEntry{
			ID:             uuid.New(),
			OwnerID:        req.OwnerID,
			Delta:          amount,
			EntryType:      entryType,
			ReasonCode:     req.ReasonCode,
			RefID:          req.RefID,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      s.now(),
		}
		inserted, existing, ierr := s.ledger.InsertIfAbsent(ctx, entry)
		if ierr != nil {
			s.reverseCredit(ctx, req.OwnerID, amount)
			return nil, fmt.Errorf("append %s: %w", entryType, ierr)
		}
		if !inserted {
			// Lost the key race after crediting: the winner's credit stands,
			// ours is reversed.
			s.reverseCredit(ctx, req.OwnerID, amount)
			if existing.EntryType != entryType || !existing.Delta.Equal(amount) {
				return nil, domain.ErrIdempotencyReuse
			}
			if cur, err := s.refresh(ctx, req.OwnerID); err == nil {
				w = cur
			}
			return &RefundResult{LedgerID: existing.ID, Wallet: s.snapshotOf(w)}, nil
		}

		log.Info("credits returned",
			"owner_id", req.OwnerID,
			"amount", amount,
			"entry_type", entryType,
			"ledger_id", entry.ID,
		)
		return &RefundResult{LedgerID: entry.ID, Wallet: s.snapshotOf(w)}, nil
	}

	return nil, domain.ErrRefundConflict
}

// reverseCredit undoes a credit that could not be recorded, clamped at zero.
// Best effort, mirror of compensate on the reserve path.
func (s *Service) reverseCredit(ctx context.Context, ownerID uuid.UUID, amount decimal.Decimal) {
	log := logging.FromContext(ctx)
	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		w, err := s.wallets.GetByOwner(ctx, ownerID)
		if err != nil {
			log.Error("credit reversal read failed", "owner_id", ownerID, "amount", amount, "error", err)
			return
		}

		next := refill.Balance(w.Balance.Sub(amount))
		if next.Sign() < 0 {
			next = decimal.Zero
		}
		err = s.wallets.UpdateBalanceCAS(ctx, ownerID, next, w.LastRefillAt, w.Balance, w.LastRefillAt)
		if err == nil {
			return
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			log.Error("credit reversal write failed", "owner_id", ownerID, "amount", amount, "error", err)
			return
		}
		s.backoff(attempt)
	}
	log.Error("credit reversal not applied within retry budget", "owner_id", ownerID, "amount", amount)
}
