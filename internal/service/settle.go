package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clipcourse/credits-service/internal/domain"
	"github.com/clipcourse/credits-service/internal/logging"
)

type SettleRequest struct {
	OwnerID        uuid.UUID
	Amount         decimal.Decimal
	IdempotencyKey string
	ReasonCode     string
	RefID          *string
}

type SettleResult struct {
	LedgerID uuid.UUID
}

// Settle finalizes a prior hold as a ledger-only audit record. The balance
// was already debited at hold time, so the entry carries delta zero with the
// settled amount in metadata; the wallet row is never touched.
func (s *Service) Settle(ctx context.Context, req SettleRequest) (*SettleResult, error) {
	amount, err := validate(req.OwnerID, req.Amount, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("Settle: %w", err)
	}

	if s.config.Bypass {
		return &SettleResult{}, nil
	}

	entry := &domain.LedgerEntry{
		ID:             uuid.New(),
		OwnerID:        req.OwnerID,
		Delta:          decimal.Zero,
		EntryType:      domain.EntryTypeSettle,
		ReasonCode:     req.ReasonCode,
		RefID:          req.RefID,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       map[string]any{"settled_amount": amount.String()},
		CreatedAt:      s.now(),
	}

	inserted, existing, err := s.ledger.InsertIfAbsent(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("Settle: %w", err)
	}
	if !inserted {
		if existing.EntryType != domain.EntryTypeSettle {
			return nil, fmt.Errorf("Settle: %w", domain.ErrIdempotencyReuse)
		}
		return &SettleResult{LedgerID: existing.ID}, nil
	}

	logging.FromContext(ctx).Info("hold settled",
		"owner_id", req.OwnerID,
		"settled_amount", amount,
		"ledger_id", entry.ID,
	)
	return &SettleResult{LedgerID: entry.ID}, nil
}
