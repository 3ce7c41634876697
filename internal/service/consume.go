package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clipcourse/credits-service/internal/domain"
)

type ConsumeRequest struct {
	OwnerID        uuid.UUID
	Amount         decimal.Decimal
	IdempotencyKey string
	ReasonCode     string
	RefID          *string
}

// ConsumeFlat debits exactly once for one action: a hold immediately
// followed by its settlement, under sub-keys derived from the caller's key.
// Callers that have no use for the two-phase protocol get single-shot
// semantics with the same retry safety. A zero amount means one credit.
func (s *Service) ConsumeFlat(ctx context.Context, req ConsumeRequest) (*ReserveResult, error) {
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("ConsumeFlat: %w", domain.ErrMissingIdempotencyKey)
	}

	amount := req.Amount
	if amount.IsZero() {
		amount = decimal.NewFromInt(1)
	}

	res, err := s.Reserve(ctx, ReserveRequest{
		OwnerID:        req.OwnerID,
		Amount:         amount,
		IdempotencyKey: req.IdempotencyKey + ":hold",
		ReasonCode:     req.ReasonCode,
		RefID:          req.RefID,
	})
	if err != nil {
		return nil, fmt.Errorf("ConsumeFlat: %w", err)
	}
	if !res.Reserved {
		return res, nil
	}

	if _, err := s.Settle(ctx, SettleRequest{
		OwnerID:        req.OwnerID,
		Amount:         amount,
		IdempotencyKey: req.IdempotencyKey + ":settle",
		ReasonCode:     req.ReasonCode,
		RefID:          req.RefID,
	}); err != nil {
		return nil, fmt.Errorf("ConsumeFlat: %w", err)
	}

	return res, nil
}
