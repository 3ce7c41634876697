package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clipcourse/credits-service/internal/domain"
)

// Store ports. The backing store must provide point reads, conditional
// updates matching an exact prior field tuple, insert-if-absent for wallet
// rows, and unique-keyed insert-or-lookup for ledger entries.

type walletRepository interface {
	GetByOwner(ctx context.Context, ownerID uuid.UUID) (*domain.Wallet, error)
	Ensure(ctx context.Context, w *domain.Wallet) error
	UpdateBalanceCAS(ctx context.Context, ownerID uuid.UUID,
		newBalance decimal.Decimal, newLastRefillAt time.Time,
		prevBalance decimal.Decimal, prevLastRefillAt time.Time) error
}

type ledgerRepository interface {
	InsertIfAbsent(ctx context.Context, entry *domain.LedgerEntry) (bool, *domain.LedgerEntry, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.LedgerEntry, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error)
}
