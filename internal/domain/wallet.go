package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet is the single mutable row per owner. Balance and LastRefillAt
// together act as the version token for conditional updates: every write
// must match the exact pair it previously observed.
type Wallet struct {
	OwnerID          uuid.UUID
	Balance          decimal.Decimal
	Capacity         decimal.Decimal
	RefillRatePerSec decimal.Decimal
	LastRefillAt     time.Time
	CreatedAt        time.Time
}

// Snapshot is the externally observed wallet state. Balance has refill
// applied as of the read, whether or not that refill was persisted.
type Snapshot struct {
	OwnerID          uuid.UUID
	Balance          decimal.Decimal
	Capacity         decimal.Decimal
	RefillRatePerSec decimal.Decimal
	LastRefillAt     time.Time
	SecondsToFull    *int64
	Bypass           bool
}

// SecondsToFull returns the ceiling of the time until the bucket refills to
// capacity, or nil when the refill rate is zero (the bucket never fills).
func SecondsToFull(balance, capacity, rate decimal.Decimal) *int64 {
	if rate.Sign() <= 0 {
		return nil
	}
	missing := capacity.Sub(balance)
	if missing.Sign() <= 0 {
		zero := int64(0)
		return &zero
	}
	secs := missing.Div(rate).Ceil().IntPart()
	return &secs
}
