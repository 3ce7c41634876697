package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryTypeGrant  EntryType = "grant"
	EntryTypeHold   EntryType = "hold"
	EntryTypeSettle EntryType = "settle"
	EntryTypeRefund EntryType = "refund"
	EntryTypeAdjust EntryType = "adjust"
)

// LedgerEntry is an immutable audit record of a balance movement.
// Delta is the signed credit movement, zero for pure audit records such as
// settlements. IdempotencyKey is unique across the whole ledger and is the
// mechanism that makes client retries safe.
type LedgerEntry struct {
	ID             uuid.UUID
	OwnerID        uuid.UUID
	Delta          decimal.Decimal
	EntryType      EntryType
	ReasonCode     string
	RefID          *string
	IdempotencyKey string
	Metadata       map[string]any
	CreatedAt      time.Time
}
