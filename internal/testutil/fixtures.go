package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clipcourse/credits-service/internal/domain"
)

// SeedWallet inserts a wallet row directly, bypassing the service's
// ensure-on-first-access path.
func SeedWallet(t *testing.T, db *sql.DB, ownerID uuid.UUID, balance, capacity float64, secondsPerCredit float64, lastRefillAt time.Time) *domain.Wallet {
	t.Helper()

	rate := decimal.Zero
	if secondsPerCredit > 0 {
		rate = decimal.NewFromInt(1).Div(decimal.NewFromFloat(secondsPerCredit)).Round(6)
	}
	w := &domain.Wallet{
		OwnerID:          ownerID,
		Balance:          decimal.NewFromFloat(balance).Round(3),
		Capacity:         decimal.NewFromFloat(capacity).Round(3),
		RefillRatePerSec: rate,
		LastRefillAt:     lastRefillAt.UTC().Truncate(time.Microsecond),
		CreatedAt:        time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO wallets (owner_id, balance, capacity, refill_rate_per_sec, last_refill_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		w.OwnerID, w.Balance, w.Capacity, w.RefillRatePerSec, w.LastRefillAt, w.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed wallet %s: %v", ownerID, err)
	}
	return w
}

func GetWalletBalance(t *testing.T, db *sql.DB, ownerID uuid.UUID) decimal.Decimal {
	t.Helper()

	var balance decimal.Decimal
	err := db.QueryRow(`SELECT balance FROM wallets WHERE owner_id = $1`, ownerID).Scan(&balance)
	if err != nil {
		t.Fatalf("get wallet balance %s: %v", ownerID, err)
	}
	return balance
}

func CountLedgerEntries(t *testing.T, db *sql.DB, ownerID uuid.UUID, entryType domain.EntryType) int {
	t.Helper()

	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM ledger_entries WHERE owner_id = $1 AND entry_type = $2`,
		ownerID, entryType,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count ledger entries for owner %s: %v", ownerID, err)
	}
	return count
}
