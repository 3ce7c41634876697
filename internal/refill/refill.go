// Package refill implements the lazy token-bucket arithmetic: elapsed time
// since the last reconciliation is converted into bucket fill on every read,
// so no background scheduler is needed.
package refill

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balances are compared for exact equality by the store's conditional
// updates, so every value is rounded to a fixed scale before any comparison
// or write. Without this, refill arithmetic could produce values that never
// match on retry.
const (
	balanceScale = 3
	rateScale    = 6
)

// Balance rounds a credit amount to the stored balance scale.
func Balance(d decimal.Decimal) decimal.Decimal {
	return d.Round(balanceScale)
}

// Rate rounds a refill rate to the stored rate scale.
func Rate(d decimal.Decimal) decimal.Decimal {
	return d.Round(rateScale)
}

// Compute returns the balance after applying refill for the time elapsed
// between lastRefillAt and now, capped at capacity, and whether the result
// differs from the stored balance.
//
// Time never moves backward: if now is not after lastRefillAt, or the anchor
// is missing, the balance is only clamped into [0, capacity]. This protects
// against clock skew and corrupted anchors.
func Compute(balance, capacity, ratePerSec decimal.Decimal, lastRefillAt, now time.Time) (decimal.Decimal, bool) {
	balance = Balance(balance)
	capacity = Balance(capacity)
	ratePerSec = Rate(ratePerSec)

	if lastRefillAt.IsZero() || !now.After(lastRefillAt) || ratePerSec.Sign() <= 0 {
		clamped := clamp(balance, capacity)
		return clamped, !clamped.Equal(balance)
	}

	elapsed := decimal.NewFromFloat(now.Sub(lastRefillAt).Seconds())
	next := Balance(balance.Add(elapsed.Mul(ratePerSec)))
	next = clamp(next, capacity)
	return next, !next.Equal(balance)
}

func clamp(balance, capacity decimal.Decimal) decimal.Decimal {
	if balance.Sign() < 0 {
		return decimal.Zero
	}
	if balance.GreaterThan(capacity) {
		return capacity
	}
	return balance
}
