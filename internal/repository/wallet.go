package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clipcourse/credits-service/internal/domain"
)

const walletColumns = `owner_id, balance, capacity, refill_rate_per_sec, last_refill_at, created_at`

type WalletRepository struct {
	db *sql.DB
}

func NewWalletRepository(db *sql.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) GetByOwner(ctx context.Context, ownerID uuid.UUID) (*domain.Wallet, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1`, ownerID,
	)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByOwner: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByOwner: %w", err)
	}
	return w, nil
}

// Ensure creates the wallet row with the given defaults if it does not exist
// yet. An existing row is never overwritten.
func (r *WalletRepository) Ensure(ctx context.Context, w *domain.Wallet) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO wallets (owner_id, balance, capacity, refill_rate_per_sec, last_refill_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner_id) DO NOTHING`,
		w.OwnerID, w.Balance, w.Capacity, w.RefillRatePerSec,
		pgTime(w.LastRefillAt), pgTime(w.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("Ensure: %w", err)
	}
	return nil
}

// UpdateBalanceCAS conditionally updates the wallet, matching on the exact
// (balance, last_refill_at) pair previously observed. A zero-row match means
// another writer got there first and surfaces as ErrVersionConflict.
func (r *WalletRepository) UpdateBalanceCAS(
	ctx context.Context,
	ownerID uuid.UUID,
	newBalance decimal.Decimal,
	newLastRefillAt time.Time,
	prevBalance decimal.Decimal,
	prevLastRefillAt time.Time,
) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE wallets SET balance = $1, last_refill_at = $2
		WHERE owner_id = $3 AND balance = $4 AND last_refill_at = $5`,
		newBalance, pgTime(newLastRefillAt), ownerID, prevBalance, pgTime(prevLastRefillAt),
	)
	if err != nil {
		return fmt.Errorf("UpdateBalanceCAS: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateBalanceCAS: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateBalanceCAS: %w", domain.ErrVersionConflict)
	}
	return nil
}

func scanWallet(s scanner) (*domain.Wallet, error) {
	var w domain.Wallet
	err := s.Scan(
		&w.OwnerID, &w.Balance, &w.Capacity, &w.RefillRatePerSec,
		&w.LastRefillAt, &w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}
