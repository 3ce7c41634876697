package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/clipcourse/credits-service/internal/domain"
)

const ledgerColumns = `id, owner_id, delta, entry_type, reason_code, ref_id,
	idempotency_key, metadata, created_at`

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// InsertIfAbsent appends the entry unless one already exists under its
// idempotency key. The unique constraint doubles as the idempotency
// mechanism: a lost race is reported as inserted=false together with the
// entry that won, not as an error.
func (r *LedgerRepository) InsertIfAbsent(ctx context.Context, entry *domain.LedgerEntry) (bool, *domain.LedgerEntry, error) {
	metadata, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return false, nil, fmt.Errorf("InsertIfAbsent: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (
			id, owner_id, delta, entry_type, reason_code, ref_id,
			idempotency_key, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		entry.ID, entry.OwnerID, entry.Delta, entry.EntryType, entry.ReasonCode,
		entry.RefID, entry.IdempotencyKey, metadata, pgTime(entry.CreatedAt),
	)
	if err != nil {
		return false, nil, fmt.Errorf("InsertIfAbsent: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, nil, fmt.Errorf("InsertIfAbsent: rows affected: %w", err)
	}
	if rows > 0 {
		return true, entry, nil
	}

	existing, err := r.GetByIdempotencyKey(ctx, entry.IdempotencyKey)
	if err != nil {
		return false, nil, fmt.Errorf("InsertIfAbsent: %w", err)
	}
	if existing == nil {
		// Ledger entries are never deleted, so the conflicting row must be readable.
		return false, nil, fmt.Errorf("InsertIfAbsent: conflicting entry for key %q not found", entry.IdempotencyKey)
	}
	return false, existing, nil
}

// GetByIdempotencyKey returns nil, nil when no entry exists under the key.
func (r *LedgerRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE idempotency_key = $1`, key,
	)
	e, err := scanLedgerEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetByIdempotencyKey: %w", err)
	}
	return e, nil
}

func (r *LedgerRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE owner_id = $1`, ownerID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByOwner: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByOwner: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListByOwner: scan: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ListByOwner: rows: %w", err)
	}
	return entries, total, nil
}

func scanLedgerEntry(s scanner) (*domain.LedgerEntry, error) {
	var (
		e        domain.LedgerEntry
		metadata []byte
	)
	err := s.Scan(
		&e.ID, &e.OwnerID, &e.Delta, &e.EntryType, &e.ReasonCode, &e.RefID,
		&e.IdempotencyKey, &metadata, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &e, nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte(`{}`), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}
