package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clipcourse/credits-service/internal/domain"
)

// MemoryStore implements the wallet and ledger ports over in-process maps.
// It backs the service tests, where interleavings can be forced that a real
// database cannot be made to produce on demand, and local runs without a
// database.
type MemoryStore struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]domain.Wallet
	entries []domain.LedgerEntry
	byKey   map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[uuid.UUID]domain.Wallet),
		byKey:   make(map[string]int),
	}
}

func (m *MemoryStore) GetByOwner(_ context.Context, ownerID uuid.UUID) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[ownerID]
	if !ok {
		return nil, fmt.Errorf("GetByOwner: %w", domain.ErrNotFound)
	}
	return &w, nil
}

func (m *MemoryStore) Ensure(_ context.Context, w *domain.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.wallets[w.OwnerID]; ok {
		return nil
	}
	m.wallets[w.OwnerID] = *w
	return nil
}

func (m *MemoryStore) UpdateBalanceCAS(
	_ context.Context,
	ownerID uuid.UUID,
	newBalance decimal.Decimal,
	newLastRefillAt time.Time,
	prevBalance decimal.Decimal,
	prevLastRefillAt time.Time,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[ownerID]
	if !ok {
		return fmt.Errorf("UpdateBalanceCAS: %w", domain.ErrVersionConflict)
	}
	if !w.Balance.Equal(prevBalance) || !w.LastRefillAt.Equal(prevLastRefillAt) {
		return fmt.Errorf("UpdateBalanceCAS: %w", domain.ErrVersionConflict)
	}

	w.Balance = newBalance
	w.LastRefillAt = newLastRefillAt
	m.wallets[ownerID] = w
	return nil
}

func (m *MemoryStore) InsertIfAbsent(_ context.Context, entry *domain.LedgerEntry) (bool, *domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idx, ok := m.byKey[entry.IdempotencyKey]; ok {
		existing := m.entries[idx]
		return false, &existing, nil
	}

	m.entries = append(m.entries, *entry)
	m.byKey[entry.IdempotencyKey] = len(m.entries) - 1
	return true, entry, nil
}

func (m *MemoryStore) GetByIdempotencyKey(_ context.Context, key string) (*domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.byKey[key]
	if !ok {
		return nil, nil
	}
	e := m.entries[idx]
	return &e, nil
}

func (m *MemoryStore) ListByOwner(_ context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var owned []domain.LedgerEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].OwnerID == ownerID {
			owned = append(owned, m.entries[i])
		}
	}

	total := len(owned)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return owned[offset:end], total, nil
}
