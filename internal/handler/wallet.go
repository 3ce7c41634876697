package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clipcourse/credits-service/internal/auth"
	"github.com/clipcourse/credits-service/internal/domain"
	"github.com/clipcourse/credits-service/internal/logging"
	"github.com/clipcourse/credits-service/internal/service"
)

type walletService interface {
	GetWallet(ctx context.Context, ownerID uuid.UUID) (*domain.Snapshot, error)
	Ledger(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error)
	Reserve(ctx context.Context, req service.ReserveRequest) (*service.ReserveResult, error)
	Settle(ctx context.Context, req service.SettleRequest) (*service.SettleResult, error)
	Refund(ctx context.Context, req service.RefundRequest) (*service.RefundResult, error)
	ConsumeFlat(ctx context.Context, req service.ConsumeRequest) (*service.ReserveResult, error)
}

type WalletHandler struct {
	wallet walletService
}

func NewWalletHandler(wallet walletService) *WalletHandler {
	return &WalletHandler{wallet: wallet}
}

type snapshotDTO struct {
	OwnerID          uuid.UUID `json:"owner_id"`
	Balance          string    `json:"balance"`
	Capacity         string    `json:"capacity"`
	RefillRatePerSec string    `json:"refill_rate_per_sec"`
	LastRefillAt     time.Time `json:"last_refill_at"`
	SecondsToFull    *int64    `json:"seconds_to_full"`
	Bypass           bool      `json:"bypass"`
}

func toSnapshotDTO(s domain.Snapshot) snapshotDTO {
	return snapshotDTO{
		OwnerID:          s.OwnerID,
		Balance:          s.Balance.String(),
		Capacity:         s.Capacity.String(),
		RefillRatePerSec: s.RefillRatePerSec.String(),
		LastRefillAt:     s.LastRefillAt,
		SecondsToFull:    s.SecondsToFull,
		Bypass:           s.Bypass,
	}
}

type ledgerEntryDTO struct {
	ID             uuid.UUID      `json:"id"`
	Delta          string         `json:"delta"`
	EntryType      string         `json:"entry_type"`
	ReasonCode     string         `json:"reason_code"`
	RefID          *string        `json:"ref_id"`
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

type reserveResultDTO struct {
	Reserved bool        `json:"reserved"`
	LedgerID *uuid.UUID  `json:"ledger_id,omitempty"`
	Amount   string      `json:"amount"`
	Required string      `json:"required,omitempty"`
	Wallet   snapshotDTO `json:"wallet"`
}

func toReserveResultDTO(r *service.ReserveResult) reserveResultDTO {
	dto := reserveResultDTO{
		Reserved: r.Reserved,
		Amount:   r.Amount.String(),
		Wallet:   toSnapshotDTO(r.Wallet),
	}
	if r.Reserved {
		if r.LedgerID != uuid.Nil {
			id := r.LedgerID
			dto.LedgerID = &id
		}
	} else {
		dto.Required = r.Required.String()
	}
	return dto
}

type spendRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	ReasonCode string          `json:"reason_code"`
	RefID      *string         `json:"ref_id"`
}

func (r spendRequest) Validate() []FieldError {
	var errs []FieldError
	if r.Amount.Sign() <= 0 {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than zero"})
	}
	if r.ReasonCode == "" {
		errs = append(errs, FieldError{Field: "reason_code", Message: "required"})
	}
	return errs
}

func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.OwnerIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	snap, err := h.wallet.GetWallet(r.Context(), ownerID)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to get wallet", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toSnapshotDTO(*snap))
}

func (h *WalletHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.OwnerIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, total, err := h.wallet.Ledger(r.Context(), ownerID, limit, offset)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to list ledger", "error", err)
		RespondDomainError(w, err)
		return
	}

	dtos := make([]ledgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = ledgerEntryDTO{
			ID:             e.ID,
			Delta:          e.Delta.String(),
			EntryType:      string(e.EntryType),
			ReasonCode:     e.ReasonCode,
			RefID:          e.RefID,
			IdempotencyKey: e.IdempotencyKey,
			Metadata:       e.Metadata,
			CreatedAt:      e.CreatedAt,
		}
	}

	RespondSuccess(w, http.StatusOK, map[string]any{
		"entries": dtos,
		"total":   total,
	})
}

func (h *WalletHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	ownerID, key, req, ok := h.decodeSpend(w, r)
	if !ok {
		return
	}

	res, err := h.wallet.Reserve(r.Context(), service.ReserveRequest{
		OwnerID:        ownerID,
		Amount:         req.Amount,
		IdempotencyKey: key,
		ReasonCode:     req.ReasonCode,
		RefID:          req.RefID,
	})
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to reserve credits", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toReserveResultDTO(res))
}

func (h *WalletHandler) Settle(w http.ResponseWriter, r *http.Request) {
	ownerID, key, req, ok := h.decodeSpend(w, r)
	if !ok {
		return
	}

	res, err := h.wallet.Settle(r.Context(), service.SettleRequest{
		OwnerID:        ownerID,
		Amount:         req.Amount,
		IdempotencyKey: key,
		ReasonCode:     req.ReasonCode,
		RefID:          req.RefID,
	})
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to settle hold", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]any{"ledger_id": res.LedgerID})
}

func (h *WalletHandler) Refund(w http.ResponseWriter, r *http.Request) {
	ownerID, key, req, ok := h.decodeSpend(w, r)
	if !ok {
		return
	}

	res, err := h.wallet.Refund(r.Context(), service.RefundRequest{
		OwnerID:        ownerID,
		Amount:         req.Amount,
		IdempotencyKey: key,
		ReasonCode:     req.ReasonCode,
		RefID:          req.RefID,
	})
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to refund credits", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]any{
		"ledger_id": res.LedgerID,
		"wallet":    toSnapshotDTO(res.Wallet),
	})
}

func (h *WalletHandler) Consume(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.OwnerIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		RespondAppError(w, ErrMissingIdempotencyKey, nil)
		return
	}

	// Amount is optional here: a flat consume defaults to one credit.
	var req spendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if req.ReasonCode == "" {
		RespondValidationError(w, []FieldError{{Field: "reason_code", Message: "required"}})
		return
	}
	if req.Amount.Sign() < 0 {
		RespondValidationError(w, []FieldError{{Field: "amount", Message: "must not be negative"}})
		return
	}

	res, err := h.wallet.ConsumeFlat(r.Context(), service.ConsumeRequest{
		OwnerID:        ownerID,
		Amount:         req.Amount,
		IdempotencyKey: key,
		ReasonCode:     req.ReasonCode,
		RefID:          req.RefID,
	})
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to consume credits", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toReserveResultDTO(res))
}

func (h *WalletHandler) decodeSpend(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, spendRequest, bool) {
	ownerID, ok := auth.OwnerIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return uuid.Nil, "", spendRequest{}, false
	}

	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		RespondAppError(w, ErrMissingIdempotencyKey, nil)
		return uuid.Nil, "", spendRequest{}, false
	}

	var req spendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return uuid.Nil, "", spendRequest{}, false
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return uuid.Nil, "", spendRequest{}, false
	}

	return ownerID, key, req, true
}
