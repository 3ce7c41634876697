package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrAuthRequired          = errors.New("owner identity required")
	ErrInvalidAmount         = errors.New("amount must be greater than zero")
	ErrMissingIdempotencyKey = errors.New("idempotency key required")
	ErrVersionConflict       = errors.New("optimistic lock conflict")
	ErrReserveConflict       = errors.New("reserve contention not resolved within retry budget")
	ErrRefundConflict        = errors.New("refund contention not resolved within retry budget")
	ErrIdempotencyReuse      = errors.New("idempotency key reused with a different operation")
)
