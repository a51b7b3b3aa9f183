package relay

import (
	"errors"
	"fmt"
)

// Failure taxonomy for the lifecycle manager. Validation errors are detected
// before any external call is made; the first failing check wins.
var (
	ErrUserNotFound   = errors.New("relay: user not found")
	ErrTxNotFound     = errors.New("relay: transaction not found")
	ErrUserExists     = errors.New("relay: user already exists")
	ErrInvalidAddress = errors.New("relay: invalid destination address")
	ErrInvalidAmount  = errors.New("relay: amount must be a positive number")
)

// LimitError rejects an amount above the configured per-transaction cap.
type LimitError struct {
	Limit string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("relay: amount exceeds maximum limit of %s", e.Limit)
}

// UpstreamError wraps a chain submission failure. No transaction record exists
// when it is returned; the submission is not retried.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("relay: chain submission failed: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// PersistError wraps a store failure that occurred after a successful chain
// call. The transfer exists on-chain with no local tracking, so callers treat
// it as a reconciliation gap rather than retrying.
type PersistError struct {
	Hash string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("relay: persist transaction %s: %v", e.Hash, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
