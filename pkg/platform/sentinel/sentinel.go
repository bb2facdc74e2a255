// Package sentinel holds storage-level sentinel errors shared by every store.
// Stores wrap these with context; services translate them into domain errors.
package sentinel

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrExhausted    = errors.New("capacity exhausted")
)
