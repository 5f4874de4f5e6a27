package models

import "errors"

// Errors returned by plan operations. Callers match them with errors.Is; the
// wrapped message carries the offending parameter or identifier.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("installment not found")
	ErrAmountMismatch  = errors.New("payment amount does not match installment amount")
	ErrInvalidState    = errors.New("invalid installment state")
	ErrEmptyPlan       = errors.New("payment plan has no installments")
)
