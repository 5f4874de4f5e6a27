package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Refund is a request to return cash against a plan.
//
// IdempotencyKey is supplied by the caller so retried requests can be
// recognised. The plan records it but does not deduplicate on it; that is
// done by the store in front of the plan.
type Refund struct {
	ID             uuid.UUID       `json:"id"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Amount         decimal.Decimal `json:"amount"`
	Date           time.Time       `json:"date"`
}

// NewRefund validates and builds a Refund with a fresh ID.
func NewRefund(idempotencyKey string, amount decimal.Decimal, date time.Time) (Refund, error) {
	r := Refund{ID: uuid.New(), IdempotencyKey: idempotencyKey, Amount: amount, Date: date}
	if err := r.validate(); err != nil {
		return Refund{}, err
	}
	return r, nil
}

func (r Refund) validate() error {
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount:%s", ErrInvalidArgument, r.Amount)
	}
	return nil
}
