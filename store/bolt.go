// Package store provides a BoltDB-backed persistence layer for payment plans.
//
// BoltDB is an embedded key/value store. All data lives in a single file and
// only one read-write transaction runs at a time, which gives every plan
// mutation the one-writer-at-a-time semantics the aggregate expects.
//
// Two buckets are used:
//   - plans:   plan ID -> JSON snapshot of the aggregate.
//   - refunds: idempotency key -> RefundReceipt. A refund is applied at most
//     once per key; retries return the stored receipt without writing.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arkantrust/payment-plans/backend/models"
)

var (
	plansBucket   = []byte("plans")
	refundsBucket = []byte("refunds")
)

var (
	// ErrNotFound is returned when a requested plan does not exist.
	ErrNotFound = errors.New("payment plan not found")
	// ErrAlreadyExists is returned by Create for a plan ID already stored.
	ErrAlreadyExists = errors.New("payment plan already exists")
	// ErrIdempotencyConflict is returned when a refund idempotency key is
	// reused for a different plan or amount.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different request")
)

// RefundReceipt is the stored outcome of an applied refund.
type RefundReceipt struct {
	RefundID       uuid.UUID       `json:"refundId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	PlanID         uuid.UUID       `json:"planId"`
	Amount         decimal.Decimal `json:"amount"`
	RefundedAmount decimal.Decimal `json:"refundedAmount"`
	AppliedAt      time.Time       `json:"appliedAt"`
}

// Store wraps a BoltDB database holding payment plans.
type Store struct {
	db       *bolt.DB
	planOpts []models.Option
}

// New opens (or creates) a BoltDB database at the given path and ensures the
// buckets exist. planOpts are passed to models.Decode for every plan read,
// so stored plans keep using the caller's clock and payment references.
func New(path string, planOpts ...models.Option) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{plansBucket, refundsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, planOpts: planOpts}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create persists a new plan. Plans get fresh IDs on construction, so an
// existing key means the caller is saving the same plan twice.
func (s *Store) Create(p *models.PaymentPlan) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(plansBucket)
		key := []byte(p.ID().String())
		if b.Get(key) != nil {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, p.ID())
		}
		return putPlan(b, p)
	})
}

// Get retrieves a single plan by ID.
// Returns ErrNotFound if the key does not exist.
func (s *Store) Get(id uuid.UUID) (*models.PaymentPlan, error) {
	var p *models.PaymentPlan
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		p, err = s.getPlan(tx.Bucket(plansBucket), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// List returns all stored plans ordered by ID.
func (s *Store) List() ([]*models.PaymentPlan, error) {
	plans := []*models.PaymentPlan{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(plansBucket).ForEach(func(k, v []byte) error {
			p, err := models.Decode(v, s.planOpts...)
			if err != nil {
				return err
			}
			plans = append(plans, p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return plans, nil
}

// Update loads the plan, applies fn and writes the result back, all inside
// one read-write transaction. If fn returns an error nothing is written, so
// a failed operation never leaves a partially mutated plan behind.
func (s *Store) Update(id uuid.UUID, fn func(*models.PaymentPlan) error) (*models.PaymentPlan, error) {
	var p *models.PaymentPlan
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(plansBucket)
		var err error
		p, err = s.getPlan(b, id)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		return putPlan(b, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ApplyRefund applies refund to the plan at most once per idempotency key.
//
// Returns (receipt, true, nil) when the refund was applied now.
// Returns (stored, false, nil) when the key was seen before with the same plan
// and amount; nothing is written.
// Returns ErrIdempotencyConflict when the key was used for another request.
func (s *Store) ApplyRefund(planID uuid.UUID, refund models.Refund) (*RefundReceipt, bool, error) {
	if refund.IdempotencyKey == "" {
		return nil, false, fmt.Errorf("%w: idempotencyKey is empty", models.ErrInvalidArgument)
	}

	var receipt RefundReceipt
	applied := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		refunds := tx.Bucket(refundsBucket)
		key := []byte(refund.IdempotencyKey)

		if existing := refunds.Get(key); existing != nil {
			if err := json.Unmarshal(existing, &receipt); err != nil {
				return err
			}
			if receipt.PlanID != planID || !receipt.Amount.Equal(refund.Amount) {
				return fmt.Errorf("%w: key %q", ErrIdempotencyConflict, refund.IdempotencyKey)
			}
			return nil
		}

		plans := tx.Bucket(plansBucket)
		p, err := s.getPlan(plans, planID)
		if err != nil {
			return err
		}
		refundedAmount, err := p.ApplyRefund(refund)
		if err != nil {
			return err
		}
		if err := putPlan(plans, p); err != nil {
			return err
		}

		receipt = RefundReceipt{
			RefundID:       refund.ID,
			IdempotencyKey: refund.IdempotencyKey,
			PlanID:         planID,
			Amount:         refund.Amount,
			RefundedAmount: refundedAmount,
			AppliedAt:      refund.Date,
		}
		data, err := json.Marshal(receipt)
		if err != nil {
			return err
		}
		applied = true
		return refunds.Put(key, data)
	})
	if err != nil {
		return nil, false, err
	}
	return &receipt, applied, nil
}

func (s *Store) getPlan(b *bolt.Bucket, id uuid.UUID) (*models.PaymentPlan, error) {
	v := b.Get([]byte(id.String()))
	if v == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return models.Decode(v, s.planOpts...)
}

func putPlan(b *bolt.Bucket, p *models.PaymentPlan) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return b.Put([]byte(p.ID().String()), data)
}
