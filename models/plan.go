// Package models implements the installment payment plan aggregate.
//
// A PaymentPlan splits a purchase amount into equal installments due at a
// fixed interval from the origination date. Payments settle installments one
// at a time; refunds are allocated back across installments in due-date
// order. The aggregate does no I/O and no locking: callers serialise
// mutations per plan (the store does this with a single write transaction).
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// DefaultInstallmentCount is the number of installments when none is given.
	DefaultInstallmentCount = 4
	// DefaultInstallmentIntervalDays is the spacing of due dates when none is given.
	DefaultInstallmentIntervalDays = 14

	// MaxInstallmentCount bounds the number of installments in one plan.
	MaxInstallmentCount = 1000
	// MaxScheduleDays bounds the days between origination and the last due date.
	MaxScheduleDays = 100 * 366

	// maxDueYear keeps due dates encodable as RFC 3339.
	maxDueYear = 9999

	// centPlaces is the number of decimal places of the smallest currency unit.
	centPlaces = 2
)

// Option configures NewPaymentPlan and Decode.
type Option func(*planConfig)

type planConfig struct {
	installmentCount int
	intervalDays     int
	clock            Clock
	references       ReferenceFunc
}

func defaultConfig() planConfig {
	return planConfig{
		installmentCount: DefaultInstallmentCount,
		intervalDays:     DefaultInstallmentIntervalDays,
		clock:            SystemClock,
		references:       UUIDReferences,
	}
}

// WithInstallmentCount sets the number of installments.
func WithInstallmentCount(n int) Option {
	return func(c *planConfig) { c.installmentCount = n }
}

// WithInstallmentInterval sets the number of days between due dates.
func WithInstallmentInterval(days int) Option {
	return func(c *planConfig) { c.intervalDays = days }
}

// WithClock overrides the time source. A nil clock is ignored.
func WithClock(clock Clock) Option {
	return func(c *planConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithReferences overrides the payment reference generator. A nil func is
// ignored.
func WithReferences(fn ReferenceFunc) Option {
	return func(c *planConfig) {
		if fn != nil {
			c.references = fn
		}
	}
}

// PaymentPlan is the aggregate governing one purchase's installment schedule.
type PaymentPlan struct {
	id                   uuid.UUID
	totalAmountOwed      decimal.Decimal
	numberOfInstallments int
	intervalDays         int
	originationDate      time.Time
	installments         []*Installment
	refunds              []Refund

	clock      Clock
	references ReferenceFunc
}

// NewPaymentPlan builds a plan for amount and eagerly generates its
// installments. The first installment is due on the origination date.
//
// amount must be positive, a whole number of cents and at least one cent per
// installment; amounts with fractional cents are rejected rather than
// rounded. The installment count is limited to MaxInstallmentCount and the
// schedule to MaxScheduleDays.
func NewPaymentPlan(amount decimal.Decimal, opts ...Option) (*PaymentPlan, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount:%s", ErrInvalidArgument, amount)
	}
	if !amount.Equal(amount.Truncate(centPlaces)) {
		return nil, fmt.Errorf("%w: amount:%s has fractional cents", ErrInvalidArgument, amount)
	}
	origination := cfg.clock.Now().UTC()
	if err := validateSchedule(origination, cfg.installmentCount, cfg.intervalDays); err != nil {
		return nil, err
	}

	p := &PaymentPlan{
		id:                   uuid.New(),
		totalAmountOwed:      amount,
		numberOfInstallments: cfg.installmentCount,
		intervalDays:         cfg.intervalDays,
		originationDate:      origination,
		clock:                cfg.clock,
		references:           cfg.references,
	}
	if err := p.initializeInstallments(); err != nil {
		return nil, err
	}
	return p, nil
}

// validateSchedule checks the installment count and interval, including that
// the last due date stays within MaxScheduleDays and year 9999.
func validateSchedule(origination time.Time, count, intervalDays int) error {
	if count <= 0 || count > MaxInstallmentCount {
		return fmt.Errorf("%w: installmentCount:%d must be between 1 and %d",
			ErrInvalidArgument, count, MaxInstallmentCount)
	}
	if intervalDays <= 0 || intervalDays > MaxScheduleDays {
		return fmt.Errorf("%w: installmentIntervalDays:%d must be between 1 and %d",
			ErrInvalidArgument, intervalDays, MaxScheduleDays)
	}
	span := (count - 1) * intervalDays
	if span > MaxScheduleDays {
		return fmt.Errorf("%w: installmentIntervalDays:%d over %d installments spans %d days, more than %d",
			ErrInvalidArgument, intervalDays, count, span, MaxScheduleDays)
	}
	if last := origination.AddDate(0, 0, span); last.Year() > maxDueYear {
		return fmt.Errorf("%w: installmentIntervalDays:%d puts the last due date in year %d",
			ErrInvalidArgument, intervalDays, last.Year())
	}
	return nil
}

// initializeInstallments splits the total into equal cent amounts. The last
// installment absorbs the remainder so the sum equals the total exactly.
func (p *PaymentPlan) initializeInstallments() error {
	count := decimal.NewFromInt(int64(p.numberOfInstallments))
	base := p.totalAmountOwed.Div(count).Truncate(centPlaces)
	if !base.IsPositive() {
		return fmt.Errorf("%w: amount:%s is less than one cent per installment across %d installments",
			ErrInvalidArgument, p.totalAmountOwed, p.numberOfInstallments)
	}
	last := p.totalAmountOwed.Sub(base.Mul(count.Sub(decimal.NewFromInt(1))))

	p.installments = make([]*Installment, 0, p.numberOfInstallments)
	for i := 0; i < p.numberOfInstallments; i++ {
		amount := base
		if i == p.numberOfInstallments-1 {
			amount = last
		}
		due := p.originationDate.AddDate(0, 0, i*p.intervalDays)
		p.installments = append(p.installments, newInstallment(amount, due))
	}
	return nil
}

// ID identifies the plan.
func (p *PaymentPlan) ID() uuid.UUID { return p.id }

// TotalAmountOwed is the purchase amount, equal to the sum of installments.
func (p *PaymentPlan) TotalAmountOwed() decimal.Decimal { return p.totalAmountOwed }

// NumberOfInstallments is the installment count fixed at construction.
func (p *PaymentPlan) NumberOfInstallments() int { return p.numberOfInstallments }

// InstallmentIntervalDays is the number of days between due dates.
func (p *PaymentPlan) InstallmentIntervalDays() int { return p.intervalDays }

// OriginationDate is when the plan was created and the first installment is due.
func (p *PaymentPlan) OriginationDate() time.Time { return p.originationDate }

// Installments returns copies of all installments in due-date order.
func (p *PaymentPlan) Installments() []Installment {
	return p.filter(func(Installment) bool { return true })
}

// Refunds returns the applied refunds in the order they were applied.
func (p *PaymentPlan) Refunds() []Refund {
	out := make([]Refund, len(p.refunds))
	copy(out, p.refunds)
	return out
}

// FirstInstallment returns the installment with the earliest due date.
func (p *PaymentPlan) FirstInstallment() (Installment, error) {
	var first *Installment
	for _, in := range p.installments {
		if first == nil || in.dueDate.Before(first.dueDate) {
			first = in
		}
	}
	if first == nil {
		return Installment{}, ErrEmptyPlan
	}
	return *first, nil
}

// NextInstallment returns the pending installment with the earliest due
// date. The boolean is false when nothing is pending.
func (p *PaymentPlan) NextInstallment() (Installment, bool) {
	var next *Installment
	for _, in := range p.installments {
		if !in.IsPending() {
			continue
		}
		if next == nil || in.dueDate.Before(next.dueDate) {
			next = in
		}
	}
	if next == nil {
		return Installment{}, false
	}
	return *next, true
}

// OutstandingBalance is the total of pending and defaulted installments.
func (p *PaymentPlan) OutstandingBalance() decimal.Decimal {
	return p.sum(func(in Installment) bool { return !in.IsPaid() })
}

// AmountPastDue totals pending installments due strictly before asOf.
func (p *PaymentPlan) AmountPastDue(asOf time.Time) decimal.Decimal {
	return p.sum(func(in Installment) bool {
		return in.IsPending() && in.dueDate.Before(asOf)
	})
}

// PaidInstallments returns paid installments in due-date order.
func (p *PaymentPlan) PaidInstallments() []Installment {
	return p.filter(Installment.IsPaid)
}

// DefaultedInstallments returns defaulted installments in due-date order.
func (p *PaymentPlan) DefaultedInstallments() []Installment {
	return p.filter(Installment.IsDefaulted)
}

// PendingInstallments returns pending installments in due-date order.
func (p *PaymentPlan) PendingInstallments() []Installment {
	return p.filter(Installment.IsPending)
}

// MaximumRefundAvailable is the total of every refund applied to the plan so
// far, that is the refunds issued to date rather than remaining capacity.
func (p *PaymentPlan) MaximumRefundAvailable() decimal.Decimal {
	total := decimal.Zero
	for _, r := range p.refunds {
		total = total.Add(r.Amount)
	}
	return total
}

// MakePayment settles the installment identified by installmentID. Only
// payments matching the installment amount exactly are accepted.
func (p *PaymentPlan) MakePayment(amount decimal.Decimal, installmentID uuid.UUID) error {
	in, err := p.find(installmentID)
	if err != nil {
		return err
	}
	if !amount.Equal(in.amount) {
		return fmt.Errorf("%w: amount:%s installment %s owes %s",
			ErrAmountMismatch, amount, installmentID, in.amount)
	}
	return in.markPaid(p.references(), p.clock.Now())
}

// DefaultInstallment records a failed charge against a pending installment.
func (p *PaymentPlan) DefaultInstallment(installmentID uuid.UUID) error {
	in, err := p.find(installmentID)
	if err != nil {
		return err
	}
	return in.markDefaulted()
}

// ApplyRefund records refund and allocates its amount across installments
// in due-date order, settling each installment the remaining amount covers.
//
// The remaining amount is reduced by every visited installment, including
// ones that were already settled. The returned value is the total that had
// been paid before the refund, which is the cash to return via the payment
// provider.
func (p *PaymentPlan) ApplyRefund(refund Refund) (decimal.Decimal, error) {
	if err := refund.validate(); err != nil {
		return decimal.Zero, err
	}

	refundedAmount := p.sum(Installment.IsPaid)
	rollback := p.checkpoint()
	p.refunds = append(p.refunds, refund)

	remaining := refund.Amount
	for _, in := range p.installments {
		if remaining.GreaterThanOrEqual(in.amount) {
			err := p.MakePayment(in.amount, in.id)
			if err != nil && !errors.Is(err, ErrInvalidState) {
				rollback()
				return decimal.Zero, err
			}
		}
		remaining = remaining.Sub(in.amount)
	}
	return refundedAmount, nil
}

// checkpoint captures installment states and the refund history length. The
// returned func restores them.
func (p *PaymentPlan) checkpoint() func() {
	saved := make([]Installment, len(p.installments))
	for i, in := range p.installments {
		saved[i] = *in
	}
	refunds := len(p.refunds)
	return func() {
		for i := range saved {
			*p.installments[i] = saved[i]
		}
		p.refunds = p.refunds[:refunds]
	}
}

func (p *PaymentPlan) find(id uuid.UUID) (*Installment, error) {
	for _, in := range p.installments {
		if in.id == id {
			return in, nil
		}
	}
	return nil, fmt.Errorf("%w: installmentId:%s", ErrNotFound, id)
}

func (p *PaymentPlan) filter(keep func(Installment) bool) []Installment {
	out := []Installment{}
	for _, in := range p.installments {
		if keep(*in) {
			out = append(out, *in)
		}
	}
	return out
}

func (p *PaymentPlan) sum(keep func(Installment) bool) decimal.Decimal {
	total := decimal.Zero
	for _, in := range p.installments {
		if keep(*in) {
			total = total.Add(in.amount)
		}
	}
	return total
}
