package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an Installment.
type Status string

const (
	// StatusPending means the installment is not yet paid.
	StatusPending Status = "pending"
	// StatusPaid means the installment was settled, either by a charge or
	// covered by a refund.
	StatusPaid Status = "paid"
	// StatusDefaulted means the charge for the installment failed.
	StatusDefaulted Status = "defaulted"
)

func (s Status) valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusDefaulted:
		return true
	}
	return false
}

// Settlement records how and when an installment was paid. It exists only
// for installments in StatusPaid.
type Settlement struct {
	Reference string    `json:"reference"`
	SettledAt time.Time `json:"settledAt"`
}

// Installment is one scheduled, fixed-amount obligation within a plan.
//
// Installments are created by NewPaymentPlan and change state only through
// the owning PaymentPlan. Values handed out by the plan are copies.
type Installment struct {
	id         uuid.UUID
	dueDate    time.Time
	amount     decimal.Decimal
	status     Status
	settlement *Settlement
}

func newInstallment(amount decimal.Decimal, dueDate time.Time) *Installment {
	return &Installment{
		id:      uuid.New(),
		dueDate: dueDate,
		amount:  amount,
		status:  StatusPending,
	}
}

// ID identifies the installment within its plan.
func (i Installment) ID() uuid.UUID { return i.id }

// DueDate is when the installment is owed.
func (i Installment) DueDate() time.Time { return i.dueDate }

// Amount is the fixed amount owed.
func (i Installment) Amount() decimal.Decimal { return i.amount }

// Status reports the lifecycle state.
func (i Installment) Status() Status { return i.status }

// IsPaid reports whether the installment was settled.
func (i Installment) IsPaid() bool { return i.status == StatusPaid }

// IsDefaulted reports whether the charge for the installment failed.
func (i Installment) IsDefaulted() bool { return i.status == StatusDefaulted }

// IsPending reports whether the installment is still owed.
func (i Installment) IsPending() bool { return i.status == StatusPending }

// Settlement returns the settlement details and true when the installment
// is paid.
func (i Installment) Settlement() (Settlement, bool) {
	if i.settlement == nil {
		return Settlement{}, false
	}
	return *i.settlement, true
}

// PaymentReference is empty unless the installment is paid.
func (i Installment) PaymentReference() string {
	if i.settlement == nil {
		return ""
	}
	return i.settlement.Reference
}

// SettlementDate is the zero time unless the installment is paid.
func (i Installment) SettlementDate() time.Time {
	if i.settlement == nil {
		return time.Time{}
	}
	return i.settlement.SettledAt
}

// markPaid settles a pending installment. Paid and defaulted are terminal.
func (i *Installment) markPaid(reference string, at time.Time) error {
	if !i.IsPending() {
		return fmt.Errorf("%w: installment %s is %s", ErrInvalidState, i.id, i.status)
	}
	if reference == "" {
		return fmt.Errorf("%w: paymentReference is empty", ErrInvalidArgument)
	}
	i.status = StatusPaid
	i.settlement = &Settlement{Reference: reference, SettledAt: at}
	return nil
}

func (i *Installment) markDefaulted() error {
	if !i.IsPending() {
		return fmt.Errorf("%w: installment %s is %s", ErrInvalidState, i.id, i.status)
	}
	i.status = StatusDefaulted
	return nil
}

type installmentJSON struct {
	ID         uuid.UUID       `json:"id"`
	DueDate    time.Time       `json:"dueDate"`
	Amount     decimal.Decimal `json:"amount"`
	Status     Status          `json:"status"`
	Settlement *Settlement     `json:"settlement,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (i Installment) MarshalJSON() ([]byte, error) {
	return json.Marshal(installmentJSON{
		ID:         i.id,
		DueDate:    i.dueDate,
		Amount:     i.amount,
		Status:     i.status,
		Settlement: i.settlement,
	})
}

// UnmarshalJSON implements json.Unmarshaler. It rejects snapshots where the
// settlement does not agree with the status.
func (i *Installment) UnmarshalJSON(data []byte) error {
	var raw installmentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !raw.Status.valid() {
		return fmt.Errorf("%w: status:%q", ErrInvalidArgument, raw.Status)
	}
	if (raw.Status == StatusPaid) != (raw.Settlement != nil) {
		return fmt.Errorf("%w: installment %s is %s with settlement=%t",
			ErrInvalidState, raw.ID, raw.Status, raw.Settlement != nil)
	}
	if !raw.Amount.IsPositive() {
		return fmt.Errorf("%w: amount:%s", ErrInvalidArgument, raw.Amount)
	}
	*i = Installment{
		id:         raw.ID,
		dueDate:    raw.DueDate,
		amount:     raw.Amount,
		status:     raw.Status,
		settlement: raw.Settlement,
	}
	return nil
}
