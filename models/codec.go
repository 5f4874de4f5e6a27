package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type planJSON struct {
	ID                      uuid.UUID       `json:"id"`
	TotalAmountOwed         decimal.Decimal `json:"totalAmountOwed"`
	NumberOfInstallments    int             `json:"numberOfInstallments"`
	InstallmentIntervalDays int             `json:"installmentIntervalDays"`
	OriginationDate         time.Time       `json:"originationDate"`
	Installments            []Installment   `json:"installments"`
	Refunds                 []Refund        `json:"refunds"`
}

// MarshalJSON implements json.Marshaler.
func (p *PaymentPlan) MarshalJSON() ([]byte, error) {
	return json.Marshal(planJSON{
		ID:                      p.id,
		TotalAmountOwed:         p.totalAmountOwed,
		NumberOfInstallments:    p.numberOfInstallments,
		InstallmentIntervalDays: p.intervalDays,
		OriginationDate:         p.originationDate,
		Installments:            p.Installments(),
		Refunds:                 p.Refunds(),
	})
}

// UnmarshalJSON implements json.Unmarshaler using the system clock and UUID
// references. Use Decode to bind other collaborators.
func (p *PaymentPlan) UnmarshalJSON(data []byte) error {
	restored, err := Decode(data)
	if err != nil {
		return err
	}
	*p = *restored
	return nil
}

// Decode restores a plan previously produced by MarshalJSON. Only WithClock
// and WithReferences take effect; schedule options are ignored.
func Decode(data []byte, opts ...Option) (*PaymentPlan, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var raw planJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode payment plan: %w", err)
	}

	p := &PaymentPlan{
		id:                   raw.ID,
		totalAmountOwed:      raw.TotalAmountOwed,
		numberOfInstallments: raw.NumberOfInstallments,
		intervalDays:         raw.InstallmentIntervalDays,
		originationDate:      raw.OriginationDate,
		installments:         make([]*Installment, 0, len(raw.Installments)),
		refunds:              raw.Refunds,
		clock:                cfg.clock,
		references:           cfg.references,
	}
	for i := range raw.Installments {
		p.installments = append(p.installments, &raw.Installments[i])
	}
	if err := p.checkInvariants(); err != nil {
		return nil, fmt.Errorf("decode payment plan %s: %w", raw.ID, err)
	}
	return p, nil
}

func (p *PaymentPlan) checkInvariants() error {
	if err := validateSchedule(p.originationDate, p.numberOfInstallments, p.intervalDays); err != nil {
		return err
	}
	if len(p.installments) != p.numberOfInstallments {
		return fmt.Errorf("%w: %d installments, want %d",
			ErrInvalidState, len(p.installments), p.numberOfInstallments)
	}
	total := decimal.Zero
	for i, in := range p.installments {
		total = total.Add(in.amount)
		want := p.originationDate.AddDate(0, 0, i*p.intervalDays)
		if !in.dueDate.Equal(want) {
			return fmt.Errorf("%w: installment %s due %s, want %s",
				ErrInvalidState, in.id, in.dueDate.Format(time.RFC3339), want.Format(time.RFC3339))
		}
	}
	if !total.Equal(p.totalAmountOwed) {
		return fmt.Errorf("%w: installments sum to %s, want %s", ErrInvalidState, total, p.totalAmountOwed)
	}
	return nil
}
