package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkantrust/payment-plans/backend/models"
)

func TestDecodeRestoresPlan(t *testing.T) {
	p := newPlan(t, "100", models.WithInstallmentCount(3), models.WithInstallmentInterval(7))
	first, err := p.FirstInstallment()
	require.NoError(t, err)
	require.NoError(t, p.MakePayment(first.Amount(), first.ID()))
	require.NoError(t, p.DefaultInstallment(p.Installments()[1].ID()))
	_, err = p.ApplyRefund(newRefund(t, "5"))
	require.NoError(t, err)

	data, err := json.Marshal(p)
	require.NoError(t, err)

	later := origination.Add(48 * time.Hour)
	restored, err := models.Decode(data,
		models.WithClock(fixedClock(later)),
		models.WithReferences(func() string { return "ch_restored" }),
		models.WithInstallmentCount(99))
	require.NoError(t, err)

	assert.Equal(t, p.ID(), restored.ID())
	assert.True(t, p.TotalAmountOwed().Equal(restored.TotalAmountOwed()))
	assert.Equal(t, 3, restored.NumberOfInstallments())
	assert.Equal(t, 7, restored.InstallmentIntervalDays())
	assert.True(t, p.OriginationDate().Equal(restored.OriginationDate()))
	require.Len(t, restored.Installments(), 3)
	assert.Len(t, restored.PaidInstallments(), 1)
	assert.Len(t, restored.DefaultedInstallments(), 1)
	assert.Equal(t, p.PaidInstallments()[0].PaymentReference(), restored.PaidInstallments()[0].PaymentReference())
	assert.True(t, restored.MaximumRefundAvailable().Equal(dec("5")))

	// Restored plans use the collaborators supplied to Decode.
	next, ok := restored.NextInstallment()
	require.True(t, ok)
	require.NoError(t, restored.MakePayment(next.Amount(), next.ID()))
	last := restored.PaidInstallments()[1]
	assert.Equal(t, "ch_restored", last.PaymentReference())
	assert.True(t, later.Equal(last.SettlementDate()))
}

func TestDecodeAcceptsHandWrittenSnapshot(t *testing.T) {
	p, err := models.Decode([]byte(`{"totalAmountOwed":"10","numberOfInstallments":2,"installmentIntervalDays":14,
		"originationDate":"2024-03-01T00:00:00Z","installments":[
		{"id":"3b241101-e2bb-4255-8caf-4136c566a962","dueDate":"2024-03-01T00:00:00Z","amount":"5","status":"pending"},
		{"id":"4c241101-e2bb-4255-8caf-4136c566a962","dueDate":"2024-03-15T00:00:00Z","amount":"5","status":"pending"}]}`))
	require.NoError(t, err)
	assert.Len(t, p.PendingInstallments(), 2)
}

func TestUnmarshalJSONRoundTrip(t *testing.T) {
	p := newPlan(t, "250")
	data, err := json.Marshal(p)
	require.NoError(t, err)

	var restored models.PaymentPlan
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, p.ID(), restored.ID())
	assert.True(t, restored.OutstandingBalance().Equal(dec("250")))
}

func TestDecodeRejectsBrokenSnapshots(t *testing.T) {
	cases := map[string]string{
		"count mismatch": `{"totalAmountOwed":"10","numberOfInstallments":2,"installments":[
			{"id":"3b241101-e2bb-4255-8caf-4136c566a962","dueDate":"2024-03-01T00:00:00Z","amount":"10","status":"pending"}]}`,
		"sum mismatch": `{"totalAmountOwed":"10","numberOfInstallments":1,"installments":[
			{"id":"3b241101-e2bb-4255-8caf-4136c566a962","dueDate":"2024-03-01T00:00:00Z","amount":"9","status":"pending"}]}`,
		"paid without settlement": `{"totalAmountOwed":"10","numberOfInstallments":1,"installments":[
			{"id":"3b241101-e2bb-4255-8caf-4136c566a962","dueDate":"2024-03-01T00:00:00Z","amount":"10","status":"paid"}]}`,
		"settlement on pending": `{"totalAmountOwed":"10","numberOfInstallments":1,"installments":[
			{"id":"3b241101-e2bb-4255-8caf-4136c566a962","dueDate":"2024-03-01T00:00:00Z","amount":"10","status":"pending",
			 "settlement":{"reference":"x","settledAt":"2024-03-01T00:00:00Z"}}]}`,
		"unknown status": `{"totalAmountOwed":"10","numberOfInstallments":1,"installments":[
			{"id":"3b241101-e2bb-4255-8caf-4136c566a962","dueDate":"2024-03-01T00:00:00Z","amount":"10","status":"late"}]}`,
		"due dates out of order": `{"totalAmountOwed":"10","numberOfInstallments":2,"installments":[
			{"id":"3b241101-e2bb-4255-8caf-4136c566a962","dueDate":"2024-03-15T00:00:00Z","amount":"5","status":"pending"},
			{"id":"4c241101-e2bb-4255-8caf-4136c566a962","dueDate":"2024-03-01T00:00:00Z","amount":"5","status":"pending"}]}`,
		"due date off schedule": `{"totalAmountOwed":"10","numberOfInstallments":2,"installmentIntervalDays":14,
			"originationDate":"2024-03-01T00:00:00Z","installments":[
			{"id":"3b241101-e2bb-4255-8caf-4136c566a962","dueDate":"2024-03-01T00:00:00Z","amount":"5","status":"pending"},
			{"id":"4c241101-e2bb-4255-8caf-4136c566a962","dueDate":"2024-03-16T00:00:00Z","amount":"5","status":"pending"}]}`,
		"first due date after origination": `{"totalAmountOwed":"10","numberOfInstallments":1,"installmentIntervalDays":14,
			"originationDate":"2024-03-01T00:00:00Z","installments":[
			{"id":"3b241101-e2bb-4255-8caf-4136c566a962","dueDate":"2024-03-02T00:00:00Z","amount":"10","status":"pending"}]}`,
		"zero interval": `{"totalAmountOwed":"10","numberOfInstallments":1,"installmentIntervalDays":0,
			"originationDate":"2024-03-01T00:00:00Z","installments":[
			{"id":"3b241101-e2bb-4255-8caf-4136c566a962","dueDate":"2024-03-01T00:00:00Z","amount":"10","status":"pending"}]}`,
		"not json": `{`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := models.Decode([]byte(data))
			require.Error(t, err)
		})
	}
}

func TestFirstInstallmentOnEmptyPlan(t *testing.T) {
	var p models.PaymentPlan

	_, err := p.FirstInstallment()
	require.ErrorIs(t, err, models.ErrEmptyPlan)

	_, ok := p.NextInstallment()
	assert.False(t, ok)
	assert.True(t, p.OutstandingBalance().IsZero())

	// Snapshots without installments are not accepted on load.
	_, err = models.Decode([]byte(`{"totalAmountOwed":"0","numberOfInstallments":0,"installmentIntervalDays":14,"installments":[]}`))
	require.ErrorIs(t, err, models.ErrInvalidArgument)
}
