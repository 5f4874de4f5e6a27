package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arkantrust/payment-plans/backend/config"
	"github.com/arkantrust/payment-plans/backend/handlers"
	"github.com/arkantrust/payment-plans/backend/models"
	"github.com/arkantrust/payment-plans/backend/store"
)

var now = time.Date(2024, time.January, 15, 8, 0, 0, 0, time.UTC)

type installmentBody struct {
	ID     string `json:"id"`
	Amount string `json:"amount"`
	Status string `json:"status"`
}

type viewBody struct {
	Plan struct {
		ID           string            `json:"id"`
		Installments []installmentBody `json:"installments"`
		Refunds      []json.RawMessage `json:"refunds"`
	} `json:"plan"`
	OutstandingBalance     string           `json:"outstandingBalance"`
	AmountPastDue          string           `json:"amountPastDue"`
	NextInstallment        *installmentBody `json:"nextInstallment"`
	MaximumRefundAvailable string           `json:"maximumRefundAvailable"`
}

type refundBody struct {
	RefundedAmount string   `json:"refundedAmount"`
	Plan           viewBody `json:"plan"`
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	clock := models.ClockFunc(func() time.Time { return now })
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"), models.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	h := handlers.New(s, zap.NewNop(), config.Plan{InstallmentCount: 4, IntervalDays: 14}, clock)
	mux := http.NewServeMux()
	h.Register(mux, handlers.CORS)
	mux.HandleFunc("/", handlers.Preflight)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func createPlan(t *testing.T, srv *httptest.Server, body string) viewBody {
	t.Helper()
	resp := post(t, srv.URL+"/plans", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[viewBody](t, resp)
}

func TestCreatePlan(t *testing.T) {
	srv := newServer(t)

	view := createPlan(t, srv, `{"amount": "100"}`)
	require.Len(t, view.Plan.Installments, 4)
	assert.Equal(t, "25", view.Plan.Installments[0].Amount)
	assert.Equal(t, "pending", view.Plan.Installments[0].Status)
	assert.Equal(t, "100", view.OutstandingBalance)
	assert.Equal(t, "0", view.AmountPastDue)
	require.NotNil(t, view.NextInstallment)
	assert.Equal(t, view.Plan.Installments[0].ID, view.NextInstallment.ID)

	view = createPlan(t, srv, `{"amount": 100, "installmentCount": 3, "installmentIntervalDays": 7}`)
	require.Len(t, view.Plan.Installments, 3)
	assert.Equal(t, "33.34", view.Plan.Installments[2].Amount)
}

func TestCreatePlanRejectsInvalidInput(t *testing.T) {
	srv := newServer(t)
	for _, body := range []string{
		`{"amount": "0"}`,
		`{"amount": "100", "installmentCount": 0}`,
		`{"amount": "100", "installmentIntervalDays": -1}`,
		`{"amount": "100", "installmentIntervalDays": 10000000}`,
		`{"amount": "100000", "installmentCount": 100000}`,
		`{"amount": "100", "installmentCount": 12, "installmentIntervalDays": 36500}`,
		`{"amount": `,
	} {
		resp := post(t, srv.URL+"/plans", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestGetAndListPlans(t *testing.T) {
	srv := newServer(t)
	created := createPlan(t, srv, `{"amount": "1000"}`)

	resp := get(t, srv.URL+"/plans/"+created.Plan.ID+"?asOf="+now.AddDate(0, 3, 0).Format(time.RFC3339))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[viewBody](t, resp)
	assert.Equal(t, created.Plan.ID, view.Plan.ID)
	assert.Equal(t, "1000", view.AmountPastDue)

	resp = get(t, srv.URL+"/plans")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	views := decode[[]viewBody](t, resp)
	require.Len(t, views, 1)

	assert.Equal(t, http.StatusNotFound, get(t, srv.URL+"/plans/3b241101-e2bb-4255-8caf-4136c566a962").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/plans/not-a-uuid").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/plans/"+created.Plan.ID+"?asOf=tomorrow").StatusCode)
}

func TestPayInstallment(t *testing.T) {
	srv := newServer(t)
	created := createPlan(t, srv, `{"amount": "100"}`)
	first := created.Plan.Installments[0]
	url := srv.URL + "/plans/" + created.Plan.ID + "/payments"

	resp := post(t, url, `{"installmentId": "`+first.ID+`", "amount": "24"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = post(t, url, `{"installmentId": "3b241101-e2bb-4255-8caf-4136c566a962", "amount": "25"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = post(t, url, `{"installmentId": "`+first.ID+`", "amount": "25"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[viewBody](t, resp)
	assert.Equal(t, "75", view.OutstandingBalance)
	assert.Equal(t, "paid", view.Plan.Installments[0].Status)
	require.NotNil(t, view.NextInstallment)
	assert.Equal(t, created.Plan.Installments[1].ID, view.NextInstallment.ID)

	resp = post(t, url, `{"installmentId": "`+first.ID+`", "amount": "25"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDefaultInstallment(t *testing.T) {
	srv := newServer(t)
	created := createPlan(t, srv, `{"amount": "100"}`)
	url := srv.URL + "/plans/" + created.Plan.ID + "/installments/" + created.Plan.Installments[0].ID + "/default"

	resp := post(t, url, ``)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[viewBody](t, resp)
	assert.Equal(t, "defaulted", view.Plan.Installments[0].Status)
	assert.Equal(t, "100", view.OutstandingBalance)

	assert.Equal(t, http.StatusConflict, post(t, url, ``).StatusCode)
}

func TestRefundIdempotency(t *testing.T) {
	srv := newServer(t)
	created := createPlan(t, srv, `{"amount": "100"}`)
	first := created.Plan.Installments[0]
	base := srv.URL + "/plans/" + created.Plan.ID

	resp := post(t, base+"/payments", `{"installmentId": "`+first.ID+`", "amount": "25"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, base+"/refunds/refund-abc", `{"amount": "100"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	applied := decode[refundBody](t, resp)
	assert.Equal(t, "25", applied.RefundedAmount)
	assert.Equal(t, "0", applied.Plan.OutstandingBalance)
	assert.Nil(t, applied.Plan.NextInstallment)
	assert.Equal(t, "100", applied.Plan.MaximumRefundAvailable)

	// A retry returns the same outcome without applying the refund again.
	resp = post(t, base+"/refunds/refund-abc", `{"amount": "100"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	replayed := decode[refundBody](t, resp)
	assert.Equal(t, "25", replayed.RefundedAmount)
	assert.Len(t, replayed.Plan.Plan.Refunds, 1)

	resp = post(t, base+"/refunds/refund-abc", `{"amount": "50"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = post(t, base+"/refunds/refund-zero", `{"amount": "0"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPreflight(t *testing.T) {
	srv := newServer(t)
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/plans", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
