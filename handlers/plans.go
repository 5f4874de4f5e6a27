// Package handlers provides the HTTP API for installment payment plans.
//
// Routes:
//
//   - GET  /plans                                          – list plans.
//   - POST /plans                                          – create a plan.
//   - GET  /plans/{id}?asOf=RFC3339                        – plan with balances.
//   - POST /plans/{id}/payments                            – pay one installment.
//   - POST /plans/{id}/installments/{installmentId}/default – record a failed charge.
//   - POST /plans/{id}/refunds/{key}                       – apply a refund.
//
// The {key} path parameter of the refund route is the idempotency key. The
// first request applies the refund and returns 201 Created; retries with the
// same key return the original outcome with 200 OK and do not touch the plan.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/arkantrust/payment-plans/backend/config"
	"github.com/arkantrust/payment-plans/backend/models"
	"github.com/arkantrust/payment-plans/backend/store"
)

// Handler holds the dependencies for all plan HTTP handlers.
type Handler struct {
	store    *store.Store
	log      *zap.Logger
	defaults config.Plan
	clock    models.Clock
}

// New creates a new Handler. defaults supplies the schedule for requests
// that omit it; a nil clock means models.SystemClock.
func New(s *store.Store, log *zap.Logger, defaults config.Plan, clock models.Clock) *Handler {
	if clock == nil {
		clock = models.SystemClock
	}
	return &Handler{store: s, log: log, defaults: defaults, clock: clock}
}

// Register mounts every route on mux, wrapping each with wrap.
func (h *Handler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	mux.Handle("GET /plans", wrap(http.HandlerFunc(h.list)))
	mux.Handle("POST /plans", wrap(http.HandlerFunc(h.create)))
	mux.Handle("GET /plans/{id}", wrap(http.HandlerFunc(h.get)))
	mux.Handle("POST /plans/{id}/payments", wrap(http.HandlerFunc(h.pay)))
	mux.Handle("POST /plans/{id}/installments/{installmentId}/default", wrap(http.HandlerFunc(h.markDefaulted)))
	mux.Handle("POST /plans/{id}/refunds/{key}", wrap(http.HandlerFunc(h.refund)))
}

type createPlanRequest struct {
	Amount                  decimal.Decimal `json:"amount"`
	InstallmentCount        *int            `json:"installmentCount,omitempty"`
	InstallmentIntervalDays *int            `json:"installmentIntervalDays,omitempty"`
}

type paymentRequest struct {
	InstallmentID uuid.UUID       `json:"installmentId"`
	Amount        decimal.Decimal `json:"amount"`
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type refundResponse struct {
	RefundedAmount decimal.Decimal      `json:"refundedAmount"`
	Receipt        *store.RefundReceipt `json:"receipt"`
	Plan           planView             `json:"plan"`
}

// planView is a plan together with the balances derived from it.
type planView struct {
	Plan                   *models.PaymentPlan `json:"plan"`
	AsOf                   time.Time           `json:"asOf"`
	OutstandingBalance     decimal.Decimal     `json:"outstandingBalance"`
	AmountPastDue          decimal.Decimal     `json:"amountPastDue"`
	NextInstallment        *models.Installment `json:"nextInstallment"`
	MaximumRefundAvailable decimal.Decimal     `json:"maximumRefundAvailable"`
}

func newPlanView(p *models.PaymentPlan, asOf time.Time) planView {
	v := planView{
		Plan:                   p,
		AsOf:                   asOf,
		OutstandingBalance:     p.OutstandingBalance(),
		AmountPastDue:          p.AmountPastDue(asOf),
		MaximumRefundAvailable: p.MaximumRefundAvailable(),
	}
	if next, ok := p.NextInstallment(); ok {
		v.NextInstallment = &next
	}
	return v
}

// list handles GET /plans.
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	plans, err := h.store.List()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	now := h.clock.Now()
	views := make([]planView, 0, len(plans))
	for _, p := range plans {
		views = append(views, newPlanView(p, now))
	}
	writeJSON(w, http.StatusOK, views)
}

// create handles POST /plans.
func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var body createPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	count, interval := h.defaults.InstallmentCount, h.defaults.IntervalDays
	if body.InstallmentCount != nil {
		count = *body.InstallmentCount
	}
	if body.InstallmentIntervalDays != nil {
		interval = *body.InstallmentIntervalDays
	}

	p, err := models.NewPaymentPlan(body.Amount,
		models.WithInstallmentCount(count),
		models.WithInstallmentInterval(interval),
		models.WithClock(h.clock))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.Create(p); err != nil {
		h.fail(w, r, err)
		return
	}

	h.log.Info("payment plan created",
		zap.Stringer("plan_id", p.ID()),
		zap.Stringer("amount", p.TotalAmountOwed()),
		zap.Int("installments", p.NumberOfInstallments()))
	writeJSON(w, http.StatusCreated, newPlanView(p, p.OriginationDate()))
}

// get handles GET /plans/{id}. The optional asOf query parameter (RFC 3339)
// sets the reference date for the past-due amount; it defaults to now.
func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	asOf := h.clock.Now()
	if raw := r.URL.Query().Get("asOf"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "asOf must be an RFC 3339 timestamp")
			return
		}
		asOf = t
	}

	p, err := h.store.Get(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlanView(p, asOf))
}

// pay handles POST /plans/{id}/payments. The amount must equal the
// installment amount exactly.
func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var body paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p, err := h.store.Update(id, func(p *models.PaymentPlan) error {
		return p.MakePayment(body.Amount, body.InstallmentID)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.log.Info("installment paid",
		zap.Stringer("plan_id", id),
		zap.Stringer("installment_id", body.InstallmentID),
		zap.Stringer("amount", body.Amount))
	writeJSON(w, http.StatusOK, newPlanView(p, h.clock.Now()))
}

// markDefaulted handles POST /plans/{id}/installments/{installmentId}/default,
// the callback for a failed charge.
func (h *Handler) markDefaulted(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	installmentID, ok := pathUUID(w, r, "installmentId")
	if !ok {
		return
	}

	p, err := h.store.Update(id, func(p *models.PaymentPlan) error {
		return p.DefaultInstallment(installmentID)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.log.Warn("installment defaulted",
		zap.Stringer("plan_id", id),
		zap.Stringer("installment_id", installmentID))
	writeJSON(w, http.StatusOK, newPlanView(p, h.clock.Now()))
}

// refund handles POST /plans/{id}/refunds/{key}.
//
// refundedAmount in the response is the cash the payment provider must
// return: the total paid on the plan before this refund was applied.
func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	key := r.PathValue("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing idempotency key in path")
		return
	}
	var body refundRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	refund, err := models.NewRefund(key, body.Amount, h.clock.Now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	receipt, applied, err := h.store.ApplyRefund(id, refund)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.store.Get(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := refundResponse{
		RefundedAmount: receipt.RefundedAmount,
		Receipt:        receipt,
		Plan:           newPlanView(p, h.clock.Now()),
	}
	if !applied {
		h.log.Info("refund replayed", zap.Stringer("plan_id", id), zap.String("idempotency_key", key))
		writeJSON(w, http.StatusOK, resp)
		return
	}
	h.log.Info("refund applied",
		zap.Stringer("plan_id", id),
		zap.String("idempotency_key", key),
		zap.Stringer("amount", refund.Amount),
		zap.Stringer("refunded_amount", receipt.RefundedAmount))
	writeJSON(w, http.StatusCreated, resp)
}

// fail maps err to an HTTP status and writes it. Unexpected errors are
// logged and hidden from the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, status, "internal error")
		return
	}
	h.log.Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAmountMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrInvalidState),
		errors.Is(err, store.ErrIdempotencyConflict),
		errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name+" in path")
		return uuid.UUID{}, false
	}
	return id, true
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
