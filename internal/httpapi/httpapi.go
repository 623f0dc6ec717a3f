package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"lajupos/backend/internal/domain"
	"lajupos/backend/internal/engine"
	"lajupos/backend/internal/store"
)

type API struct {
	engine *engine.Engine
}

func New(eng *engine.Engine) *API {
	return &API{engine: eng}
}

// result is the uniform response envelope. status_code mirrors the HTTP
// status so clients reading only the body still see the outcome.
type result struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Data       any    `json:"data,omitempty"`
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(requestLogger)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/orders", a.handleCreateOrder)
		r.Get("/orders/{orderID}", a.handleGetOrder)
		r.Patch("/orders/{orderID}", a.handleAmendOrder)
		r.Post("/orders/{orderID}/cancel", a.handleCancelOrder)
		r.Post("/payments/webhook", a.handlePaymentWebhook)
		r.Get("/audit-logs", a.handleAuditLogs)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeResult(w, http.StatusOK, "ok", nil)
}

func (a *API) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err)
		return
	}

	order, err := a.engine.Create(r.Context(), req)
	if err != nil {
		writeFailure(w, statusForErr(err), err)
		return
	}
	writeResult(w, http.StatusOK, "order created", order)
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.engine.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeFailure(w, statusForErr(err), err)
		return
	}
	writeResult(w, http.StatusOK, "ok", order)
}

func (a *API) handleAmendOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.AmendOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err)
		return
	}

	order, err := a.engine.Amend(r.Context(), chi.URLParam(r, "orderID"), req)
	if err != nil {
		writeFailure(w, statusForErr(err), err)
		return
	}
	writeResult(w, http.StatusOK, "order amended", order)
}

func (a *API) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	actorID := strings.TrimSpace(r.Header.Get("X-Actor-ID"))

	order, err := a.engine.Cancel(r.Context(), chi.URLParam(r, "orderID"), actorID)
	if err != nil {
		writeFailure(w, statusForErr(err), err)
		return
	}
	writeResult(w, http.StatusOK, "order canceled", order)
}

func (a *API) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err)
		return
	}

	order, err := a.engine.ConfirmPayment(r.Context(), req)
	if err != nil {
		writeFailure(w, statusForErr(err), err)
		return
	}
	writeResult(w, http.StatusOK, "payment confirmed", order)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 500 {
		limit = 500
	}

	logs, err := a.engine.ListAuditLogs(r.Context(), r.URL.Query().Get("date"), limit)
	if err != nil {
		writeFailure(w, statusForErr(err), err)
		return
	}
	writeResult(w, http.StatusOK, "ok", logs)
}

// statusForErr maps the engine's error taxonomy onto the envelope codes:
// 404 missing entity, 409 retryable concurrency conflict, 400 every other
// business-rule rejection, 500 otherwise.
func statusForErr(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrTerminalOrderState),
		errors.Is(err, store.ErrInvalidOrder),
		errors.Is(err, domain.ErrPromoIneligible):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func writeFailure(w http.ResponseWriter, status int, err error) {
	// 5xx messages stay generic so storage details never leak to clients.
	msg := err.Error()
	if status >= 500 {
		log.Printf("[httpapi] internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, result{StatusCode: status, Message: msg})
}

func writeResult(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, result{StatusCode: status, Message: message, Data: data})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
