package handler

import (
	"net/http"

	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/service"
)

type PaymentHandler struct {
	payments *service.PaymentService
}

func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
	}
}

func (h *PaymentHandler) Hold(w http.ResponseWriter, r *http.Request) {
	var req service.HoldRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.payments.Hold(r.Context(), headersFrom(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *PaymentHandler) Release(w http.ResponseWriter, r *http.Request) {
	h.out(w, r, domain.ActionRelease)
}

func (h *PaymentHandler) Charge(w http.ResponseWriter, r *http.Request) {
	h.out(w, r, domain.ActionCharge)
}

func (h *PaymentHandler) out(w http.ResponseWriter, r *http.Request, action domain.Action) {
	var req service.OutRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	tx, err := h.payments.OutProcedure(r.Context(), headersFrom(r), req, action)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *PaymentHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	var req service.RollbackRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.payments.Rollback(r.Context(), headersFrom(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *PaymentHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	var req service.HoldRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	tx, err := h.payments.TopUp(r.Context(), headersFrom(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *PaymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req service.OutRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.payments.Cancel(r.Context(), headersFrom(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	tx, err := h.payments.GetTransaction(r.Context(), headersFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *PaymentHandler) IntentStatus(w http.ResponseWriter, r *http.Request) {
	in, err := h.payments.GetIntentStatus(r.Context(), headersFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

// SadadNotification acknowledges the biller's webhook with its own envelope.
func (h *PaymentHandler) SadadNotification(w http.ResponseWriter, r *http.Request) {
	var n service.SadadNotification
	if err := decodeBody(r, &n); err != nil {
		writeError(w, err)
		return
	}

	ack, err := h.payments.HandleSadadNotification(r.Context(), n)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, ack)
}

func (h *PaymentHandler) CreateTopupIntent(w http.ResponseWriter, r *http.Request) {
	var req service.TopupIntentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	in, err := h.payments.CreateTopupIntent(r.Context(), headersFrom(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, in)
}

func (h *PaymentHandler) FetchTopupIntent(w http.ResponseWriter, r *http.Request) {
	in, err := h.payments.FetchTopupIntent(r.Context(), r.URL.Query().Get("account"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}
