package handler

import (
	"net/http"

	"payment-orchestrator/internal/easypaisa"
	"payment-orchestrator/internal/errors"
	"payment-orchestrator/internal/service"
)

// EasypaisaHandler speaks the biller's protocol: every answer is a 200 whose
// body carries the outcome code.
type EasypaisaHandler struct {
	easypaisa *service.EasypaisaService
}

func NewEasypaisaHandler(svc *service.EasypaisaService) *EasypaisaHandler {
	return &EasypaisaHandler{
		easypaisa: svc,
	}
}

func (h *EasypaisaHandler) BillInquiry(w http.ResponseWriter, r *http.Request) {
	var req easypaisa.InquiryRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, errors.ValidationFailure) {
		writeRaw(w, http.StatusOK, easypaisa.InquiryErrorFor(errors.ErrBadTransaction))
		return
	}

	resp, err := h.easypaisa.BillInquiry(r.Context(), req)
	if err != nil {
		writeRaw(w, http.StatusOK, easypaisa.InquiryErrorFor(err))
		return
	}
	writeRaw(w, http.StatusOK, resp)
}

func (h *EasypaisaHandler) BillPayment(w http.ResponseWriter, r *http.Request) {
	var req easypaisa.ConfirmationRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, errors.ValidationFailure) {
		writeRaw(w, http.StatusOK, easypaisa.PaymentErrorFor(errors.ErrBadTransaction))
		return
	}

	resp, err := h.easypaisa.BillPayment(r.Context(), req)
	if err != nil {
		writeRaw(w, http.StatusOK, easypaisa.PaymentErrorFor(err))
		return
	}
	writeRaw(w, http.StatusOK, resp)
}
