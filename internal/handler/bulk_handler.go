package handler

import (
	"net/http"

	"payment-orchestrator/internal/batch"
	"payment-orchestrator/internal/errors"
	"payment-orchestrator/internal/service"
)

const maxUploadSize = 10 << 20

type BulkHandler struct {
	batches *service.BatchService
}

func NewBulkHandler(batches *service.BatchService) *BulkHandler {
	return &BulkHandler{
		batches: batches,
	}
}

type bulkRejection struct {
	Name   string      `json:"name"`
	Errors interface{} `json:"errors"`
}

type bulkAccepted struct {
	Rows int `json:"rows"`
}

// BulkAdjustment validates an uploaded adjustment file and, when every row
// passes, applies it in the background. The report goes to reportRecipient.
func (h *BulkHandler) BulkAdjustment(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "FILE_NOT_FOUND").WithDetails(err.Error()))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "FILE_NOT_FOUND").WithDetails(err.Error()))
		return
	}
	defer file.Close()

	rows, rowErrors, err := batch.Parse(file)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(rowErrors) > 0 {
		writeRaw(w, http.StatusBadRequest, bulkRejection{Name: "VALIDATION_FAILED", Errors: rowErrors})
		return
	}

	hdrs := headersFrom(r)
	failures, err := h.batches.Prevalidate(r.Context(), hdrs, rows)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(failures) > 0 {
		writeRaw(w, http.StatusOK, bulkRejection{Name: "PARTIAL_SUCCESS", Errors: []map[string]interface{}{{"data": failures}}})
		return
	}

	h.batches.Start(r.Context(), hdrs, rows, r.FormValue("reportRecipient"))
	writeJSON(w, http.StatusAccepted, bulkAccepted{Rows: len(rows)})
}
