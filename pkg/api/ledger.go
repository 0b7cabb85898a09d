package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/ledger"
)

// ListReceiptsHandler handles GET /api/formsync/v1/receipts
// Query params: status, source, externalFormId, pageSize, pageToken
func ListReceiptsHandler(store *ledger.ReceiptStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := ledger.ReceiptFilter{
			Status:         ledger.ReceiptStatus(q.Get("status")),
			Source:         ledger.Source(q.Get("source")),
			ExternalFormID: q.Get("externalFormId"),
		}
		pageSize, pageToken := pageParams(r)

		receipts, next, total, err := store.List(r.Context(), filter, pageSize, pageToken)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to list receipts: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"receipts":      receipts,
			"nextPageToken": next,
			"totalSize":     total,
		})
	}
}

// GetReceiptHandler handles GET /api/formsync/v1/receipts/{externalId}
func GetReceiptHandler(store *ledger.ReceiptStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "externalId")
		receipt, err := store.Get(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get receipt: %v", err))
			return
		}
		if receipt == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("receipt %q not found", id))
			return
		}
		writeJSON(w, http.StatusOK, receipt)
	}
}

// ListSubmissionsHandler handles GET /api/formsync/v1/submissions
// Query params: templateId, validationStatus, beneficiaryId, source, pageSize, pageToken
func ListSubmissionsHandler(store *ledger.SubmissionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := ledger.SubmissionFilter{
			TemplateID:       q.Get("templateId"),
			ValidationStatus: q.Get("validationStatus"),
			BeneficiaryID:    q.Get("beneficiaryId"),
			Source:           ledger.Source(q.Get("source")),
		}
		pageSize, pageToken := pageParams(r)

		records, next, total, err := store.List(r.Context(), filter, pageSize, pageToken)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to list submissions: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"submissions":   records,
			"nextPageToken": next,
			"totalSize":     total,
		})
	}
}

// GetSubmissionHandler handles GET /api/formsync/v1/submissions/{externalId}
func GetSubmissionHandler(store *ledger.SubmissionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "externalId")
		rec, err := store.GetByExternalID(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get submission: %v", err))
			return
		}
		if rec == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("submission %q not found", id))
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}
