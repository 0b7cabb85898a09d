package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/forms"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/ingest"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/syncer"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var transition *forms.TransitionError
	switch {
	case errors.Is(err, forms.ErrTemplateNotFound):
		return http.StatusNotFound
	case errors.Is(err, forms.ErrInvalidTemplate):
		return http.StatusBadRequest
	case errors.Is(err, syncer.ErrSyncInProgress),
		errors.Is(err, syncer.ErrNotSyncable),
		errors.Is(err, ingest.ErrNotDeployed),
		errors.As(err, &transition):
		return http.StatusConflict
	case errors.Is(err, syncer.ErrPushFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// pageParams reads pageSize and pageToken. Stores clamp the size.
func pageParams(r *http.Request) (int, string) {
	pageSize := 20
	if ps := r.URL.Query().Get("pageSize"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 {
			pageSize = v
		}
	}
	return pageSize, r.URL.Query().Get("pageToken")
}
