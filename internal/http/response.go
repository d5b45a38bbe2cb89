package http

import (
	"encoding/json"
	"net/http"

	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusOf(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation, domain.KindBusiness:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden, domain.KindUnavailable:
		return http.StatusForbidden
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err onto the taxonomy. Integrity violations and unknown
// errors are logged in full and reported with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := observability.FromContext(r.Context(), observability.NewNopLogger())
	de, ok := domain.AsError(err)
	if !ok || de.Kind == domain.KindIntegrity {
		log.WithError(err).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error", Code: "internal_error"})
		return
	}
	if de.Kind == domain.KindExternal {
		log.WithError(err).Warn("upstream dependency failed")
	}
	writeJSON(w, statusOf(de.Kind), errorBody{Error: de.Message, Code: de.Code})
}
