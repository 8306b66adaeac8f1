package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/Mashup/internal/analyte"
	"github.com/MikeSquared-Agency/Mashup/internal/bands"
	"github.com/MikeSquared-Agency/Mashup/internal/resultcache"
	"github.com/MikeSquared-Agency/Mashup/internal/session"
	"github.com/MikeSquared-Agency/Mashup/internal/threshold"
	"github.com/MikeSquared-Agency/Mashup/internal/upstream"
	"github.com/MikeSquared-Agency/Mashup/internal/validate"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine and upstream errors to HTTP responses.
func writeError(w http.ResponseWriter, err error) {
	var rej *validate.RejectionError
	var conf *validate.ConfirmationError
	var up *upstream.Error

	switch {
	case errors.As(err, &rej):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":   err.Error(),
			"reasons": rej.Reasons,
		})
	case errors.As(err, &conf):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":                 err.Error(),
			"warnings":              conf.Warnings,
			"confirmation_required": true,
		})
	case errors.As(err, &up):
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":   err.Error(),
			"service": up.Service,
			"status":  up.Status,
			"message": up.Message,
		})
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, analyte.ErrUnknownAnalyte),
		errors.Is(err, threshold.ErrUnknownAnalyte):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, session.ErrSubmissionInFlight):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, threshold.ErrPercentileRange),
		errors.Is(err, bands.ErrInvalidBand),
		errors.Is(err, bands.ErrIndexOutOfRange):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, resultcache.ErrUnreadable),
		errors.Is(err, bands.ErrUnreadable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func decode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// pathParam returns an unescaped URL parameter; analyte names may contain
// spaces and slashes.
func pathParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}
