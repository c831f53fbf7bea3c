package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"dbhub/internal/core"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps the error taxonomy onto HTTP statuses. Anything outside the
// taxonomy is a 500 with a sanitized body; the details go to the log only.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	switch {
	case core.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case isBadRequest(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case isForbidden(err):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	default:
		log.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func isBadRequest(err error) bool {
	var br *core.BadRequestError
	return errors.As(err, &br)
}

func isForbidden(err error) bool {
	var fb *core.ForbiddenError
	return errors.As(err, &fb)
}
