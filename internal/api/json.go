package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/zettel/internal/apperr"
)

const maxBodyBytes = 10 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
	Kind  string `json:"kind,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps the apperr taxonomy onto HTTP status codes. Storage and
// drift failures are logged and reported without their cause.
func writeError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	status, kind := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Error(op+" failed", slog.String("error", err.Error()))
		msg := "internal error"
		if kind == "drift" {
			msg = "index out of date; reconcile pending"
		}
		writeJSON(w, status, errResponse{Error: msg, Kind: kind})
		return
	}
	writeJSON(w, status, errResponse{Error: err.Error(), Kind: kind})
}

func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusUnprocessableEntity, "validation"
	case errors.Is(err, apperr.ErrParse):
		return http.StatusUnprocessableEntity, "parse"
	case errors.Is(err, apperr.ErrDrift):
		return http.StatusInternalServerError, "drift"
	default:
		return http.StatusInternalServerError, "storage"
	}
}

// decodeBody reads a JSON request body into dst, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body: "+err.Error()))
		return false
	}
	return true
}
