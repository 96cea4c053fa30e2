package httptransport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"doc-ingest-service/internal/repository"
	"doc-ingest-service/internal/service"
	"doc-ingest-service/internal/storage"
)

type apiError struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Message: msg})
}

var errMalformedUpload = errors.New("malformed multipart body")

// writeServiceError is the single place mapping service errors to status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes), errors.Is(err, storage.ErrTooLarge):
		writeErr(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, service.ErrNoFiles),
		errors.Is(err, service.ErrUnknownCategory),
		errors.Is(err, service.ErrTooManyFiles),
		errors.Is(err, service.ErrUnknownTable),
		errors.Is(err, errMalformedUpload):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeErr(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrNotProcessed):
		writeErr(w, http.StatusConflict, err.Error())
	default:
		logger.Error("http.internal_error", "path", r.URL.Path, "err", err)
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}
