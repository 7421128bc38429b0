package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/linemk/market-shop/internal/lib/apperr"
)

// ErrorResponse — тело ошибки на HTTP-границе
type ErrorResponse struct {
	Message string `json:"message"`
	Route   string `json:"route"`
}

func writeJSON(logger *slog.Logger, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", slog.Any("error", err))
	}
}

func writeError(logger *slog.Logger, w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(logger, w, status, ErrorResponse{Message: message, Route: r.URL.Path})
}

// writeAppError отображает ошибку сервиса на HTTP-статус по её категории;
// внутренности инфраструктурных ошибок наружу не уходят
func writeAppError(logger *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("unexpected error", slog.Any("error", err))
	}
	writeError(logger, w, r, status, apperr.Message(err))
}
