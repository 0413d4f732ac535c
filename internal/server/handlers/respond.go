package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/iudanet/gophsync/pkg/api"
)

// SendJSON отправляет JSON ответ
func SendJSON(w http.ResponseWriter, logger *slog.Logger, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", slog.Any("error", err))
	}
}

// SendError отправляет JSON ответ с ошибкой в формате backend'а
func SendError(w http.ResponseWriter, logger *slog.Logger, message string, statusCode int) {
	SendFieldError(w, logger, message, statusCode, nil)
}

// SendFieldError отправляет ошибку с деталями по полям
func SendFieldError(w http.ResponseWriter, logger *slog.Logger, message string, statusCode int, data map[string]any) {
	resp := api.ErrorResponse{
		Code:    statusCode,
		Message: message,
		Data:    data,
	}
	SendJSON(w, logger, resp, statusCode)
}
