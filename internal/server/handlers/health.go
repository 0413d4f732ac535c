package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/iudanet/gophsync/pkg/api"
)

// Pinger проверка доступности хранилища
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler обрабатывает health check запросы
type HealthHandler struct {
	logger *slog.Logger
	db     Pinger
}

// NewHealthHandler создает новый handler для health check.
// db может быть nil: тогда проверяется только сам процесс.
func NewHealthHandler(logger *slog.Logger, db Pinger) *HealthHandler {
	return &HealthHandler{
		logger: logger,
		db:     db,
	}
}

// Health обрабатывает GET /api/health
// Клиентский монитор связи считает доступным только ответ 200
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.logger.ErrorContext(r.Context(), "database unavailable", slog.Any("error", err))
			SendError(w, h.logger, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	resp := api.HealthResponse{
		Code:    http.StatusOK,
		Message: "API is healthy.",
	}
	SendJSON(w, h.logger, resp, http.StatusOK)
}
