package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/iudanet/gophsync/internal/server/handlers"
)

// Recovery перехватывает panic обработчика, логирует стек и отвечает
// 500 в JSON формате ошибок backend'а. http.ErrAbortHandler пробрасывается.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				logger.ErrorContext(r.Context(), "Panic recovered",
					slog.Any("error", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)

				handlers.SendError(w, logger, "something went wrong while processing your request", http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
