package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/iudanet/gophsync/pkg/api"
)

// ErrNotAuthenticated клиент не имеет токенов для запроса
var ErrNotAuthenticated = errors.New("not authenticated")

// StatusError ответ backend'а с кодом вне 2xx.
// Status 0 означает, что ответ фактически не получен (транспортная ошибка
// прокси или клиента) и классифицируется как сетевая ошибка.
type StatusError struct {
	Data    map[string]any
	Message string
	Status  int
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error (%d)", e.Status)
	}
	return fmt.Sprintf("server error (%d): %s", e.Status, e.Message)
}

func newStatusError(status int, body []byte) *StatusError {
	se := &StatusError{Status: status}

	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		se.Message = errResp.Message
		se.Data = errResp.Data
		return se
	}

	se.Message = string(body)
	return se
}

// StatusOf возвращает HTTP статус ошибки backend'а или 0
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// IsNetworkError классифицирует ошибку как временную сетевую:
// отказ в соединении, ошибка DNS, таймаут, обрыв соединения
// или ответ со статусом 0. Такие операции повторяются позже.
// Все остальные ошибки (валидация, конфликт, авторизация) постоянные.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == 0
	}

	// прерванный запрос не говорит ничего о самой операции
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
