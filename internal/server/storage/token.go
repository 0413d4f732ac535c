package storage

import (
	"context"
	"time"

	"github.com/iudanet/gophsync/internal/models"
)

// TokenStorage хранилище refresh токенов. Токены одноразовые:
// refresh потребляет старый токен и выдает новый.
type TokenStorage interface {
	// SaveRefreshToken сохраняет токен (только его хеш)
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error

	// ConsumeRefreshToken атомарно удаляет токен и возвращает его.
	// Returns ErrTokenNotFound if the token is unknown or already used
	ConsumeRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)

	// DeleteExpiredTokens удаляет токены, истекшие к now
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error)
}
