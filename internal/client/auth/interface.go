package auth

import (
	"context"
	"time"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/pkg/api"
)

//go:generate moq -out service_mock.go . Service

// Client операции backend'а, нужные сессии
type Client interface {
	SignUp(ctx context.Context, username, password string) (models.Record, error)
	AuthWithPassword(ctx context.Context, identity, password string) (*api.AuthResponse, error)
	AuthRefresh(ctx context.Context) (*api.AuthResponse, error)
	SetTokens(token, refreshToken string)
	Tokens() (string, string)
	TokenExpiresWithin(d time.Duration) bool
}

// Service defines the backend session operations used by the CLI.
// The session survives CLI runs in AuthStorage; Restore loads it back
// into the API client.
type Service interface {
	// Register создает пользователя на backend'е, сессию не открывает
	Register(ctx context.Context, username, password string) (models.Record, error)

	// Login аутентифицирует пользователя и сохраняет сессию
	Login(ctx context.Context, username, password string) (*storage.AuthData, error)

	// Restore загружает сохраненную сессию в API клиент
	// Returns storage.ErrAuthNotFound if nobody is logged in
	Restore(ctx context.Context) (*storage.AuthData, error)

	// RefreshIfNeeded обновляет access token, если он скоро истекает
	RefreshIfNeeded(ctx context.Context) error

	// Logout удаляет локальную сессию
	Logout(ctx context.Context) error

	// Session возвращает сохраненную сессию без загрузки в клиент
	Session(ctx context.Context) (*storage.AuthData, error)
}
