// Package auth manages the backend session of the client: login, token
// refresh ahead of expiry and persistence of the tokens between runs.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	apiclient "github.com/iudanet/gophsync/internal/client/api"
	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/validation"
)

var (
	// ErrSessionExpired backend отверг refresh token, нужен повторный login
	ErrSessionExpired = errors.New("session expired, please login again")

	// ErrOtherServer сохраненная сессия открыта на другом backend'е
	ErrOtherServer = errors.New("session belongs to another server")
)

// Default session settings.
const (
	DefaultRefreshBefore = 5 * time.Minute
	DefaultSessionTTL    = 720 * time.Hour
)

// Config настройки сессии
type Config struct {
	Logger    *slog.Logger
	ServerURL string
	// RefreshBefore за сколько до истечения access token обновляется
	RefreshBefore time.Duration
	// SessionTTL время жизни refresh token на backend'е
	SessionTTL time.Duration
}

// SessionService implements Service over the API client and AuthStorage
type SessionService struct {
	client        Client
	store         storage.AuthStorage
	logger        *slog.Logger
	now           func() time.Time
	serverURL     string
	refreshBefore time.Duration
	sessionTTL    time.Duration
	mu            sync.Mutex // один refresh за раз: refresh token одноразовый
}

var _ Service = (*SessionService)(nil)

// NewService создает сервис сессии
func NewService(client Client, store storage.AuthStorage, cfg Config) *SessionService {
	s := &SessionService{
		client:        client,
		store:         store,
		logger:        cfg.Logger,
		now:           time.Now,
		serverURL:     cfg.ServerURL,
		refreshBefore: cfg.RefreshBefore,
		sessionTTL:    cfg.SessionTTL,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.refreshBefore <= 0 {
		s.refreshBefore = DefaultRefreshBefore
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = DefaultSessionTTL
	}
	return s
}

// Register регистрирует пользователя
func (s *SessionService) Register(ctx context.Context, username, password string) (models.Record, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("invalid username: %w", err)
	}
	if err := validation.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("invalid password: %w", err)
	}

	rec, err := s.client.SignUp(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("registration failed: %w", err)
	}

	s.logger.Info("User registered", "username", username, "user_id", rec.ID())
	return rec, nil
}

// Login аутентифицирует пользователя и сохраняет сессию
func (s *SessionService) Login(ctx context.Context, username, password string) (*storage.AuthData, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("invalid username: %w", err)
	}
	if password == "" {
		return nil, fmt.Errorf("invalid password: password cannot be empty")
	}

	resp, err := s.client.AuthWithPassword(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	user := models.Record{}
	if len(resp.Record) > 0 {
		if user, err = models.DecodeRecord(resp.Record); err != nil {
			return nil, fmt.Errorf("failed to decode user record: %w", err)
		}
	}

	authData := &storage.AuthData{
		Username:     username,
		UserID:       user.ID(),
		AccessToken:  resp.Token,
		RefreshToken: resp.RefreshToken,
		ServerURL:    s.serverURL,
		ExpiresAt:    s.now().Add(s.sessionTTL).Unix(),
	}
	if err := s.store.SaveAuth(ctx, authData); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.Info("Logged in", "username", username, "user_id", authData.UserID)
	return authData, nil
}

// Restore загружает сохраненную сессию в API клиент
func (s *SessionService) Restore(ctx context.Context) (*storage.AuthData, error) {
	authData, err := s.store.GetAuth(ctx)
	if err != nil {
		return nil, err
	}

	if s.serverURL != "" && authData.ServerURL != "" && authData.ServerURL != s.serverURL {
		return nil, fmt.Errorf("%w: %s", ErrOtherServer, authData.ServerURL)
	}

	s.client.SetTokens(authData.AccessToken, authData.RefreshToken)
	return authData, nil
}

// RefreshIfNeeded обновляет access token, если он истекает в течение
// RefreshBefore. Без сессии ничего не делает.
func (s *SessionService) RefreshIfNeeded(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, refreshToken := s.client.Tokens()
	if token == "" && refreshToken == "" {
		return nil
	}
	if token != "" && !s.client.TokenExpiresWithin(s.refreshBefore) {
		return nil
	}

	return s.refresh(ctx)
}

// refresh меняет пару токенов; вызывается под mu
func (s *SessionService) refresh(ctx context.Context) error {
	resp, err := s.client.AuthRefresh(ctx)
	if err != nil {
		if apiclient.StatusOf(err) == http.StatusUnauthorized {
			s.logger.Warn("Refresh token rejected, dropping session", "error", err)
			s.client.SetTokens("", "")
			if delErr := s.store.DeleteAuth(ctx); delErr != nil && !errors.Is(delErr, storage.ErrAuthNotFound) {
				s.logger.Error("Failed to delete expired session", "error", delErr)
			}
			return ErrSessionExpired
		}
		return fmt.Errorf("failed to refresh token: %w", err)
	}

	authData, err := s.store.GetAuth(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrAuthNotFound) {
			return fmt.Errorf("failed to load session: %w", err)
		}
		authData = &storage.AuthData{ServerURL: s.serverURL}
	}
	authData.AccessToken = resp.Token
	authData.RefreshToken = resp.RefreshToken
	authData.ExpiresAt = s.now().Add(s.sessionTTL).Unix()

	if err := s.store.SaveAuth(ctx, authData); err != nil {
		return fmt.Errorf("failed to save refreshed session: %w", err)
	}

	s.logger.Debug("Access token refreshed", "username", authData.Username)
	return nil
}

// Logout удаляет локальную сессию. Refresh token на backend'е истечет сам.
func (s *SessionService) Logout(ctx context.Context) error {
	s.client.SetTokens("", "")
	if err := s.store.DeleteAuth(ctx); err != nil && !errors.Is(err, storage.ErrAuthNotFound) {
		return fmt.Errorf("failed to delete local auth data: %w", err)
	}
	return nil
}

// Session возвращает сохраненную сессию
func (s *SessionService) Session(ctx context.Context) (*storage.AuthData, error) {
	return s.store.GetAuth(ctx)
}
