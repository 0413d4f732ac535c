package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/gophsync/internal/crypto"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/server/storage"
	"github.com/iudanet/gophsync/internal/validation"
	"github.com/iudanet/gophsync/pkg/api"
)

// AuthHandler обрабатывает запросы авторизации коллекции users
type AuthHandler struct {
	logger       *slog.Logger
	userStorage  storage.UserStorage
	tokenStorage storage.TokenStorage
	jwtConfig    JWTConfig
}

// NewAuthHandler создает новый handler для авторизации
func NewAuthHandler(logger *slog.Logger, userStorage storage.UserStorage, tokenStorage storage.TokenStorage, jwtConfig JWTConfig) *AuthHandler {
	return &AuthHandler{
		logger:       logger,
		userStorage:  userStorage,
		tokenStorage: tokenStorage,
		jwtConfig:    jwtConfig,
	}
}

// userRecord представление пользователя в виде записи коллекции users
func userRecord(user *models.User) models.Record {
	rec := models.Record{
		models.FieldID:      user.ID,
		models.FieldCreated: models.FormatTime(user.CreatedAt),
		models.FieldUpdated: models.FormatTime(user.CreatedAt),
		"username":          user.Username,
	}
	if user.LastLogin != nil {
		rec[models.FieldUpdated] = models.FormatTime(*user.LastLogin)
	}
	return rec
}

// SignUp обрабатывает POST /api/collections/users/records
// Регистрация нового пользователя
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.ErrorContext(ctx, "failed to decode sign up request", slog.Any("error", err))
		SendError(w, h.logger, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := validation.ValidateUsername(req.Username); err != nil {
		h.logger.WarnContext(ctx, "invalid username", slog.String("username", req.Username), slog.Any("error", err))
		SendFieldError(w, h.logger, "failed to create record", http.StatusBadRequest,
			map[string]any{"username": err.Error()})
		return
	}
	if err := validation.ValidatePassword(req.Password); err != nil {
		SendFieldError(w, h.logger, "failed to create record", http.StatusBadRequest,
			map[string]any{"password": err.Error()})
		return
	}
	if req.Password != req.PasswordConfirm {
		SendFieldError(w, h.logger, "failed to create record", http.StatusBadRequest,
			map[string]any{"passwordConfirm": "values don't match"})
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to hash password", slog.Any("error", err))
		SendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}

	if err := h.userStorage.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrUserAlreadyExists) {
			h.logger.WarnContext(ctx, "user already exists", slog.String("username", req.Username))
			SendFieldError(w, h.logger, "failed to create record", http.StatusBadRequest,
				map[string]any{"username": "username already taken"})
			return
		}
		h.logger.ErrorContext(ctx, "failed to create user", slog.Any("error", err))
		SendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.InfoContext(ctx, "user registered successfully",
		slog.String("username", user.Username),
		slog.String("user_id", user.ID))

	SendJSON(w, h.logger, userRecord(user), http.StatusOK)
}

// AuthWithPassword обрабатывает POST /api/collections/users/auth-with-password
// Аутентификация пользователя по паролю
func (h *AuthHandler) AuthWithPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.ErrorContext(ctx, "failed to decode auth request", slog.Any("error", err))
		SendError(w, h.logger, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Identity == "" || req.Password == "" {
		SendError(w, h.logger, "identity and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.userStorage.FindUserByIdentity(ctx, req.Identity)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			h.logger.WarnContext(ctx, "login failed: user not found", slog.String("username", req.Identity))
			SendError(w, h.logger, "failed to authenticate", http.StatusBadRequest)
			return
		}
		h.logger.ErrorContext(ctx, "failed to get user", slog.Any("error", err))
		SendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	if err := crypto.VerifyPassword(req.Password, user.PasswordHash); err != nil {
		h.logger.WarnContext(ctx, "login failed: invalid password", slog.String("username", req.Identity))
		SendError(w, h.logger, "failed to authenticate", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	if err := h.userStorage.RecordLogin(ctx, user.ID, now); err != nil {
		// Не критичная ошибка, логируем но не прерываем
		h.logger.WarnContext(ctx, "failed to update last login", slog.Any("error", err))
	} else {
		user.LastLogin = &now
	}

	h.issueTokens(w, r, user)
}

// AuthRefresh обрабатывает POST /api/collections/users/auth-refresh
// Обмен refresh token из тела запроса на новую пару токенов.
// Старый refresh token одноразовый и удаляется при обмене (rotation).
func (h *AuthHandler) AuthRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.ErrorContext(ctx, "failed to decode refresh request", slog.Any("error", err))
		SendError(w, h.logger, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RefreshToken == "" {
		SendError(w, h.logger, "refresh token is required", http.StatusUnauthorized)
		return
	}

	// токен потребляется до всех проверок: истекший или чужой
	// токен все равно становится непригодным
	storedToken, err := h.tokenStorage.ConsumeRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			h.logger.WarnContext(ctx, "refresh token not found or already used")
			SendError(w, h.logger, "invalid refresh token", http.StatusUnauthorized)
			return
		}
		h.logger.ErrorContext(ctx, "failed to consume refresh token", slog.Any("error", err))
		SendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	if time.Now().After(storedToken.ExpiresAt) {
		h.logger.WarnContext(ctx, "refresh token expired", slog.String("user_id", storedToken.UserID))
		SendError(w, h.logger, "refresh token expired", http.StatusUnauthorized)
		return
	}

	user, err := h.userStorage.GetUserByID(ctx, storedToken.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			SendError(w, h.logger, "invalid refresh token", http.StatusUnauthorized)
			return
		}
		h.logger.ErrorContext(ctx, "failed to get user", slog.Any("error", err))
		SendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	h.issueTokens(w, r, user)
}

// issueTokens выдает новую пару токенов и отправляет AuthResponse
func (h *AuthHandler) issueTokens(w http.ResponseWriter, r *http.Request, user *models.User) {
	ctx := r.Context()

	now := time.Now()
	accessToken, err := h.jwtConfig.IssueAccessToken(user, now)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to generate access token", slog.Any("error", err))
		SendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	token, err := h.jwtConfig.NewRefreshToken(user.ID, now)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to generate refresh token", slog.Any("error", err))
		SendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}
	if err := h.tokenStorage.SaveRefreshToken(ctx, token); err != nil {
		h.logger.ErrorContext(ctx, "failed to save refresh token", slog.Any("error", err))
		SendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	record, err := json.Marshal(userRecord(user))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to encode user record", slog.Any("error", err))
		SendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.InfoContext(ctx, "tokens issued", slog.String("user_id", user.ID))

	SendJSON(w, h.logger, api.AuthResponse{
		Record:       record,
		Token:        accessToken,
		RefreshToken: token.Token,
	}, http.StatusOK)
}
