package handlers

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iudanet/gophsync/internal/crypto"
	"github.com/iudanet/gophsync/internal/models"
)

const (
	// Issuer издатель токенов backend'а
	Issuer = "gophsync"
	// AuthCollection auth-коллекция, для которой выдаются токены
	AuthCollection = "users"
)

// ErrInvalidToken access token не прошел проверку
var ErrInvalidToken = errors.New("invalid access token")

// AuthClaims claims access token'а: sub это id записи пользователя
type AuthClaims struct {
	Username   string `json:"username"`
	Collection string `json:"collectionName"`
	jwt.RegisteredClaims
}

// UserID идентификатор пользователя из sub
func (c *AuthClaims) UserID() string {
	return c.Subject
}

// JWTConfig ключ подписи и время жизни токенов
type JWTConfig struct {
	Secret          []byte
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// IssueAccessToken подписывает HS256 access token пользователя
func (cfg JWTConfig) IssueAccessToken(user *models.User, now time.Time) (string, error) {
	claims := AuthClaims{
		Username:   user.Username,
		Collection: AuthCollection,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.AccessTokenTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseAccessToken проверяет подпись, издателя и срок токена
func (cfg JWTConfig) ParseAccessToken(token string) (*AuthClaims, error) {
	claims := &AuthClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return cfg.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject == "" || claims.Collection != AuthCollection {
		return nil, fmt.Errorf("%w: not a %s token", ErrInvalidToken, AuthCollection)
	}
	return claims, nil
}

// NewRefreshToken создает случайный refresh token пользователя.
// Возвращенную запись нужно сохранить, клиенту отдается сам token.
func (cfg JWTConfig) NewRefreshToken(userID string, now time.Time) (*models.RefreshToken, error) {
	token, err := crypto.GenerateToken()
	if err != nil {
		return nil, err
	}
	return &models.RefreshToken{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(cfg.RefreshTokenTTL),
	}, nil
}
