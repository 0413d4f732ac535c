package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// TokenSize размер случайного токена в байтах
const TokenSize = 32

// GenerateToken создает случайный токен в base64 URL-кодировке
func GenerateToken() (string, error) {
	b := make([]byte, TokenSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// HashToken возвращает SHA-256 токена в hex. На сервере хранится только хеш:
// утечка таблицы не дает готовых refresh токенов.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
