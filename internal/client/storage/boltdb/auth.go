package boltdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/gophsync/internal/client/storage"
)

// в bucket'е одна сессия: клиент работает с одним backend'ом за раз
var authKey = []byte("current")

// SaveAuth сохраняет сессию, заменяя предыдущую
func (s *Storage) SaveAuth(ctx context.Context, auth *storage.AuthData) error {
	if err := s.putJSON(bucketAuth, authKey, auth); err != nil {
		return fmt.Errorf("failed to save auth data: %w", err)
	}
	return nil
}

// GetAuth возвращает сохраненную сессию или storage.ErrAuthNotFound
func (s *Storage) GetAuth(ctx context.Context) (*storage.AuthData, error) {
	auth := &storage.AuthData{}
	if err := s.getJSON(bucketAuth, authKey, auth); err != nil {
		if errors.Is(err, errNoKey) {
			return nil, storage.ErrAuthNotFound
		}
		return nil, fmt.Errorf("failed to get auth data: %w", err)
	}
	return auth, nil
}

// DeleteAuth удаляет сессию (logout)
func (s *Storage) DeleteAuth(ctx context.Context) error {
	if err := s.deleteKey(bucketAuth, authKey); err != nil {
		if errors.Is(err, errNoKey) {
			return storage.ErrAuthNotFound
		}
		return fmt.Errorf("failed to delete auth data: %w", err)
	}
	return nil
}

// IsAuthenticated сообщает, есть ли сессия с живым refresh token.
// Истекший access token сессию не завершает: он обновляется.
func (s *Storage) IsAuthenticated(ctx context.Context) (bool, error) {
	auth, err := s.GetAuth(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrAuthNotFound) {
			return false, nil
		}
		return false, err
	}

	if auth.ExpiresAt > 0 && time.Now().Unix() > auth.ExpiresAt {
		return false, nil
	}
	return true, nil
}
