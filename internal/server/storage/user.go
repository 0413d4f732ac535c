package storage

import (
	"context"
	"time"

	"github.com/iudanet/gophsync/internal/models"
)

// UserStorage хранилище auth-коллекции users.
// Username уникален без учета регистра.
type UserStorage interface {
	// CreateUser возвращает ErrUserAlreadyExists, если username занят
	CreateUser(ctx context.Context, user *models.User) error

	// FindUserByIdentity ищет пользователя по username без учета регистра.
	// Возвращает ErrUserNotFound.
	FindUserByIdentity(ctx context.Context, identity string) (*models.User, error)

	// GetUserByID возвращает ErrUserNotFound
	GetUserByID(ctx context.Context, userID string) (*models.User, error)

	// RecordLogin запоминает время входа; оно же становится updated
	// записи пользователя
	RecordLogin(ctx context.Context, userID string, at time.Time) error
}
