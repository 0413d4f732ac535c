// Package cli implements the gophsync command line client on top of the
// offline-first cache.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/iudanet/gophsync/internal/client/auth"
	"github.com/iudanet/gophsync/internal/client/cache"
	"github.com/iudanet/gophsync/internal/client/iocli"
	"github.com/iudanet/gophsync/internal/client/storage"
)

// Cli команды клиента
type Cli struct {
	io          iocli.IO
	authService auth.Service
	cache       *cache.Cache
	authData    *storage.AuthData
}

// New создает CLI
func New(io iocli.IO, authService auth.Service, c *cache.Cache) *Cli {
	return &Cli{
		io:          io,
		authService: authService,
		cache:       c,
	}
}

// restoreSession загружает сохраненную сессию и при необходимости
// обновляет access token. Без сессии команды работают анонимно.
func (c *Cli) restoreSession(ctx context.Context) error {
	authData, err := c.authService.Restore(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrAuthNotFound) {
			return nil
		}
		return fmt.Errorf("failed to restore session: %w", err)
	}
	c.authData = authData

	if err := c.authService.RefreshIfNeeded(ctx); err != nil {
		if errors.Is(err, auth.ErrSessionExpired) {
			c.authData = nil
			return err
		}
		// офлайн: токен обновится при следующей синхронизации
		c.io.Printf("Warning: failed to refresh session: %v\n", err)
	}
	return nil
}

// readCredentials запрашивает username и пароль
func (c *Cli) readCredentials(username string) (string, string, error) {
	var err error
	if username == "" {
		username, err = c.io.ReadInput("Username: ")
		if err != nil {
			return "", "", fmt.Errorf("failed to read username: %w", err)
		}
	}

	password, err := c.io.ReadPassword("Password: ")
	if err != nil {
		return "", "", fmt.Errorf("failed to read password: %w", err)
	}
	return username, password, nil
}
