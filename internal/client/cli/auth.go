package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/gophsync/internal/client/storage"
)

func (c *Cli) runRegister(ctx context.Context, username string) error {
	c.io.Println("=== Registration ===")
	c.io.Println()

	username, password, err := c.readCredentials(username)
	if err != nil {
		return err
	}

	confirm, err := c.io.ReadPassword("Confirm password: ")
	if err != nil {
		return fmt.Errorf("failed to read confirmation: %w", err)
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}

	user, err := c.authService.Register(ctx, username, password)
	if err != nil {
		return err
	}

	c.io.Println()
	c.io.Println("✓ Registration successful!")
	c.io.Printf("User ID: %s\n", user.ID())
	c.io.Printf("Username: %s\n", username)
	c.io.Println()
	c.io.Println("Please run 'gophsync login' to start a session.")
	return nil
}

func (c *Cli) runLogin(ctx context.Context, username string) error {
	c.io.Println("=== Login ===")
	c.io.Println()

	username, password, err := c.readCredentials(username)
	if err != nil {
		return err
	}

	authData, err := c.authService.Login(ctx, username, password)
	if err != nil {
		return err
	}
	c.authData = authData

	c.io.Println()
	c.io.Println("✓ Login successful!")
	c.io.Printf("Username: %s\n", authData.Username)
	c.io.Printf("Session valid until: %s\n", time.Unix(authData.ExpiresAt, 0).Format(time.RFC3339))
	return nil
}

func (c *Cli) runLogout(ctx context.Context) error {
	c.io.Println("=== Logout ===")

	if err := c.authService.Logout(ctx); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	c.authData = nil

	c.io.Println("✓ Logout successful!")
	c.io.Println("Your local session has been deleted. Cached records are kept.")
	return nil
}

func (c *Cli) runStatus(ctx context.Context) error {
	c.io.Println("=== Status ===")
	c.io.Println()

	authData, err := c.authService.Session(ctx)
	switch {
	case errors.Is(err, storage.ErrAuthNotFound):
		c.io.Println("Session: not logged in (anonymous access)")
	case err != nil:
		return fmt.Errorf("failed to get session: %w", err)
	default:
		c.io.Printf("Session: %s\n", authData.Username)
		c.io.Printf("Server:  %s\n", authData.ServerURL)
		expiresAt := time.Unix(authData.ExpiresAt, 0)
		if time.Now().After(expiresAt) {
			c.io.Println("⚠️  Session has expired. Please login again.")
		} else {
			c.io.Printf("Session valid until: %s\n", expiresAt.Format(time.RFC3339))
		}
	}

	if c.cache.Reachable(ctx) {
		c.io.Println("Connection: online")
	} else {
		c.io.Println("Connection: offline")
	}

	pending, err := c.cache.Pending(ctx)
	if err != nil {
		c.io.Printf("Warning: failed to count pending mutations: %v\n", err)
	} else if pending > 0 {
		c.io.Printf("⚠️  Pending: %d mutation(s) waiting to be sent\n", pending)
	} else {
		c.io.Println("✓ No pending mutations")
	}

	status, err := c.cache.SyncStatus(ctx)
	if err != nil {
		c.io.Printf("Warning: failed to read sync status: %v\n", err)
		return nil
	}
	if status.LastSyncAt == 0 {
		c.io.Println("Last sync: never")
		return nil
	}
	c.io.Printf("Last sync: %s\n", time.UnixMilli(status.LastSyncAt).Format(time.RFC3339))
	if status.LastError != "" {
		c.io.Printf("Last sync error: %s\n", status.LastError)
	}
	return nil
}
