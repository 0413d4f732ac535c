package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iudanet/gophsync/internal/client/auth"
)

func (c *Cli) runSync(ctx context.Context) error {
	c.io.Println("=== Synchronization ===")
	c.io.Println()

	if !c.cache.Reachable(ctx) {
		pending, err := c.cache.Pending(ctx)
		if err != nil {
			return fmt.Errorf("failed to count pending mutations: %w", err)
		}
		c.io.Println("⚠️  Server is unreachable, working offline")
		c.io.Printf("Pending: %d mutation(s) will be sent on next sync\n", pending)
		return nil
	}

	if err := c.authService.RefreshIfNeeded(ctx); err != nil {
		if errors.Is(err, auth.ErrSessionExpired) {
			return err
		}
		c.io.Printf("Warning: failed to refresh session: %v\n", err)
	}

	status, err := c.cache.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	c.io.Println("✓ Synchronization complete")
	c.io.Printf("Sent: %d mutation(s)\n", status.Drained)
	if len(status.UpdatedTables) == 0 {
		c.io.Println("Updated: nothing new on server")
	} else {
		c.io.Printf("Updated: %s\n", strings.Join(status.UpdatedTables, ", "))
	}

	pending, err := c.cache.Pending(ctx)
	if err == nil && pending > 0 {
		c.io.Printf("⚠️  %d mutation(s) still pending\n", pending)
	}
	return nil
}

func (c *Cli) runPending(ctx context.Context) error {
	entries, err := c.cache.PendingOperations(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending mutations: %w", err)
	}

	if len(entries) == 0 {
		c.io.Println("No pending mutations")
		return nil
	}

	c.io.Printf("=== Pending mutations (%d) ===\n", len(entries))
	for _, e := range entries {
		keys := make([]string, 0, len(e.Params))
		for _, p := range e.Params {
			keys = append(keys, p.Key)
		}
		c.io.Printf("#%d %s %s %s [%s] %s\n",
			e.ID,
			e.Type,
			e.Collection,
			e.TargetID(),
			strings.Join(keys, ","),
			time.UnixMilli(e.Created).Format(time.RFC3339))
	}
	return nil
}

func (c *Cli) runTables(ctx context.Context) error {
	tables, err := c.cache.Tables(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cached tables: %w", err)
	}
	for _, t := range tables {
		c.io.Println(t)
	}
	return nil
}

// runWatch держит фоновую проверку связи до отмены контекста и печатает
// переходы online/offline. При каждом успешном опросе очередь и зеркало
// синхронизируются.
func (c *Cli) runWatch(ctx context.Context) error {
	c.io.Println("=== Watching connectivity (Ctrl+C to stop) ===")

	states, unsubscribe := c.cache.Subscribe()
	defer unsubscribe()

	if c.cache.Reachable(ctx) {
		c.io.Println("Connection: online")
	} else {
		c.io.Println("Connection: offline")
	}
	c.cache.Start(ctx)

	for {
		select {
		case <-ctx.Done():
			c.io.Println("Stopped")
			return nil
		case s, ok := <-states:
			if !ok {
				return nil
			}
			c.io.Printf("%s connection %s\n", time.Now().Format(time.TimeOnly), s)
		}
	}
}
