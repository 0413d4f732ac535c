package sqlite

import (
	"context"
	"fmt"

	"github.com/iudanet/gophsync/internal/client/storage"
)

// ListSyncTimes returns all recorded tables ordered by name
func (s *Storage) ListSyncTimes(ctx context.Context) ([]storage.SyncTime, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT table_name, last_update FROM `+tableSyncTimes+` ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync times: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	times := []storage.SyncTime{}
	for rows.Next() {
		var st storage.SyncTime
		if err := rows.Scan(&st.Table, &st.LastUpdate); err != nil {
			return nil, fmt.Errorf("failed to scan sync time: %w", err)
		}
		times = append(times, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync times: %w", err)
	}
	return times, nil
}

// GetSyncTime returns the last update of a table or ErrSyncTimeNotFound
func (s *Storage) GetSyncTime(ctx context.Context, table string) (string, error) {
	var lastUpdate string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_update FROM `+tableSyncTimes+` WHERE table_name = ?`, table).Scan(&lastUpdate)
	if err != nil {
		if isNoRows(err) {
			return "", storage.ErrSyncTimeNotFound
		}
		return "", fmt.Errorf("failed to get sync time of %s: %w", table, err)
	}
	return lastUpdate, nil
}

// SetSyncTime records the last update of a table
func (s *Storage) SetSyncTime(ctx context.Context, table, lastUpdate string) error {
	if err := checkTable(table); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+tableSyncTimes+` (table_name, last_update) VALUES (?, ?)
		ON CONFLICT(table_name) DO UPDATE SET last_update = excluded.last_update
	`, table, lastUpdate)
	if err != nil {
		return fmt.Errorf("failed to set sync time of %s: %w", table, err)
	}
	return nil
}
