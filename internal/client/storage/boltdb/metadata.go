package boltdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/iudanet/gophsync/internal/client/storage"
)

var keySyncStatus = []byte("sync_status")

// SaveSyncStatus сохраняет итог последнего прохода синхронизации
func (s *Storage) SaveSyncStatus(ctx context.Context, status *storage.SyncStatus) error {
	if err := s.putJSON(bucketMetadata, keySyncStatus, status); err != nil {
		return fmt.Errorf("failed to save sync status: %w", err)
	}
	return nil
}

// GetSyncStatus возвращает итог последнего прохода.
// До первой синхронизации возвращается пустой статус.
func (s *Storage) GetSyncStatus(ctx context.Context) (*storage.SyncStatus, error) {
	status := &storage.SyncStatus{}
	if err := s.getJSON(bucketMetadata, keySyncStatus, status); err != nil && !errors.Is(err, errNoKey) {
		return nil, fmt.Errorf("failed to get sync status: %w", err)
	}
	return status, nil
}
