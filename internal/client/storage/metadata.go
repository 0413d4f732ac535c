package storage

import "context"

//go:generate moq -out metadata_mock.go . MetadataStorage

// MetadataStorage defines interface for storing client sync status
type MetadataStorage interface {
	// SaveSyncStatus saves the outcome of the latest reconciliation pass
	SaveSyncStatus(ctx context.Context, status *SyncStatus) error

	// GetSyncStatus retrieves the latest reconciliation status
	// Returns an empty status if no pass has been recorded yet
	GetSyncStatus(ctx context.Context) (*SyncStatus, error)
}

// SyncStatus describes the latest drain + resync pass
type SyncStatus struct {
	UpdatedTables []string `json:"updated_tables"`
	LastError     string   `json:"last_error,omitempty"`
	LastSyncAt    int64    `json:"last_sync_at"` // unix milliseconds
	Drained       int      `json:"drained"`
}
