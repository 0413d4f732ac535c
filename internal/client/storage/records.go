package storage

import (
	"context"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/query"
)

// SchemaResult outcome of EnsureSchema
type SchemaResult int

const (
	SchemaExists  SchemaResult = iota // table was already present
	SchemaCreated                     // table was created from the sample
)

// UpsertResult outcome of Upsert
type UpsertResult int

const (
	UpsertApplied UpsertResult = iota // all records were written
	UpsertDropped                     // schema mismatch, the table was dropped
)

// IndexSpec declares an index on a mirror table.
// Columns are record field names; encoded columns are resolved by the store.
type IndexSpec struct {
	Name    string
	Columns []string
	Unique  bool
}

// RecordStorage defines the local mirror of remote collections.
// Each collection is one table whose columns are inferred from the first
// record ever written to it.
type RecordStorage interface {
	// EnsureSchema creates the table from the sample record if absent
	EnsureSchema(ctx context.Context, table string, sample models.Record) (SchemaResult, error)

	// Upsert inserts or replaces records by id. A record with a field
	// unknown to the table schema drops the table and returns UpsertDropped.
	Upsert(ctx context.Context, table string, records []models.Record) (UpsertResult, error)

	// Read runs a translated query; returns an empty slice if the table does not exist
	Read(ctx context.Context, table string, st query.Statement) ([]models.Record, error)

	// Count counts rows matching a translated query; 0 if the table does not exist
	Count(ctx context.Context, table string, st query.Statement) (int, error)

	// GetRecord returns one record or ErrRecordNotFound
	GetRecord(ctx context.Context, table, id string) (models.Record, error)

	// DeleteRecord removes one record; missing table or record is not an error
	DeleteRecord(ctx context.Context, table, id string) error

	// DropTable removes a mirror table; reserved tables are refused
	DropTable(ctx context.Context, table string) error

	// TableExists checks whether the mirror table exists
	TableExists(ctx context.Context, table string) (bool, error)

	// ListTables lists mirror tables (reserved tables excluded)
	ListTables(ctx context.Context) ([]string, error)
}

// QueueStorage defines the durable queue of offline mutations
type QueueStorage interface {
	// EnqueueOperation persists the entry with its params in one transaction
	EnqueueOperation(ctx context.Context, entry *models.QueueEntry) (int64, error)

	// ListOperations returns all entries ordered by created, id
	ListOperations(ctx context.Context) ([]models.QueueEntry, error)

	// DeleteOperation removes the entry with its params
	DeleteOperation(ctx context.Context, id int64) error

	// CountOperations returns the number of pending entries
	CountOperations(ctx context.Context) (int, error)

	// MaxOperationCreated returns the largest created timestamp, 0 if empty
	MaxOperationCreated(ctx context.Context) (int64, error)
}

// SyncTime last pulled updated timestamp of a table
type SyncTime struct {
	Table      string
	LastUpdate string
}

// SyncTimeStorage defines the per-table resync bookkeeping
type SyncTimeStorage interface {
	// ListSyncTimes returns all recorded tables ordered by name
	ListSyncTimes(ctx context.Context) ([]SyncTime, error)

	// GetSyncTime returns the last update of a table or ErrSyncTimeNotFound
	GetSyncTime(ctx context.Context, table string) (string, error)

	// SetSyncTime records the last update of a table
	SetSyncTime(ctx context.Context, table, lastUpdate string) error
}

// Storage is the complete local store used by the cache
type Storage interface {
	RecordStorage
	QueueStorage
	SyncTimeStorage
	Close() error
}
