package storage

import (
	"context"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/query"
)

// SortField one ORDER BY term of a list query
type SortField struct {
	Field      string
	Descending bool
}

// ListQuery parameters of a page request.
// Filter is a parsed backend filter expression (nil means all records).
type ListQuery struct {
	Filter    query.Expr
	Sort      []SortField
	Offset    int
	Limit     int
	WithTotal bool
}

// RecordStorage defines interface for collection records persistence.
// Records are schemaless: everything except id, created and updated
// is stored as a JSON document.
type RecordStorage interface {
	// ListRecords returns a page of records and the total count
	// (total is -1 when WithTotal is false)
	ListRecords(ctx context.Context, collection string, q ListQuery) ([]models.Record, int, error)

	// GetRecord retrieves one record
	// Returns ErrRecordNotFound if record doesn't exist
	GetRecord(ctx context.Context, collection, id string) (models.Record, error)

	// CreateRecord inserts a new record; record must carry id, created and updated
	// Returns ErrRecordExists if id is already used in the collection
	CreateRecord(ctx context.Context, collection string, record models.Record) error

	// UpdateRecord merges fields into an existing record and sets updated
	// Returns ErrRecordNotFound if record doesn't exist
	UpdateRecord(ctx context.Context, collection, id string, fields map[string]any, updated string) (models.Record, error)

	// DeleteRecord deletes one record
	// Returns ErrRecordNotFound if record doesn't exist
	DeleteRecord(ctx context.Context, collection, id string) error
}
