package storage

import "errors"

// Common client storage errors
var (
	// ErrAuthNotFound indicates that no authentication data exists
	ErrAuthNotFound = errors.New("authentication data not found")

	// ErrRecordNotFound indicates that the record is not in the local mirror
	ErrRecordNotFound = errors.New("record not found")

	// ErrTableNotFound indicates that the collection was never mirrored locally
	ErrTableNotFound = errors.New("table not found")

	// ErrOperationNotFound indicates that the queued operation does not exist
	ErrOperationNotFound = errors.New("queued operation not found")

	// ErrSyncTimeNotFound indicates that the table has no recorded last sync time
	ErrSyncTimeNotFound = errors.New("last sync time not found")

	// ErrReservedTable indicates an attempt to use a system table as a collection
	ErrReservedTable = errors.New("reserved table")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
