package sqlite

import (
	"context"
	"fmt"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/models"
)

// EnqueueOperation persists the entry with its params in one transaction.
// Once it returns the mutation survives a crash.
func (s *Storage) EnqueueOperation(ctx context.Context, entry *models.QueueEntry) (int64, error) {
	if !entry.Type.Valid() {
		return 0, fmt.Errorf("unknown operation type %q", entry.Type)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO `+tableQueue+` (operation_type, created, collection_name, id_to_modify)
		VALUES (?, ?, ?, ?)
	`, string(entry.Type), entry.Created, entry.Collection, entry.IDToModify)
	if err != nil {
		return 0, fmt.Errorf("failed to insert operation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get operation id: %w", err)
	}

	for i := range entry.Params {
		p := &entry.Params[i]
		p.OperationID = id
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO `+tableQueueParams+` (operation_id, param_key, param_value, param_type)
			VALUES (?, ?, ?, ?)
		`, id, p.Key, p.Value, string(p.Type)); err != nil {
			return 0, fmt.Errorf("failed to insert param %q: %w", p.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit operation: %w", err)
	}

	entry.ID = id
	return id, nil
}

// ListOperations returns all entries with their params ordered by created, id
func (s *Storage) ListOperations(ctx context.Context) ([]models.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation_type, created, collection_name, id_to_modify
		FROM `+tableQueue+`
		ORDER BY created ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}

	entries := []models.QueueEntry{}
	index := make(map[int64]int)
	for rows.Next() {
		var (
			e      models.QueueEntry
			opType string
		)
		if err := rows.Scan(&e.ID, &opType, &e.Created, &e.Collection, &e.IDToModify); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		e.Type = models.OperationType(opType)
		index[e.ID] = len(entries)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to iterate operations: %w", err)
	}
	_ = rows.Close()

	if len(entries) == 0 {
		return entries, nil
	}

	paramRows, err := s.db.QueryContext(ctx, `
		SELECT operation_id, param_key, param_value, param_type
		FROM `+tableQueueParams+`
		ORDER BY operation_id, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query params: %w", err)
	}
	defer func() {
		_ = paramRows.Close()
	}()

	for paramRows.Next() {
		var (
			p         models.QueueParam
			paramType string
		)
		if err := paramRows.Scan(&p.OperationID, &p.Key, &p.Value, &paramType); err != nil {
			return nil, fmt.Errorf("failed to scan param: %w", err)
		}
		p.Type = models.ParamType(paramType)

		if i, ok := index[p.OperationID]; ok {
			entries[i].Params = append(entries[i].Params, p)
		}
	}
	if err := paramRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate params: %w", err)
	}

	return entries, nil
}

// DeleteOperation removes the entry together with its params
func (s *Storage) DeleteOperation(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+tableQueueParams+` WHERE operation_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete params: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM `+tableQueue+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete operation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrOperationNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// CountOperations returns the number of pending entries
func (s *Storage) CountOperations(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+tableQueue).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count operations: %w", err)
	}
	return n, nil
}

// MaxOperationCreated returns the largest created timestamp, 0 if the queue is empty
func (s *Storage) MaxOperationCreated(ctx context.Context) (int64, error) {
	var ts int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(created), 0) FROM `+tableQueue).Scan(&ts); err != nil {
		return 0, fmt.Errorf("failed to get max created: %w", err)
	}
	return ts, nil
}
