package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/query"
	"github.com/iudanet/gophsync/internal/server/storage"
)

// recordColumn отображает поле записи на выражение SQL.
// Системные поля хранятся в колонках, остальные в JSON документе.
func recordColumn(field string) string {
	switch field {
	case models.FieldID, models.FieldCreated, models.FieldUpdated:
		return field
	}
	return "json_extract(data, '$." + field + "')"
}

// ListRecords returns a page of records and the total count
func (s *Storage) ListRecords(ctx context.Context, collection string, q storage.ListQuery) ([]models.Record, int, error) {
	where, args := query.RenderSQL(q.Filter, recordColumn)
	cond := "collection = ?"
	if where != "" {
		cond += " AND " + where
	}
	args = append([]any{collection}, args...)

	total := -1
	if q.WithTotal {
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM records WHERE "+cond, args...).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("failed to count records: %w", err)
		}
	}

	order := make([]string, 0, len(q.Sort)+1)
	for _, sf := range q.Sort {
		if !query.ValidIdentifier(sf.Field) {
			return nil, 0, fmt.Errorf("sort field %q: %w", sf.Field, query.ErrInvalidIdentifier)
		}
		dir := "ASC"
		if sf.Descending {
			dir = "DESC"
		}
		order = append(order, recordColumn(sf.Field)+" "+dir)
	}
	if len(order) == 0 {
		order = append(order, "created ASC", "id ASC")
	}

	stmt := "SELECT id, created, updated, data FROM records WHERE " + cond +
		" ORDER BY " + strings.Join(order, ", ")
	if q.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d OFFSET %d", q.Limit, max(q.Offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	records := []models.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return records, total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (models.Record, error) {
	var id, created, updated, data string
	if err := row.Scan(&id, &created, &updated, &data); err != nil {
		return nil, err
	}

	rec, err := models.DecodeRecord([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", id, err)
	}
	rec[models.FieldID] = id
	rec[models.FieldCreated] = created
	rec[models.FieldUpdated] = updated
	return rec, nil
}

// GetRecord retrieves one record
func (s *Storage) GetRecord(ctx context.Context, collection, id string) (models.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created, updated, data FROM records WHERE collection = ? AND id = ?`,
		collection, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// documentOf отделяет пользовательские поля от системных
func documentOf(record map[string]any) (string, error) {
	doc := make(map[string]any, len(record))
	for k, v := range record {
		switch k {
		case models.FieldID, models.FieldCreated, models.FieldUpdated:
			continue
		}
		doc[k] = v
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}
	return string(data), nil
}

// CreateRecord inserts a new record
func (s *Storage) CreateRecord(ctx context.Context, collection string, record models.Record) error {
	data, err := documentOf(record)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (collection, id, created, updated, data)
		VALUES (?, ?, ?, ?, ?)
	`, collection, record.ID(), record.Created(), record.Updated(), data)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return storage.ErrRecordExists
		}
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// UpdateRecord merges fields into an existing record
func (s *Storage) UpdateRecord(ctx context.Context, collection, id string, fields map[string]any, updated string) (models.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx,
		`SELECT id, created, updated, data FROM records WHERE collection = ? AND id = ?`,
		collection, id)
	existing, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	merged := existing.Merge(fields)
	merged[models.FieldID] = id
	merged[models.FieldCreated] = existing.Created()
	merged[models.FieldUpdated] = updated

	data, err := documentOf(merged)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET data = ?, updated = ? WHERE collection = ? AND id = ?`,
		data, updated, collection, id); err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}
	return merged, nil
}

// DeleteRecord deletes one record
func (s *Storage) DeleteRecord(ctx context.Context, collection, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrRecordNotFound
	}
	return nil
}
