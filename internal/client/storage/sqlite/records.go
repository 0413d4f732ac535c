package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/query"
)

// maxVariables лимит параметров одного выражения SQLite
const maxVariables = 32766

// Schema returns the schema of a mirror table or ErrTableNotFound
func (s *Storage) Schema(ctx context.Context, table string) (*Schema, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}

	sc, err := s.schema(ctx, table)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, storage.ErrTableNotFound
	}
	return sc, nil
}

// schema возвращает схему из кэша или читает ее из базы; nil если таблицы нет
func (s *Storage) schema(ctx context.Context, table string) (*Schema, error) {
	s.mu.Lock()
	sc, ok := s.schemas[table]
	s.mu.Unlock()
	if ok {
		return sc, nil
	}

	sc, err := loadSchema(ctx, s.db, table)
	if err != nil {
		return nil, err
	}
	if sc != nil {
		s.mu.Lock()
		s.schemas[table] = sc
		s.mu.Unlock()
	}
	return sc, nil
}

func (s *Storage) forgetSchema(table string) {
	s.mu.Lock()
	delete(s.schemas, table)
	s.mu.Unlock()
}

// EnsureSchema creates the table from the sample record if absent
func (s *Storage) EnsureSchema(ctx context.Context, table string, sample models.Record) (storage.SchemaResult, error) {
	if err := checkTable(table); err != nil {
		return storage.SchemaExists, err
	}

	unlock := s.lockTable(table)
	defer unlock()

	_, res, err := s.ensureSchemaLocked(ctx, table, sample)
	return res, err
}

func (s *Storage) ensureSchemaLocked(ctx context.Context, table string, sample models.Record) (*Schema, storage.SchemaResult, error) {
	sc, err := s.schema(ctx, table)
	if err != nil {
		return nil, storage.SchemaExists, err
	}
	if sc != nil {
		return sc, storage.SchemaExists, nil
	}

	sc = InferSchema(sample, s.logger)
	if _, err := s.db.ExecContext(ctx, sc.createTableSQL(table)); err != nil {
		return nil, storage.SchemaExists, fmt.Errorf("failed to create table %s: %w", table, err)
	}

	s.mu.Lock()
	s.schemas[table] = sc
	s.mu.Unlock()

	s.createIndexes(ctx, table, sc)

	s.logger.Info("Created local table", "table", table, "columns", len(sc.Columns))
	return sc, storage.SchemaCreated, nil
}

// createIndexes создает объявленные индексы. Ошибки не фатальны:
// индекс по неизвестной колонке или с ошибкой DDL пропускается.
func (s *Storage) createIndexes(ctx context.Context, table string, sc *Schema) {
	for _, idx := range s.indexes[table] {
		if !query.ValidIdentifier(idx.Name) || len(idx.Columns) == 0 {
			s.logger.Error("skipping invalid index", "table", table, "index", idx.Name)
			continue
		}

		columns := make([]string, 0, len(idx.Columns))
		for _, field := range idx.Columns {
			col, ok := sc.Column(field)
			if !ok {
				break
			}
			columns = append(columns, col.Name)
		}
		if len(columns) != len(idx.Columns) {
			s.logger.Error("skipping index on unknown column",
				"table", table,
				"index", idx.Name,
				"columns", idx.Columns)
			continue
		}

		unique := ""
		if idx.Unique {
			unique = "UNIQUE "
		}
		stmt := fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
			unique, idx.Name, table, strings.Join(columns, ", "))

		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.logger.Error("failed to create index",
				"table", table,
				"index", idx.Name,
				"error", err)
		}
	}
}

// Upsert inserts or replaces records by id.
// The schema is inferred from the first record when the table is new.
// A record with a field unknown to the schema drops the whole table:
// the next fetch recreates it from scratch.
func (s *Storage) Upsert(ctx context.Context, table string, records []models.Record) (storage.UpsertResult, error) {
	if len(records) == 0 {
		return storage.UpsertApplied, nil
	}
	if err := checkTable(table); err != nil {
		return storage.UpsertApplied, err
	}

	unlock := s.lockTable(table)
	defer unlock()

	sc, _, err := s.ensureSchemaLocked(ctx, table, records[0])
	if err != nil {
		return storage.UpsertApplied, err
	}

	for _, rec := range records {
		if field, ok := sc.Fits(rec); !ok {
			s.logger.Warn("Record does not fit local schema, dropping table",
				"table", table,
				"field", field,
				"id", rec.ID())
			if err := s.dropLocked(ctx, table); err != nil {
				return storage.UpsertApplied, err
			}
			return storage.UpsertDropped, nil
		}
	}

	rows := make([][]any, 0, len(records))
	downloaded := models.FormatTime(time.Now())
	for _, rec := range records {
		rows = append(rows, s.encodeRow(table, sc, rec, downloaded))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.UpsertApplied, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := insertRows(ctx, tx, table, sc.Names(), rows); err != nil {
		if isSchemaMismatch(err) {
			_ = tx.Rollback()
			s.logger.Warn("Local schema mismatch, dropping table", "table", table, "error", err)
			if err := s.dropLocked(ctx, table); err != nil {
				return storage.UpsertApplied, err
			}
			return storage.UpsertDropped, nil
		}
		return storage.UpsertApplied, fmt.Errorf("failed to upsert into %s: %w", table, err)
	}

	// первая запись с серверным updated открывает таблице resync;
	// оптимистичные строки без updated время не задают
	if newest := newestUpdated(records); newest != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO `+tableSyncTimes+` (table_name, last_update) VALUES (?, ?)`,
			table, newest); err != nil {
			return storage.UpsertApplied, fmt.Errorf("failed to seed last sync time: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.UpsertApplied, fmt.Errorf("failed to commit upsert: %w", err)
	}

	return storage.UpsertApplied, nil
}

// encodeRow кодирует запись в значения колонок в порядке схемы.
// Значения неизвестного вида пишутся как NULL с записью в лог.
func (s *Storage) encodeRow(table string, sc *Schema, rec models.Record, downloaded string) []any {
	row := make([]any, len(sc.Columns))
	for i, col := range sc.Columns {
		if col.Name == columnDownloaded {
			row[i] = downloaded
			continue
		}

		v, err := col.encode(rec[col.Field])
		if err != nil {
			s.logger.Error("omitting field value",
				"table", table,
				"id", rec.ID(),
				"error", err)
			continue
		}
		row[i] = v
	}
	return row
}

// insertRows пишет строки одним INSERT OR REPLACE, разбивая пакет
// только если он превышает лимит параметров SQLite
func insertRows(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) error {
	perRow := len(columns)
	chunk := max(maxVariables/perRow, 1)

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", perRow), ", ") + ")"
	head := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))

	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))

		values := make([]string, 0, end-start)
		args := make([]any, 0, (end-start)*perRow)
		for _, row := range rows[start:end] {
			values = append(values, placeholders)
			args = append(args, row...)
		}

		if _, err := tx.ExecContext(ctx, head+strings.Join(values, ", "), args...); err != nil {
			return err
		}
	}
	return nil
}

func isSchemaMismatch(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "has no column named") || strings.Contains(msg, "no such column")
}

func newestUpdated(records []models.Record) string {
	newest := ""
	for _, rec := range records {
		if u := rec.Updated(); u > newest {
			newest = u
		}
	}
	return newest
}

// Read runs a translated query against a mirror table.
// Returns an empty slice when the table does not exist.
func (s *Storage) Read(ctx context.Context, table string, st query.Statement) ([]models.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}

	unlock := s.lockTable(table)
	defer unlock()

	sc, err := s.schema(ctx, table)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return []models.Record{}, nil
	}
	if st.Sort != nil {
		// bool и json поля лежат в колонках с префиксом
		if c, ok := sc.Column(st.Sort.Field); ok {
			st = st.WithSortColumn(c.Name)
		}
	}

	rows, err := s.db.QueryContext(ctx, st.SQL(table), st.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return scanRecords(rows, sc)
}

// Count counts rows matching a translated query; 0 if the table does not exist
func (s *Storage) Count(ctx context.Context, table string, st query.Statement) (int, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}

	unlock := s.lockTable(table)
	defer unlock()

	sc, err := s.schema(ctx, table)
	if err != nil {
		return 0, err
	}
	if sc == nil {
		return 0, nil
	}

	var n int
	if err := s.db.QueryRowContext(ctx, st.CountSQL(table), st.Args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// GetRecord returns one record or ErrRecordNotFound
func (s *Storage) GetRecord(ctx context.Context, table, id string) (models.Record, error) {
	st := query.Statement{Where: models.FieldID + " = ?", Args: []any{id}, Limit: 1}

	records, err := s.Read(ctx, table, st)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, storage.ErrRecordNotFound
	}
	return records[0], nil
}

// DeleteRecord removes one record; missing table or record is not an error
func (s *Storage) DeleteRecord(ctx context.Context, table, id string) error {
	if err := checkTable(table); err != nil {
		return err
	}

	unlock := s.lockTable(table)
	defer unlock()

	sc, err := s.schema(ctx, table)
	if err != nil {
		return err
	}
	if sc == nil {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", table, id, err)
	}
	return nil
}

// DropTable removes a mirror table and its resync bookkeeping.
// Reserved tables are refused.
func (s *Storage) DropTable(ctx context.Context, table string) error {
	if err := checkTable(table); err != nil {
		return err
	}

	unlock := s.lockTable(table)
	defer unlock()

	return s.dropLocked(ctx, table)
}

func (s *Storage) dropLocked(ctx context.Context, table string) error {
	s.forgetSchema(table)

	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", table, err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+tableSyncTimes+" WHERE table_name = ?", table); err != nil {
		return fmt.Errorf("failed to reset last sync time of %s: %w", table, err)
	}

	s.logger.Info("Dropped local table", "table", table)
	return nil
}

// TableExists checks whether the mirror table exists
func (s *Storage) TableExists(ctx context.Context, table string) (bool, error) {
	if err := checkTable(table); err != nil {
		return false, err
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return n > 0, nil
}

// ListTables lists mirror tables, reserved tables excluded
func (s *Storage) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		if !isReserved(name) {
			tables = append(tables, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tables: %w", err)
	}
	return tables, nil
}

// scanRecords декодирует строки зеркала в записи, убирая _downloaded
func scanRecords(rows *sql.Rows, sc *Schema) ([]models.Record, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	values := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range values {
		ptrs[i] = &values[i]
	}

	records := []models.Record{}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rec := make(models.Record, len(names))
		for i, name := range names {
			if name == columnDownloaded {
				continue
			}

			col, ok := sc.columnByName(name)
			if !ok {
				col = columnFromInfo(name, "")
			}

			v, err := col.decode(values[i])
			if err != nil {
				return nil, err
			}
			rec[col.Field] = v
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return records, nil
}

// isNoRows сообщает, что запрос не вернул строк
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
