package sqlite

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/query"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestStorage создает хранилище во временном файле
func newTestStorage(t *testing.T, opts ...func(*Options)) *Storage {
	t.Helper()

	o := Options{Logger: testLogger()}
	for _, fn := range opts {
		fn(&o)
	}

	s, err := New(context.Background(), filepath.Join(t.TempDir(), "cache.db"), o)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

type columnInfo struct {
	Name string
	Type string
}

func tableInfo(t *testing.T, s *Storage, table string) []columnInfo {
	t.Helper()

	rows, err := s.DB().Query("SELECT name, type FROM pragma_table_info(?)", table)
	require.NoError(t, err)
	defer func() {
		_ = rows.Close()
	}()

	var cols []columnInfo
	for rows.Next() {
		var c columnInfo
		require.NoError(t, rows.Scan(&c.Name, &c.Type))
		cols = append(cols, c)
	}
	require.NoError(t, rows.Err())
	return cols
}

func record(id, updated string, fields map[string]any) models.Record {
	rec := models.Record{
		"id":      id,
		"created": "2022-08-01 00:00:00.000Z",
		"updated": updated,
	}
	for k, v := range fields {
		rec[k] = v
	}
	return rec
}

func TestUpsert_InfersSchemaFromFirstRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	res, err := s.Upsert(ctx, "items", []models.Record{
		record("r1", "2022-08-02 00:00:00.000Z", map[string]any{"a": int64(1), "b": true}),
	})
	require.NoError(t, err)
	assert.Equal(t, storage.UpsertApplied, res)

	assert.Equal(t, []columnInfo{
		{Name: "id", Type: "TEXT"},
		{Name: "created", Type: "TEXT"},
		{Name: "updated", Type: "TEXT"},
		{Name: "_downloaded", Type: "TEXT"},
		{Name: "a", Type: "INTEGER"},
		{Name: "_offline_bool_b", Type: "INTEGER"},
	}, tableInfo(t, s, "items"))
}

func TestUpsert_UnknownFieldDropsTable(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.Upsert(ctx, "items", []models.Record{
		record("r1", "2022-08-02 00:00:00.000Z", map[string]any{"a": int64(1), "b": true}),
	})
	require.NoError(t, err)

	res, err := s.Upsert(ctx, "items", []models.Record{
		record("r2", "2022-08-03 00:00:00.000Z", map[string]any{"a": int64(2), "b": false, "c": "new"}),
	})
	require.NoError(t, err, "schema mismatch is not an error")
	assert.Equal(t, storage.UpsertDropped, res)

	exists, err := s.TableExists(ctx, "items")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.GetSyncTime(ctx, "items")
	assert.ErrorIs(t, err, storage.ErrSyncTimeNotFound)

	// Следующая запись создает таблицу заново, уже с колонкой c
	res, err = s.Upsert(ctx, "items", []models.Record{
		record("r2", "2022-08-03 00:00:00.000Z", map[string]any{"a": int64(2), "b": false, "c": "new"}),
	})
	require.NoError(t, err)
	assert.Equal(t, storage.UpsertApplied, res)

	sc, err := s.Schema(ctx, "items")
	require.NoError(t, err)
	_, ok := sc.Column("c")
	assert.True(t, ok)
}

func TestUpsert_RecordWithFewerFieldsFits(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	res, err := s.Upsert(ctx, "items", []models.Record{
		record("r1", "u1", map[string]any{"a": int64(1), "b": true}),
		record("r2", "u2", map[string]any{"a": int64(2)}),
	})
	require.NoError(t, err)
	assert.Equal(t, storage.UpsertApplied, res)

	got, err := s.GetRecord(ctx, "items", "r2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got["a"])
	assert.Nil(t, got["b"])
}

func TestUpsert_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	original := record("r1", "2022-08-02 00:00:00.000Z", map[string]any{
		"title":  "hello",
		"count":  int64(42),
		"ratio":  1.5,
		"done":   true,
		"tags":   []any{"x", "y", int64(3)},
		"meta":   map[string]any{"nested": map[string]any{"ok": false}, "n": 2.25},
		"parent": nil,
	})

	_, err := s.Upsert(ctx, "notes", []models.Record{original})
	require.NoError(t, err)

	got, err := s.GetRecord(ctx, "notes", "r1")
	require.NoError(t, err)
	assert.Equal(t, original, got)
	assert.NotContains(t, got, "_downloaded")

	// false тоже восстанавливается
	original["done"] = false
	_, err = s.Upsert(ctx, "notes", []models.Record{original})
	require.NoError(t, err)

	got, err = s.GetRecord(ctx, "notes", "r1")
	require.NoError(t, err)
	assert.Equal(t, false, got["done"])
}

func TestUpsert_ReplacesByID(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.Upsert(ctx, "notes", []models.Record{record("r1", "u1", map[string]any{"title": "a"})})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "notes", []models.Record{record("r1", "u2", map[string]any{"title": "b"})})
	require.NoError(t, err)

	n, err := s.Count(ctx, "notes", query.Statement{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetRecord(ctx, "notes", "r1")
	require.NoError(t, err)
	assert.Equal(t, "b", got["title"])
}

func TestUpsert_SeedsLastSyncTimeOnCreate(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.Upsert(ctx, "notes", []models.Record{
		record("r1", "2022-08-02 00:00:00.000Z", nil),
		record("r2", "2022-08-05 00:00:00.000Z", nil),
		record("r3", "2022-08-03 00:00:00.000Z", nil),
	})
	require.NoError(t, err)

	last, err := s.GetSyncTime(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, "2022-08-05 00:00:00.000Z", last)

	// Повторный upsert в существующую таблицу отметку не трогает
	_, err = s.Upsert(ctx, "notes", []models.Record{record("r4", "2022-09-01 00:00:00.000Z", nil)})
	require.NoError(t, err)

	last, err = s.GetSyncTime(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, "2022-08-05 00:00:00.000Z", last)
}

func TestUpsert_OptimisticRowDoesNotSeedSyncTime(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.Upsert(ctx, "notes", []models.Record{{"id": "local1", "title": "draft"}})
	require.NoError(t, err)

	_, err = s.GetSyncTime(ctx, "notes")
	assert.ErrorIs(t, err, storage.ErrSyncTimeNotFound)

	// первая серверная версия открывает таблице resync
	_, err = s.Upsert(ctx, "notes", []models.Record{
		{"id": "local1", "created": "2022-08-01 00:00:00.000Z", "updated": "2022-08-04 00:00:00.000Z", "title": "draft"},
	})
	require.NoError(t, err)

	last, err := s.GetSyncTime(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, "2022-08-04 00:00:00.000Z", last)
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	sample := record("r1", "u1", map[string]any{"a": int64(1), "b": true})

	res, err := s.EnsureSchema(ctx, "items", sample)
	require.NoError(t, err)
	assert.Equal(t, storage.SchemaCreated, res)

	res, err = s.EnsureSchema(ctx, "items", sample)
	require.NoError(t, err)
	assert.Equal(t, storage.SchemaExists, res)

	assert.Len(t, tableInfo(t, s, "items"), 6)
}

func TestEnsureSchema_SkipsUnsupportedKinds(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.EnsureSchema(ctx, "items", record("r1", "u1", map[string]any{
		"a":       int64(1),
		"weird":   struct{}{},
		"bad-key": "x",
	}))
	require.NoError(t, err)

	names := make([]string, 0)
	for _, c := range tableInfo(t, s, "items") {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"id", "created", "updated", "_downloaded", "a"}, names)
}

func TestUpsert_SkippedFieldsKeepTable(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	rec := record("r1", "2022-08-02 00:00:00.000Z", map[string]any{
		"a":       int64(1),
		"weird":   struct{}{},
		"bad-key": "x",
	})

	res, err := s.Upsert(ctx, "items", []models.Record{rec})
	require.NoError(t, err)
	assert.Equal(t, storage.UpsertApplied, res)

	got, err := s.Read(ctx, "items", query.Statement{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0]["a"])
	assert.NotContains(t, got[0], "weird")
	assert.NotContains(t, got[0], "bad-key")

	// та же запись повторно не считается несовпадением схемы
	res, err = s.Upsert(ctx, "items", []models.Record{rec})
	require.NoError(t, err)
	assert.Equal(t, storage.UpsertApplied, res)

	exists, err := s.TableExists(ctx, "items")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err = s.Read(ctx, "items", query.Statement{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestUpsert_ConcurrentSchemaChanges(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	const workers = 8
	const rounds = 10

	var wg sync.WaitGroup
	errs := make(chan error, workers*rounds)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range rounds {
				// у каждого воркера свое поле, поэтому схемы постоянно расходятся
				rec := record(fmt.Sprintf("w%d-%d", w, i), fmt.Sprintf("2022-08-02 00:00:%02d.000Z", i),
					map[string]any{fmt.Sprintf("f%d", w): int64(i)})
				if _, err := s.Upsert(ctx, "items", []models.Record{rec}); err != nil {
					errs <- err
				}
				if _, err := s.Read(ctx, "items", query.Statement{}); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	// последняя запись могла сбросить таблицу; повтор создает ее заново
	final := record("final", "2022-08-03 00:00:00.000Z", map[string]any{"f0": int64(0)})
	res, err := s.Upsert(ctx, "items", []models.Record{final})
	require.NoError(t, err)
	if res == storage.UpsertDropped {
		res, err = s.Upsert(ctx, "items", []models.Record{final})
		require.NoError(t, err)
	}
	require.Equal(t, storage.UpsertApplied, res)

	sc, err := s.Schema(ctx, "items")
	require.NoError(t, err)
	got, err := s.Read(ctx, "items", query.Statement{})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, r := range got {
		_, fits := sc.Fits(r)
		assert.True(t, fits, "row %s must match the surviving schema", r.ID())
	}
}

func TestRead_SortsByEncodedColumns(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.Upsert(ctx, "items", []models.Record{
		record("r1", "2022-08-02 00:00:00.000Z", map[string]any{"done": true, "tags": []any{"b"}}),
		record("r2", "2022-08-03 00:00:00.000Z", map[string]any{"done": false, "tags": []any{"a"}}),
		record("r3", "2022-08-04 00:00:00.000Z", map[string]any{"done": true, "tags": []any{"c"}}),
	})
	require.NoError(t, err)

	t.Run("bool", func(t *testing.T) {
		st, err := query.Translate(nil, &query.Sort{Field: "done"}, nil, 0)
		require.NoError(t, err)

		got, err := s.Read(ctx, "items", st)
		require.NoError(t, err)
		assert.Equal(t, []string{"r2", "r1", "r3"}, ids(got))
	})

	t.Run("json descending", func(t *testing.T) {
		st, err := query.Translate(nil, &query.Sort{Field: "tags", Descending: true}, nil, 0)
		require.NoError(t, err)

		got, err := s.Read(ctx, "items", st)
		require.NoError(t, err)
		assert.Equal(t, []string{"r3", "r1", "r2"}, ids(got))
	})

	t.Run("bool with cursor", func(t *testing.T) {
		st, err := query.Translate(nil, &query.Sort{Field: "done"}, models.Record{"id": "r2", "done": false}, 0)
		require.NoError(t, err)

		got, err := s.Read(ctx, "items", st)
		require.NoError(t, err)
		assert.Equal(t, []string{"r1", "r3"}, ids(got))
	})
}

func TestEnsureSchema_CreatesDeclaredIndexes(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, func(o *Options) {
		o.Indexes = map[string][]storage.IndexSpec{
			"notes": {
				{Name: "idx_notes_status", Columns: []string{"status", "updated"}},
				{Name: "idx_notes_slug", Columns: []string{"slug"}, Unique: true},
				{Name: "idx_notes_missing", Columns: []string{"nope"}},
			},
		}
	})

	_, err := s.EnsureSchema(ctx, "notes", record("r1", "u1", map[string]any{"status": true, "slug": "a"}))
	require.NoError(t, err)

	rows, err := s.DB().Query(`SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'notes' AND name LIKE 'idx_%' ORDER BY name`)
	require.NoError(t, err)
	defer func() {
		_ = rows.Close()
	}()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, []string{"idx_notes_slug", "idx_notes_status"}, names)
}

func TestRead_TranslatedQuery(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.Upsert(ctx, "notes", []models.Record{
		{"id": "a", "created": "2022-07-01", "updated": "2022-08-01", "status": true},
		{"id": "b", "created": "2022-08-02", "updated": "2022-08-02", "status": true},
		{"id": "c", "created": "2022-08-03", "updated": "2022-08-03", "status": false},
		{"id": "d", "created": "2022-08-04", "updated": "2022-08-03", "status": true},
		{"id": "e", "created": "2022-08-05", "updated": "2022-08-05", "status": true},
	})
	require.NoError(t, err)

	filter, err := query.ParseFilter("status = ? && created >= ?", true, "2022-08-01")
	require.NoError(t, err)

	st, err := query.Translate(filter, &query.Sort{Field: "updated", Descending: true}, nil, 50)
	require.NoError(t, err)

	got, err := s.Read(ctx, "notes", st)
	require.NoError(t, err)
	assert.Equal(t, []string{"e", "d", "b"}, ids(got))

	n, err := s.Count(ctx, "notes", st)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRead_CursorPagination(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.Upsert(ctx, "notes", []models.Record{
		{"id": "a", "created": "c", "updated": "2022-08-01"},
		{"id": "b", "created": "c", "updated": "2022-08-02"},
		{"id": "c", "created": "c", "updated": "2022-08-02"},
		{"id": "d", "created": "c", "updated": "2022-08-03"},
	})
	require.NoError(t, err)

	cursor := models.Record{"id": "c", "updated": "2022-08-02"}

	desc, err := query.Translate(nil, &query.Sort{Field: "updated", Descending: true}, cursor, 0)
	require.NoError(t, err)
	got, err := s.Read(ctx, "notes", desc)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(got), "strictly less on (updated, id)")

	asc, err := query.Translate(nil, &query.Sort{Field: "updated"}, cursor, 0)
	require.NoError(t, err)
	got, err = s.Read(ctx, "notes", asc)
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, ids(got), "strictly greater on (updated, id)")
}

func TestRead_MissingTable(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	got, err := s.Read(ctx, "never", query.Statement{})
	require.NoError(t, err)
	assert.Empty(t, got)

	n, err := s.Count(ctx, "never", query.Statement{})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.GetRecord(ctx, "never", "x")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)

	assert.NoError(t, s.DeleteRecord(ctx, "never", "x"))

	_, err = s.Schema(ctx, "never")
	assert.ErrorIs(t, err, storage.ErrTableNotFound)
}

func TestDeleteRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.Upsert(ctx, "notes", []models.Record{record("r1", "u1", nil), record("r2", "u2", nil)})
	require.NoError(t, err)

	require.NoError(t, s.DeleteRecord(ctx, "notes", "r1"))

	_, err = s.GetRecord(ctx, "notes", "r1")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
	_, err = s.GetRecord(ctx, "notes", "r2")
	assert.NoError(t, err)
}

func TestTables_ReservedAreProtected(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.Upsert(ctx, "notes", []models.Record{record("r1", "u1", nil)})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "tasks", []models.Record{record("t1", "u1", nil)})
	require.NoError(t, err)

	tables, err := s.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"notes", "tasks"}, tables)

	for _, reserved := range []string{"_operation_queue", "_operation_queue_params", "_last_sync_times", "goose_db_version"} {
		err := s.DropTable(ctx, reserved)
		assert.ErrorIs(t, err, storage.ErrReservedTable, reserved)

		_, err = s.Upsert(ctx, reserved, []models.Record{record("x", "u", nil)})
		assert.ErrorIs(t, err, storage.ErrReservedTable, reserved)
	}

	require.NoError(t, s.DropTable(ctx, "notes"))
	tables, err = s.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks"}, tables)
}

func TestSchema_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := New(ctx, path, Options{Logger: testLogger()})
	require.NoError(t, err)

	original := record("r1", "u1", map[string]any{"done": true, "tags": []any{"a"}, "n": int64(1), "x": 0.5})
	_, err = s.Upsert(ctx, "notes", []models.Record{original})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(ctx, path, Options{Logger: testLogger()})
	require.NoError(t, err)
	defer func() {
		_ = s.Close()
	}()

	got, err := s.GetRecord(ctx, "notes", "r1")
	require.NoError(t, err)
	assert.Equal(t, original, got)

	sc, err := s.Schema(ctx, "notes")
	require.NoError(t, err)
	col, ok := sc.Column("done")
	require.True(t, ok)
	assert.Equal(t, EncodingBool, col.Encoding)
}

func ids(records []models.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID()
	}
	return out
}
