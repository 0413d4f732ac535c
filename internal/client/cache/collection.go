package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"

	apiclient "github.com/iudanet/gophsync/internal/client/api"
	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/query"
	"github.com/iudanet/gophsync/internal/validation"
	"github.com/iudanet/gophsync/pkg/api"
)

// Collection построитель запросов к одной коллекции.
// Методы Where, WhereExpr и OrderBy возвращают новую копию,
// исходный построитель можно переиспользовать.
type Collection struct {
	cache  *Cache
	sort   *query.Sort
	err    error
	name   string
	filter query.Filter
}

func (c *Collection) clone() *Collection {
	out := *c
	out.filter = slices.Clone(c.filter)
	if c.sort != nil {
		s := *c.sort
		out.sort = &s
	}
	return &out
}

// Name имя коллекции
func (c *Collection) Name() string {
	return c.name
}

// Where добавляет клаузы в строковой форме "status = ? && created >= ?".
// Ошибка разбора возвращается первым же Get или GetCount.
func (c *Collection) Where(expr string, params ...any) *Collection {
	out := c.clone()
	f, err := query.ParseFilter(expr, params...)
	if err != nil {
		if out.err == nil {
			out.err = err
		}
		return out
	}
	out.filter = append(out.filter, f...)
	return out
}

// WhereExpr добавляет готовые клаузы
func (c *Collection) WhereExpr(clauses ...query.Clause) *Collection {
	out := c.clone()
	out.filter = append(out.filter, clauses...)
	return out
}

// OrderBy задает сортировку; id добавляется вторым ключом
func (c *Collection) OrderBy(field string, descending bool) *Collection {
	out := c.clone()
	out.sort = &query.Sort{Field: field, Descending: descending}
	return out
}

func (c *Collection) check() error {
	if c.err != nil {
		return c.err
	}
	return validation.ValidateCollection(c.name)
}

// Get читает до maxItems записей (0 без ограничения), начиная после
// записи startAfter в порядке сортировки.
func (c *Collection) Get(ctx context.Context, maxItems int, source Source, startAfter models.Record) ([]models.Record, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	switch source {
	case SourceCache:
		return c.readLocal(ctx, maxItems, startAfter)
	case SourceServer:
		return c.fetchRemote(ctx, maxItems, startAfter)
	}

	if !c.cache.Online() {
		return c.readLocal(ctx, maxItems, startAfter)
	}

	records, err := c.fetchRemote(ctx, maxItems, startAfter)
	if err != nil {
		// курсор без сортировки одинаково неверен для обоих источников
		if errors.Is(err, query.ErrCursorWithoutSort) || errors.Is(err, query.ErrCursorMissingValue) {
			return nil, err
		}
		c.cache.logger.Warn("Remote read failed, falling back to local cache",
			"collection", c.name,
			"error", err)
		return c.readLocal(ctx, maxItems, startAfter)
	}
	return records, nil
}

// GetCount считает записи, подходящие под фильтр
func (c *Collection) GetCount(ctx context.Context, source Source) (int, error) {
	if err := c.check(); err != nil {
		return 0, err
	}

	switch source {
	case SourceCache:
		return c.countLocal(ctx)
	case SourceServer:
		return c.countRemote(ctx)
	}

	if !c.cache.Online() {
		return c.countLocal(ctx)
	}

	n, err := c.countRemote(ctx)
	if err != nil {
		c.cache.logger.Warn("Remote count failed, falling back to local cache",
			"collection", c.name,
			"error", err)
		return c.countLocal(ctx)
	}
	return n, nil
}

func (c *Collection) readLocal(ctx context.Context, maxItems int, startAfter models.Record) ([]models.Record, error) {
	st, err := query.Translate(c.filter, c.sort, startAfter, max(maxItems, 0))
	if err != nil {
		return nil, err
	}
	return c.cache.store.Read(ctx, c.name, st)
}

func (c *Collection) countLocal(ctx context.Context) (int, error) {
	st, err := query.Translate(c.filter, nil, nil, 0)
	if err != nil {
		return 0, err
	}
	return c.cache.store.Count(ctx, c.name, st)
}

// fetchRemote читает страницы, пока не наберется maxItems или не придет
// неполная страница, и кладет полученное в зеркало
func (c *Collection) fetchRemote(ctx context.Context, maxItems int, startAfter models.Record) ([]models.Record, error) {
	filter, err := query.RemoteFilter(c.filter, c.sort, startAfter)
	if err != nil {
		return nil, err
	}

	perPage := api.MaxPerPage
	if maxItems > 0 {
		perPage = min(maxItems, api.MaxPerPage)
	}

	var records []models.Record
	for page := 1; ; page++ {
		resp, err := c.cache.remote.List(ctx, c.name, apiclient.ListOptions{
			Filter:    filter,
			Sort:      query.RemoteSort(c.sort),
			Page:      page,
			PerPage:   perPage,
			SkipTotal: true,
		})
		if err != nil {
			return nil, err
		}

		items, err := apiclient.DecodeItems(resp)
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", c.name, err)
		}
		records = append(records, items...)

		if len(items) < perPage || (maxItems > 0 && len(records) >= maxItems) {
			break
		}
	}

	if maxItems > 0 && len(records) > maxItems {
		records = records[:maxItems]
	}
	if records == nil {
		records = []models.Record{}
	}

	c.mirror(ctx, records)
	return records, nil
}

// mirror кладет полученные с сервера записи в зеркало.
// Ошибка зеркала не отменяет успешное чтение.
func (c *Collection) mirror(ctx context.Context, records []models.Record) {
	if len(records) == 0 {
		return
	}

	res, err := c.cache.store.Upsert(ctx, c.name, records)
	if err != nil {
		c.cache.logger.Error("Failed to mirror fetched records",
			"collection", c.name,
			"count", len(records),
			"error", err)
		return
	}
	if res == storage.UpsertDropped {
		c.cache.logger.Warn("Local table dropped on schema mismatch", "collection", c.name)
	}
}

func (c *Collection) countRemote(ctx context.Context) (int, error) {
	filter, err := query.RemoteFilter(c.filter, nil, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.cache.remote.List(ctx, c.name, apiclient.ListOptions{
		Filter:  filter,
		Page:    1,
		PerPage: 1,
	})
	if err != nil {
		return 0, err
	}
	return resp.TotalItems, nil
}

// Create создает запись: локально сразу, на сервере через очередь.
// Без id в fields назначается новый 15-символьный id.
func (c *Collection) Create(ctx context.Context, fields map[string]any) (models.Record, error) {
	if err := validation.ValidateCollection(c.name); err != nil {
		return nil, err
	}

	rec := models.Record(fields).Clone()
	delete(rec, models.FieldCreated)
	delete(rec, models.FieldUpdated)
	if rec.ID() == "" {
		rec[models.FieldID] = models.NewRecordID()
	}
	if err := validation.ValidateRecordID(rec.ID()); err != nil {
		return nil, err
	}

	c.writeLocal(ctx, rec)

	if _, err := c.cache.queue.Enqueue(ctx, models.OperationInsert, c.name, "", rec); err != nil {
		return nil, err
	}
	c.cache.drainIfOnline(ctx)

	return c.current(ctx, rec), nil
}

// Update меняет поля записи: локально сразу, на сервере через очередь
func (c *Collection) Update(ctx context.Context, id string, fields map[string]any) (models.Record, error) {
	if err := validation.ValidateCollection(c.name); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("update requires a record id")
	}

	changes := models.Record(fields).Clone()
	delete(changes, models.FieldID)
	delete(changes, models.FieldCreated)
	delete(changes, models.FieldUpdated)

	local, err := c.cache.store.GetRecord(ctx, c.name, id)
	if err != nil {
		if !errors.Is(err, storage.ErrRecordNotFound) {
			return nil, err
		}
		local = models.Record{models.FieldID: id}
	}
	merged := local.Merge(changes)
	c.writeLocal(ctx, merged)

	if _, err := c.cache.queue.Enqueue(ctx, models.OperationUpdate, c.name, id, changes); err != nil {
		return nil, err
	}
	c.cache.drainIfOnline(ctx)

	return c.current(ctx, merged), nil
}

// Delete удаляет запись: локально сразу, на сервере через очередь
func (c *Collection) Delete(ctx context.Context, id string) error {
	if err := validation.ValidateCollection(c.name); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("delete requires a record id")
	}

	if err := c.cache.store.DeleteRecord(ctx, c.name, id); err != nil {
		return fmt.Errorf("failed to delete local record: %w", err)
	}

	if _, err := c.cache.queue.Enqueue(ctx, models.OperationDelete, c.name, id, nil); err != nil {
		return err
	}
	c.cache.drainIfOnline(ctx)
	return nil
}

// writeLocal оптимистичная запись в зеркало.
// Расхождение схемы сбрасывает таблицу; мутация все равно уходит в очередь.
func (c *Collection) writeLocal(ctx context.Context, rec models.Record) {
	res, err := c.cache.store.Upsert(ctx, c.name, []models.Record{rec})
	if err != nil {
		c.cache.logger.Error("Optimistic local write failed",
			"collection", c.name,
			"id", rec.ID(),
			"error", err)
		return
	}
	if res == storage.UpsertDropped {
		c.cache.logger.Warn("Local table dropped on schema mismatch", "collection", c.name)
	}
}

// current возвращает запись из зеркала, если она там есть (после drain
// в ней уже created/updated сервера), иначе оптимистичную копию
func (c *Collection) current(ctx context.Context, fallback models.Record) models.Record {
	rec, err := c.cache.store.GetRecord(ctx, c.name, fallback.ID())
	if err != nil {
		return fallback
	}
	return rec
}
