// Package resync pulls remote changes into the local mirror, one table at a
// time, starting from the last recorded update timestamp of each table.
package resync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apiclient "github.com/iudanet/gophsync/internal/client/api"
	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/query"
	"github.com/iudanet/gophsync/pkg/api"
)

//go:generate moq -out remote_mock.go . Remote

// DefaultBatchSize размер страницы одного инкрементального запроса
const DefaultBatchSize = api.MaxPerPage

// Remote источник записей
type Remote interface {
	List(ctx context.Context, collection string, opts apiclient.ListOptions) (*api.ListResponse, error)
}

// Store зеркало и учет времени последней синхронизации
type Store interface {
	storage.SyncTimeStorage
	Upsert(ctx context.Context, table string, records []models.Record) (storage.UpsertResult, error)
}

// FilterFunc строит инкрементальный фильтр таблицы по времени последнего
// обновления. false означает, что таблица пропускается в этом проходе.
type FilterFunc func(table, lastUpdate string) (query.Filter, bool)

// UpdatedSince фильтр по умолчанию: записи новее lastUpdate
func UpdatedSince(_ string, lastUpdate string) (query.Filter, bool) {
	if lastUpdate == "" {
		return nil, true
	}
	return query.And(query.Where(models.FieldUpdated, query.OpGt, lastUpdate)), true
}

// Config настройки координатора
type Config struct {
	Filter         FilterFunc
	OnCacheUpdated func(tables []string)
	Logger         *slog.Logger
	BatchSize      int
}

// Coordinator инкрементальная дозагрузка таблиц зеркала
type Coordinator struct {
	remote    Remote
	store     Store
	filter    FilterFunc
	onUpdated func(tables []string)
	logger    *slog.Logger
	batchSize int
}

// New создает координатор
func New(remote Remote, store Store, cfg Config) *Coordinator {
	c := &Coordinator{
		remote:    remote,
		store:     store,
		filter:    cfg.Filter,
		onUpdated: cfg.OnCacheUpdated,
		logger:    cfg.Logger,
		batchSize: cfg.BatchSize,
	}
	if c.filter == nil {
		c.filter = UpdatedSince
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.batchSize <= 0 || c.batchSize > api.MaxPerPage {
		c.batchSize = DefaultBatchSize
	}
	return c
}

// ResyncAll проходит все таблицы с записью о синхронизации и возвращает
// имена таблиц, получивших записи. Ошибка одной таблицы не останавливает
// проход; сетевая ошибка останавливает.
func (c *Coordinator) ResyncAll(ctx context.Context) ([]string, error) {
	times, err := c.store.ListSyncTimes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync times: %w", err)
	}

	var (
		updated []string
		errs    []error
	)
	for _, st := range times {
		got, err := c.resyncTable(ctx, st)
		if err != nil {
			if apiclient.IsNetworkError(err) {
				errs = append(errs, err)
				break
			}
			c.logger.Error("Resync of table failed", "table", st.Table, "error", err)
			errs = append(errs, err)
			continue
		}
		if got {
			updated = append(updated, st.Table)
		}
	}

	if len(updated) > 0 {
		c.logger.Info("Local cache updated", "tables", updated)
		if c.onUpdated != nil {
			c.onUpdated(updated)
		}
	}

	return updated, errors.Join(errs...)
}

// resyncTable тянет одну страницу изменений таблицы
func (c *Coordinator) resyncTable(ctx context.Context, st storage.SyncTime) (bool, error) {
	f, ok := c.filter(st.Table, st.LastUpdate)
	if !ok {
		c.logger.Debug("Resync skipped by filter", "table", st.Table)
		return false, nil
	}

	sort := &query.Sort{Field: models.FieldUpdated, Descending: true}
	remoteFilter, err := query.RemoteFilter(f, sort, nil)
	if err != nil {
		return false, fmt.Errorf("table %s: %w", st.Table, err)
	}

	// страницы читаются до короткой: водяной знак двигается только после
	// того, как забраны все записи новее прежнего
	var (
		total int
		last  string
	)
	for page := 1; ; page++ {
		resp, err := c.remote.List(ctx, st.Table, apiclient.ListOptions{
			Filter:    remoteFilter,
			Sort:      query.RemoteSort(sort),
			Page:      page,
			PerPage:   c.batchSize,
			SkipTotal: true,
		})
		if err != nil {
			return false, err
		}

		records, err := apiclient.DecodeItems(resp)
		if err != nil {
			return false, fmt.Errorf("table %s: %w", st.Table, err)
		}
		if len(records) == 0 {
			break
		}

		res, err := c.store.Upsert(ctx, st.Table, records)
		if err != nil {
			return false, fmt.Errorf("table %s: %w", st.Table, err)
		}
		if res == storage.UpsertDropped {
			// таблица пересоздастся при следующем чтении с сервера
			c.logger.Warn("Table dropped on schema mismatch during resync", "table", st.Table)
			return false, nil
		}

		total += len(records)
		// страница отсортирована по убыванию: последняя запись самая старая
		if u := records[len(records)-1].Updated(); u != "" {
			last = u
		}
		if len(records) < c.batchSize {
			break
		}
	}
	if total == 0 {
		return false, nil
	}

	if last != "" {
		if err := c.store.SetSyncTime(ctx, st.Table, last); err != nil {
			return false, fmt.Errorf("table %s: %w", st.Table, err)
		}
	}

	c.logger.Debug("Table resynced", "table", st.Table, "records", total, "last_update", last)
	return true, nil
}
