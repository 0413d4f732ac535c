// Package cache is the public entry point of the offline-first client:
// reads go to the server or the local mirror by source policy, mutations
// are written locally, queued and replayed while the backend is reachable.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/iudanet/gophsync/internal/client/monitor"
	"github.com/iudanet/gophsync/internal/client/queue"
	"github.com/iudanet/gophsync/internal/client/resync"
	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/client/storage/sqlite"
	"github.com/iudanet/gophsync/internal/clock"
	"github.com/iudanet/gophsync/internal/models"
)

// Remote backend, которым пользуется кэш
type Remote interface {
	queue.Remote
	resync.Remote
	monitor.Prober
}

// Config настройки кэша
type Config struct {
	// Indexes индексы таблиц зеркала, используется только Open
	Indexes map[string][]storage.IndexSpec
	// OnNetworkChange вызывается на каждый переход online/offline
	OnNetworkChange func(online bool)
	// OnCacheUpdated получает таблицы, в которые resync записал данные
	OnCacheUpdated func(tables []string)
	// ResyncFilter инкрементальный фильтр таблицы, по умолчанию updated > last
	ResyncFilter resync.FilterFunc
	// BeforeSync вызывается после успешной проверки связи до drain и resync
	BeforeSync func(ctx context.Context) error
	// Metadata если задано, сюда пишется итог каждого прохода синхронизации
	Metadata storage.MetadataStorage
	Logger   *slog.Logger
	// ProbeInterval период проверки связи
	ProbeInterval time.Duration
	// ResyncBatchSize размер страницы resync
	ResyncBatchSize int
	// DisableMonitor не запускать фоновую проверку связи (тесты, разовые команды)
	DisableMonitor bool
}

// Cache offline-first фасад над зеркалом, очередью и монитором
type Cache struct {
	remote   Remote
	store    storage.Storage
	queue    *queue.Service
	resync   *resync.Coordinator
	monitor  *monitor.Monitor
	metadata storage.MetadataStorage
	logger   *slog.Logger
	now      func() time.Time
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex // защищает cancel
	ownStore bool
}

// Open открывает локальное хранилище по пути и создает кэш поверх него.
// Хранилище закрывается вместе с кэшем.
func Open(ctx context.Context, remote Remote, path string, cfg Config) (*Cache, error) {
	store, err := sqlite.New(ctx, path, sqlite.Options{
		Logger:  cfg.Logger,
		Indexes: cfg.Indexes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	c, err := New(ctx, remote, store, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	c.ownStore = true
	return c, nil
}

// New создает кэш над уже открытым хранилищем
func New(ctx context.Context, remote Remote, store storage.Storage, cfg Config) (*Cache, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache{
		remote:   remote,
		store:    store,
		metadata: cfg.Metadata,
		logger:   logger,
		now:      time.Now,
	}

	c.queue = queue.NewService(store, remote, clock.New(), logger)
	if err := c.queue.Restore(ctx); err != nil {
		return nil, err
	}

	c.resync = resync.New(remote, store, resync.Config{
		Filter:         cfg.ResyncFilter,
		OnCacheUpdated: cfg.OnCacheUpdated,
		Logger:         logger,
		BatchSize:      cfg.ResyncBatchSize,
	})

	var onChange func(monitor.State)
	if cfg.OnNetworkChange != nil {
		onChange = func(s monitor.State) {
			cfg.OnNetworkChange(s == monitor.Online)
		}
	}
	c.monitor = monitor.New(remote, monitor.Config{
		OnChange:   onChange,
		BeforeSync: cfg.BeforeSync,
		OnOnline: func(ctx context.Context) error {
			_, err := c.Sync(ctx)
			return err
		},
		Logger:   logger,
		Interval: cfg.ProbeInterval,
		Disabled: cfg.DisableMonitor,
	})

	return c, nil
}

// Start запускает фоновую проверку связи. Повторный вызов ничего не делает.
func (c *Cache) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.monitor.Run(ctx)
	}()
}

// Close останавливает монитор и закрывает хранилище, если кэш его открыл
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()

	if c.ownStore {
		return c.store.Close()
	}
	return nil
}

// Collection возвращает построитель запросов к коллекции
func (c *Cache) Collection(name string) *Collection {
	return &Collection{cache: c, name: name}
}

// Online сообщает последнее известное состояние связи
func (c *Cache) Online() bool {
	return c.monitor.IsOnline()
}

// State текущее состояние связи
func (c *Cache) State() monitor.State {
	return c.monitor.State()
}

// Subscribe подписка на переходы состояния связи
func (c *Cache) Subscribe() (<-chan monitor.State, func()) {
	return c.monitor.Subscribe()
}

// Probe проверяет связь немедленно; при успехе запускает синхронизацию
func (c *Cache) Probe(ctx context.Context) monitor.State {
	return c.monitor.ProbeOnce(ctx)
}

// Reachable проверяет backend без синхронизации и без смены состояния
func (c *Cache) Reachable(ctx context.Context) bool {
	status, err := c.remote.Health(ctx)
	return err == nil && status == http.StatusOK
}

// Drain воспроизводит очередь мутаций
func (c *Cache) Drain(ctx context.Context) (int, error) {
	return c.queue.Drain(ctx)
}

// Resync дозагружает изменения всех таблиц зеркала
func (c *Cache) Resync(ctx context.Context) ([]string, error) {
	return c.resync.ResyncAll(ctx)
}

// Sync разбирает очередь и затем дозагружает изменения.
// Итог записывается в Metadata, если оно задано.
func (c *Cache) Sync(ctx context.Context) (*storage.SyncStatus, error) {
	drained, drainErr := c.queue.Drain(ctx)
	if drainErr != nil {
		c.logger.Error("Queue drain failed", "error", drainErr)
	}

	updated, resyncErr := c.resync.ResyncAll(ctx)
	if resyncErr != nil {
		c.logger.Error("Resync failed", "error", resyncErr)
	}

	status := &storage.SyncStatus{
		UpdatedTables: updated,
		LastSyncAt:    c.now().UnixMilli(),
		Drained:       drained,
	}
	err := errors.Join(drainErr, resyncErr)
	if err != nil {
		status.LastError = err.Error()
	}

	if c.metadata != nil {
		if saveErr := c.metadata.SaveSyncStatus(ctx, status); saveErr != nil {
			c.logger.Warn("Failed to save sync status", "error", saveErr)
		}
	}

	return status, err
}

// SyncStatus итог последнего прохода синхронизации
func (c *Cache) SyncStatus(ctx context.Context) (*storage.SyncStatus, error) {
	if c.metadata == nil {
		return &storage.SyncStatus{}, nil
	}
	return c.metadata.GetSyncStatus(ctx)
}

// Pending число мутаций, ожидающих отправки
func (c *Cache) Pending(ctx context.Context) (int, error) {
	return c.queue.Pending(ctx)
}

// PendingOperations мутации, ожидающие отправки, в порядке воспроизведения
func (c *Cache) PendingOperations(ctx context.Context) ([]models.QueueEntry, error) {
	return c.queue.List(ctx)
}

// Tables таблицы локального зеркала
func (c *Cache) Tables(ctx context.Context) ([]string, error) {
	return c.store.ListTables(ctx)
}

// drainIfOnline отправляет очередь сразу после мутации.
// Ошибка не возвращается: мутация уже в очереди и будет повторена.
func (c *Cache) drainIfOnline(ctx context.Context) {
	if !c.monitor.IsOnline() {
		return
	}
	if _, err := c.queue.Drain(ctx); err != nil {
		c.logger.Warn("Drain after mutation failed", "error", err)
	}
}
