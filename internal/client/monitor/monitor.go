// Package monitor tracks whether the remote backend is reachable and
// triggers reconciliation while it is.
package monitor

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

//go:generate moq -out prober_mock.go . Prober

// DefaultInterval период между проверками доступности backend'а
const DefaultInterval = 10 * time.Second

// State состояние связи с backend'ом
type State int32

const (
	Online State = iota
	Offline
)

func (s State) String() string {
	if s == Offline {
		return "offline"
	}
	return "online"
}

// Prober проверка доступности backend'а
type Prober interface {
	Health(ctx context.Context) (int, error)
}

// Config настройки монитора
type Config struct {
	// OnChange вызывается один раз на каждый переход состояния
	OnChange func(State)
	// BeforeSync вызывается после успешной проверки до OnOnline (обновление токена)
	BeforeSync func(ctx context.Context) error
	// OnOnline вызывается после каждой успешной проверки (drain + resync)
	OnOnline func(ctx context.Context) error
	Logger   *slog.Logger
	Interval time.Duration
	// Disabled отключает фоновый цикл (тестовый режим)
	Disabled bool
}

// Monitor периодически проверяет доступность backend'а.
// Состояние читается без блокировок: возможна устаревшая на один
// период картина, что допустимо.
type Monitor struct {
	prober      Prober
	logger      *slog.Logger
	onChange    func(State)
	beforeSync  func(ctx context.Context) error
	onOnline    func(ctx context.Context) error
	subscribers map[int]chan State
	state       atomic.Int32
	interval    time.Duration
	nextID      int
	mu          sync.Mutex // защищает subscribers и nextID
	probeMu     sync.Mutex // одна проверка за раз
	disabled    bool
}

// New создает монитор в состоянии Online
func New(prober Prober, cfg Config) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Monitor{
		prober:      prober,
		logger:      logger,
		onChange:    cfg.OnChange,
		beforeSync:  cfg.BeforeSync,
		onOnline:    cfg.OnOnline,
		subscribers: make(map[int]chan State),
		interval:    interval,
		disabled:    cfg.Disabled,
	}
	m.state.Store(int32(Online))
	return m
}

// State возвращает текущее состояние
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// IsOnline сообщает, что последняя проверка была успешной
func (m *Monitor) IsOnline() bool {
	return m.State() == Online
}

// Run проверяет backend сразу и затем каждые Interval до отмены контекста.
// В тестовом режиме возвращается сразу.
func (m *Monitor) Run(ctx context.Context) {
	if m.disabled {
		m.logger.Debug("Connectivity monitor disabled")
		return
	}

	m.logger.Info("Starting connectivity monitor", "interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.ProbeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Connectivity monitor stopped")
			return
		case <-ticker.C:
			m.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce выполняет одну проверку и возвращает новое состояние.
// При успехе запускает синхронизацию.
func (m *Monitor) ProbeOnce(ctx context.Context) State {
	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	status, err := m.prober.Health(ctx)
	if err != nil || status != http.StatusOK {
		m.logger.Debug("Backend unreachable", "status", status, "error", err)
		m.setState(Offline)
		return Offline
	}

	m.setState(Online)
	m.sync(ctx)
	return Online
}

// sync выполняет работу, положенную при доступном backend'е.
// Ошибки только логируются: состояние связи от них не зависит.
func (m *Monitor) sync(ctx context.Context) {
	if m.beforeSync != nil {
		if err := m.beforeSync(ctx); err != nil {
			m.logger.Warn("Pre-sync hook failed", "error", err)
		}
	}
	if m.onOnline != nil {
		if err := m.onOnline(ctx); err != nil {
			m.logger.Error("Sync after probe failed", "error", err)
		}
	}
}

// setState сохраняет состояние и оповещает о переходе
func (m *Monitor) setState(s State) {
	prev := State(m.state.Swap(int32(s)))
	if prev == s {
		return
	}

	m.logger.Info("Connectivity changed", "from", prev, "to", s)

	if m.onChange != nil {
		m.onChange(s)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subscribers {
		// медленный подписчик получает последнее состояние
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

// Subscribe возвращает канал переходов состояния и функцию отписки.
// Канал буферизован на одно значение и хранит самый свежий переход.
func (m *Monitor) Subscribe() (<-chan State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan State, 1)
	m.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subscribers, id)
			close(ch)
		})
	}
}
