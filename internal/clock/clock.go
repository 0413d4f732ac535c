// Package clock provides the millisecond timestamps used to order queued
// mutations.
package clock

import (
	"sync"
	"time"
)

// Clock монотонные часы с миллисекундной точностью.
// Значения не убывают даже при переводе системных часов назад,
// а внутри процесса строго возрастают.
type Clock struct {
	now  func() time.Time // источник времени (подменяется в тестах)
	last int64            // последнее выданное значение
	mu   sync.Mutex       // мьютекс для потокобезопасности
}

// New создает часы на основе системного времени
func New() *Clock {
	return &Clock{now: time.Now}
}

// NewWithSource создает часы с заданным источником времени.
// Используется для тестирования.
func NewWithSource(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Tick возвращает следующий timestamp в миллисекундах:
// max(текущее время, последнее значение + 1)
func (c *Clock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms := c.now().UnixMilli()
	if ms <= c.last {
		ms = c.last + 1
	}
	c.last = ms
	return ms
}

// Observe сдвигает часы не ниже уже сохраненного значения.
// Используется при открытии хранилища, чтобы новые записи очереди
// не оказались раньше записей, оставшихся с прошлого запуска.
func (c *Clock) Observe(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ms > c.last {
		c.last = ms
	}
}

// Last возвращает последнее выданное значение без изменения часов
func (c *Clock) Last() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.last
}
