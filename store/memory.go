package store

import (
	"context"
	"sync"
	"time"

	"github.com/rushteam/recsync/core"
)

// MemoryStore 是内存实现的 Store，对应浏览器的 sessionStorage：
// 进程（会话）结束后数据即丢失。支持 TTL，过期数据由后台协程定期清理。
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string]*entry
	clock core.Clock

	clean *time.Ticker
	stop  chan struct{}
	once  sync.Once
}

type entry struct {
	value  []byte
	expire time.Time // 零值表示不过期
}

func (e *entry) expired(now time.Time) bool {
	return !e.expire.IsZero() && !now.Before(e.expire)
}

// MemoryOption 配置 MemoryStore
type MemoryOption func(*MemoryStore)

// WithMemoryClock 指定时钟（测试用）
func WithMemoryClock(c core.Clock) MemoryOption {
	return func(m *MemoryStore) { m.clock = c }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	ms := &MemoryStore{
		data:  make(map[string]*entry),
		clock: core.SystemClock,
		clean: time.NewTicker(10 * time.Second),
		stop:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ms)
	}
	go ms.cleanup()
	return ms
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.data[key]
	if !ok || e.expired(m.clock.Now()) {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl ...int) error {
	v := make([]byte, len(value))
	copy(v, value)
	e := &entry{value: v}
	if d := ttlDuration(ttl); d > 0 {
		e.expire = m.clock.Now().Add(d)
	}

	m.mu.Lock()
	m.data[key] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Len 返回未过期的 key 数量
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.clock.Now()
	n := 0
	for _, e := range m.data {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

func (m *MemoryStore) Close() error {
	m.once.Do(func() {
		m.clean.Stop()
		close(m.stop)
	})
	return nil
}

func (m *MemoryStore) cleanup() {
	for {
		select {
		case <-m.clean.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

func (m *MemoryStore) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	for k, e := range m.data {
		if e.expired(now) {
			delete(m.data, k)
		}
	}
}

var _ core.Store = (*MemoryStore)(nil)
