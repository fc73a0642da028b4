// Package session 提供会话身份（每个标签页一个不透明 ID）和会话生命周期通知。
package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/rushteam/recsync/core"
)

// DefaultStorageKey 会话 ID 在会话存储中的 key
const DefaultStorageKey = "recflix_session_id"

// Provider 负责签发并记住会话 ID。
// ID 只生成一次：优先从会话存储读取，不存在时生成并写回；存储不可用时仍在内存中保持稳定。
type Provider struct {
	store core.Store
	key   string
	clock core.Clock
	log   logr.Logger

	mu sync.Mutex
	id string
}

// Option 配置 Provider
type Option func(*Provider)

func WithStorageKey(key string) Option {
	return func(p *Provider) {
		if key != "" {
			p.key = key
		}
	}
}

func WithClock(c core.Clock) Option {
	return func(p *Provider) { p.clock = c }
}

func WithLogger(log logr.Logger) Option {
	return func(p *Provider) { p.log = log }
}

// NewProvider 创建会话身份提供者，store 通常是会话级的 store.MemoryStore
func NewProvider(store core.Store, opts ...Option) *Provider {
	p := &Provider{
		store: store,
		key:   DefaultStorageKey,
		clock: core.SystemClock,
		log:   logr.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithName("session")
	return p
}

// SessionID 返回当前会话 ID，首次调用时生成。永不失败。
func (p *Provider) SessionID(ctx context.Context) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.id != "" {
		return p.id
	}

	if p.store != nil {
		if data, err := p.store.Get(ctx, p.key); err == nil && len(data) > 0 {
			p.id = string(data)
			return p.id
		} else if err != nil && !core.IsStoreNotFound(err) {
			p.log.V(1).Info("session storage read failed", "error", err.Error())
		}
	}

	p.id = fmt.Sprintf("%d-%s", p.clock.Now().UnixMilli(), randomSuffix())
	if p.store != nil {
		if err := p.store.Set(ctx, p.key, []byte(p.id)); err != nil {
			p.log.V(1).Info("session storage write failed", "error", err.Error())
		}
	}
	return p.id
}

const suffixLen = 7

// randomSuffix 返回 7 位 base36 随机串
func randomSuffix() string {
	u := uuid.New()
	s := strconv.FormatUint(binary.BigEndian.Uint64(u[:8]), 36)
	if len(s) < suffixLen {
		return strings.Repeat("0", suffixLen-len(s)) + s
	}
	return s[len(s)-suffixLen:]
}
