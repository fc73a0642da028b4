// Package ambient 解析并缓存当前的环境信息（天气）。
//
// 冷启动时依次尝试：跨会话缓存（默认 30 分钟）→ 设备定位 → 默认城市 → 合成默认值。
// 每一层的失败都被吞掉并降级到下一层，最终总能得到一个值。
// 用户手动选择的天气只保存在内存中，从不写入缓存。
package ambient

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/rushteam/recsync/core"
	"github.com/rushteam/recsync/metrics"
)

const (
	DefaultCacheKey   = "recflix_weather"
	DefaultTTL        = 30 * time.Minute
	DefaultGeoTimeout = 5 * time.Second
	DefaultCity       = "Seoul"
)

// Provider 是天气服务（transport.Client 实现了它）
type Provider interface {
	WeatherByCoords(ctx context.Context, coords core.Coordinates) (core.AmbientContext, error)
	WeatherByCity(ctx context.Context, city string) (core.AmbientContext, error)
}

// Source 当前值来自哪一层
type Source string

const (
	SourceNone        Source = ""
	SourceCache       Source = "cache"
	SourceGeolocation Source = "geolocation"
	SourceDefaultCity Source = "default_city"
	SourceCity        Source = "city"
	SourceFallback    Source = "fallback"
	SourceManual      Source = "manual"
)

// State 是缓存对外暴露的状态快照
type State struct {
	Context core.AmbientContext
	// Ready 为 false 表示尚未解析出任何值
	Ready   bool
	Loading bool
	// Degraded 为 true 表示当前值是合成默认值
	Degraded bool
	Source   Source
}

// entry 是写入存储的记录，timestamp 为毫秒时间戳
type entry struct {
	Data      core.AmbientContext `json:"data"`
	Timestamp int64               `json:"timestamp"`
}

// Cache 环境信息缓存，可并发使用
type Cache struct {
	provider Provider
	geo      Geolocator
	store    core.Store

	key         string
	ttl         time.Duration
	geoTimeout  time.Duration
	defaultCity string
	clock       core.Clock
	log         logr.Logger
	metrics     *metrics.Metrics

	group singleflight.Group

	mu    sync.RWMutex
	state State
	// generation 在手动选择、按城市获取、重置时递增；旧代的解析结果不再覆盖当前值
	generation uint64
}

// Option 配置 Cache
type Option func(*Cache)

// WithGeolocator 设置定位来源，不设置时跳过定位直接使用默认城市
func WithGeolocator(g Geolocator) Option {
	return func(c *Cache) { c.geo = g }
}

func WithCacheKey(key string) Option {
	return func(c *Cache) {
		if key != "" {
			c.key = key
		}
	}
}

func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

func WithGeoTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.geoTimeout = d
		}
	}
}

func WithDefaultCity(city string) Option {
	return func(c *Cache) {
		if city != "" {
			c.defaultCity = city
		}
	}
}

func WithClock(clock core.Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

func WithLogger(log logr.Logger) Option {
	return func(c *Cache) { c.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// NewCache 创建环境信息缓存。store 是跨会话存储（badger / redis / memory）。
func NewCache(provider Provider, store core.Store, opts ...Option) *Cache {
	c := &Cache{
		provider:    provider,
		store:       store,
		key:         DefaultCacheKey,
		ttl:         DefaultTTL,
		geoTimeout:  DefaultGeoTimeout,
		defaultCity: DefaultCity,
		clock:       core.SystemClock,
		log:         logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithName("ambient")
	return c
}

// Current 返回当前状态
func (c *Cache) Current() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Condition 返回当前天气类别，尚未解析时为空
func (c *Cache) Condition() core.Condition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.state.Ready {
		return ""
	}
	return c.state.Context.Condition
}

type resolution struct {
	ctx      core.AmbientContext
	source   Source
	degraded bool
}

// Resolve 执行冷启动解析并替换当前值（包括手动选择的值）。
// 并发调用合并为一次解析。总是返回一个值。
func (c *Cache) Resolve(ctx context.Context) core.AmbientContext {
	c.mu.Lock()
	gen := c.generation
	c.state.Loading = true
	c.mu.Unlock()

	// 合并的解析不随第一个调用方取消，由定位超时和请求超时约束
	shared := context.WithoutCancel(ctx)
	v, _, _ := c.group.Do(fmt.Sprintf("resolve-%d", gen), func() (any, error) {
		return c.resolve(shared), nil
	})
	res := v.(resolution)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		// 解析期间有更新的选择，保留它
		return c.state.Context
	}
	c.state = State{Context: res.ctx, Ready: true, Degraded: res.degraded, Source: res.source}
	return res.ctx
}

func (c *Cache) resolve(ctx context.Context) resolution {
	if ac, ok := c.readCache(ctx); ok {
		c.metrics.AmbientResolved(string(SourceCache))
		return resolution{ctx: ac, source: SourceCache}
	}

	if c.geo != nil {
		ac, err := c.byLocation(ctx)
		if err == nil {
			c.writeCache(ctx, ac)
			c.metrics.AmbientResolved(string(SourceGeolocation))
			return resolution{ctx: ac, source: SourceGeolocation}
		}
		c.log.V(1).Info("geolocation failed, falling back to default city", "city", c.defaultCity, "error", err.Error())
	}

	ac, err := c.provider.WeatherByCity(ctx, c.defaultCity)
	if err == nil {
		c.writeCache(ctx, ac)
		c.metrics.AmbientResolved(string(SourceDefaultCity))
		return resolution{ctx: ac, source: SourceDefaultCity}
	}
	c.log.Info("weather unavailable, using fallback", "city", c.defaultCity, "error", err.Error())

	c.metrics.AmbientResolved(string(SourceFallback))
	return resolution{ctx: Fallback(c.defaultCity), source: SourceFallback, degraded: true}
}

func (c *Cache) byLocation(ctx context.Context) (core.AmbientContext, error) {
	gctx, cancel := context.WithTimeout(ctx, c.geoTimeout)
	coords, err := c.geo.Locate(gctx)
	cancel()
	if err != nil {
		return core.AmbientContext{}, err
	}
	return c.provider.WeatherByCoords(ctx, coords)
}

// FetchByCity 按城市获取天气，成功时替换当前值并写入缓存；失败时当前值不变并返回错误
func (c *Cache) FetchByCity(ctx context.Context, city string) (core.AmbientContext, error) {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.state.Loading = true
	c.mu.Unlock()

	ac, err := c.provider.WeatherByCity(ctx, city)
	if err != nil {
		c.mu.Lock()
		if gen == c.generation {
			c.state.Loading = false
		}
		c.mu.Unlock()
		return core.AmbientContext{}, core.WrapDomainError(core.ModuleAmbient, core.ErrorCodeUnavailable, "ambient: weather for "+city, err)
	}

	c.writeCache(ctx, ac)
	c.metrics.AmbientResolved(string(SourceCity))

	c.mu.Lock()
	if gen == c.generation {
		c.state = State{Context: ac, Ready: true, Source: SourceCity}
	}
	c.mu.Unlock()
	return ac, nil
}

// SetManual 使用手动选择的天气类别替换当前值，不写入缓存
func (c *Cache) SetManual(cond core.Condition) (core.AmbientContext, error) {
	if !cond.Valid() {
		return core.AmbientContext{}, core.NewDomainError(core.ModuleAmbient, core.ErrorCodeInvalidInput, "ambient: unknown condition "+string(cond))
	}
	ac := Representative(cond)

	c.mu.Lock()
	c.generation++
	c.state = State{Context: ac, Ready: true, Source: SourceManual}
	c.mu.Unlock()

	c.metrics.AmbientResolved(string(SourceManual))
	return ac, nil
}

// ResetToReal 清除缓存记录并重新执行完整的冷启动解析
func (c *Cache) ResetToReal(ctx context.Context) core.AmbientContext {
	c.mu.Lock()
	c.generation++
	c.mu.Unlock()

	if err := c.store.Delete(ctx, c.key); err != nil {
		c.log.V(1).Info("purge cache failed", "error", err.Error())
	}
	return c.Resolve(ctx)
}

// readCache 读取未过期的缓存记录；过期或损坏的记录会被删除
func (c *Cache) readCache(ctx context.Context) (core.AmbientContext, bool) {
	data, err := c.store.Get(ctx, c.key)
	if err != nil {
		if !core.IsStoreNotFound(err) {
			c.log.V(1).Info("read cache failed", "store", c.store.Name(), "error", err.Error())
		}
		return core.AmbientContext{}, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil || !e.Data.Condition.Valid() || e.Data.IsManual {
		c.purge(ctx)
		return core.AmbientContext{}, false
	}

	age := c.clock.Now().UnixMilli() - e.Timestamp
	if age >= c.ttl.Milliseconds() {
		c.purge(ctx)
		return core.AmbientContext{}, false
	}
	return e.Data, true
}

// writeCache 写入缓存；手动值永不写入，写入失败只记录日志
func (c *Cache) writeCache(ctx context.Context, ac core.AmbientContext) {
	if ac.IsManual {
		return
	}
	data, err := json.Marshal(entry{Data: ac, Timestamp: c.clock.Now().UnixMilli()})
	if err != nil {
		c.log.V(1).Info("encode cache entry failed", "error", err.Error())
		return
	}
	ttl := int(math.Ceil(c.ttl.Seconds()))
	if err := c.store.Set(ctx, c.key, data, ttl); err != nil {
		c.log.V(1).Info("write cache failed", "store", c.store.Name(), "error", err.Error())
	}
}

func (c *Cache) purge(ctx context.Context) {
	if err := c.store.Delete(ctx, c.key); err != nil {
		c.log.V(1).Info("purge cache failed", "error", err.Error())
	}
}
