// Package interaction 维护当前会话中用户与影片的交互状态（收藏 / 评分）。
//
// 变更采用乐观更新：先修改本地状态并同步通知订阅者，再调用远程服务；
// 成功后以服务端返回值为准，失败则恢复到变更前的快照并把错误返回给调用方。
// 同一影片的变更串行执行，不同影片并行。
package interaction

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/recsync/core"
	"github.com/rushteam/recsync/metrics"
	"github.com/rushteam/recsync/session"
)

// Remote 是交互状态的远程服务（transport.Client 实现了它）
type Remote interface {
	GetInteraction(ctx context.Context, itemID int64) (core.Interaction, error)
	GetInteractions(ctx context.Context, itemIDs []int64) (map[int64]core.Interaction, error)
	ToggleFavorite(ctx context.Context, itemID int64) (bool, error)
	RateMovie(ctx context.Context, itemID int64, score float64, contextTag string) error
}

const (
	opFetchOne  = "fetch_one"
	opFetchMany = "fetch_many"
	opFavorite  = "favorite"
	opRating    = "rating"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultBatchChunk     = 100
	defaultChunkParallel  = 4
)

// ErrFetchInFlight 表示同一影片已有获取请求在进行中，本次调用未发起请求
var ErrFetchInFlight = core.NewDomainError(core.ModuleInteraction, core.ErrorCodeNotFound, "interaction: fetch already in flight")

// Cache 是交互状态缓存与乐观变更引擎，可并发使用
type Cache struct {
	remote  Remote
	log     logr.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	chunk   int

	mu      sync.Mutex
	items   map[int64]core.Interaction
	loading map[int64]struct{}
	// generation 在 ClearAll 时递增，旧代的远程结果不再写回缓存
	generation uint64

	locks *keyedMutex

	subMu  sync.Mutex
	subs   map[int]func(Change)
	nextID int

	unbind func()
}

// Option 配置 Cache
type Option func(*Cache)

func WithLogger(log logr.Logger) Option {
	return func(c *Cache) { c.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithRequestTimeout 设置单次远程请求的超时
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBatchChunk 设置批量获取时每个请求最多包含的影片数
func WithBatchChunk(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.chunk = n
		}
	}
}

// WithSession 订阅会话结束通知，会话结束时同步清空缓存
func WithSession(bus *session.Bus) Option {
	return func(c *Cache) {
		if bus != nil {
			c.unbind = bus.OnEnd(c.ClearAll)
		}
	}
}

// NewCache 创建交互缓存
func NewCache(remote Remote, opts ...Option) *Cache {
	c := &Cache{
		remote:  remote,
		log:     logr.Discard(),
		timeout: DefaultRequestTimeout,
		chunk:   DefaultBatchChunk,
		items:   make(map[int64]core.Interaction),
		loading: make(map[int64]struct{}),
		locks:   newKeyedMutex(),
		subs:    make(map[int]func(Change)),
		unbind:  func() {},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithName("interaction")
	return c
}

// Close 取消会话订阅
func (c *Cache) Close() {
	c.unbind()
}

// Get 返回缓存中的状态，不存在时 ok 为 false（表示尚未解析）
func (c *Cache) Get(itemID int64) (core.Interaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[itemID]
	return it.Clone(), ok
}

// Snapshot 返回全部缓存状态的拷贝
func (c *Cache) Snapshot() map[int64]core.Interaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int64]core.Interaction, len(c.items))
	for id, it := range c.items {
		out[id] = it.Clone()
	}
	return out
}

// Loading 报告 itemID 是否有获取请求在进行中
func (c *Cache) Loading(itemID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.loading[itemID]
	return ok
}

// FetchOne 获取单个影片的交互状态。
//
//   - 已缓存：直接返回，不发请求
//   - 已有请求在进行中：返回 ErrFetchInFlight，不发请求
//   - 远程失败：缓存写入默认状态（未评分、未收藏），返回默认状态和错误
func (c *Cache) FetchOne(ctx context.Context, itemID int64) (core.Interaction, error) {
	c.mu.Lock()
	if it, ok := c.items[itemID]; ok {
		c.mu.Unlock()
		return it.Clone(), nil
	}
	if _, ok := c.loading[itemID]; ok {
		c.mu.Unlock()
		return core.Interaction{}, ErrFetchInFlight
	}
	c.loading[itemID] = struct{}{}
	gen := c.generation
	c.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	it, err := c.remote.GetInteraction(rctx, itemID)
	cancel()
	c.metrics.InteractionRequest(opFetchOne, err)
	if err != nil {
		c.log.V(1).Info("fetch failed, using default", "item", itemID, "error", err.Error())
		it = core.DefaultInteraction(itemID)
	}
	it.ItemID = itemID

	stored := c.fill(gen, map[int64]core.Interaction{itemID: it}, []int64{itemID})
	if err != nil {
		return stored[itemID], core.WrapDomainError(core.ModuleInteraction, core.ErrorCodeUnavailable, "interaction: fetch failed", err)
	}
	return stored[itemID], nil
}

// FetchMany 批量获取交互状态，只请求未缓存且不在获取中的影片。
// 请求按 chunk 分片并发发送；失败的分片只为它自己的影片写入默认状态。
// 返回第一个失败分片的错误，缓存状态在返回前已经全部写入。
func (c *Cache) FetchMany(ctx context.Context, itemIDs []int64) error {
	c.mu.Lock()
	seen := make(map[int64]struct{}, len(itemIDs))
	missing := make([]int64, 0, len(itemIDs))
	for _, id := range itemIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := c.items[id]; ok {
			continue
		}
		if _, ok := c.loading[id]; ok {
			continue
		}
		c.loading[id] = struct{}{}
		missing = append(missing, id)
	}
	gen := c.generation
	c.mu.Unlock()

	if len(missing) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(defaultChunkParallel)
	for start := 0; start < len(missing); start += c.chunk {
		end := min(start+c.chunk, len(missing))
		ids := missing[start:end]
		g.Go(func() error {
			return c.fetchChunk(ctx, gen, ids)
		})
	}
	return g.Wait()
}

func (c *Cache) fetchChunk(ctx context.Context, gen uint64, ids []int64) error {
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	got, err := c.remote.GetInteractions(rctx, ids)
	cancel()
	c.metrics.InteractionRequest(opFetchMany, err)

	results := make(map[int64]core.Interaction, len(ids))
	for _, id := range ids {
		if it, ok := got[id]; ok && err == nil {
			it.ItemID = id
			results[id] = it
			continue
		}
		results[id] = core.DefaultInteraction(id)
	}
	c.fill(gen, results, ids)

	if err != nil {
		c.log.V(1).Info("batch fetch failed, using defaults", "items", len(ids), "error", err.Error())
		return core.WrapDomainError(core.ModuleInteraction, core.ErrorCodeUnavailable, "interaction: batch fetch failed", err)
	}
	return nil
}

// fill 写入获取结果并清除 loading 标记。
// 已存在的记录（获取期间发生了乐观变更）保持不变；代数不一致（会话已结束）时丢弃结果。
// 返回每个 id 最终在缓存中的状态。
func (c *Cache) fill(gen uint64, results map[int64]core.Interaction, ids []int64) map[int64]core.Interaction {
	out := make(map[int64]core.Interaction, len(ids))
	var changes []Change

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		for _, id := range ids {
			out[id] = results[id]
		}
		return out
	}
	for _, id := range ids {
		delete(c.loading, id)
		if cur, ok := c.items[id]; ok {
			out[id] = cur.Clone()
			continue
		}
		it := results[id]
		c.items[id] = it
		out[id] = it.Clone()
		changes = append(changes, Change{Kind: ChangeFetched, ItemID: id, State: it.Clone(), Present: true})
	}
	c.mu.Unlock()

	c.notify(changes...)
	return out
}

// ToggleFavorite 乐观地翻转收藏状态，返回最终的收藏状态。
// 失败时恢复变更前的状态并返回错误（此时返回值为恢复后的状态）。
func (c *Cache) ToggleFavorite(ctx context.Context, itemID int64) (bool, error) {
	var server bool
	final, err := c.mutate(ctx, itemID, opFavorite,
		func(it *core.Interaction) { it.IsFavorited = !it.IsFavorited },
		func(rctx context.Context) error {
			var err error
			server, err = c.remote.ToggleFavorite(rctx, itemID)
			return err
		},
		func(it *core.Interaction) { it.IsFavorited = server },
	)
	return final.IsFavorited, err
}

// SetRating 乐观地设置评分，contextTag 随请求上报（例如当前天气）。
// 分数不做校验，由服务端判断。
func (c *Cache) SetRating(ctx context.Context, itemID int64, score float64, contextTag string) error {
	_, err := c.mutate(ctx, itemID, opRating,
		func(it *core.Interaction) { it.Rating = core.Score(score) },
		func(rctx context.Context) error {
			return c.remote.RateMovie(rctx, itemID, score, contextTag)
		},
		nil,
	)
	return err
}

// mutate 执行一次乐观变更：取快照、本地应用、远程调用、成功对账或失败回滚。
// 快照在拿到影片锁之后获取，回滚不会覆盖前一个已成功的变更。
func (c *Cache) mutate(
	ctx context.Context,
	itemID int64,
	op string,
	apply func(*core.Interaction),
	call func(context.Context) error,
	reconcile func(*core.Interaction),
) (core.Interaction, error) {
	unlock, err := c.locks.Lock(ctx, itemID)
	if err != nil {
		return core.Interaction{}, core.WrapDomainError(core.ModuleInteraction, core.ErrorCodeTimeout, "interaction: "+op+" canceled while queued", err)
	}
	defer unlock()

	c.mu.Lock()
	gen := c.generation
	prev, had := c.items[itemID]
	prev = prev.Clone()
	next := core.DefaultInteraction(itemID)
	if had {
		next = prev.Clone()
	}
	apply(&next)
	c.items[itemID] = next
	c.mu.Unlock()
	c.notify(Change{Kind: ChangeOptimistic, ItemID: itemID, State: next.Clone(), Present: true})

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	err = call(rctx)
	cancel()
	c.metrics.InteractionRequest(op, err)

	if err != nil {
		c.metrics.Rollback(op)
		c.log.V(1).Info("mutation failed, rolling back", "op", op, "item", itemID, "error", err.Error())
		restored := c.rollback(gen, itemID, prev, had)
		return restored, core.WrapDomainError(core.ModuleInteraction, core.ErrorCodeUnavailable, "interaction: "+op+" failed", err)
	}

	if reconcile == nil {
		return next.Clone(), nil
	}
	return c.reconcile(gen, itemID, reconcile), nil
}

func (c *Cache) rollback(gen uint64, itemID int64, prev core.Interaction, had bool) core.Interaction {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return prev
	}
	change := Change{Kind: ChangeRolledBack, ItemID: itemID, State: prev.Clone(), Present: had}
	if had {
		c.items[itemID] = prev
	} else {
		delete(c.items, itemID)
	}
	c.mu.Unlock()
	c.notify(change)
	return prev
}

func (c *Cache) reconcile(gen uint64, itemID int64, fn func(*core.Interaction)) core.Interaction {
	c.mu.Lock()
	cur, ok := c.items[itemID]
	if !ok {
		cur = core.DefaultInteraction(itemID)
	}
	fn(&cur)
	if gen != c.generation {
		c.mu.Unlock()
		return cur
	}
	c.items[itemID] = cur
	c.mu.Unlock()
	c.notify(Change{Kind: ChangeReconciled, ItemID: itemID, State: cur.Clone(), Present: true})
	return cur.Clone()
}

// ClearOne 删除单个影片的缓存状态，下次获取会重新请求
func (c *Cache) ClearOne(itemID int64) {
	c.mu.Lock()
	_, ok := c.items[itemID]
	delete(c.items, itemID)
	c.mu.Unlock()
	if ok {
		c.notify(Change{Kind: ChangeCleared, ItemID: itemID})
	}
}

// ClearAll 清空缓存和所有 loading 标记；进行中的请求结果不会再写回。
// 会话结束时由会话总线同步调用。
func (c *Cache) ClearAll() {
	c.mu.Lock()
	c.items = make(map[int64]core.Interaction)
	c.loading = make(map[int64]struct{})
	c.generation++
	c.mu.Unlock()
	c.notify(Change{Kind: ChangeCleared})
}

// IDs 返回已缓存的影片 id（升序）
func (c *Cache) IDs() []int64 {
	c.mu.Lock()
	ids := make([]int64, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
