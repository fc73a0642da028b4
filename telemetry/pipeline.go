// Package telemetry 负责行为事件的批量上报。
//
// 事件先进入内存队列（入队不阻塞、不失败），后台每隔 FlushInterval 把整个队列换出并发送一次；
// 同一时刻最多只有一个发送在进行，发送失败的批次直接丢弃。
// 退出或页面隐藏时调用 Teardown，以 beacon 方式交出剩余事件且不等待结果。
package telemetry

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/rushteam/recsync/core"
	"github.com/rushteam/recsync/metrics"
)

const (
	DefaultFlushInterval = 5 * time.Second
	// DefaultMaxBatchSize 服务端单次批量上报的上限
	DefaultMaxBatchSize = 50
	DefaultSendTimeout  = 10 * time.Second
)

// Sender 是事件的发送端（transport.Client 与 kafka.Sender 实现了它）
type Sender interface {
	// SendEvents 发送一批事件，返回即表示本次尝试结束
	SendEvents(ctx context.Context, events []core.Event) error

	// BeaconEvents 交出一批事件后立即返回，发送不依赖调用方存活
	BeaconEvents(events []core.Event)
}

// SessionSource 提供会话 ID（session.Provider 实现了它）
type SessionSource interface {
	SessionID(ctx context.Context) string
}

// Enricher 在入队时补充事件信息，例如当前天气。Metadata 已是入队时的副本，可直接修改。
type Enricher func(ev *core.Event)

// Config 管道配置
type Config struct {
	FlushInterval time.Duration
	MaxBatchSize  int
	SendTimeout   time.Duration
}

// Pipeline 行为事件批量上报管道
type Pipeline struct {
	sender   Sender
	sessions SessionSource

	flushInterval time.Duration
	maxBatch      int
	sendTimeout   time.Duration

	log       logr.Logger
	metrics   *metrics.Metrics
	enrichers []Enricher

	mu     sync.Mutex
	queue  []core.Event
	closed bool

	sending atomic.Bool

	closeOnce sync.Once
	wg        sync.WaitGroup
	stopCh    chan struct{}
}

// Option 配置 Pipeline
type Option func(*Pipeline)

func WithLogger(log logr.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithEnricher 追加入队时执行的补充函数，按注册顺序执行
func WithEnricher(fn Enricher) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.enrichers = append(p.enrichers, fn)
		}
	}
}

// NewPipeline 创建管道并启动后台刷新协程
func NewPipeline(sender Sender, sessions SessionSource, cfg Config, opts ...Option) *Pipeline {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}

	p := &Pipeline{
		sender:        sender,
		sessions:      sessions,
		flushInterval: cfg.FlushInterval,
		maxBatch:      cfg.MaxBatchSize,
		sendTimeout:   cfg.SendTimeout,
		log:           logr.Discard(),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithName("telemetry")

	p.wg.Add(1)
	go p.flushLoop()
	return p
}

// Enqueue 写入会话 ID 后追加到队列末尾。不阻塞、不返回错误；
// 未知事件类型和关闭后的事件会被丢弃。
func (p *Pipeline) Enqueue(ctx context.Context, ev core.Event) {
	if !ev.EventType.Valid() {
		p.log.V(1).Info("dropping event with unknown type", "type", string(ev.EventType))
		p.metrics.EventDropped()
		return
	}

	ev.SessionID = p.sessions.SessionID(ctx)
	ev.Metadata = maps.Clone(ev.Metadata)
	for _, fn := range p.enrichers {
		fn(&ev)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, ev)
	p.mu.Unlock()

	p.metrics.EventEnqueued()
}

// Pending 返回队列中等待发送的事件数
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// flushLoop 定时刷新循环
func (p *Pipeline) flushLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = p.Flush(context.Background())
		case <-p.stopCh:
			return
		}
	}
}

// Flush 把当前队列整体换出并发送。已有发送在进行时直接返回（本次跳过）。
// 批次超过 MaxBatchSize 时按顺序分片发送，失败的分片只丢弃它自己。
// 返回第一个失败分片的错误，仅用于观测。
func (p *Pipeline) Flush(ctx context.Context) error {
	if !p.sending.CompareAndSwap(false, true) {
		return nil
	}
	defer p.sending.Store(false)

	batch := p.swap()
	if len(batch) == 0 {
		return nil
	}

	var firstErr error
	for _, chunk := range chunks(batch, p.maxBatch) {
		sctx, cancel := context.WithTimeout(ctx, p.sendTimeout)
		err := p.sender.SendEvents(sctx, chunk)
		cancel()
		if err != nil {
			p.metrics.BatchSent(metrics.ResultFailure, len(chunk))
			p.log.V(1).Info("batch dropped", "events", len(chunk), "error", err.Error())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		p.metrics.BatchSent(metrics.ResultSuccess, len(chunk))
	}
	return firstErr
}

// Teardown 以 beacon 方式交出队列中剩余的事件，无论结果如何都清空队列，不等待发送完成
func (p *Pipeline) Teardown() {
	batch := p.swap()
	if len(batch) == 0 {
		return
	}
	for _, chunk := range chunks(batch, p.maxBatch) {
		p.sender.BeaconEvents(chunk)
		p.metrics.BatchSent(metrics.ResultBeacon, len(chunk))
	}
	p.log.V(1).Info("teardown flush handed off", "events", len(batch))
}

// Close 停止后台刷新并执行一次 Teardown，之后入队的事件被丢弃。可重复调用。
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		close(p.stopCh)
		p.Teardown()
		p.wg.Wait()
	})
	return nil
}

func (p *Pipeline) swap() []core.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	batch := p.queue
	p.queue = nil
	return batch
}

func chunks(events []core.Event, size int) [][]core.Event {
	out := make([][]core.Event, 0, (len(events)+size-1)/size)
	for start := 0; start < len(events); start += size {
		out = append(out, events[start:min(start+size, len(events))])
	}
	return out
}
