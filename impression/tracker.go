// Package impression 在推荐区块进入视口时上报一次曝光事件。
//
// 每个被跟踪的区域在其生命周期内最多上报一次：可见比例第一次达到阈值时入队
// recommendation_impression 事件，随后永久停止观察。
package impression

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/rushteam/recsync/metrics"
	"github.com/rushteam/recsync/pkg/dsl"
)

const (
	DefaultThreshold = 0.3
	// DefaultSampleSize 事件中最多携带的影片 id 数
	DefaultSampleSize = 10
)

// Region 是可观察可见比例的界面区域（例如浏览器中的 IntersectionObserver 目标）
type Region interface {
	// Live 报告区域当前是否挂载在可见的界面上
	Live() bool

	// Observe 在可见比例越过 threshold 时调用 fn，返回停止观察的函数。
	// fn 可能在任意 goroutine 中调用，也可能被并发调用。
	Observe(threshold float64, fn func(ratio float64)) (stop func())
}

// Sink 接收曝光事件（telemetry.Pipeline 实现了它）
type Sink interface {
	TrackImpression(ctx context.Context, section string, itemIDs []int64, count int)
}

// Tracker 创建曝光观察，可并发使用
type Tracker struct {
	sink      Sink
	threshold float64
	sample    int
	rule      *dsl.Rule
	weather   func() string
	log       logr.Logger
	metrics   *metrics.Metrics
}

// Option 配置 Tracker
type Option func(*Tracker)

// WithThreshold 设置触发曝光的可见比例，取值 (0, 1]
func WithThreshold(v float64) Option {
	return func(t *Tracker) {
		if v > 0 && v <= 1 {
			t.threshold = v
		}
	}
}

func WithSampleSize(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.sample = n
		}
	}
}

// WithRule 设置跟踪规则，规则返回 false 的区块不跟踪
func WithRule(r *dsl.Rule) Option {
	return func(t *Tracker) { t.rule = r }
}

// WithWeather 提供规则中 weather 变量的取值
func WithWeather(fn func() string) Option {
	return func(t *Tracker) { t.weather = fn }
}

func WithLogger(log logr.Logger) Option {
	return func(t *Tracker) { t.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// NewTracker 创建曝光跟踪器
func NewTracker(sink Sink, opts ...Option) *Tracker {
	t := &Tracker{
		sink:      sink,
		threshold: DefaultThreshold,
		sample:    DefaultSampleSize,
		weather:   func() string { return "" },
		log:       logr.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.WithName("impression")
	return t
}

// Attach 开始观察 region。section 标识推荐区块，itemIDs 为区块中的影片。
// 以下情况不观察，返回的 Observation 不会触发：itemIDs 为空、enabled 为 false、
// region 为 nil 或未挂载、规则返回 false。
// 调用方在区域卸载时必须调用 Release。
func (t *Tracker) Attach(region Region, section string, itemIDs []int64, enabled bool) *Observation {
	o := &Observation{section: section}
	if !enabled || len(itemIDs) == 0 || region == nil || !region.Live() {
		return o
	}
	if !t.allowed(section, len(itemIDs)) {
		return o
	}

	o.count = len(itemIDs)
	o.itemIDs = append([]int64(nil), itemIDs[:min(t.sample, len(itemIDs))]...)
	o.watching = true

	stop := region.Observe(t.threshold, func(ratio float64) {
		t.onRatio(o, ratio)
	})
	o.setStop(stop)
	return o
}

func (t *Tracker) allowed(section string, count int) bool {
	ok, err := t.rule.Match(dsl.Vars{Section: section, Count: count, Weather: t.weather()})
	if err != nil {
		t.log.V(1).Info("impression rule failed, tracking anyway", "section", section, "error", err.Error())
		return true
	}
	return ok
}

func (t *Tracker) onRatio(o *Observation, ratio float64) {
	if ratio <= 0 || ratio < t.threshold {
		return
	}
	if !o.done.CompareAndSwap(false, true) {
		return
	}
	o.fired.Store(true)
	t.sink.TrackImpression(context.Background(), o.section, o.itemIDs, o.count)
	t.metrics.ImpressionFired()
	o.Release()
}

// Observation 是一次曝光观察的句柄
type Observation struct {
	section  string
	itemIDs  []int64
	count    int
	watching bool

	fired atomic.Bool
	// done 由触发或 Release 置位，之后的回调全部忽略
	done atomic.Bool

	mu       sync.Mutex
	stop     func()
	released bool
}

// Fired 报告曝光是否已上报
func (o *Observation) Fired() bool {
	return o.fired.Load()
}

// Watching 报告 Attach 时是否真正开始了观察
func (o *Observation) Watching() bool {
	return o.watching
}

// Release 停止观察，可重复调用，也可以在可见性回调中调用
func (o *Observation) Release() {
	o.done.Store(true)

	o.mu.Lock()
	o.released = true
	stop := o.stop
	o.stop = nil
	o.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// setStop 记录停止函数；若 Observe 返回前已经触发或被释放，立即停止
func (o *Observation) setStop(stop func()) {
	if stop == nil {
		return
	}
	o.mu.Lock()
	if o.released {
		o.mu.Unlock()
		stop()
		return
	}
	o.stop = stop
	o.mu.Unlock()
}
