package recsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rushteam/recsync/ambient"
	"github.com/rushteam/recsync/config"
	"github.com/rushteam/recsync/core"
	"github.com/rushteam/recsync/impression"
	"github.com/rushteam/recsync/interaction"
	"github.com/rushteam/recsync/metrics"
	"github.com/rushteam/recsync/pkg/dsl"
	"github.com/rushteam/recsync/pkg/logging"
	"github.com/rushteam/recsync/session"
	"github.com/rushteam/recsync/store"
	"github.com/rushteam/recsync/telemetry"
	"github.com/rushteam/recsync/telemetry/kafka"
	"github.com/rushteam/recsync/transport"
)

// Core 持有一个会话内的全部组件，由 New 显式构造
type Core struct {
	Bus          *session.Bus
	Session      *session.Provider
	Interactions *interaction.Cache
	Telemetry    *telemetry.Pipeline
	Impressions  *impression.Tracker
	Ambient      *ambient.Cache
	Metrics      *metrics.Metrics
	// Gatherer 用于暴露指标；未通过 WithRegisterer 指定时是 Core 自有的 Registry
	Gatherer prometheus.Gatherer

	cfg       *config.Config
	log       logr.Logger
	logSync   func()
	transport *transport.Client
	kafka     *kafka.Sender
	stores    []core.Store
}

type options struct {
	log          *logr.Logger
	registerer   prometheus.Registerer
	httpClient   *http.Client
	geolocator   ambient.Geolocator
	sessionStore core.Store
	localStore   core.Store
	clock        core.Clock
}

// Option 配置 New
type Option func(*options)

// WithLogger 使用已有的 logger，不设置时按 logging.level 创建 zap logger
func WithLogger(log logr.Logger) Option {
	return func(o *options) { o.log = &log }
}

// WithRegisterer 在 reg 上注册指标（即使配置中未开启 metrics）。
// 同一个 reg 只能用于一个 Core。
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithGeolocator 设置设备定位来源，优先于配置中的固定坐标
func WithGeolocator(g ambient.Geolocator) Option {
	return func(o *options) { o.geolocator = g }
}

// WithSessionStore 替换会话级存储（默认进程内 MemoryStore）
func WithSessionStore(s core.Store) Option {
	return func(o *options) { o.sessionStore = s }
}

// WithLocalStore 替换跨会话存储（默认按 ambient.store 配置创建）
func WithLocalStore(s core.Store) Option {
	return func(o *options) { o.localStore = s }
}

func WithClock(c core.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New 按配置组装全部组件。cfg 为 nil 时使用默认配置。
func New(cfg *config.Config, opts ...Option) (*Core, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{clock: core.SystemClock}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Core{cfg: cfg, logSync: func() {}}
	if o.log != nil {
		c.log = *o.log
	} else {
		log, sync, err := logging.NewLoggerWithLevel(cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("create logger: %w", err)
		}
		c.log, c.logSync = log, sync
	}

	switch {
	case o.registerer != nil:
		c.Metrics = metrics.New(o.registerer)
		c.Gatherer, _ = o.registerer.(prometheus.Gatherer)
	case cfg.Metrics.Enabled:
		reg := prometheus.NewRegistry()
		c.Metrics = metrics.New(reg)
		c.Gatherer = reg
	}

	rule, err := dsl.Compile(cfg.Impression.Rule)
	if err != nil {
		return nil, err
	}

	c.Bus = session.NewBus()

	topts := []transport.Option{transport.WithTokenSource(c.Bus.Token), transport.WithLogger(c.log)}
	if o.httpClient != nil {
		topts = append(topts, transport.WithHTTPClient(o.httpClient))
	}
	c.transport = transport.NewClient(transport.Config{
		BaseURL:         cfg.API.BaseURL,
		Timeout:         cfg.API.Timeout,
		BeaconTimeout:   cfg.API.BeaconTimeout,
		EventsPerMinute: cfg.API.EventsPerMinute,
		EventsBurst:     cfg.API.EventsBurst,
		BreakerFailures: cfg.API.BreakerFailures,
		BreakerTimeout:  cfg.API.BreakerTimeout,
	}, topts...)

	sessionStore := o.sessionStore
	if sessionStore == nil {
		sessionStore = store.NewMemoryStore(store.WithMemoryClock(o.clock))
		c.stores = append(c.stores, sessionStore)
	}
	c.Session = session.NewProvider(sessionStore,
		session.WithStorageKey(cfg.Session.StorageKey),
		session.WithClock(o.clock),
		session.WithLogger(c.log),
	)

	localStore := o.localStore
	if localStore == nil {
		localStore, err = openLocalStore(cfg.Ambient.Store, o.clock)
		if err != nil {
			c.closeStores()
			return nil, err
		}
		c.stores = append(c.stores, localStore)
	}

	geo := o.geolocator
	if geo == nil && cfg.Ambient.HasLocation() {
		geo = ambient.StaticGeolocator(core.Coordinates{Latitude: cfg.Ambient.Latitude, Longitude: cfg.Ambient.Longitude})
	}
	aopts := []ambient.Option{
		ambient.WithCacheKey(cfg.Ambient.CacheKey),
		ambient.WithTTL(cfg.Ambient.TTL),
		ambient.WithGeoTimeout(cfg.Ambient.GeoTimeout),
		ambient.WithDefaultCity(cfg.Ambient.DefaultCity),
		ambient.WithClock(o.clock),
		ambient.WithLogger(c.log),
		ambient.WithMetrics(c.Metrics),
	}
	if geo != nil {
		aopts = append(aopts, ambient.WithGeolocator(geo))
	}
	c.Ambient = ambient.NewCache(c.transport, localStore, aopts...)

	c.Interactions = interaction.NewCache(c.transport,
		interaction.WithSession(c.Bus),
		interaction.WithRequestTimeout(cfg.Interaction.RequestTimeout),
		interaction.WithBatchChunk(cfg.Interaction.BatchChunk),
		interaction.WithLogger(c.log),
		interaction.WithMetrics(c.Metrics),
	)

	var sender telemetry.Sender = c.transport
	if cfg.Telemetry.Kafka.Enabled() {
		k := cfg.Telemetry.Kafka
		c.kafka, err = kafka.NewSender(kafka.Config{
			Brokers:      k.Brokers,
			Topic:        k.Topic,
			ClientID:     k.ClientID,
			RequiredAcks: k.RequiredAcks,
			Compression:  k.Compression,
		}, c.log)
		if err != nil {
			c.Interactions.Close()
			c.closeStores()
			return nil, err
		}
		sender = c.kafka
	}
	c.Telemetry = telemetry.NewPipeline(sender, c.Session, telemetry.Config{
		FlushInterval: cfg.Telemetry.FlushInterval,
		MaxBatchSize:  cfg.Telemetry.MaxBatchSize,
		SendTimeout:   cfg.Telemetry.SendTimeout,
	},
		telemetry.WithEnricher(c.weatherEnricher),
		telemetry.WithLogger(c.log),
		telemetry.WithMetrics(c.Metrics),
	)

	c.Impressions = impression.NewTracker(c.Telemetry,
		impression.WithThreshold(cfg.Impression.Threshold),
		impression.WithSampleSize(cfg.Impression.SampleSize),
		impression.WithRule(rule),
		impression.WithWeather(func() string { return string(c.Ambient.Condition()) }),
		impression.WithLogger(c.log),
		impression.WithMetrics(c.Metrics),
	)

	return c, nil
}

func openLocalStore(sc config.StoreConfig, clock core.Clock) (core.Store, error) {
	switch sc.Kind {
	case config.StoreBadger:
		return store.OpenBadgerStore(sc.Path)
	case config.StoreRedis:
		return store.NewRedisStore(sc.RedisAddr, sc.RedisDB, sc.RedisPrefix)
	default:
		return store.NewMemoryStore(store.WithMemoryClock(clock)), nil
	}
}

// weatherEnricher 把当前天气写入事件的 metadata.weather
func (c *Core) weatherEnricher(ev *core.Event) {
	cond := c.Ambient.Condition()
	if cond == "" {
		return
	}
	if ev.Metadata == nil {
		ev.Metadata = make(map[string]any, 1)
	}
	ev.Metadata["weather"] = string(cond)
}

// Config 返回构造时使用的配置
func (c *Core) Config() *config.Config {
	return c.cfg
}

// Login 开始一个已认证的会话
func (c *Core) Login(token string) {
	c.Bus.Begin(token)
}

// Logout 结束会话，交互缓存被同步清空
func (c *Core) Logout() {
	c.Bus.End()
}

// ToggleFavorite 翻转收藏状态，成功后记录 favorite_add / favorite_remove 事件
func (c *Core) ToggleFavorite(ctx context.Context, itemID int64) (bool, error) {
	fav, err := c.Interactions.ToggleFavorite(ctx, itemID)
	if err != nil {
		return fav, err
	}
	c.Telemetry.TrackFavorite(ctx, itemID, fav)
	return fav, nil
}

// Rate 设置评分并带上当前天气作为上下文，成功后记录 rating 事件
func (c *Core) Rate(ctx context.Context, itemID int64, score float64) error {
	tag := string(c.Ambient.Condition())
	if err := c.Interactions.SetRating(ctx, itemID, score, tag); err != nil {
		return err
	}
	c.Telemetry.TrackRating(ctx, itemID, score)
	return nil
}

// Close 执行遥测的退出交付，等待 beacon 发送（受 ctx 约束），然后释放存储。
func (c *Core) Close(ctx context.Context) error {
	var errs []error
	if err := c.Telemetry.Close(); err != nil {
		errs = append(errs, err)
	}
	c.Interactions.Close()
	if err := c.transport.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("wait beacons: %w", err))
	}
	if c.kafka != nil {
		if err := c.kafka.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close kafka: %w", err))
		}
	}
	errs = append(errs, c.closeStores())
	c.logSync()
	return errors.Join(errs...)
}

func (c *Core) closeStores() error {
	var errs []error
	for _, s := range c.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s store: %w", s.Name(), err))
		}
	}
	c.stores = nil
	return errors.Join(errs...)
}
