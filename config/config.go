// Package config 定义 recsync 的配置结构，支持 YAML/JSON 文件与环境变量。
//
//	cfg, err := config.LoadFromYAML("recsync.yaml")
//	cfg, err := config.Load("recsync.yaml") // 默认值 → 文件 → RECSYNC_* 环境变量
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/rushteam/recsync/core"
)

// 跨会话缓存的存储类型
const (
	StoreMemory = "memory"
	StoreBadger = "badger"
	StoreRedis  = "redis"
)

// Config 是 recsync 的完整配置
type Config struct {
	API         APIConfig         `yaml:"api" json:"api" koanf:"api"`
	Session     SessionConfig     `yaml:"session" json:"session" koanf:"session"`
	Interaction InteractionConfig `yaml:"interaction" json:"interaction" koanf:"interaction"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" json:"telemetry" koanf:"telemetry"`
	Impression  ImpressionConfig  `yaml:"impression" json:"impression" koanf:"impression"`
	Ambient     AmbientConfig     `yaml:"ambient" json:"ambient" koanf:"ambient"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics" koanf:"metrics"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging" koanf:"logging"`
}

// APIConfig 远程服务
type APIConfig struct {
	BaseURL         string        `yaml:"base_url" json:"base_url" koanf:"base_url"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout" koanf:"timeout"`
	BeaconTimeout   time.Duration `yaml:"beacon_timeout" json:"beacon_timeout" koanf:"beacon_timeout"`
	EventsPerMinute int           `yaml:"events_per_minute" json:"events_per_minute" koanf:"events_per_minute"`
	EventsBurst     int           `yaml:"events_burst" json:"events_burst" koanf:"events_burst"`
	BreakerFailures uint32        `yaml:"breaker_failures" json:"breaker_failures" koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout" json:"breaker_timeout" koanf:"breaker_timeout"`
}

type SessionConfig struct {
	StorageKey string `yaml:"storage_key" json:"storage_key" koanf:"storage_key"`
}

type InteractionConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" koanf:"request_timeout"`
	// BatchChunk 批量获取时单个请求最多包含的影片数
	BatchChunk int `yaml:"batch_chunk" json:"batch_chunk" koanf:"batch_chunk"`
}

type TelemetryConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval" koanf:"flush_interval"`
	MaxBatchSize  int           `yaml:"max_batch_size" json:"max_batch_size" koanf:"max_batch_size"`
	SendTimeout   time.Duration `yaml:"send_timeout" json:"send_timeout" koanf:"send_timeout"`
	// Kafka 配置了 brokers 时事件写入 Kafka，否则走 HTTP 批量上报
	Kafka KafkaConfig `yaml:"kafka" json:"kafka" koanf:"kafka"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers" json:"brokers" koanf:"brokers"`
	Topic        string   `yaml:"topic" json:"topic" koanf:"topic"`
	ClientID     string   `yaml:"client_id" json:"client_id" koanf:"client_id"`
	RequiredAcks int16    `yaml:"required_acks" json:"required_acks" koanf:"required_acks"`
	Compression  string   `yaml:"compression" json:"compression" koanf:"compression"`
}

// Enabled 报告是否配置了 Kafka
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type ImpressionConfig struct {
	Threshold  float64 `yaml:"threshold" json:"threshold" koanf:"threshold"`
	SampleSize int     `yaml:"sample_size" json:"sample_size" koanf:"sample_size"`
	// Rule 可选的 CEL 规则，变量：section、count、weather
	Rule string `yaml:"rule" json:"rule" koanf:"rule"`
}

type AmbientConfig struct {
	CacheKey    string        `yaml:"cache_key" json:"cache_key" koanf:"cache_key"`
	TTL         time.Duration `yaml:"ttl" json:"ttl" koanf:"ttl"`
	GeoTimeout  time.Duration `yaml:"geo_timeout" json:"geo_timeout" koanf:"geo_timeout"`
	DefaultCity string        `yaml:"default_city" json:"default_city" koanf:"default_city"`
	// Latitude/Longitude 同时非零时作为固定定位结果
	Latitude  float64     `yaml:"latitude" json:"latitude" koanf:"latitude"`
	Longitude float64     `yaml:"longitude" json:"longitude" koanf:"longitude"`
	Store     StoreConfig `yaml:"store" json:"store" koanf:"store"`
}

// HasLocation 报告是否配置了固定坐标
func (a AmbientConfig) HasLocation() bool {
	return a.Latitude != 0 && a.Longitude != 0
}

// StoreConfig 跨会话缓存的存储
type StoreConfig struct {
	Kind string `yaml:"kind" json:"kind" koanf:"kind"`
	// Path badger 数据目录，为空时使用内存模式
	Path        string `yaml:"path" json:"path" koanf:"path"`
	RedisAddr   string `yaml:"redis_addr" json:"redis_addr" koanf:"redis_addr"`
	RedisDB     int    `yaml:"redis_db" json:"redis_db" koanf:"redis_db"`
	RedisPrefix string `yaml:"redis_prefix" json:"redis_prefix" koanf:"redis_prefix"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled" koanf:"enabled"`
}

type LoggingConfig struct {
	Level string `yaml:"level" json:"level" koanf:"level"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:         "http://localhost:8000/api/v1",
			Timeout:         10 * time.Second,
			BeaconTimeout:   5 * time.Second,
			EventsPerMinute: 30,
			EventsBurst:     5,
			BreakerFailures: 3,
			BreakerTimeout:  30 * time.Second,
		},
		Session: SessionConfig{
			StorageKey: "recflix_session_id",
		},
		Interaction: InteractionConfig{
			RequestTimeout: 10 * time.Second,
			BatchChunk:     100,
		},
		Telemetry: TelemetryConfig{
			FlushInterval: 5 * time.Second,
			MaxBatchSize:  50,
			SendTimeout:   10 * time.Second,
			Kafka: KafkaConfig{
				Topic:        "recsync-events",
				RequiredAcks: 1,
			},
		},
		Impression: ImpressionConfig{
			Threshold:  0.3,
			SampleSize: 10,
		},
		Ambient: AmbientConfig{
			CacheKey:    "recflix_weather",
			TTL:         30 * time.Minute,
			GeoTimeout:  5 * time.Second,
			DefaultCity: "Seoul",
			Store: StoreConfig{
				Kind:        StoreMemory,
				RedisPrefix: "recsync:",
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromYAML 从 YAML 文件加载配置，未出现的字段保留默认值
func LoadFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromJSON 从 JSON 文件加载配置。时长字段使用 "5s" 这样的字符串。
func LoadFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("parse json: invalid document %s", path)
	}

	// JSON 是 YAML 的子集，复用 YAML 解码以支持字符串形式的时长
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"api.timeout", c.API.Timeout},
		{"api.beacon_timeout", c.API.BeaconTimeout},
		{"api.breaker_timeout", c.API.BreakerTimeout},
		{"interaction.request_timeout", c.Interaction.RequestTimeout},
		{"telemetry.flush_interval", c.Telemetry.FlushInterval},
		{"telemetry.send_timeout", c.Telemetry.SendTimeout},
		{"ambient.ttl", c.Ambient.TTL},
		{"ambient.geo_timeout", c.Ambient.GeoTimeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return invalid("%s must be positive, got %s", p.name, p.d)
		}
	}

	if c.API.BaseURL == "" {
		return invalid("api.base_url is required")
	}
	if c.API.EventsPerMinute <= 0 {
		return invalid("api.events_per_minute must be positive")
	}
	if c.Telemetry.MaxBatchSize <= 0 || c.Telemetry.MaxBatchSize > 50 {
		return invalid("telemetry.max_batch_size must be in [1, 50], got %d", c.Telemetry.MaxBatchSize)
	}
	if c.Telemetry.Kafka.Enabled() && c.Telemetry.Kafka.Topic == "" {
		return invalid("telemetry.kafka.topic is required when brokers are set")
	}
	if c.Interaction.BatchChunk <= 0 {
		return invalid("interaction.batch_chunk must be positive")
	}
	if c.Impression.Threshold <= 0 || c.Impression.Threshold > 1 {
		return invalid("impression.threshold must be in (0, 1], got %v", c.Impression.Threshold)
	}
	if c.Impression.SampleSize <= 0 {
		return invalid("impression.sample_size must be positive")
	}
	if c.Ambient.DefaultCity == "" {
		return invalid("ambient.default_city is required")
	}

	switch c.Ambient.Store.Kind {
	case StoreMemory, StoreBadger:
	case StoreRedis:
		if c.Ambient.Store.RedisAddr == "" {
			return invalid("ambient.store.redis_addr is required for redis store")
		}
	default:
		return invalid("ambient.store.kind %q is not supported (memory, badger, redis)", c.Ambient.Store.Kind)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return core.NewDomainError(core.ModuleConfig, core.ErrorCodeInvalidInput, "config: "+fmt.Sprintf(format, args...))
}
