// Package kafka 把行为事件写入 Kafka，作为 HTTP 批量上报之外的发送端。
//
// 每个事件一条消息，以会话 ID 作为 key，保证同一会话内的事件有序。
package kafka

import (
	"context"
	"errors"

	"github.com/go-logr/logr"
	"github.com/goccy/go-json"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/rushteam/recsync/core"
)

// Config Kafka 发送端配置
type Config struct {
	Brokers []string
	Topic   string

	ClientID     string
	RequiredAcks int16  // 1=leader, -1=all, 0=不等待
	Compression  string // gzip, snappy, lz4, zstd
	MaxRetries   int
}

// Sender 实现 telemetry.Sender
type Sender struct {
	client *kgo.Client
	topic  string
	log    logr.Logger
}

// NewSender 创建 Kafka 发送端
func NewSender(cfg Config, log logr.Logger) (*Sender, error) {
	if len(cfg.Brokers) == 0 {
		return nil, core.NewDomainError(core.ModuleTelemetry, core.ErrorCodeInvalidInput, "telemetry: kafka brokers required")
	}
	if cfg.Topic == "" {
		return nil, core.NewDomainError(core.ModuleTelemetry, core.ErrorCodeInvalidInput, "telemetry: kafka topic required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "recsync-telemetry"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	client, err := kgo.NewClient(clientOpts(cfg)...)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleTelemetry, core.ErrorCodeUnavailable, "telemetry: create kafka client", err)
	}
	return &Sender{client: client, topic: cfg.Topic, log: log.WithName("telemetry.kafka")}, nil
}

func clientOpts(cfg Config) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RecordRetries(cfg.MaxRetries),
	}

	switch cfg.RequiredAcks {
	case 0:
		// 不等待 ACK 时必须关闭幂等写入
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	case -1:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	default:
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	}

	switch cfg.Compression {
	case "gzip":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.GzipCompression()))
	case "snappy":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.SnappyCompression()))
	case "lz4":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.Lz4Compression()))
	case "zstd":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.ZstdCompression()))
	}
	return opts
}

// SendEvents 同步写入一批事件，任一事件失败即返回错误
func (s *Sender) SendEvents(ctx context.Context, events []core.Event) error {
	records, err := s.records(events)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := s.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return core.WrapDomainError(core.ModuleTelemetry, core.ErrorCodeTimeout, "telemetry: kafka produce timed out", err)
		}
		return core.WrapDomainError(core.ModuleTelemetry, core.ErrorCodeUnavailable, "telemetry: kafka produce", err)
	}
	return nil
}

// BeaconEvents 异步写入，立即返回；失败只记录日志
func (s *Sender) BeaconEvents(events []core.Event) {
	records, err := s.records(events)
	if err != nil {
		s.log.V(1).Info("beacon encode failed", "error", err.Error())
		return
	}
	for _, r := range records {
		s.client.Produce(context.Background(), r, func(r *kgo.Record, err error) {
			if err != nil {
				s.log.V(1).Info("beacon record dropped", "error", err.Error())
			}
		})
	}
}

// Close 等待缓冲中的消息写完（或 ctx 结束）后关闭客户端
func (s *Sender) Close(ctx context.Context) error {
	err := s.client.Flush(ctx)
	s.client.Close()
	return err
}

func (s *Sender) records(events []core.Event) ([]*kgo.Record, error) {
	records := make([]*kgo.Record, 0, len(events))
	for i := range events {
		r, err := s.record(events[i])
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func (s *Sender) record(ev core.Event) (*kgo.Record, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleTelemetry, core.ErrorCodeInvalidInput, "telemetry: encode event", err)
	}
	return &kgo.Record{
		Topic: s.topic,
		Key:   []byte(ev.SessionID),
		Value: data,
	}, nil
}
