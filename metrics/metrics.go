// Package metrics 定义 recsync 的 Prometheus 指标。
//
// 所有方法都允许在 nil *Metrics 上调用（空操作），组件无需判断是否启用了监控。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 指标名称常量
const (
	metricEventsEnqueued      = "recsync_telemetry_events_enqueued_total"
	metricBatches             = "recsync_telemetry_batches_total"
	metricEventsDropped       = "recsync_telemetry_events_dropped_total"
	metricInteractionRequests = "recsync_interaction_requests_total"
	metricInteractionRollback = "recsync_interaction_rollbacks_total"
	metricAmbientResolutions  = "recsync_ambient_resolutions_total"
	metricImpressionsFired    = "recsync_impressions_fired_total"
)

// 结果标签取值
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultBeacon  = "beacon"
)

// Metrics 聚合所有组件的指标
type Metrics struct {
	EventsEnqueued      prometheus.Counter
	Batches             *prometheus.CounterVec // result
	EventsDropped       prometheus.Counter
	InteractionRequests *prometheus.CounterVec // op, result
	InteractionRollback *prometheus.CounterVec // op
	AmbientResolutions  *prometheus.CounterVec // source
	ImpressionsFired    prometheus.Counter
}

// New 在 reg 上注册并返回指标集合；reg 为 nil 时使用 prometheus.DefaultRegisterer
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		EventsEnqueued: f.NewCounter(prometheus.CounterOpts{
			Name: metricEventsEnqueued,
			Help: "Telemetry events accepted into the queue.",
		}),
		Batches: f.NewCounterVec(prometheus.CounterOpts{
			Name: metricBatches,
			Help: "Telemetry batch send attempts by result.",
		}, []string{"result"}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: metricEventsDropped,
			Help: "Telemetry events dropped (invalid type or failed send).",
		}),
		InteractionRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: metricInteractionRequests,
			Help: "Remote interaction requests by operation and result.",
		}, []string{"op", "result"}),
		InteractionRollback: f.NewCounterVec(prometheus.CounterOpts{
			Name: metricInteractionRollback,
			Help: "Optimistic interaction mutations rolled back.",
		}, []string{"op"}),
		AmbientResolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: metricAmbientResolutions,
			Help: "Ambient context resolutions by the layer that produced the value.",
		}, []string{"source"}),
		ImpressionsFired: f.NewCounter(prometheus.CounterOpts{
			Name: metricImpressionsFired,
			Help: "Impression events fired by the viewport tracker.",
		}),
	}
}

func (m *Metrics) EventEnqueued() {
	if m == nil {
		return
	}
	m.EventsEnqueued.Inc()
}

func (m *Metrics) BatchSent(result string, events int) {
	if m == nil {
		return
	}
	m.Batches.WithLabelValues(result).Inc()
	if result == ResultFailure {
		m.EventsDropped.Add(float64(events))
	}
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

func (m *Metrics) InteractionRequest(op string, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.InteractionRequests.WithLabelValues(op, result).Inc()
}

func (m *Metrics) Rollback(op string) {
	if m == nil {
		return
	}
	m.InteractionRollback.WithLabelValues(op).Inc()
}

func (m *Metrics) AmbientResolved(source string) {
	if m == nil {
		return
	}
	m.AmbientResolutions.WithLabelValues(source).Inc()
}

func (m *Metrics) ImpressionFired() {
	if m == nil {
		return
	}
	m.ImpressionsFired.Inc()
}
