package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "mcs_"

// 结果标签
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultPanic   = "panic"
)

// 报警结果标签
const (
	AlarmFired      = "fired"
	AlarmDebounced  = "debounced"
	AlarmQuietHours = "quiet_hours"
)

// Metrics worker 指标集合。所有方法允许 nil 接收者，便于单元测试不注入指标
type Metrics struct {
	registry *prometheus.Registry

	messagesReceived *prometheus.CounterVec
	messagesDropped  *prometheus.CounterVec
	queueDepth       prometheus.Gauge

	alarms        *prometheus.CounterVec
	notifications *prometheus.CounterVec

	schedulerRuns     *prometheus.CounterVec
	schedulerDuration *prometheus.HistogramVec
}

// New 创建并注册指标（独立 Registry，可重复创建）
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "messages_received_total",
				Help: "Total MQTT messages received by topic kind",
			},
			[]string{"kind"},
		),
		messagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "messages_dropped_total",
				Help: "Total MQTT messages dropped by reason",
			},
			[]string{"reason"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "dispatch_queue_depth",
				Help: "Messages waiting in the dispatch queues",
			},
		),
		alarms: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarms_total",
				Help: "Total alarm evaluations that qualified, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Total notification attempts by channel and result",
			},
			[]string{"channel", "result"},
		),
		schedulerRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "scheduler_runs_total",
				Help: "Total scheduler task runs by task and result",
			},
			[]string{"task", "result"},
		),
		schedulerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "scheduler_run_duration_seconds",
				Help:    "Scheduler task run duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"task"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messagesReceived,
		m.messagesDropped,
		m.queueDepth,
		m.alarms,
		m.notifications,
		m.schedulerRuns,
		m.schedulerDuration,
	)
	return m
}

// Registry 返回指标 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// MessageReceived 记录收到的消息
func (m *Metrics) MessageReceived(kind string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(kind).Inc()
}

// MessageDropped 记录丢弃的消息
func (m *Metrics) MessageDropped(reason string) {
	if m == nil {
		return
	}
	m.messagesDropped.WithLabelValues(reason).Inc()
}

// SetQueueDepth 记录队列积压
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// Alarm 记录报警判定结果
func (m *Metrics) Alarm(kind, outcome string) {
	if m == nil {
		return
	}
	m.alarms.WithLabelValues(kind, outcome).Inc()
}

// Notification 记录通知发送结果
func (m *Metrics) Notification(channel string, err error) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, result(err)).Inc()
}

// SchedulerRun 记录定时任务执行
func (m *Metrics) SchedulerRun(task, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.schedulerRuns.WithLabelValues(task, result).Inc()
	m.schedulerDuration.WithLabelValues(task).Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
