// Package metrics 提供 notifnet 的 prometheus 指标
//
// 指标只用于观察，不参与任何行为决策。所有方法对 nil *Metrics 安全。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

const namespace = "notifnet"

// 丢弃原因标签
const (
	ReasonNotOpen   = "not_open"
	ReasonQueueFull = "queue_full"
	ReasonTooLarge  = "too_large"
)

// 方向标签
const (
	DirIn  = "in"
	DirOut = "out"
)

// Metrics 指标集合
type Metrics struct {
	dropped     *prometheus.CounterVec
	sent        *prometheus.CounterVec
	received    *prometheus.CounterVec
	bytes       *prometheus.CounterVec
	open        *prometheus.GaugeVec
	slots       *prometheus.GaugeVec
	overflows   prometheus.Counter
	connections prometheus.Gauge
}

// New 创建指标并注册到 reg；reg 为 nil 时不注册
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Fire-and-forget notifications dropped before reaching a substream.",
		}, []string{"protocol", "reason"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Notifications written to outbound substreams.",
		}, []string{"protocol"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_received_total",
			Help:      "Notifications delivered from inbound substreams.",
		}, []string{"protocol"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_bytes_total",
			Help:      "Notification payload bytes by direction.",
		}, []string{"protocol", "direction"}),
		open: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "substreams_open",
			Help:      "Substream pairs currently in the Open state.",
		}, []string{"protocol"}),
		slots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peerset_slots",
			Help:      "Regular slots in use per set and direction.",
		}, []string{"set", "direction"}),
		overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_overflows_total",
			Help:      "Event subscriptions terminated because their backlog overflowed.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Established peer connections.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.dropped, m.sent, m.received, m.bytes, m.open, m.slots, m.overflows, m.connections,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// NotificationDropped 记录一次静默丢弃
func (m *Metrics) NotificationDropped(protocol, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(protocol, reason).Inc()
}

// NotificationSent 记录一次成功写出
func (m *Metrics) NotificationSent(protocol string, size int) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(protocol).Inc()
	m.bytes.WithLabelValues(protocol, DirOut).Add(float64(size))
}

// NotificationReceived 记录一次接收
func (m *Metrics) NotificationReceived(protocol string, size int) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(protocol).Inc()
	m.bytes.WithLabelValues(protocol, DirIn).Add(float64(size))
}

// SubstreamOpened 子流对进入 Open
func (m *Metrics) SubstreamOpened(protocol string) {
	if m == nil {
		return
	}
	m.open.WithLabelValues(protocol).Inc()
}

// SubstreamClosed 子流对离开 Open
func (m *Metrics) SubstreamClosed(protocol string) {
	if m == nil {
		return
	}
	m.open.WithLabelValues(protocol).Dec()
}

// SetSlots 记录集合的槽位占用
func (m *Metrics) SetSlots(set string, in, out int) {
	if m == nil {
		return
	}
	m.slots.WithLabelValues(set, DirIn).Set(float64(in))
	m.slots.WithLabelValues(set, DirOut).Set(float64(out))
}

// SubscriberOverflow 记录一次订阅溢出
func (m *Metrics) SubscriberOverflow() {
	if m == nil {
		return
	}
	m.overflows.Inc()
}

// ConnectionOpened 连接建立
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed 连接关闭
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// Module 返回 fx 模块配置，需要外部提供 prometheus.Registerer
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(New),
	)
}
