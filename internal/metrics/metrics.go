package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// HopperMetrics 退币器业务指标，nil 接收者上的方法均为空操作
type HopperMetrics struct {
	ExchangeTotal         *prometheus.CounterVec   // labels: command, result
	ExchangeDuration      *prometheus.HistogramVec // labels: command
	MonitorPollTotal      *prometheus.CounterVec   // labels: result
	PayoutTotal           *prometheus.CounterVec   // labels: mode, result
	ByteOrderCorrections  prometheus.Counter
	Enabled               prometheus.Gauge
	SafetyAnomaliesTotal  prometheus.Counter
	ChecksumMismatchTotal prometheus.Counter
}

// NewHopperMetrics 注册并返回业务指标
func NewHopperMetrics(reg prometheus.Registerer) *HopperMetrics {
	m := &HopperMetrics{
		ExchangeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hopper_exchange_total",
			Help: "Serial request/response exchanges by command and result.",
		}, []string{"command", "result"}),
		ExchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hopper_exchange_duration_seconds",
			Help:    "Duration of serial exchanges including settle delay.",
			Buckets: []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 3, 5},
		}, []string{"command"}),
		MonitorPollTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hopper_monitor_poll_total",
			Help: "Status monitor poll cycles by result.",
		}, []string{"result"}),
		PayoutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hopper_payout_total",
			Help: "Payout requests by mode and result.",
		}, []string{"mode", "result"}),
		ByteOrderCorrections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hopper_byte_order_corrections_total",
			Help: "Times the amount byte order was corrected at runtime.",
		}),
		Enabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hopper_enabled",
			Help: "1 when the hopper is enabled.",
		}),
		SafetyAnomaliesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hopper_safety_anomalies_total",
			Help: "Payout status anomalies detected by safety thresholds.",
		}),
		ChecksumMismatchTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hopper_checksum_mismatch_total",
			Help: "Received frames whose checksum did not verify.",
		}),
	}
	reg.MustRegister(
		m.ExchangeTotal,
		m.ExchangeDuration,
		m.MonitorPollTotal,
		m.PayoutTotal,
		m.ByteOrderCorrections,
		m.Enabled,
		m.SafetyAnomaliesTotal,
		m.ChecksumMismatchTotal,
	)
	return m
}

// ObserveExchange 记录一次收发
func (m *HopperMetrics) ObserveExchange(command, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExchangeTotal.WithLabelValues(command, result).Inc()
	m.ExchangeDuration.WithLabelValues(command).Observe(d.Seconds())
}

// ObservePoll 记录一次监控轮询
func (m *HopperMetrics) ObservePoll(result string) {
	if m == nil {
		return
	}
	m.MonitorPollTotal.WithLabelValues(result).Inc()
}

// ObservePayout 记录一次出币请求
func (m *HopperMetrics) ObservePayout(mode, result string) {
	if m == nil {
		return
	}
	m.PayoutTotal.WithLabelValues(mode, result).Inc()
}

// IncByteOrderCorrection 字节序被纠正
func (m *HopperMetrics) IncByteOrderCorrection() {
	if m == nil {
		return
	}
	m.ByteOrderCorrections.Inc()
}

// AddSafetyAnomalies 记录安全阈值告警数
func (m *HopperMetrics) AddSafetyAnomalies(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SafetyAnomaliesTotal.Add(float64(n))
}

// IncChecksumMismatch 校验和不匹配
func (m *HopperMetrics) IncChecksumMismatch() {
	if m == nil {
		return
	}
	m.ChecksumMismatchTotal.Inc()
}

// SetEnabled 更新启用状态
func (m *HopperMetrics) SetEnabled(enabled bool) {
	if m == nil {
		return
	}
	if enabled {
		m.Enabled.Set(1)
	} else {
		m.Enabled.Set(0)
	}
}
