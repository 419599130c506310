package hardware

import (
	"runtime/debug"
	"sync"
	"time"

	apperrors "github.com/wfunc/hopper-driver/internal/errors"
	"github.com/wfunc/hopper-driver/internal/logger"
	"github.com/wfunc/hopper-driver/internal/metrics"
	"go.uber.org/zap"
)

// MonitorState 状态监控器的运行状态
type MonitorState int

const (
	MonitorIdle MonitorState = iota
	MonitorRunning
	MonitorStopRequested
)

// String 状态名称
func (s MonitorState) String() string {
	switch s {
	case MonitorRunning:
		return "running"
	case MonitorStopRequested:
		return "stop_requested"
	default:
		return "idle"
	}
}

// MonitorReport 一次轮询的结果
type MonitorReport struct {
	Time      time.Time     `json:"time"`
	Responded bool          `json:"responded"`
	Status    *DeviceStatus `json:"status,omitempty"`
	Summary   string        `json:"summary"`
	Error     string        `json:"error,omitempty"`
}

// Reporter 接收轮询结果
type Reporter func(report *MonitorReport)

// MonitorOptions 监控参数
type MonitorOptions struct {
	PollInterval time.Duration
	QueryTimeout time.Duration
	ErrorBackoff time.Duration
	StopTimeout  time.Duration
}

// DefaultMonitorOptions 轮询 3 秒，查询超时 2 秒，出错后暂停 1 秒，停止最多等待 2 秒
func DefaultMonitorOptions() MonitorOptions {
	return MonitorOptions{
		PollInterval: 3 * time.Second,
		QueryTimeout: 2 * time.Second,
		ErrorBackoff: time.Second,
		StopTimeout:  2 * time.Second,
	}
}

// StatusQuery 执行一次状态查询
type StatusQuery func(timeout time.Duration) (*DeviceStatus, error)

// Monitor 后台状态轮询
type Monitor struct {
	mu        sync.Mutex
	state     MonitorState
	stopCh    chan struct{}
	done      chan struct{}
	query     StatusQuery
	ready     func() bool
	reporters []Reporter
	last      *MonitorReport
	opts      MonitorOptions
	metrics   *metrics.HopperMetrics
	logger    *zap.Logger
}

// NewMonitor 创建监控器，ready 返回 false 时拒绝启动
func NewMonitor(query StatusQuery, ready func() bool, opts MonitorOptions, m *metrics.HopperMetrics) *Monitor {
	def := DefaultMonitorOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = def.QueryTimeout
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = def.ErrorBackoff
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = def.StopTimeout
	}
	return &Monitor{
		query:   query,
		ready:   ready,
		opts:    opts,
		metrics: m,
		logger:  logger.GetModuleLogger("monitor"),
	}
}

// AddReporter 注册结果接收者
func (m *Monitor) AddReporter(r Reporter) {
	if r == nil {
		return
	}
	m.mu.Lock()
	m.reporters = append(m.reporters, r)
	m.mu.Unlock()
}

// State 当前状态
func (m *Monitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastReport 最近一次轮询结果
func (m *Monitor) LastReport() *MonitorReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Start 启动轮询；未通过通信测试或已在运行时不做任何事
func (m *Monitor) Start() bool {
	if m.ready != nil && !m.ready() {
		m.logger.Warn("通信测试未通过，不启动状态监控")
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case MonitorRunning:
		return false
	case MonitorStopRequested:
		m.logger.Warn("状态监控仍在停止中")
		return false
	}

	m.state = MonitorRunning
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop(m.stopCh, m.done)

	m.logger.Info("状态监控已启动", zap.Duration("interval", m.opts.PollInterval))
	return true
}

// Stop 请求停止并最多等待 StopTimeout
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.state != MonitorRunning {
		m.mu.Unlock()
		return
	}
	m.state = MonitorStopRequested
	close(m.stopCh)
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
		m.logger.Info("状态监控已停止")
	case <-time.After(m.opts.StopTimeout):
		m.logger.Warn("状态监控未在限定时间内退出", zap.Duration("timeout", m.opts.StopTimeout))
	}
}

func (m *Monitor) loop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer func() {
		m.mu.Lock()
		m.state = MonitorIdle
		m.mu.Unlock()
		close(done)
	}()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		wait := m.opts.PollInterval
		if !m.cycle() {
			wait = m.opts.ErrorBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// cycle 执行一次轮询；收到应答（含 NACK、未知状态、格式错误）按正常间隔继续，收发失败或 panic 时返回 false
func (m *Monitor) cycle() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, debug.Stack())
			m.metrics.ObservePoll("panic")
			ok = false
		}
	}()

	report := &MonitorReport{Time: time.Now()}
	status, err := m.query(m.opts.QueryTimeout)

	switch {
	case err == nil:
		report.Responded = true
		report.Status = status
		report.Summary = status.Summary()
		ok = true
		m.metrics.ObservePoll(ResultOK)
	case apperrors.Is(err, apperrors.ErrSerialTimeout):
		report.Summary = "no response"
		report.Error = err.Error()
		ok = true
		m.metrics.ObservePoll(ResultTimeout)
	default:
		report.Responded = apperrors.Is(err, apperrors.ErrDeviceNack) ||
			apperrors.Is(err, apperrors.ErrUnknownStatus) ||
			apperrors.Is(err, apperrors.ErrInvalidResponse)
		ok = report.Responded
		report.Summary = "status query failed"
		report.Error = err.Error()
		m.logger.Warn("状态轮询失败", zap.Error(err))
		m.metrics.ObservePoll(ResultError)
	}

	m.publish(report)
	return ok
}

func (m *Monitor) publish(report *MonitorReport) {
	m.mu.Lock()
	m.last = report
	reporters := append([]Reporter(nil), m.reporters...)
	m.mu.Unlock()

	m.logger.Debug("状态轮询", zap.String("summary", report.Summary))
	for _, r := range reporters {
		r(report)
	}
}
