package hardware

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/hopper-driver/internal/config"
	apperrors "github.com/wfunc/hopper-driver/internal/errors"
	"github.com/wfunc/hopper-driver/internal/logger"
	"github.com/wfunc/hopper-driver/internal/metrics"
	"go.uber.org/zap"
)

// 各命令的读超时
const (
	statusTimeout      = 2 * time.Second
	optoTimeout        = time.Second
	stopPaymentTimeout = time.Second
	cancelTimeout      = time.Second
	lastCommandTimeout = time.Second
	diagnosticTimeout  = 3 * time.Second
)

// 出币限制
const (
	MaxPayoutAmount = 1000000
	MaxPayoutPaths  = 6
	maxCoinField    = 0xFFFF
)

// 出币方式
const (
	PayoutModeIntelligent = "intelligent"
	PayoutModeMultiPath   = "multi_path"
)

// diagnosticCommands 通信诊断依次发送的命令
var diagnosticCommands = []byte{
	CmdSimplePoll,
	CmdManufacturerID,
	CmdEquipmentCategory,
	CmdProductCode,
	CmdSerialNumber,
	CmdRequestStatus,
	CmdOptoStatus,
	CmdTestHopper,
}

// HopperOptions 控制器参数
type HopperOptions struct {
	Serial         *SerialConfig
	Address        byte
	ByteOrder      ByteOrder
	Mode           string
	StrictChecksum bool
	AutoMonitor    bool
	Monitor        MonitorOptions
	Safety         SafetyOptions
	Opener         PortOpener
	FindPorts      func() ([]string, error)
	Recorder       Recorder
	Metrics        *metrics.HopperMetrics
	Sleep          func(time.Duration)
}

// DefaultHopperOptions 默认参数
func DefaultHopperOptions() HopperOptions {
	return HopperOptions{
		Serial:      DefaultSerialConfig(),
		Address:     DefaultAddress,
		ByteOrder:   ByteOrderMSB,
		Mode:        PayoutModeIntelligent,
		AutoMonitor: true,
		Monitor:     DefaultMonitorOptions(),
		Safety:      DefaultSafetyOptions(),
	}
}

// OptionsFromConfig 由全局配置生成控制器参数
func OptionsFromConfig(cfg *config.Config) (HopperOptions, error) {
	opts := DefaultHopperOptions()
	if cfg == nil {
		return opts, nil
	}

	order, err := ParseByteOrder(cfg.Hopper.ByteOrder)
	if err != nil {
		return opts, apperrors.Wrap(err, apperrors.ErrConfigValidate)
	}

	opts.Serial = SerialConfigFrom(cfg.Serial)
	opts.Opener = OpenerFor(opts.Serial.Driver)
	opts.Address = byte(cfg.Hopper.Address)
	opts.ByteOrder = order
	if cfg.Hopper.Mode != "" {
		opts.Mode = cfg.Hopper.Mode
	}
	opts.StrictChecksum = cfg.Hopper.StrictChecksum
	opts.AutoMonitor = cfg.Hopper.AutoMonitor
	opts.Monitor = MonitorOptions{
		PollInterval: cfg.Monitor.PollInterval,
		QueryTimeout: cfg.Monitor.QueryTimeout,
		ErrorBackoff: cfg.Monitor.ErrorBackoff,
		StopTimeout:  cfg.Monitor.StopTimeout,
	}
	opts.Safety = SafetyOptions{
		CoinCountThreshold:      cfg.Safety.CoinCountThreshold,
		PaidMultiplierThreshold: cfg.Safety.PaidMultiplierThreshold,
		AutoStop:                cfg.Safety.AutoStop,
	}
	return opts, nil
}

// PayoutReport 出币结果
type PayoutReport struct {
	RequestID          string        `json:"request_id"`
	Mode               string        `json:"mode"`
	Amount             int           `json:"amount,omitempty"`
	Path               int           `json:"path,omitempty"`
	Count              int           `json:"count,omitempty"`
	ByteOrder          string        `json:"byte_order,omitempty"`
	ByteOrderCorrected bool          `json:"byte_order_corrected"`
	Response           string        `json:"response,omitempty"`
	Description        string        `json:"description,omitempty"`
	Status             *DeviceStatus `json:"status,omitempty"`
	StatusError        string        `json:"status_error,omitempty"`
	Anomalies          []string      `json:"anomalies,omitempty"`
	AutoStopped        bool          `json:"auto_stopped"`
	Error              string        `json:"error,omitempty"`
	Timestamp          time.Time     `json:"timestamp"`
}

// RawResult 原始命令结果
type RawResult struct {
	Command     byte   `json:"command"`
	Name        string `json:"name"`
	Request     string `json:"request"`
	Response    string `json:"response"`
	Description string `json:"description"`
}

// DiagnosticStep 单条诊断命令结果
type DiagnosticStep struct {
	Command  byte   `json:"command"`
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// DiagnosticsResult 通信诊断结果
type DiagnosticsResult struct {
	Steps     []DiagnosticStep `json:"steps"`
	Succeeded int              `json:"succeeded"`
	Total     int              `json:"total"`
	Passed    bool             `json:"passed"`
}

// CombinedStatus 状态与光电的组合查询结果
type CombinedStatus struct {
	Status      *DeviceStatus `json:"status,omitempty"`
	StatusError string        `json:"status_error,omitempty"`
	Opto        *OptoStatus   `json:"opto,omitempty"`
	OptoError   string        `json:"opto_error,omitempty"`
	Summary     string        `json:"summary"`
}

// DeviceInfo 设备信息
type DeviceInfo struct {
	Port       string         `json:"port,omitempty"`
	Connected  bool           `json:"connected"`
	Session    SessionInfo    `json:"session"`
	Monitor    string         `json:"monitor"`
	LastReport *MonitorReport `json:"last_report,omitempty"`
}

// HopperController 退币器驱动
type HopperController struct {
	opts       HopperOptions
	transport  *Transport
	session    *Session
	dispatcher *Dispatcher
	monitor    *Monitor
	logger     *zap.Logger

	// 串行化连接与断开
	connMu sync.Mutex
}

// NewHopperController 创建退币器驱动
func NewHopperController(opts HopperOptions) *HopperController {
	if opts.Serial == nil {
		opts.Serial = DefaultSerialConfig()
	}
	if opts.Address == 0 {
		opts.Address = DefaultAddress
	}

	c := &HopperController{
		opts:      opts,
		transport: NewTransport(opts.Serial, opts.Opener),
		session:   NewSession(opts.Address, opts.ByteOrder, opts.Mode),
		logger:    logger.GetModuleLogger("hopper"),
	}
	c.dispatcher = NewDispatcher(c.transport, c.session, DispatcherOptions{
		StrictChecksum: opts.StrictChecksum,
		DefaultTimeout: opts.Serial.ReadTimeout,
		Recorder:       opts.Recorder,
		Metrics:        opts.Metrics,
		Sleep:          opts.Sleep,
	})
	c.monitor = NewMonitor(c.queryStatus, c.session.ConnectionTested, opts.Monitor, opts.Metrics)
	return c
}

// Session 会话
func (c *HopperController) Session() *Session {
	return c.session
}

// Connect 打开串口并执行诊断；只有串口无法打开时返回错误
func (c *HopperController) Connect(port string) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.transport.IsOpen() {
		return nil
	}

	if port == "" {
		port = c.opts.Serial.Port
	}
	name, err := ResolvePort(port, c.opts.FindPorts)
	if err != nil {
		return err
	}
	if err := c.transport.Open(name); err != nil {
		return err
	}

	diag := c.RunDiagnostics()
	if !diag.Passed {
		c.logger.Warn("通信诊断全部失败，保持串口打开以便排查",
			zap.String("port", name))
		return nil
	}

	c.logger.Info("通信诊断通过",
		zap.Int("succeeded", diag.Succeeded),
		zap.Int("total", diag.Total))

	if _, err := c.GetSerialNumber(); err != nil {
		c.logger.Warn("获取序列号失败", zap.Error(err))
	}
	if err := c.Enable(); err != nil {
		c.logger.Warn("启用设备失败", zap.Error(err))
	}
	if c.opts.AutoMonitor {
		c.StartMonitor()
	}
	return nil
}

// Disconnect 停止监控，尽力禁用设备后关闭串口
func (c *HopperController) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.monitor.Stop()

	if c.transport.IsOpen() && c.session.Enabled() {
		if err := c.dispatcher.Disable(); err != nil {
			c.logger.Warn("断开前禁用设备失败", zap.Error(err))
		}
	}

	err := c.transport.Close()
	c.session.reset()
	c.opts.Metrics.SetEnabled(false)
	c.logger.Info("已断开连接")
	return err
}

// IsConnected 串口是否已打开
func (c *HopperController) IsConnected() bool {
	return c.transport.IsOpen()
}

// Enable 启用设备
func (c *HopperController) Enable() error {
	return c.dispatcher.Enable()
}

// Disable 禁用设备
func (c *HopperController) Disable() error {
	return c.dispatcher.Disable()
}

// GetSerialNumber 返回十六进制序列号，首次调用时向设备查询
func (c *HopperController) GetSerialNumber() (string, error) {
	sn, err := c.dispatcher.SerialNumber()
	if err != nil {
		return "", err
	}
	return logger.HexBytes(sn), nil
}

// SendRaw 发送任意命令并返回应答描述
func (c *HopperController) SendRaw(command byte, payload []byte, timeout time.Duration) (*RawResult, error) {
	resp, err := c.dispatcher.Send(command, payload, timeout)
	if err != nil {
		return nil, err
	}
	return &RawResult{
		Command:     command,
		Name:        CommandName(command),
		Request:     logger.HexBytes(Encode(c.session.Address(), command, payload)),
		Response:    logger.HexBytes(resp),
		Description: DescribeResponse(command, resp),
	}, nil
}

// IntelligentPayout 智能出币：发送金额后立即查询一次状态
func (c *HopperController) IntelligentPayout(amount int) (*PayoutReport, error) {
	if amount <= 0 || amount > MaxPayoutAmount {
		return nil, apperrors.Newf(apperrors.ErrInvalidParam, "amount %d out of range 1..%d", amount, MaxPayoutAmount)
	}
	if amount > maxCoinField {
		return nil, apperrors.Newf(apperrors.ErrInvalidParam, "amount %d does not fit in 16 bits", amount)
	}

	report := newPayoutReport(PayoutModeIntelligent)
	report.Amount = amount

	sn, err := c.dispatcher.SerialNumber()
	if err != nil {
		return c.finishPayout(report, err)
	}

	order := c.session.ByteOrder()
	report.ByteOrder = order.String()
	payload := append(sn, order.PutAmount(amount)...)

	c.logger.Info("智能出币",
		zap.String("request_id", report.RequestID),
		zap.Int("amount", amount),
		zap.String("byte_order", report.ByteOrder))

	resp, err := c.dispatcher.Send(CmdIntelligentPayout, payload, 0)
	if err != nil {
		return c.finishPayout(report, err)
	}
	report.Response = logger.HexBytes(resp)
	report.Description = DescribeResponse(CmdIntelligentPayout, resp)
	if err := checkResponse(resp, MinFrameLen); err != nil {
		return c.finishPayout(report, err)
	}

	status, err := c.queryStatus(statusTimeout)
	if err != nil {
		report.StatusError = err.Error()
		c.logger.Warn("出币后状态查询失败", zap.Error(err))
		return c.finishPayout(report, nil)
	}
	report.Status = status
	if status.Payout != nil {
		c.learnByteOrder(report, status.Payout, amount)
		c.applySafety(report, status.Payout, amount)
	}

	return c.finishPayout(report, nil)
}

// learnByteOrder 已付等于 amount<<8 说明设备按高位在前解读金额，切换为 MSB（只切换一次）
func (c *HopperController) learnByteOrder(report *PayoutReport, payout *PayoutStatus, amount int) {
	if payout.Paid != amount<<8 {
		return
	}
	if !c.session.learnMSB() {
		c.logger.Warn("已付金额等于 amount<<8，字节序保持不变",
			zap.Int("amount", amount),
			zap.Int("paid", payout.Paid),
			zap.String("byte_order", c.session.ByteOrder().String()))
		return
	}
	report.ByteOrderCorrected = true
	c.opts.Metrics.IncByteOrderCorrection()
	c.logger.Warn("检测到设备按高位在前解读金额，已切换为 MSB",
		zap.Int("amount", amount),
		zap.Int("paid", payout.Paid),
		zap.String("byte_order", ByteOrderMSB.String()))
}

func (c *HopperController) applySafety(report *PayoutReport, payout *PayoutStatus, amount int) {
	anomalies := c.opts.Safety.EvaluatePayout(payout, amount)
	if len(anomalies) == 0 {
		return
	}
	report.Anomalies = anomalies
	c.opts.Metrics.AddSafetyAnomalies(len(anomalies))
	c.logger.Warn("出币状态异常",
		zap.String("request_id", report.RequestID),
		zap.Strings("anomalies", anomalies))

	if !c.opts.Safety.AutoStop {
		return
	}
	left, err := c.StopPayment()
	if err != nil {
		c.logger.Error("自动停止出币失败", zap.Error(err))
		return
	}
	report.AutoStopped = true
	c.logger.Warn("已自动停止出币", zap.Int("unpaid", left))
}

// MultiPathPayout 指定出币通道出 count 枚
func (c *HopperController) MultiPathPayout(path, count int) (*PayoutReport, error) {
	if path < 1 || path > MaxPayoutPaths {
		return nil, apperrors.Newf(apperrors.ErrInvalidParam, "path %d out of range 1..%d", path, MaxPayoutPaths)
	}
	if count <= 0 || count > maxCoinField {
		return nil, apperrors.Newf(apperrors.ErrInvalidParam, "count %d out of range 1..%d", count, maxCoinField)
	}

	report := newPayoutReport(PayoutModeMultiPath)
	report.Path = path
	report.Count = count

	sn, err := c.dispatcher.SerialNumber()
	if err != nil {
		return c.finishPayout(report, err)
	}

	payload := append([]byte{}, sn...)
	for i := 1; i <= MaxPayoutPaths; i++ {
		if i == path {
			payload = append(payload, byte(count>>8), byte(count))
		} else {
			payload = append(payload, 0x00, 0x00)
		}
	}

	c.logger.Info("多路出币",
		zap.String("request_id", report.RequestID),
		zap.Int("path", path),
		zap.Int("count", count))

	resp, err := c.dispatcher.Send(CmdMultiPathPayout, payload, 0)
	if err != nil {
		return c.finishPayout(report, err)
	}
	report.Response = logger.HexBytes(resp)
	report.Description = DescribeResponse(CmdMultiPathPayout, resp)
	return c.finishPayout(report, checkResponse(resp, MinFrameLen))
}

func newPayoutReport(mode string) *PayoutReport {
	return &PayoutReport{
		RequestID: uuid.New().String(),
		Mode:      mode,
		Timestamp: time.Now(),
	}
}

func (c *HopperController) finishPayout(report *PayoutReport, err error) (*PayoutReport, error) {
	result := ResultOK
	if err != nil {
		report.Error = err.Error()
		result = payoutResult(err)
		c.logger.Warn("出币失败",
			zap.String("request_id", report.RequestID),
			zap.String("mode", report.Mode),
			zap.Error(err))
	}
	c.opts.Metrics.ObservePayout(report.Mode, result)
	if c.opts.Recorder != nil {
		c.opts.Recorder.RecordPayout(report)
	}
	return report, err
}

func payoutResult(err error) string {
	switch apperrors.GetCode(err) {
	case apperrors.ErrSerialTimeout:
		return ResultTimeout
	case apperrors.ErrDeviceNack:
		return ResultNack
	case apperrors.ErrDeviceNotEnabled:
		return ResultBlocked
	default:
		return ResultError
	}
}

// queryStatus 状态查询，也供监控器使用
func (c *HopperController) queryStatus(timeout time.Duration) (*DeviceStatus, error) {
	resp, err := c.dispatcher.Send(CmdRequestStatus, nil, timeout)
	if err != nil {
		return nil, err
	}
	return ParseStatus(resp)
}

// QueryStatus 查询设备状态
func (c *HopperController) QueryStatus() (*DeviceStatus, error) {
	return c.queryStatus(statusTimeout)
}

// ReadOptoStatus 读取光电状态
func (c *HopperController) ReadOptoStatus() (*OptoStatus, error) {
	resp, err := c.dispatcher.Send(CmdOptoStatus, nil, 0)
	if err != nil {
		return nil, err
	}
	return ParseOpto(resp)
}

// TestHopper 设备自检
func (c *HopperController) TestHopper() (*TestStatus, error) {
	resp, err := c.dispatcher.Send(CmdTestHopper, nil, 0)
	if err != nil {
		return nil, err
	}
	return ParseTestHopper(resp)
}

// StopPayment 停止出币，返回未支付的 1 号币数量
func (c *HopperController) StopPayment() (int, error) {
	resp, err := c.dispatcher.Send(CmdStopPayment, nil, stopPaymentTimeout)
	if err != nil {
		return 0, err
	}
	left, err := ParseStopPayment(resp)
	if err != nil {
		return 0, err
	}
	c.logger.Info("已停止出币", zap.Int("unpaid", left))
	return left, nil
}

// Cancel 取消当前操作，返回原始应答
func (c *HopperController) Cancel() ([]byte, error) {
	resp, err := c.dispatcher.Send(CmdCancel, nil, cancelTimeout)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp, MinFrameLen); err != nil {
		return resp, err
	}
	return resp, nil
}

// LastCommandStatus 查询上一命令的执行状态
func (c *HopperController) LastCommandStatus() (*LastCommandResult, error) {
	resp, err := c.dispatcher.Send(CmdLastCommandStatus, nil, lastCommandTimeout)
	if err != nil {
		return nil, err
	}
	return ParseLastCommandStatus(resp)
}

// TestCommunication 依次发送诊断命令并统计有效应答
func (c *HopperController) TestCommunication() *DiagnosticsResult {
	res := &DiagnosticsResult{Total: len(diagnosticCommands)}
	address := c.session.Address()

	for _, cmd := range diagnosticCommands {
		step := DiagnosticStep{Command: cmd, Name: CommandName(cmd)}
		resp, err := c.dispatcher.Send(cmd, nil, diagnosticTimeout)
		switch {
		case err != nil:
			step.Error = err.Error()
		case len(resp) >= MinFrameLen && resp[0] == HostAddress && resp[2] == address:
			step.OK = true
			step.Response = logger.HexBytes(resp)
			res.Succeeded++
		default:
			step.Response = logger.HexBytes(resp)
			step.Error = "unexpected reply addressing"
		}
		res.Steps = append(res.Steps, step)
	}

	res.Passed = res.Succeeded > 0
	return res
}

// RunDiagnostics 执行通信诊断并记录结果
func (c *HopperController) RunDiagnostics() *DiagnosticsResult {
	res := c.TestCommunication()
	c.session.setConnectionTested(res.Passed)
	c.logger.Info("通信诊断完成",
		zap.Int("succeeded", res.Succeeded),
		zap.Int("total", res.Total))
	return res
}

// CheckStatus 状态查询加光电读取
func (c *HopperController) CheckStatus() (*CombinedStatus, error) {
	out := &CombinedStatus{}
	var parts []string

	status, serr := c.queryStatus(statusTimeout)
	if serr != nil {
		out.StatusError = serr.Error()
		parts = append(parts, "status: "+serr.Error())
	} else {
		out.Status = status
		parts = append(parts, status.Summary())
	}

	resp, oerr := c.dispatcher.Send(CmdOptoStatus, nil, optoTimeout)
	if oerr == nil {
		var opto *OptoStatus
		if opto, oerr = ParseOpto(resp); oerr == nil {
			out.Opto = opto
			parts = append(parts, "opto: "+opto.Summary())
		}
	}
	if oerr != nil {
		out.OptoError = oerr.Error()
	}

	out.Summary = strings.Join(parts, " | ")
	if serr != nil && oerr != nil {
		return out, serr
	}
	return out, nil
}

// StartMonitor 启动状态监控
func (c *HopperController) StartMonitor() bool {
	return c.monitor.Start()
}

// StopMonitor 停止状态监控
func (c *HopperController) StopMonitor() {
	c.monitor.Stop()
}

// MonitorState 监控状态
func (c *HopperController) MonitorState() MonitorState {
	return c.monitor.State()
}

// AddReporter 订阅监控结果
func (c *HopperController) AddReporter(r Reporter) {
	c.monitor.AddReporter(r)
}

// DeviceInfo 设备信息
func (c *HopperController) DeviceInfo() DeviceInfo {
	return DeviceInfo{
		Port:       c.transport.PortName(),
		Connected:  c.transport.IsOpen(),
		Session:    c.session.Info(),
		Monitor:    c.monitor.State().String(),
		LastReport: c.monitor.LastReport(),
	}
}
