package hardware

import (
	"sync"
	"time"

	apperrors "github.com/wfunc/hopper-driver/internal/errors"
	"github.com/wfunc/hopper-driver/internal/logger"
	"github.com/wfunc/hopper-driver/internal/metrics"
	"go.uber.org/zap"
)

// 交换结果
const (
	ResultOK      = "ok"
	ResultTimeout = "timeout"
	ResultNack    = "nack"
	ResultError   = "error"
	ResultBlocked = "blocked"
)

// Link 收发层接口
type Link interface {
	IsOpen() bool
	Reset() error
	Write(data []byte) error
	Read(max int, timeout time.Duration) ([]byte, error)
}

// ExchangeRecord 一次收发的记录
type ExchangeRecord struct {
	Command   byte
	Payload   []byte
	TX        []byte
	RX        []byte
	Result    string
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

// Recorder 收发与出币记录的持久化接口
type Recorder interface {
	RecordExchange(rec *ExchangeRecord)
	RecordPayout(report *PayoutReport)
}

// DispatcherOptions 分发器参数
type DispatcherOptions struct {
	StrictChecksum bool
	DefaultTimeout time.Duration
	Recorder       Recorder
	Metrics        *metrics.HopperMetrics
	// Sleep 发送后的等待，测试中可替换
	Sleep func(time.Duration)
}

// Dispatcher 命令分发器，保证同一时刻只有一次收发
type Dispatcher struct {
	mu      sync.Mutex
	link    Link
	session *Session
	opts    DispatcherOptions
	logger  *zap.Logger
}

// NewDispatcher 创建分发器
func NewDispatcher(link Link, session *Session, opts DispatcherOptions) *Dispatcher {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 2 * time.Second
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	return &Dispatcher{
		link:    link,
		session: session,
		opts:    opts,
		logger:  logger.GetModuleLogger("serial"),
	}
}

// MaxReadTimeout 调用方指定的读超时上限，收发期间独占串口
const MaxReadTimeout = 10 * time.Second

// SettleDelay 写入后等待设备处理的时间
func SettleDelay(payloadLen int) time.Duration {
	return 50*time.Millisecond + time.Duration(payloadLen)*10*time.Millisecond
}

// Send 发送命令并返回原始应答；出币类命令在未启用时先尝试启用一次
func (d *Dispatcher) Send(command byte, payload []byte, timeout time.Duration) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, apperrors.Newf(apperrors.ErrInvalidParam, "payload too long: %d bytes, max %d", len(payload), MaxPayloadLen)
	}
	if timeout > MaxReadTimeout {
		d.logger.Warn("读超时超过上限，已截断",
			zap.Duration("timeout", timeout),
			zap.Duration("max", MaxReadTimeout))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.link.IsOpen() {
		return nil, apperrors.New(apperrors.ErrDeviceOffline, "serial port not connected")
	}

	if IsPayoutCommand(command) && !d.session.Enabled() {
		d.logger.Info("出币命令前设备未启用，尝试启用",
			zap.String("command", CommandName(command)))
		if err := d.enableLocked(); err != nil {
			d.record(&ExchangeRecord{
				Command:   command,
				Payload:   payload,
				Result:    ResultBlocked,
				Err:       err,
				Timestamp: time.Now(),
			})
			return nil, apperrors.New(apperrors.ErrDeviceNotEnabled, CommandName(command)).WithCause(err)
		}
	}

	return d.exchange(command, payload, timeout)
}

// Enable 启用设备
func (d *Dispatcher) Enable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enableLocked()
}

// Disable 禁用设备
func (d *Dispatcher) Disable() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	resp, err := d.exchange(CmdEnableHopper, []byte{DisableCode}, 0)
	if err != nil {
		return err
	}
	if err := checkResponse(resp, MinFrameLen); err != nil {
		return err
	}
	d.session.setEnabled(false)
	d.opts.Metrics.SetEnabled(false)
	d.logger.Info("设备已禁用")
	return nil
}

func (d *Dispatcher) enableLocked() error {
	resp, err := d.exchange(CmdEnableHopper, []byte{EnableCode}, 0)
	if err != nil {
		d.logger.Warn("启用设备失败", zap.Error(err))
		return err
	}
	if err := checkResponse(resp, MinFrameLen); err != nil {
		d.logger.Warn("启用设备被拒绝", zap.Error(err))
		return err
	}
	d.session.setEnabled(true)
	d.opts.Metrics.SetEnabled(true)
	d.logger.Info("设备已启用")
	return nil
}

// SerialNumber 返回缓存的序列号，未缓存时向设备查询一次
func (d *Dispatcher) SerialNumber() ([]byte, error) {
	if sn, ok := d.session.SerialNumber(); ok {
		return sn, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// 等锁期间可能已被其他调用者获取
	if sn, ok := d.session.SerialNumber(); ok {
		return sn, nil
	}

	if !d.link.IsOpen() {
		return nil, apperrors.New(apperrors.ErrDeviceOffline, "serial port not connected")
	}
	resp, err := d.exchange(CmdSerialNumber, nil, 0)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrSerialNumberUnavailable).WithCause(err)
	}
	sn, err := ParseSerialNumber(resp)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrSerialNumberUnavailable).WithCause(err)
	}
	d.session.setSerialNumber(sn)
	d.logger.Info("已获取序列号", zap.String("serial", logger.HexBytes(sn)))
	return sn, nil
}

// exchange 完成一次收发，调用方须持有锁
func (d *Dispatcher) exchange(command byte, payload []byte, timeout time.Duration) ([]byte, error) {
	timeout = d.readTimeout(timeout)

	start := time.Now()
	frame := Encode(d.session.Address(), command, payload)
	rec := &ExchangeRecord{
		Command:   command,
		Payload:   payload,
		TX:        frame,
		Timestamp: start,
	}

	resp, err := d.roundTrip(frame, len(payload), timeout)
	rec.RX = resp
	rec.Duration = time.Since(start)

	switch {
	case err != nil:
		rec.Result, rec.Err = ResultError, err
	case len(resp) == 0:
		err = apperrors.Newf(apperrors.ErrSerialTimeout, "no response to %s", CommandName(command))
		rec.Result, rec.Err = ResultTimeout, err
	default:
		err = d.checkChecksum(command, resp)
		switch {
		case err != nil:
			rec.Result, rec.Err = ResultError, err
		case len(resp) >= 4 && resp[3] == HeaderNACK:
			rec.Result = ResultNack
		default:
			rec.Result = ResultOK
		}
	}

	logger.LogSerialFrame(command, frame, resp, rec.Duration, err)
	d.record(rec)

	if err != nil {
		return nil, err
	}
	return resp, nil
}

// readTimeout 未指定时用默认值，超过上限时截断
func (d *Dispatcher) readTimeout(timeout time.Duration) time.Duration {
	switch {
	case timeout <= 0:
		return d.opts.DefaultTimeout
	case timeout > MaxReadTimeout:
		return MaxReadTimeout
	}
	return timeout
}

func (d *Dispatcher) roundTrip(frame []byte, payloadLen int, timeout time.Duration) (resp []byte, err error) {
	// 底层驱动的异常不应让调用方崩溃
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("串口收发异常", zap.Any("panic", r))
			resp, err = nil, apperrors.Newf(apperrors.ErrCommandFailed, "panic: %v", r)
		}
	}()

	if err := d.link.Reset(); err != nil {
		return nil, err
	}
	if err := d.link.Write(frame); err != nil {
		return nil, err
	}
	d.opts.Sleep(SettleDelay(payloadLen))
	return d.link.Read(MaxResponseLen, timeout)
}

func (d *Dispatcher) checkChecksum(command byte, resp []byte) error {
	if len(resp) < MinFrameLen || VerifyChecksum(resp) {
		return nil
	}
	d.opts.Metrics.IncChecksumMismatch()
	d.logger.Warn("应答校验和不匹配",
		zap.String("command", CommandName(command)),
		zap.String("rx", logger.HexBytes(resp)))
	if d.opts.StrictChecksum {
		return apperrors.Newf(apperrors.ErrInvalidResponse, "checksum mismatch in %s response", CommandName(command))
	}
	return nil
}

func (d *Dispatcher) record(rec *ExchangeRecord) {
	d.opts.Metrics.ObserveExchange(CommandName(rec.Command), rec.Result, rec.Duration)
	if d.opts.Recorder != nil {
		d.opts.Recorder.RecordExchange(rec)
	}
}
