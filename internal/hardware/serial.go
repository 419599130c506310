package hardware

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
	"github.com/wfunc/hopper-driver/internal/config"
	apperrors "github.com/wfunc/hopper-driver/internal/errors"
	"github.com/wfunc/hopper-driver/internal/logger"
	"go.uber.org/zap"
)

// SerialPort 串口接口（用于测试）
type SerialPort interface {
	io.ReadWriteCloser
	Flush() error
}

const defaultReadPoll = 100 * time.Millisecond

// PortOpener 打开串口的函数
type PortOpener func(cfg *SerialConfig) (SerialPort, error)

// SerialConfig 串口配置
type SerialConfig struct {
	Driver       string // tarm | bugst
	Port         string
	BaudRate     int
	DataBits     byte
	StopBits     byte
	Parity       string
	ReadTimeout  time.Duration // 单次收发的默认读超时
	WriteTimeout time.Duration
	ReadPoll     time.Duration // 底层串口的读阻塞粒度
}

// DefaultSerialConfig 9600 8N1，读写超时 2 秒
func DefaultSerialConfig() *SerialConfig {
	return &SerialConfig{
		Driver:       "tarm",
		Port:         "/dev/ttyUSB0",
		BaudRate:     9600,
		DataBits:     8,
		StopBits:     1,
		Parity:       "none",
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		ReadPoll:     defaultReadPoll,
	}
}

// SerialConfigFrom 由全局配置生成串口配置
func SerialConfigFrom(c config.SerialConfig) *SerialConfig {
	cfg := DefaultSerialConfig()
	if c.Driver != "" {
		cfg.Driver = c.Driver
	}
	if c.Port != "" {
		cfg.Port = c.Port
	}
	if c.BaudRate > 0 {
		cfg.BaudRate = c.BaudRate
	}
	if c.DataBits > 0 {
		cfg.DataBits = byte(c.DataBits)
	}
	if c.StopBits > 0 {
		cfg.StopBits = byte(c.StopBits)
	}
	if c.Parity != "" {
		cfg.Parity = c.Parity
	}
	if c.ReadTimeout > 0 {
		cfg.ReadTimeout = c.ReadTimeout
	}
	if c.WriteTimeout > 0 {
		cfg.WriteTimeout = c.WriteTimeout
	}
	if c.ReadPoll > 0 {
		cfg.ReadPoll = c.ReadPoll
	}
	return cfg
}

// OpenTarmPort 使用 tarm/serial 打开串口
func OpenTarmPort(cfg *SerialConfig) (SerialPort, error) {
	// 解析校验位
	parity := serial.ParityNone
	switch cfg.Parity {
	case "O", "odd":
		parity = serial.ParityOdd
	case "E", "even":
		parity = serial.ParityEven
	}

	poll := cfg.ReadPoll
	if poll <= 0 {
		poll = defaultReadPoll
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.BaudRate,
		Size:        cfg.DataBits,
		Parity:      parity,
		StopBits:    serial.StopBits(cfg.StopBits),
		ReadTimeout: poll,
	})
	if err != nil {
		return nil, err
	}
	return port, nil
}

// Transport 串口收发层
type Transport struct {
	cfg    *SerialConfig
	opener PortOpener
	logger *zap.Logger

	mu   sync.RWMutex
	port SerialPort
	name string
}

// NewTransport 创建收发层，opener 为空时使用 tarm/serial
func NewTransport(cfg *SerialConfig, opener PortOpener) *Transport {
	if cfg == nil {
		cfg = DefaultSerialConfig()
	}
	if opener == nil {
		opener = OpenTarmPort
	}
	return &Transport{
		cfg:    cfg,
		opener: opener,
		logger: logger.GetModuleLogger("serial"),
	}
}

// Config 串口配置
func (t *Transport) Config() *SerialConfig {
	return t.cfg
}

// Open 打开串口，name 为空时使用配置中的端口
func (t *Transport) Open(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port != nil {
		return nil
	}
	if name == "" {
		name = t.cfg.Port
	}

	cfg := *t.cfg
	cfg.Port = name
	port, err := t.opener(&cfg)
	if err != nil {
		t.logger.Error("打开串口失败",
			zap.String("port", name),
			zap.Error(err))
		return apperrors.Wrap(err, apperrors.ErrSerialPortOpen, name)
	}

	t.port = port
	t.name = name
	t.logger.Info("串口已打开",
		zap.String("port", name),
		zap.Int("baud_rate", cfg.BaudRate))
	return nil
}

// Close 关闭串口
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	if err != nil {
		t.logger.Error("关闭串口失败", zap.Error(err))
		return err
	}
	t.logger.Info("串口已关闭", zap.String("port", t.name))
	return nil
}

// IsOpen 串口是否已打开
func (t *Transport) IsOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.port != nil
}

// PortName 当前打开的端口名
func (t *Transport) PortName() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.name
}

func (t *Transport) current() (SerialPort, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.port == nil {
		return nil, apperrors.New(apperrors.ErrDeviceOffline, "serial port not connected")
	}
	return t.port, nil
}

// Reset 丢弃输入输出缓冲区
func (t *Transport) Reset() error {
	port, err := t.current()
	if err != nil {
		return err
	}
	if err := port.Flush(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrSerialPortRead, "flush")
	}
	return nil
}

// Write 写入全部字节，超过写超时返回错误
func (t *Transport) Write(data []byte) error {
	port, err := t.current()
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		n, err := port.Write(data)
		if err == nil && n != len(data) {
			err = io.ErrShortWrite
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrSerialPortWrite)
		}
		return nil
	case <-time.After(t.cfg.WriteTimeout):
		return apperrors.Newf(apperrors.ErrSerialPortWrite, "write timeout after %s", t.cfg.WriteTimeout)
	}
}

// Read 在超时内读取最多 max 字节，收到完整帧后提前返回；超时返回已收到的内容
func (t *Transport) Read(max int, timeout time.Duration) ([]byte, error) {
	port, err := t.current()
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = t.cfg.ReadTimeout
	}

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 0, max)
	chunk := make([]byte, max)

	for len(buf) < max && time.Now().Before(deadline) {
		n, err := port.Read(chunk[:max-len(buf)])
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if frameComplete(buf) {
				break
			}
		}
		if err != nil && !errors.Is(err, io.EOF) {
			// 读超时在 tarm/serial 中表现为 EOF，其余错误直接返回
			return buf, apperrors.Wrap(err, apperrors.ErrSerialPortRead)
		}
	}

	return buf, nil
}

func frameComplete(buf []byte) bool {
	return len(buf) >= MinFrameLen && len(buf) >= MinFrameLen+int(buf[1])
}
