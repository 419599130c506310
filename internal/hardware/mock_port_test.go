package hardware

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockHopperPort 模拟退币器串口，按命令码生成应答
type MockHopperPort struct {
	mock.Mock
	mu         sync.Mutex
	readBuffer bytes.Buffer
	isOpen     bool
	address    byte

	handlers map[byte]func(req *Frame) []byte
	silent   map[byte]bool

	writtenFrames [][]byte
	flushCount    int

	// 检测收发交叠
	inFlight    int32
	maxInFlight int32
}

// NewMockHopperPort 创建默认应答全部正常的模拟串口
func NewMockHopperPort() *MockHopperPort {
	m := &MockHopperPort{
		isOpen:   true,
		address:  DefaultAddress,
		handlers: make(map[byte]func(*Frame) []byte),
		silent:   make(map[byte]bool),
	}
	m.setupDefaultResponses()
	return m
}

// reply 构造设备应答帧 [0x01, len, addr, header, data..., chk]
func reply(addr, header byte, data ...byte) []byte {
	frame := []byte{HostAddress, byte(len(data)), addr, header}
	frame = append(frame, data...)
	return append(frame, Checksum(frame))
}

func (m *MockHopperPort) ack(data ...byte) func(*Frame) []byte {
	return func(*Frame) []byte { return reply(m.address, HeaderACK, data...) }
}

func (m *MockHopperPort) setupDefaultResponses() {
	m.handlers[CmdSimplePoll] = m.ack()
	m.handlers[CmdManufacturerID] = m.ack('T', 'S', 'T')
	m.handlers[CmdEquipmentCategory] = m.ack('P', 'a', 'y', 'o', 'u', 't')
	m.handlers[CmdProductCode] = m.ack('H', '6')
	m.handlers[CmdSerialNumber] = m.ack(0x12, 0x34, 0x56)
	m.handlers[CmdEnableHopper] = m.ack()
	m.handlers[CmdRequestStatus] = m.ack(StatusTagIdle)
	m.handlers[CmdOptoStatus] = m.ack(0x00)
	m.handlers[CmdTestHopper] = m.ack(0x00)
	m.handlers[CmdStopPayment] = m.ack(0x02)
	m.handlers[CmdCancel] = m.ack()
	m.handlers[CmdLastCommandStatus] = m.ack(CmdRequestStatus)
	m.handlers[CmdIntelligentPayout] = m.ack()
	m.handlers[CmdMultiPathPayout] = m.ack()
}

// SetHandler 替换某个命令的应答
func (m *MockHopperPort) SetHandler(cmd byte, fn func(req *Frame) []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[cmd] = fn
	delete(m.silent, cmd)
}

// SetResponse 为某个命令设置固定应答
func (m *MockHopperPort) SetResponse(cmd byte, resp []byte) {
	m.SetHandler(cmd, func(*Frame) []byte { return resp })
}

// Silence 让某个命令无应答
func (m *MockHopperPort) Silence(cmd byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.silent[cmd] = true
}

// Write 写入数据并生成应答
func (m *MockHopperPort) Write(data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isOpen {
		return 0, fmt.Errorf("port closed")
	}
	m.writtenFrames = append(m.writtenFrames, append([]byte(nil), data...))

	if f, err := Decode(data); err == nil && !m.silent[f.Header] {
		if fn, ok := m.handlers[f.Header]; ok {
			if resp := fn(f); resp != nil {
				m.readBuffer.Write(resp)
			}
		}
	}

	// 只在设置了期望时调用mock
	if len(m.ExpectedCalls) > 0 {
		m.Called(data)
	}
	return len(data), nil
}

// Read 读取数据，无数据时模拟一次短暂的读超时
func (m *MockHopperPort) Read(data []byte) (int, error) {
	m.mu.Lock()
	if !m.isOpen {
		m.mu.Unlock()
		return 0, fmt.Errorf("port closed")
	}
	if m.readBuffer.Len() > 0 {
		n, err := m.readBuffer.Read(data)
		if m.readBuffer.Len() == 0 {
			atomic.AddInt32(&m.inFlight, -1)
		}
		m.mu.Unlock()
		return n, err
	}
	m.mu.Unlock()

	time.Sleep(time.Millisecond)
	return 0, io.EOF
}

// Close 关闭端口
func (m *MockHopperPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isOpen = false
	if len(m.ExpectedCalls) > 0 {
		m.Called()
	}
	return nil
}

// Flush 清空缓冲区，标记一次收发开始
func (m *MockHopperPort) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isOpen {
		return fmt.Errorf("port closed")
	}
	if m.readBuffer.Len() > 0 {
		atomic.AddInt32(&m.inFlight, -1)
	}
	m.readBuffer.Reset()
	m.flushCount++

	n := atomic.AddInt32(&m.inFlight, 1)
	for {
		max := atomic.LoadInt32(&m.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&m.maxInFlight, max, n) {
			break
		}
	}
	return nil
}

// WrittenFrames 已写入的帧
func (m *MockHopperPort) WrittenFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.writtenFrames...)
}

// WrittenCommands 已写入帧的命令码
func (m *MockHopperPort) WrittenCommands() []byte {
	var cmds []byte
	for _, f := range m.WrittenFrames() {
		if len(f) >= 4 {
			cmds = append(cmds, f[3])
		}
	}
	return cmds
}

// CountCommand 某命令被写入的次数
func (m *MockHopperPort) CountCommand(cmd byte) int {
	n := 0
	for _, c := range m.WrittenCommands() {
		if c == cmd {
			n++
		}
	}
	return n
}

// FlushCount 清空缓冲区的次数
func (m *MockHopperPort) FlushCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushCount
}

// MaxInFlight 同时进行中的收发数峰值
func (m *MockHopperPort) MaxInFlight() int32 {
	return atomic.LoadInt32(&m.maxInFlight)
}

// IsClosed 端口是否已关闭
func (m *MockHopperPort) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.isOpen
}

// openerFor 返回总是打开给定模拟串口的 opener
func openerFor(port SerialPort) PortOpener {
	return func(*SerialConfig) (SerialPort, error) { return port, nil }
}

// testSerialConfig 读超时很短的测试配置
func testSerialConfig() *SerialConfig {
	cfg := DefaultSerialConfig()
	cfg.Port = "/dev/ttyTEST0"
	cfg.ReadTimeout = 50 * time.Millisecond
	cfg.WriteTimeout = 50 * time.Millisecond
	return cfg
}

func noSleep(time.Duration) {}
