package hardware

import (
	"fmt"
	"strings"
	"sync"

	"github.com/wfunc/hopper-driver/internal/logger"
)

// ByteOrder 金额字段的字节序
type ByteOrder int

const (
	ByteOrderMSB ByteOrder = iota // 高位在前（默认）
	ByteOrderLSB                  // 低位在前
)

// String 字节序名称
func (o ByteOrder) String() string {
	if o == ByteOrderLSB {
		return "lsb"
	}
	return "msb"
}

// ParseByteOrder 解析 msb/lsb
func ParseByteOrder(s string) (ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "msb":
		return ByteOrderMSB, nil
	case "lsb":
		return ByteOrderLSB, nil
	}
	return ByteOrderMSB, fmt.Errorf("unknown byte order %q", s)
}

// PutAmount 按字节序编码 16 位金额
func (o ByteOrder) PutAmount(amount int) []byte {
	hi, lo := byte(amount>>8), byte(amount)
	if o == ByteOrderLSB {
		return []byte{lo, hi}
	}
	return []byte{hi, lo}
}

// Session 单个设备的会话状态，由控制器独占持有
type Session struct {
	mu sync.RWMutex

	address          byte
	enabled          bool
	serialNumber     []byte
	connectionTested bool
	byteOrder        ByteOrder
	byteOrderLearned bool
	mode             string
}

// SessionInfo 会话快照
type SessionInfo struct {
	Address          byte   `json:"address"`
	Enabled          bool   `json:"enabled"`
	SerialNumber     string `json:"serial_number,omitempty"`
	ConnectionTested bool   `json:"connection_tested"`
	ByteOrder        string `json:"byte_order"`
	ByteOrderLearned bool   `json:"byte_order_learned"`
	Mode             string `json:"mode"`
}

// NewSession 创建会话
func NewSession(address byte, order ByteOrder, mode string) *Session {
	return &Session{address: address, byteOrder: order, mode: mode}
}

// Address 设备地址
func (s *Session) Address() byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.address
}

// Enabled 设备是否已启用
func (s *Session) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

func (s *Session) setEnabled(v bool) {
	s.mu.Lock()
	s.enabled = v
	s.mu.Unlock()
}

// SerialNumber 缓存的序列号
func (s *Session) SerialNumber() ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.serialNumber == nil {
		return nil, false
	}
	out := make([]byte, len(s.serialNumber))
	copy(out, s.serialNumber)
	return out, true
}

func (s *Session) setSerialNumber(sn []byte) {
	s.mu.Lock()
	s.serialNumber = append([]byte(nil), sn...)
	s.mu.Unlock()
}

// ConnectionTested 通信诊断是否通过
func (s *Session) ConnectionTested() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectionTested
}

func (s *Session) setConnectionTested(v bool) {
	s.mu.Lock()
	s.connectionTested = v
	s.mu.Unlock()
}

// ByteOrder 当前金额字节序
func (s *Session) ByteOrder() ByteOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byteOrder
}

// learnMSB 设备按高位在前解读金额时切换为 MSB，只生效一次；已是 MSB 时不变
func (s *Session) learnMSB() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byteOrderLearned || s.byteOrder == ByteOrderMSB {
		return false
	}
	s.byteOrder = ByteOrderMSB
	s.byteOrderLearned = true
	return true
}

// Mode 运行模式（仅作展示）
func (s *Session) Mode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode 设置运行模式
func (s *Session) SetMode(mode string) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

// reset 断开连接后清除设备侧状态，重连可能是另一台设备，序列号需重新获取；已学习的字节序保留
func (s *Session) reset() {
	s.mu.Lock()
	s.enabled = false
	s.connectionTested = false
	s.serialNumber = nil
	s.mu.Unlock()
}

// Info 会话快照
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := SessionInfo{
		Address:          s.address,
		Enabled:          s.enabled,
		ConnectionTested: s.connectionTested,
		ByteOrder:        s.byteOrder.String(),
		ByteOrderLearned: s.byteOrderLearned,
		Mode:             s.mode,
	}
	if s.serialNumber != nil {
		info.SerialNumber = logger.HexBytes(s.serialNumber)
	}
	return info
}
