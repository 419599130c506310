package hardware

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/wfunc/hopper-driver/internal/errors"
)

// 帧定义
const (
	HostAddress    byte = 0x01 // 主机地址（帧的源地址）
	DefaultAddress byte = 0x03 // 退币器默认地址
	MinFrameLen         = 5    // 目的(1) + 长度(1) + 源(1) + 命令/应答头(1) + 校验和(1)
	MaxResponseLen      = 256
	MaxPayloadLen       = 0xFF // 长度字节只有 1 字节
)

// 应答头
const (
	HeaderACK  byte = 0x00
	HeaderNACK byte = 0x05
)

// 命令码定义
const (
	CmdSimplePoll        byte = 0xFE // 简单轮询
	CmdManufacturerID    byte = 0xF6 // 厂商标识
	CmdEquipmentCategory byte = 0xF5 // 设备类别
	CmdProductCode       byte = 0xF4 // 产品代码
	CmdSerialNumber      byte = 0xF2 // 序列号
	CmdOptoStatus        byte = 0xEC // 光电状态
	CmdStopPayment       byte = 0xAC // 停止出币
	CmdDispense          byte = 0xA7 // 出币（保留，驱动不主动发送）
	CmdEnableHopper      byte = 0xA4 // 启用/禁用
	CmdTestHopper        byte = 0xA3 // 自检
	CmdIntelligentPayout byte = 0x35 // 智能出币
	CmdLastCommandStatus byte = 0x23 // 上一命令状态
	CmdMultiPathPayout   byte = 0x20 // 多路出币
	CmdCancel            byte = 0x15 // 取消
	CmdRequestStatus     byte = 0x13 // 状态查询
)

// 启用命令参数
const (
	EnableCode  byte = 0xA5
	DisableCode byte = 0x00
)

var commandNames = map[byte]string{
	CmdSimplePoll:        "simple_poll",
	CmdManufacturerID:    "manufacturer_id",
	CmdEquipmentCategory: "equipment_category",
	CmdProductCode:       "product_code",
	CmdSerialNumber:      "serial_number",
	CmdOptoStatus:        "opto_status",
	CmdStopPayment:       "stop_payment",
	CmdDispense:          "dispense",
	CmdEnableHopper:      "enable_hopper",
	CmdTestHopper:        "test_hopper",
	CmdIntelligentPayout: "intelligent_payout",
	CmdLastCommandStatus: "last_command_status",
	CmdMultiPathPayout:   "multi_path_payout",
	CmdCancel:            "cancel",
	CmdRequestStatus:     "request_status",
}

// CommandName 返回命令名称，未知命令返回十六进制形式
func CommandName(cmd byte) string {
	if name, ok := commandNames[cmd]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", cmd)
}

// IsPayoutCommand 出币类命令发送前设备必须处于启用状态
func IsPayoutCommand(cmd byte) bool {
	switch cmd {
	case CmdIntelligentPayout, CmdMultiPathPayout, CmdDispense:
		return true
	}
	return false
}

// Frame 协议帧
type Frame struct {
	Dest     byte   // 目的地址
	Length   byte   // 数据长度（声明值）
	Source   byte   // 源地址
	Header   byte   // 命令码或应答头
	Payload  []byte // 按长度字段截取的数据
	Data     []byte // 应答头之后的全部字节（含校验和）
	Checksum byte
	Raw      []byte
}

// Checksum 计算校验和，使全部字节之和为 0 (mod 256)
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return byte(0x100 - int(sum))
}

// Encode 编码请求帧
func Encode(address, command byte, payload []byte) []byte {
	frame := make([]byte, 0, MinFrameLen+len(payload))
	frame = append(frame, address, byte(len(payload)), HostAddress, command)
	frame = append(frame, payload...)
	return append(frame, Checksum(frame))
}

// Decode 解析原始字节，不校验校验和
func Decode(raw []byte) (*Frame, error) {
	if len(raw) < MinFrameLen {
		return nil, apperrors.Newf(apperrors.ErrInvalidResponse, "frame too short: %d bytes", len(raw))
	}

	f := &Frame{
		Dest:     raw[0],
		Length:   raw[1],
		Source:   raw[2],
		Header:   raw[3],
		Data:     raw[4:],
		Checksum: raw[len(raw)-1],
		Raw:      raw,
	}

	// 长度字段可能与实际到达的字节数不一致，以实际为准截取
	end := 4 + int(f.Length)
	if end > len(raw)-1 {
		end = len(raw) - 1
	}
	f.Payload = raw[4:end]

	return f, nil
}

// VerifyChecksum 检查帧全部字节之和是否为 0 (mod 256)
func VerifyChecksum(raw []byte) bool {
	if len(raw) < MinFrameLen {
		return false
	}
	var sum byte
	for _, b := range raw {
		sum += b
	}
	return sum == 0
}

// IsACK 应答头为 0x00
func (f *Frame) IsACK() bool {
	return f.Header == HeaderACK
}

// IsNACK 应答头为 0x05
func (f *Frame) IsNACK() bool {
	return f.Header == HeaderNACK
}

// String 帧摘要
func (f *Frame) String() string {
	return fmt.Sprintf("dest=0x%02X len=%d src=0x%02X header=0x%02X", f.Dest, f.Length, f.Source, f.Header)
}

// ParseCommand 解析命令码，支持 "0xA4"、"A4h"、"164" 以及命令名称
func ParseCommand(s string) (byte, error) {
	orig := s
	s = strings.TrimSpace(s)
	for code, name := range commandNames {
		if strings.EqualFold(s, name) {
			return code, nil
		}
	}

	base := 10
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "0x"):
		s, base = s[2:], 16
	case strings.HasSuffix(lower, "h"):
		s, base = s[:len(s)-1], 16
	}
	v, err := strconv.ParseUint(s, base, 8)
	if err != nil {
		return 0, apperrors.Newf(apperrors.ErrInvalidParam, "invalid command %q", orig)
	}
	return byte(v), nil
}

// ParseHexBytes 解析十六进制字节串，允许空格、短横线和冒号分隔
func ParseHexBytes(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", "-", "", ":", "", "\t", "").Replace(strings.TrimSpace(s))
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	if clean == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidParam, "invalid hex payload %q", s)
	}
	if len(b) > MaxPayloadLen {
		return nil, apperrors.Newf(apperrors.ErrInvalidParam, "payload too long: %d bytes, max %d", len(b), MaxPayloadLen)
	}
	return b, nil
}
