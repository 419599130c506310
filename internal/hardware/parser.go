package hardware

import (
	"fmt"
	"strings"

	apperrors "github.com/wfunc/hopper-driver/internal/errors"
)

// 状态类型（状态应答的第一个数据字节）
const (
	StatusTagIdle        byte = 0x01
	StatusTagError       byte = 0x02
	StatusTagEmptying    byte = 0x19
	StatusTagMultiPath   byte = 0x20
	StatusTagIntelligent byte = 0x35
)

// 各应答的最小字节数
const (
	minStatusLen       = 5
	minErrorStatusLen  = 6
	minSerialLen       = 8
	minStopPaymentLen  = 6
	minProgressLen     = 13
	minIntelligentData = 5
)

// StatusKind 设备状态类别
type StatusKind string

const (
	StatusIdle        StatusKind = "idle"
	StatusError       StatusKind = "error"
	StatusEmptying    StatusKind = "emptying"
	StatusMultiPath   StatusKind = "multi_path_payout"
	StatusIntelligent StatusKind = "intelligent_payout"
)

// PayoutStatus 出币进度
type PayoutStatus struct {
	Paid       int   `json:"paid"`
	Remaining  int   `json:"remaining"`
	CoinCounts []int `json:"coin_counts"`
}

// CoinProgress 单一币种的出币进度
type CoinProgress struct {
	CoinType  int `json:"coin_type"`
	Paid      int `json:"paid"`
	Remaining int `json:"remaining"`
}

// CoinCount 币种计数
type CoinCount struct {
	CoinType int `json:"coin_type"`
	Count    int `json:"count"`
}

// DeviceStatus 状态查询(0x13)结果
type DeviceStatus struct {
	Kind      StatusKind     `json:"kind"`
	Tag       byte           `json:"tag"`
	ErrorCode byte           `json:"error_code,omitempty"`
	Errors    []string       `json:"errors,omitempty"`
	Payout    *PayoutStatus  `json:"payout,omitempty"`
	MultiPath []CoinProgress `json:"multi_path,omitempty"`
	Emptying  []CoinCount    `json:"emptying,omitempty"`
}

// Summary 状态文字描述
func (s *DeviceStatus) Summary() string {
	switch s.Kind {
	case StatusIdle:
		return "idle"
	case StatusError:
		return "error: " + strings.Join(s.Errors, ", ")
	case StatusEmptying:
		parts := make([]string, 0, len(s.Emptying))
		for _, c := range s.Emptying {
			parts = append(parts, fmt.Sprintf("type%d=%d", c.CoinType, c.Count))
		}
		if len(parts) == 0 {
			return "emptying: nothing extracted"
		}
		return "emptying: " + strings.Join(parts, ", ")
	case StatusMultiPath:
		parts := make([]string, 0, len(s.MultiPath))
		for _, c := range s.MultiPath {
			parts = append(parts, fmt.Sprintf("type%d paid=%d remaining=%d", c.CoinType, c.Paid, c.Remaining))
		}
		return "multi-path payout: " + strings.Join(parts, " | ")
	case StatusIntelligent:
		if s.Payout != nil {
			return fmt.Sprintf("intelligent payout: paid=%d remaining=%d coins=%v", s.Payout.Paid, s.Payout.Remaining, s.Payout.CoinCounts)
		}
		return "intelligent payout"
	}
	return string(s.Kind)
}

// OptoStatus 光电状态(0xEC)
type OptoStatus struct {
	Raw   byte `json:"raw"`
	Empty bool `json:"empty"`
	Full  bool `json:"full"`
}

// Summary 光电状态文字描述
func (o *OptoStatus) Summary() string {
	var parts []string
	if o.Empty {
		parts = append(parts, "empty")
	}
	if o.Full {
		parts = append(parts, "full")
	}
	if len(parts) == 0 {
		return "normal"
	}
	return strings.Join(parts, ", ")
}

// TestStatus 自检结果(0xA3)
type TestStatus struct {
	Raw   byte     `json:"raw"`
	Flags []string `json:"flags"`
}

// Summary 自检结果文字描述
func (t *TestStatus) Summary() string {
	if len(t.Flags) == 0 {
		return "normal"
	}
	return strings.Join(t.Flags, ", ")
}

// LastCommandResult 上一命令状态(0x23)
type LastCommandResult struct {
	Command byte          `json:"command"`
	Name    string        `json:"name"`
	Payout  *PayoutStatus `json:"payout,omitempty"`
	Detail  string        `json:"detail"`
}

type bitFlag struct {
	mask byte
	name string
}

var errorCodeFlags = []bitFlag{
	{0x01, "outlet detector stuck"},
	{0x02, "outlet detector active while idle"},
	{0x04, "motor permanently jammed"},
	{0x10, "outlet detector hardware fault"},
	{0x20, "photodiode fault"},
	{0x40, "encoder photo fault"},
	{0x80, "trigger photo fault"},
}

var testStatusFlags = []bitFlag{
	{0x01, "over-current"},
	{0x02, "payout timeout"},
	{0x04, "motor reversed"},
	{0x08, "photo blocked while idle"},
	{0x10, "photo short-circuit while idle"},
	{0x20, "photo blocked while paying"},
	{0x40, "hardware reset"},
	{0x80, "payout disabled"},
}

func decodeFlags(b byte, table []bitFlag) []string {
	var out []string
	for _, f := range table {
		if b&f.mask != 0 {
			out = append(out, f.name)
		}
	}
	return out
}

// ParseErrorCode 解析错误码位标志，无已知位时返回 ["unknown"]
func ParseErrorCode(code byte) []string {
	flags := decodeFlags(code, errorCodeFlags)
	if len(flags) == 0 {
		return []string{"unknown"}
	}
	return flags
}

// ParseTestFlags 解析自检位标志
func ParseTestFlags(b byte) *TestStatus {
	return &TestStatus{Raw: b, Flags: decodeFlags(b, testStatusFlags)}
}

// ParseOptoByte 解析光电状态字节
func ParseOptoByte(b byte) *OptoStatus {
	return &OptoStatus{Raw: b, Empty: b&0x01 != 0, Full: b&0x02 != 0}
}

func malformed(format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.ErrInvalidResponse, format, args...)
}

// checkResponse 校验最小长度与应答头
func checkResponse(resp []byte, minLen int) error {
	if len(resp) < minLen {
		return malformed("response too short: %d bytes, need %d", len(resp), minLen)
	}
	switch resp[3] {
	case HeaderACK:
		return nil
	case HeaderNACK:
		return apperrors.New(apperrors.ErrDeviceNack)
	default:
		return apperrors.Newf(apperrors.ErrUnknownStatus, "unrecognised header 0x%02X", resp[3])
	}
}

func be16(hi, lo byte) int {
	return int(hi)<<8 | int(lo)
}

// ParseIntelligentPayoutPayload 解析 [0x35, paidH, paidL, remH, remL, (coinH, coinL)...]
func ParseIntelligentPayoutPayload(data []byte) (*PayoutStatus, error) {
	if len(data) < minIntelligentData {
		return nil, malformed("intelligent payout data too short: %d bytes", len(data))
	}
	if data[0] != CmdIntelligentPayout {
		return nil, apperrors.Newf(apperrors.ErrWrongLastCommand, "last command was 0x%02X", data[0])
	}

	status := &PayoutStatus{
		Paid:       be16(data[1], data[2]),
		Remaining:  be16(data[3], data[4]),
		CoinCounts: []int{},
	}
	for off := 5; off+1 < len(data); off += 2 {
		status.CoinCounts = append(status.CoinCounts, be16(data[off], data[off+1]))
	}
	return status, nil
}

// ParseIntelligentPayout 从完整应答中解析智能出币进度
func ParseIntelligentPayout(resp []byte) (*PayoutStatus, error) {
	if len(resp) < MinFrameLen {
		return nil, malformed("response too short: %d bytes", len(resp))
	}
	// 数据不足声明长度时截到校验和之前，与 Decode 一致
	end := 4 + int(resp[1])
	if end > len(resp)-1 {
		end = len(resp) - 1
	}
	return ParseIntelligentPayoutPayload(resp[4:end])
}

// ParseMultiPathProgress 多路出币进度，两种币的已付/待付位于数据偏移 5..12
func ParseMultiPathProgress(resp []byte) ([]CoinProgress, error) {
	if len(resp) < minProgressLen {
		return nil, malformed("multi-path status too short: %d bytes", len(resp))
	}
	data := resp[4:]
	if len(data) < 13 {
		return nil, malformed("multi-path status data too short: %d bytes", len(data))
	}
	return []CoinProgress{
		{CoinType: 1, Paid: be16(data[5], data[6]), Remaining: be16(data[7], data[8])},
		{CoinType: 2, Paid: be16(data[9], data[10]), Remaining: be16(data[11], data[12])},
	}, nil
}

// ParseEmptyingProgress 清空进度，仅返回非零的币种计数
func ParseEmptyingProgress(resp []byte) ([]CoinCount, error) {
	if len(resp) < minProgressLen {
		return nil, malformed("emptying status too short: %d bytes", len(resp))
	}
	data := resp[4:]
	counts := []CoinCount{}
	for i := 0; i < 4; i++ {
		off := 1 + i*2
		if off+1 >= len(data) {
			break
		}
		if c := be16(data[off], data[off+1]); c != 0 {
			counts = append(counts, CoinCount{CoinType: i + 1, Count: c})
		}
	}
	return counts, nil
}

// ParseStatus 解析状态查询应答
func ParseStatus(resp []byte) (*DeviceStatus, error) {
	if err := checkResponse(resp, minStatusLen); err != nil {
		return nil, err
	}

	tag := resp[4]
	status := &DeviceStatus{Tag: tag}

	switch tag {
	case StatusTagIdle:
		status.Kind = StatusIdle
	case StatusTagError:
		if len(resp) < minErrorStatusLen {
			return nil, malformed("error status without error code")
		}
		status.Kind = StatusError
		status.ErrorCode = resp[5]
		status.Errors = ParseErrorCode(resp[5])
	case StatusTagEmptying:
		counts, err := ParseEmptyingProgress(resp)
		if err != nil {
			return nil, err
		}
		status.Kind = StatusEmptying
		status.Emptying = counts
	case StatusTagMultiPath:
		progress, err := ParseMultiPathProgress(resp)
		if err != nil {
			return nil, err
		}
		status.Kind = StatusMultiPath
		status.MultiPath = progress
	case StatusTagIntelligent:
		payout, err := ParseIntelligentPayout(resp)
		if err != nil {
			return nil, err
		}
		status.Kind = StatusIntelligent
		status.Payout = payout
	default:
		return nil, apperrors.Newf(apperrors.ErrUnknownStatus, "status type 0x%02X", tag)
	}

	return status, nil
}

// ParseOpto 解析光电状态应答
func ParseOpto(resp []byte) (*OptoStatus, error) {
	if err := checkResponse(resp, minStatusLen); err != nil {
		return nil, err
	}
	return ParseOptoByte(resp[4]), nil
}

// ParseTestHopper 解析自检应答
func ParseTestHopper(resp []byte) (*TestStatus, error) {
	if err := checkResponse(resp, minStatusLen); err != nil {
		return nil, err
	}
	return ParseTestFlags(resp[4]), nil
}

// ParseSerialNumber 序列号为数据的前三个字节
func ParseSerialNumber(resp []byte) ([]byte, error) {
	if err := checkResponse(resp, minSerialLen); err != nil {
		return nil, err
	}
	serial := make([]byte, 3)
	copy(serial, resp[4:7])
	return serial, nil
}

// ParseStopPayment 返回未支付的 1 号币数量
func ParseStopPayment(resp []byte) (int, error) {
	if err := checkResponse(resp, minStopPaymentLen); err != nil {
		return 0, err
	}
	return int(resp[4]), nil
}

// ParseLastCommandStatus 解析上一命令状态应答
func ParseLastCommandStatus(resp []byte) (*LastCommandResult, error) {
	if err := checkResponse(resp, minStatusLen); err != nil {
		return nil, err
	}

	last := resp[4]
	result := &LastCommandResult{Command: last, Name: CommandName(last)}
	if last == CmdIntelligentPayout {
		payout, err := ParseIntelligentPayout(resp)
		if err != nil {
			return nil, err
		}
		result.Payout = payout
		result.Detail = fmt.Sprintf("paid=%d remaining=%d", payout.Paid, payout.Remaining)
		return result, nil
	}
	result.Detail = "completed (no detail)"
	return result, nil
}
