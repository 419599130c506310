package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// SerialLogLevel 日志级别
type SerialLogLevel string

const (
	SerialLogLevelInfo  SerialLogLevel = "INFO"
	SerialLogLevelWarn  SerialLogLevel = "WARN"
	SerialLogLevelError SerialLogLevel = "ERROR"
)

// IntList 以 JSON 存储的整数列表
type IntList []int

// Value 实现 driver.Valuer 接口
func (l IntList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

// Scan 实现 sql.Scanner 接口
func (l *IntList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// StringList 以 JSON 存储的字符串列表
type StringList []string

// Value 实现 driver.Valuer 接口
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

// Scan 实现 sql.Scanner 接口
func (l *StringList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

func scanJSON(value interface{}, dst interface{}) error {
	var bytes []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}
	if len(bytes) == 0 {
		return nil
	}
	return json.Unmarshal(bytes, dst)
}

// SerialLog 一次串口收发
type SerialLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`

	// 命令
	Command     int    `gorm:"index;not null" json:"command"`
	CommandName string `gorm:"type:varchar(50);index" json:"command_name"`
	Address     int    `json:"address"`

	// 数据
	TxHex      string `gorm:"type:text" json:"tx_hex"`
	RxHex      string `gorm:"type:text" json:"rx_hex,omitempty"`
	BytesCount int    `gorm:"default:0" json:"bytes_count"` // 收到的字节数
	Header     string `gorm:"type:varchar(10)" json:"header,omitempty"`

	// 结果
	Result   string         `gorm:"type:varchar(20);index;not null" json:"result"` // ok|timeout|nack|error|blocked
	Level    SerialLogLevel `gorm:"type:varchar(10);default:INFO" json:"level"`
	ErrorMsg string         `gorm:"type:text" json:"error_msg,omitempty"`

	// 关联信息
	RequestID string `gorm:"type:varchar(100);index" json:"request_id,omitempty"`
	SessionID string `gorm:"type:varchar(100);index" json:"session_id,omitempty"`

	Duration  int64 `gorm:"default:0" json:"duration"` // 毫秒
	Timestamp int64 `gorm:"index" json:"timestamp"`    // Unix 毫秒
}

// TableName 指定表名
func (SerialLog) TableName() string {
	return "serial_logs"
}

// SerialLogQuery 查询参数
type SerialLogQuery struct {
	Command   string     `form:"command" json:"command,omitempty"` // 命令名称或 0x13 形式
	Result    string     `form:"result" json:"result,omitempty"`
	SessionID string     `form:"session_id" json:"session_id,omitempty"`
	RequestID string     `form:"request_id" json:"request_id,omitempty"`
	StartTime *time.Time `form:"start_time" time_format:"2006-01-02T15:04:05Z07:00" json:"start_time,omitempty"`
	EndTime   *time.Time `form:"end_time" time_format:"2006-01-02T15:04:05Z07:00" json:"end_time,omitempty"`
	HasError  *bool      `form:"has_error" json:"has_error,omitempty"`
	Limit     int        `form:"limit" json:"limit,omitempty"`
	Offset    int        `form:"offset" json:"offset,omitempty"`
	OrderBy   string     `form:"order_by" json:"order_by,omitempty"`
}

// SerialLogStats 统计信息
type SerialLogStats struct {
	TotalCount  int64            `json:"total_count"`
	ByResult    map[string]int64 `json:"by_result"`
	ByCommand   map[string]int64 `json:"by_command"`
	TotalErrors int64            `json:"total_errors"`
	AvgDuration float64          `json:"avg_duration"`
	MaxDuration int64            `json:"max_duration"`
	MinDuration int64            `json:"min_duration"`
}
