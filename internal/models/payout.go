package models

import "time"

// PayoutMode 出币方式
type PayoutMode string

const (
	PayoutModeIntelligent PayoutMode = "intelligent"
	PayoutModeMultiPath   PayoutMode = "multi_path"
)

// PayoutRecord 一次出币请求
type PayoutRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`
	RequestID string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"request_id"`

	Mode   PayoutMode `gorm:"type:varchar(20);index;not null" json:"mode"`
	Amount int        `gorm:"default:0" json:"amount,omitempty"`
	Path   int        `gorm:"default:0" json:"path,omitempty"`
	Count  int        `gorm:"default:0" json:"count,omitempty"`

	// 出币后状态查询得到的进度
	Paid       int     `gorm:"default:0" json:"paid"`
	Remaining  int     `gorm:"default:0" json:"remaining"`
	CoinCounts IntList `gorm:"type:text" json:"coin_counts"`

	ByteOrder          string     `gorm:"type:varchar(10)" json:"byte_order,omitempty"`
	ByteOrderCorrected bool       `gorm:"default:false" json:"byte_order_corrected"`
	Anomalies          StringList `gorm:"type:text" json:"anomalies"`
	AutoStopped        bool       `gorm:"default:false" json:"auto_stopped"`

	Success  bool   `gorm:"index" json:"success"`
	Response string `gorm:"type:varchar(255)" json:"response,omitempty"`
	ErrorMsg string `gorm:"type:text" json:"error_msg,omitempty"`
}

// TableName 指定表名
func (PayoutRecord) TableName() string {
	return "payout_records"
}

// PayoutTotals 出币汇总
type PayoutTotals struct {
	Count          int64 `json:"count"`
	Succeeded      int64 `json:"succeeded"`
	Failed         int64 `json:"failed"`
	TotalRequested int64 `json:"total_requested"`
	TotalPaid      int64 `json:"total_paid"`
	Anomalous      int64 `json:"anomalous"`
}
