package service

import (
	"context"
	"time"

	"github.com/wfunc/hopper-driver/internal/hardware"
	"github.com/wfunc/hopper-driver/internal/models"
)

// RecordService 收发与出币记录服务接口
type RecordService interface {
	hardware.Recorder

	// 查询
	Query(ctx context.Context, query *models.SerialLogQuery) ([]*models.SerialLog, int64, error)
	GetStats(ctx context.Context, startTime, endTime *time.Time) (*models.SerialLogStats, error)
	ListPayouts(ctx context.Context, limit int, mode models.PayoutMode) ([]*models.PayoutRecord, error)
	PayoutTotals(ctx context.Context, since *time.Time) (*models.PayoutTotals, error)

	// 维护
	CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error)
	Flush()
	Close()
}

var _ RecordService = (*SerialLogService)(nil)
