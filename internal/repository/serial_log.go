package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wfunc/hopper-driver/internal/logger"
	"github.com/wfunc/hopper-driver/internal/models"
	"gorm.io/gorm"
)

// 允许的排序字段
var serialLogOrderColumns = map[string]bool{
	"created_at": true,
	"duration":   true,
	"command":    true,
	"result":     true,
	"id":         true,
}

// SerialLogRepository 串口日志仓库
type SerialLogRepository struct {
	*BaseRepo
}

// NewSerialLogRepository 创建串口日志仓库
func NewSerialLogRepository(db *gorm.DB) *SerialLogRepository {
	return &SerialLogRepository{BaseRepo: NewBaseRepo(db)}
}

// Create 创建日志记录
func (r *SerialLogRepository) Create(ctx context.Context, log *models.SerialLog) error {
	start := time.Now()
	err := r.db.WithContext(ctx).Create(log).Error
	logger.LogDatabaseOperation("create", "serial_logs", time.Since(start), err)
	return err
}

// CreateBatch 批量创建日志记录
func (r *SerialLogRepository) CreateBatch(ctx context.Context, logs []*models.SerialLog) error {
	if len(logs) == 0 {
		return nil
	}
	start := time.Now()
	err := r.db.WithContext(ctx).CreateInBatches(logs, 100).Error
	logger.LogDatabaseOperation("create_batch", "serial_logs", time.Since(start), err)
	return err
}

// GetByRequestID 根据请求ID获取日志
func (r *SerialLogRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.SerialLog, error) {
	var logs []*models.SerialLog
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}

// Query 查询日志
func (r *SerialLogRepository) Query(ctx context.Context, query *models.SerialLogQuery) ([]*models.SerialLog, int64, error) {
	db := r.db.WithContext(ctx).Model(&models.SerialLog{})

	if query.Command != "" {
		if code, ok := parseCommandCode(query.Command); ok {
			db = db.Where("command = ?", code)
		} else {
			db = db.Where("command_name = ?", query.Command)
		}
	}
	if query.Result != "" {
		db = db.Where("result = ?", query.Result)
	}
	if query.SessionID != "" {
		db = db.Where("session_id = ?", query.SessionID)
	}
	if query.RequestID != "" {
		db = db.Where("request_id = ?", query.RequestID)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", *query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", *query.EndTime)
	}
	if query.HasError != nil {
		if *query.HasError {
			db = db.Where("error_msg IS NOT NULL AND error_msg != ''")
		} else {
			db = db.Where("error_msg IS NULL OR error_msg = ''")
		}
	}

	// 获取总数
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	db = db.Order(orderClause(query.OrderBy))

	// 分页
	if query.Limit > 0 {
		db = db.Limit(query.Limit)
	}
	if query.Offset > 0 {
		db = db.Offset(query.Offset)
	}

	var logs []*models.SerialLog
	if err := db.Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// orderClause 只接受白名单字段，默认按时间倒序
func orderClause(orderBy string) string {
	fields := strings.Fields(strings.ToLower(orderBy))
	if len(fields) == 0 || !serialLogOrderColumns[fields[0]] {
		return "created_at DESC, id DESC"
	}
	dir := "DESC"
	if len(fields) > 1 && fields[1] == "asc" {
		dir = "ASC"
	}
	return fields[0] + " " + dir
}

func parseCommandCode(s string) (int, bool) {
	if !strings.HasPrefix(strings.ToLower(s), "0x") {
		return 0, false
	}
	v, err := strconv.ParseUint(s[2:], 16, 8)
	if err != nil {
		return 0, false
	}
	return int(v), true
}

// GetStats 获取统计信息
func (r *SerialLogRepository) GetStats(ctx context.Context, startTime, endTime *time.Time) (*models.SerialLogStats, error) {
	stats := &models.SerialLogStats{
		ByResult:  make(map[string]int64),
		ByCommand: make(map[string]int64),
	}

	scoped := func() *gorm.DB {
		db := r.db.WithContext(ctx).Model(&models.SerialLog{})
		if startTime != nil {
			db = db.Where("created_at >= ?", *startTime)
		}
		if endTime != nil {
			db = db.Where("created_at <= ?", *endTime)
		}
		return db
	}

	if err := scoped().Count(&stats.TotalCount).Error; err != nil {
		return nil, err
	}

	// 按结果统计
	var byResult []struct {
		Result string
		Total  int64
	}
	if err := scoped().Select("result, COUNT(*) as total").Group("result").Scan(&byResult).Error; err != nil {
		return nil, err
	}
	for _, row := range byResult {
		stats.ByResult[row.Result] = row.Total
	}

	// 按命令统计
	var byCommand []struct {
		CommandName string
		Total       int64
	}
	if err := scoped().Select("command_name, COUNT(*) as total").Group("command_name").Scan(&byCommand).Error; err != nil {
		return nil, err
	}
	for _, row := range byCommand {
		stats.ByCommand[row.CommandName] = row.Total
	}

	// 错误统计
	if err := scoped().
		Where("error_msg IS NOT NULL AND error_msg != ''").
		Count(&stats.TotalErrors).Error; err != nil {
		return nil, err
	}

	// 性能统计
	var durationStats struct {
		AvgDuration float64
		MaxDuration int64
		MinDuration int64
	}
	if err := scoped().
		Select("COALESCE(AVG(duration), 0) as avg_duration, COALESCE(MAX(duration), 0) as max_duration, COALESCE(MIN(duration), 0) as min_duration").
		Where("duration > 0").
		Scan(&durationStats).Error; err != nil {
		return nil, err
	}
	stats.AvgDuration = durationStats.AvgDuration
	stats.MaxDuration = durationStats.MaxDuration
	stats.MinDuration = durationStats.MinDuration

	return stats, nil
}

// DeleteOlderThan 删除指定时间之前的日志
func (r *SerialLogRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	start := time.Now()
	result := r.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.SerialLog{})
	logger.LogDatabaseOperation("delete", "serial_logs", time.Since(start), result.Error)
	return result.RowsAffected, result.Error
}

// CleanupLogs 清理日志（保留最近N天的数据）
func (r *SerialLogRepository) CleanupLogs(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be greater than 0")
	}
	return r.DeleteOlderThan(ctx, time.Now().AddDate(0, 0, -retentionDays))
}
