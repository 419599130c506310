package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/hopper-driver/internal/errors"
	"github.com/wfunc/hopper-driver/internal/middleware"
	"github.com/wfunc/hopper-driver/internal/models"
)

// RecordStore 收发日志与出币记录查询
type RecordStore interface {
	Query(ctx context.Context, query *models.SerialLogQuery) ([]*models.SerialLog, int64, error)
	GetStats(ctx context.Context, startTime, endTime *time.Time) (*models.SerialLogStats, error)
	ListPayouts(ctx context.Context, limit int, mode models.PayoutMode) ([]*models.PayoutRecord, error)
	PayoutTotals(ctx context.Context, since *time.Time) (*models.PayoutTotals, error)
	CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error)
}

// SerialLogAPI 串口日志API
type SerialLogAPI struct {
	store RecordStore
}

// NewSerialLogAPI 创建串口日志API
func NewSerialLogAPI(store RecordStore) *SerialLogAPI {
	return &SerialLogAPI{store: store}
}

// RegisterRoutes 注册路由
func (api *SerialLogAPI) RegisterRoutes(router *gin.RouterGroup) {
	logs := router.Group("/serial-logs")
	{
		logs.GET("", api.QueryLogs)            // 查询日志列表
		logs.GET("/stats", api.GetStats)       // 获取统计信息
		logs.POST("/cleanup", api.CleanupLogs) // 清理旧日志
	}

	payouts := router.Group("/payouts")
	{
		payouts.GET("", api.ListPayouts)
		payouts.GET("/totals", api.PayoutTotals)
	}
}

// timeRange 统计接口的时间范围参数
type timeRange struct {
	StartTime *time.Time `form:"start_time" time_format:"2006-01-02T15:04:05Z07:00"`
	EndTime   *time.Time `form:"end_time" time_format:"2006-01-02T15:04:05Z07:00"`
}

// QueryLogs 查询日志列表
func (api *SerialLogAPI) QueryLogs(c *gin.Context) {
	query := &models.SerialLogQuery{Limit: 20}
	if err := c.ShouldBindQuery(query); err != nil {
		middleware.Fail(c, apperrors.New(apperrors.ErrInvalidParam, err.Error()))
		return
	}
	if query.Limit <= 0 || query.Limit > 1000 {
		query.Limit = 20
	}

	logs, total, err := api.store.Query(c.Request.Context(), query)
	if err != nil {
		middleware.Fail(c, apperrors.New(apperrors.ErrDatabaseQuery).WithCause(err))
		return
	}

	middleware.Success(c, "", gin.H{
		"logs":   logs,
		"total":  total,
		"limit":  query.Limit,
		"offset": query.Offset,
	})
}

// GetStats 获取统计信息
func (api *SerialLogAPI) GetStats(c *gin.Context) {
	var tr timeRange
	if err := c.ShouldBindQuery(&tr); err != nil {
		middleware.Fail(c, apperrors.New(apperrors.ErrInvalidParam, err.Error()))
		return
	}

	stats, err := api.store.GetStats(c.Request.Context(), tr.StartTime, tr.EndTime)
	if err != nil {
		middleware.Fail(c, apperrors.New(apperrors.ErrDatabaseQuery).WithCause(err))
		return
	}
	middleware.Success(c, "", stats)
}

// CleanupRequest 清理请求
type CleanupRequest struct {
	RetentionDays int `json:"retention_days" binding:"required,min=1"`
}

// CleanupLogs 清理旧日志
func (api *SerialLogAPI) CleanupLogs(c *gin.Context) {
	var req CleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperrors.New(apperrors.ErrInvalidParam, err.Error()))
		return
	}

	deleted, err := api.store.CleanupOldLogs(c.Request.Context(), req.RetentionDays)
	if err != nil {
		middleware.Fail(c, apperrors.New(apperrors.ErrDatabaseDelete).WithCause(err))
		return
	}
	middleware.Success(c, "", gin.H{"deleted": deleted})
}

// payoutQuery 出币记录查询参数
type payoutQuery struct {
	Limit int    `form:"limit"`
	Mode  string `form:"mode" binding:"omitempty,oneof=intelligent multi_path"`
}

// ListPayouts 最近的出币记录
func (api *SerialLogAPI) ListPayouts(c *gin.Context) {
	var q payoutQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.Fail(c, apperrors.New(apperrors.ErrInvalidParam, err.Error()))
		return
	}

	records, err := api.store.ListPayouts(c.Request.Context(), q.Limit, models.PayoutMode(q.Mode))
	if err != nil {
		middleware.Fail(c, apperrors.New(apperrors.ErrDatabaseQuery).WithCause(err))
		return
	}
	middleware.Success(c, "", records)
}

// PayoutTotals 出币汇总
func (api *SerialLogAPI) PayoutTotals(c *gin.Context) {
	var tr timeRange
	if err := c.ShouldBindQuery(&tr); err != nil {
		middleware.Fail(c, apperrors.New(apperrors.ErrInvalidParam, err.Error()))
		return
	}

	totals, err := api.store.PayoutTotals(c.Request.Context(), tr.StartTime)
	if err != nil {
		middleware.Fail(c, apperrors.New(apperrors.ErrDatabaseQuery).WithCause(err))
		return
	}
	middleware.Success(c, "", totals)
}
