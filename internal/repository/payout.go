package repository

import (
	"context"
	"time"

	"github.com/wfunc/hopper-driver/internal/logger"
	"github.com/wfunc/hopper-driver/internal/models"
	"gorm.io/gorm"
)

// PayoutRepository 出币记录仓库
type PayoutRepository struct {
	*BaseRepo
}

// NewPayoutRepository 创建出币记录仓库
func NewPayoutRepository(db *gorm.DB) *PayoutRepository {
	return &PayoutRepository{BaseRepo: NewBaseRepo(db)}
}

// Create 创建出币记录
func (r *PayoutRepository) Create(ctx context.Context, record *models.PayoutRecord) error {
	start := time.Now()
	err := r.db.WithContext(ctx).Create(record).Error
	logger.LogDatabaseOperation("create", "payout_records", time.Since(start), err)
	return err
}

// GetByRequestID 根据请求ID获取出币记录
func (r *PayoutRepository) GetByRequestID(ctx context.Context, requestID string) (*models.PayoutRecord, error) {
	var record models.PayoutRecord
	if err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// ListRecent 最近的出币记录，mode 为空时不过滤
func (r *PayoutRepository) ListRecent(ctx context.Context, limit int, mode models.PayoutMode) ([]*models.PayoutRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	db := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit)
	if mode != "" {
		db = db.Where("mode = ?", mode)
	}
	var records []*models.PayoutRecord
	err := db.Find(&records).Error
	return records, err
}

// List 分页查询出币记录
func (r *PayoutRepository) List(ctx context.Context, p *Pagination) ([]*models.PayoutRecord, error) {
	db := r.db.WithContext(ctx).Model(&models.PayoutRecord{})
	if err := db.Count(&p.Total).Error; err != nil {
		return nil, err
	}
	var records []*models.PayoutRecord
	err := db.Order("created_at DESC, id DESC").Scopes(Paginate(p)).Find(&records).Error
	return records, err
}

// Totals 汇总出币数据，since 为空时统计全部
func (r *PayoutRepository) Totals(ctx context.Context, since *time.Time) (*models.PayoutTotals, error) {
	scoped := func() *gorm.DB {
		db := r.db.WithContext(ctx).Model(&models.PayoutRecord{})
		if since != nil {
			db = db.Where("created_at >= ?", *since)
		}
		return db
	}

	totals := &models.PayoutTotals{}
	var sums struct {
		Count          int64
		Succeeded      int64
		TotalRequested int64
		TotalPaid      int64
	}
	err := scoped().Select(
		"COUNT(*) as count, " +
			"COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) as succeeded, " +
			"COALESCE(SUM(amount + count), 0) as total_requested, " +
			"COALESCE(SUM(paid), 0) as total_paid").
		Scan(&sums).Error
	if err != nil {
		return nil, err
	}
	totals.Count = sums.Count
	totals.Succeeded = sums.Succeeded
	totals.Failed = sums.Count - sums.Succeeded
	totals.TotalRequested = sums.TotalRequested
	totals.TotalPaid = sums.TotalPaid

	if err := scoped().
		Where("anomalies IS NOT NULL AND anomalies != '' AND anomalies != '[]'").
		Count(&totals.Anomalous).Error; err != nil {
		return nil, err
	}
	return totals, nil
}
