package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/hopper-driver/internal/config"
	"github.com/wfunc/hopper-driver/internal/hardware"
	"github.com/wfunc/hopper-driver/internal/logger"
	"github.com/wfunc/hopper-driver/internal/models"
	"github.com/wfunc/hopper-driver/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SerialLogService 串口收发与出币记录服务
type SerialLogService struct {
	repo       *repository.SerialLogRepository
	payoutRepo *repository.PayoutRepository
	cfg        config.SerialLogConfig
	logger     *zap.Logger

	mu        sync.Mutex
	buffer    []*models.SerialLog
	bufferCh  chan *models.SerialLog
	stopCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	sessionID string
	dropped   int64
}

// NewSerialLogService 创建服务并启动后台写入
func NewSerialLogService(db *gorm.DB, cfg config.SerialLogConfig) *SerialLogService {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	s := &SerialLogService{
		repo:       repository.NewSerialLogRepository(db),
		payoutRepo: repository.NewPayoutRepository(db),
		cfg:        cfg,
		logger:     logger.GetModuleLogger("serial_log"),
		buffer:     make([]*models.SerialLog, 0, cfg.BatchSize),
		bufferCh:   make(chan *models.SerialLog, cfg.BufferSize),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		sessionID:  uuid.New().String(),
	}

	go s.backgroundWriter()
	return s
}

// SessionID 本次运行的会话ID
func (s *SerialLogService) SessionID() string {
	return s.sessionID
}

// backgroundWriter 后台写入协程
func (s *SerialLogService) backgroundWriter() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	cleanup := time.NewTicker(24 * time.Hour)
	defer cleanup.Stop()
	if s.cfg.RetentionDays > 0 {
		s.cleanup()
	}

	for {
		select {
		case log := <-s.bufferCh:
			s.mu.Lock()
			s.buffer = append(s.buffer, log)
			// 缓冲区满了立即写入
			if len(s.buffer) >= s.cfg.BatchSize {
				s.flushBuffer()
			}
			s.mu.Unlock()

		case <-ticker.C:
			s.mu.Lock()
			s.flushBuffer()
			s.mu.Unlock()

		case <-cleanup.C:
			if s.cfg.RetentionDays > 0 {
				s.cleanup()
			}

		case <-s.stopCh:
			// 退出前写入剩余的日志
			s.mu.Lock()
			for {
				select {
				case log := <-s.bufferCh:
					s.buffer = append(s.buffer, log)
					continue
				default:
				}
				break
			}
			s.flushBuffer()
			s.mu.Unlock()
			return
		}
	}
}

// flushBuffer 写入缓冲区的日志，调用方须持有锁
func (s *SerialLogService) flushBuffer() {
	if len(s.buffer) == 0 {
		return
	}

	if err := s.repo.CreateBatch(context.Background(), s.buffer); err != nil {
		s.logger.Error("批量写入串口日志失败", zap.Error(err))
	} else {
		s.logger.Debug("批量写入串口日志成功", zap.Int("count", len(s.buffer)))
	}

	s.buffer = make([]*models.SerialLog, 0, s.cfg.BatchSize)
}

func (s *SerialLogService) cleanup() {
	n, err := s.repo.CleanupLogs(context.Background(), s.cfg.RetentionDays)
	if err != nil {
		s.logger.Warn("清理过期串口日志失败", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("已清理过期串口日志", zap.Int64("count", n))
	}
}

// RecordExchange 记录一次收发，缓冲区满时丢弃
func (s *SerialLogService) RecordExchange(rec *hardware.ExchangeRecord) {
	select {
	case <-s.stopCh:
		return
	default:
	}

	select {
	case s.bufferCh <- s.toSerialLog(rec):
	default:
		s.mu.Lock()
		s.dropped++
		dropped := s.dropped
		s.mu.Unlock()
		s.logger.Warn("串口日志缓冲区满，丢弃日志", zap.Int64("dropped", dropped))
	}
}

func (s *SerialLogService) toSerialLog(rec *hardware.ExchangeRecord) *models.SerialLog {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	log := &models.SerialLog{
		CreatedAt:   ts,
		Command:     int(rec.Command),
		CommandName: hardware.CommandName(rec.Command),
		TxHex:       logger.HexBytes(rec.TX),
		RxHex:       logger.HexBytes(rec.RX),
		BytesCount:  len(rec.RX),
		Result:      rec.Result,
		Level:       models.SerialLogLevelInfo,
		RequestID:   uuid.New().String(),
		SessionID:   s.sessionID,
		Duration:    rec.Duration.Milliseconds(),
		Timestamp:   ts.UnixMilli(),
	}
	if len(rec.TX) > 0 {
		log.Address = int(rec.TX[0])
	}
	if len(rec.RX) >= 4 {
		log.Header = fmt.Sprintf("0x%02X", rec.RX[3])
	}

	switch rec.Result {
	case hardware.ResultTimeout, hardware.ResultNack:
		log.Level = models.SerialLogLevelWarn
	case hardware.ResultError, hardware.ResultBlocked:
		log.Level = models.SerialLogLevelError
	}
	if rec.Err != nil {
		log.ErrorMsg = rec.Err.Error()
	}
	return log
}

// RecordPayout 同步写入出币记录
func (s *SerialLogService) RecordPayout(report *hardware.PayoutReport) {
	record := &models.PayoutRecord{
		RequestID:          report.RequestID,
		Mode:               models.PayoutMode(report.Mode),
		Amount:             report.Amount,
		Path:               report.Path,
		Count:              report.Count,
		ByteOrder:          report.ByteOrder,
		ByteOrderCorrected: report.ByteOrderCorrected,
		Anomalies:          models.StringList(report.Anomalies),
		AutoStopped:        report.AutoStopped,
		Success:            report.Error == "",
		Response:           report.Response,
		ErrorMsg:           report.Error,
	}
	if !report.Timestamp.IsZero() {
		record.CreatedAt = report.Timestamp
	}
	if report.Status != nil && report.Status.Payout != nil {
		record.Paid = report.Status.Payout.Paid
		record.Remaining = report.Status.Payout.Remaining
		record.CoinCounts = models.IntList(report.Status.Payout.CoinCounts)
	}

	if err := s.payoutRepo.Create(context.Background(), record); err != nil {
		s.logger.Error("写入出币记录失败",
			zap.String("request_id", report.RequestID),
			zap.Error(err))
	}
}

// Flush 立即写入缓冲中的日志
func (s *SerialLogService) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case log := <-s.bufferCh:
			s.buffer = append(s.buffer, log)
			continue
		default:
		}
		break
	}
	s.flushBuffer()
}

// Query 查询日志
func (s *SerialLogService) Query(ctx context.Context, query *models.SerialLogQuery) ([]*models.SerialLog, int64, error) {
	return s.repo.Query(ctx, query)
}

// GetStats 获取统计信息
func (s *SerialLogService) GetStats(ctx context.Context, startTime, endTime *time.Time) (*models.SerialLogStats, error) {
	return s.repo.GetStats(ctx, startTime, endTime)
}

// ListPayouts 最近的出币记录
func (s *SerialLogService) ListPayouts(ctx context.Context, limit int, mode models.PayoutMode) ([]*models.PayoutRecord, error) {
	return s.payoutRepo.ListRecent(ctx, limit, mode)
}

// PayoutTotals 出币汇总
func (s *SerialLogService) PayoutTotals(ctx context.Context, since *time.Time) (*models.PayoutTotals, error) {
	return s.payoutRepo.Totals(ctx, since)
}

// CleanupOldLogs 清理旧日志
func (s *SerialLogService) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	return s.repo.CleanupLogs(ctx, retentionDays)
}

// Close 停止后台写入并写入剩余日志，可重复调用
func (s *SerialLogService) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.done
	})
}
