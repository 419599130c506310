package service

import (
	"github.com/wfunc/hopper-driver/internal/config"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services 服务集合
type Services struct {
	Records RecordService
}

// NewServices 创建服务集合，记录未启用时返回空集合
func NewServices(db *gorm.DB, cfg config.SerialLogConfig, log *zap.Logger) *Services {
	if db == nil || !cfg.Enabled {
		log.Info("串口日志记录未启用")
		return &Services{}
	}

	records := NewSerialLogService(db, cfg)
	log.Info("串口日志记录已启用",
		zap.Int("buffer_size", cfg.BufferSize),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("flush_interval", cfg.FlushInterval),
		zap.Int("retention_days", cfg.RetentionDays))

	return &Services{Records: records}
}

// Recorder 返回可交给硬件层的记录器，未启用时为 nil
func (s *Services) Recorder() RecordService {
	return s.Records
}

// Close 关闭所有服务
func (s *Services) Close() {
	if s.Records != nil {
		s.Records.Close()
	}
}
