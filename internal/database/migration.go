package database

import (
	"fmt"

	"github.com/wfunc/hopper-driver/internal/logger"
	"github.com/wfunc/hopper-driver/internal/models"
	"go.uber.org/zap"
)

// migrationModels 需要迁移的模型
var migrationModels = []interface{}{
	&models.SerialLog{},
	&models.PayoutRecord{},
}

// indexes 额外索引
var indexes = []struct {
	name  string
	table string
	cols  string
}{
	{"idx_serial_logs_command", "serial_logs", "command"},
	{"idx_serial_logs_result", "serial_logs", "result"},
	{"idx_serial_logs_session_id", "serial_logs", "session_id"},
	{"idx_serial_logs_created_at", "serial_logs", "created_at"},
	{"idx_payout_records_mode", "payout_records", "mode"},
	{"idx_payout_records_created_at", "payout_records", "created_at"},
}

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	// 获取迁移锁，避免多个进程同时迁移
	if dbPath := getDBPath(); dbPath != "" {
		CleanupStaleLocks(dbPath)
		lockFile, err := acquireMigrationLock(dbPath)
		if err != nil {
			logger.Error("无法获取迁移锁", zap.Error(err))
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		defer releaseMigrationLock(lockFile)
	}

	logger.Info("开始数据库迁移...")

	for _, model := range migrationModels {
		if err := DB.AutoMigrate(model); err != nil {
			logger.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err),
			)
			return err
		}
		logger.Debug("迁移成功", zap.String("model", fmt.Sprintf("%T", model)))
	}

	createIndexes()

	logger.Info("数据库迁移完成")
	return nil
}

// createIndexes 创建数据库索引，失败只记录警告
func createIndexes() {
	for _, idx := range indexes {
		sql := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", idx.name, idx.table, idx.cols)
		if err := DB.Exec(sql).Error; err != nil {
			logger.Warn("创建索引失败", zap.String("index", idx.name), zap.Error(err))
		}
	}
}

// DropAllTables 删除所有表（仅用于测试环境）
func DropAllTables() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	for i := len(migrationModels) - 1; i >= 0; i-- {
		if err := DB.Migrator().DropTable(migrationModels[i]); err != nil {
			logger.Error("删除表失败", zap.String("model", fmt.Sprintf("%T", migrationModels[i])), zap.Error(err))
			return err
		}
	}

	logger.Info("所有表已删除")
	return nil
}
