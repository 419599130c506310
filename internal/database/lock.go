package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wfunc/hopper-driver/internal/logger"
	"go.uber.org/zap"
)

const (
	lockSuffix     = ".migration.lock"
	lockStaleAfter = 5 * time.Minute
)

// lockAttempts 与 lockRetryDelay 决定最长等待时间
var (
	lockAttempts   = 30
	lockRetryDelay = time.Second
)

// acquireMigrationLock 获取迁移锁
func acquireMigrationLock(dbPath string) (*os.File, error) {
	lockPath := dbPath + lockSuffix

	for i := 0; i < lockAttempts; i++ {
		lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
		if err == nil {
			logger.Debug("获取迁移锁成功", zap.String("lock", lockPath))
			return lockFile, nil
		}

		// 锁文件太旧视为残留
		if info, err := os.Stat(lockPath); err == nil && time.Since(info.ModTime()) > lockStaleAfter {
			logger.Warn("迁移锁文件过期，尝试删除", zap.String("lock", lockPath))
			os.Remove(lockPath)
			continue
		}

		logger.Debug("等待迁移锁...", zap.Int("attempt", i+1))
		time.Sleep(lockRetryDelay)
	}

	return nil, fmt.Errorf("migration lock %s is held by another process", lockPath)
}

// releaseMigrationLock 释放迁移锁
func releaseMigrationLock(lockFile *os.File) {
	if lockFile == nil {
		return
	}

	lockPath := lockFile.Name()
	lockFile.Close()
	os.Remove(lockPath)
	logger.Debug("释放迁移锁", zap.String("lock", lockPath))
}

// getDBPath 获取 SQLite 数据库文件路径，其他驱动返回空
func getDBPath() string {
	if DB == nil || DB.Dialector.Name() != "sqlite" {
		return ""
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return ""
	}
	row := sqlDB.QueryRow("PRAGMA database_list")
	var seq int
	var name, file string
	if err := row.Scan(&seq, &name, &file); err != nil {
		return ""
	}
	// 内存库没有文件
	return file
}

// CleanupStaleLocks 清理数据库目录下过期的锁文件
func CleanupStaleLocks(dbPath string) {
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(dbPath), "*"+lockSuffix))
	for _, lockFile := range matches {
		if info, err := os.Stat(lockFile); err == nil && time.Since(info.ModTime()) > 2*lockStaleAfter {
			logger.Info("清理过期锁文件", zap.String("file", lockFile))
			os.Remove(lockFile)
		}
	}
}
