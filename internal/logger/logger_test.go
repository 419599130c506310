package logger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestHexBytes(t *testing.T) {
	assert.Equal(t, "03-01-01-A4-A5-B2", HexBytes([]byte{0x03, 0x01, 0x01, 0xA4, 0xA5, 0xB2}))
	assert.Equal(t, "0F", HexBytes([]byte{0x0F}))
	assert.Equal(t, "", HexBytes(nil))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", parseLevel("DEBUG").String())
	assert.Equal(t, "warn", parseLevel("warn").String())
	assert.Equal(t, "info", parseLevel("bogus").String())
}

func TestSetLevel(t *testing.T) {
	old := Level()
	defer SetLevel(old)

	SetLevel("error")
	assert.Equal(t, "error", Level())
}

func TestGetLoggerWithoutInit(t *testing.T) {
	assert.NotNil(t, GetLogger())
	assert.NotNil(t, GetModuleLogger("serial"))
	assert.NotPanics(t, func() {
		LogSerialFrame(0x13, []byte{0x03, 0x00, 0x01, 0x13, 0xE9}, nil, 0, nil)
	})
}

func TestLogDatabaseOperation(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	mu.Lock()
	oldLogger, oldModules := logger, moduleLoggers
	logger, moduleLoggers = zap.New(core), nil
	mu.Unlock()
	defer func() {
		mu.Lock()
		logger, moduleLoggers = oldLogger, oldModules
		mu.Unlock()
	}()

	LogDatabaseOperation("create", "payout_records", time.Millisecond, nil)
	LogDatabaseOperation("create_batch", "serial_logs", 0, errors.New("database is locked"))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "database", entries[0].LoggerName)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "database_operation", entries[0].Message)
	assert.Equal(t, "payout_records", entries[0].ContextMap()["table"])

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "database_operation_failed", entries[1].Message)
	assert.Equal(t, "database is locked", entries[1].ContextMap()["error"])

	assert.NotPanics(t, Cleanup)
}
