package hardware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/wfunc/hopper-driver/internal/errors"
)

func TestParseIntelligentPayoutPayload(t *testing.T) {
	status, err := ParseIntelligentPayoutPayload([]byte{0x35, 0x00, 0x05, 0x00, 0x00, 0x00, 0x05})
	require.NoError(t, err)
	assert.Equal(t, 5, status.Paid)
	assert.Equal(t, 0, status.Remaining)
	assert.Equal(t, []int{5}, status.CoinCounts)
}

func TestParseIntelligentPayoutPayloadVariants(t *testing.T) {
	t.Run("多个币种", func(t *testing.T) {
		status, err := ParseIntelligentPayoutPayload([]byte{0x35, 0x01, 0x00, 0x00, 0x10, 0x00, 0x03, 0x00, 0x04})
		require.NoError(t, err)
		assert.Equal(t, 256, status.Paid)
		assert.Equal(t, 16, status.Remaining)
		assert.Equal(t, []int{3, 4}, status.CoinCounts)
	})

	t.Run("奇数尾字节被忽略", func(t *testing.T) {
		status, err := ParseIntelligentPayoutPayload([]byte{0x35, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x07})
		require.NoError(t, err)
		assert.Equal(t, []int{1}, status.CoinCounts)
	})

	t.Run("上一命令不是智能出币", func(t *testing.T) {
		_, err := ParseIntelligentPayoutPayload([]byte{0x20, 0x00, 0x05, 0x00, 0x00})
		assert.True(t, apperrors.Is(err, apperrors.ErrWrongLastCommand))
	})

	t.Run("数据过短", func(t *testing.T) {
		_, err := ParseIntelligentPayoutPayload([]byte{0x35, 0x00, 0x05, 0x00})
		assert.True(t, apperrors.Is(err, apperrors.ErrInvalidResponse))
	})
}

func TestParseIntelligentPayoutFromResponse(t *testing.T) {
	resp := reply(0x03, HeaderACK, 0x35, 0x00, 0x0A, 0x00, 0x02, 0x00, 0x08)
	status, err := ParseIntelligentPayout(resp)
	require.NoError(t, err)
	assert.Equal(t, 10, status.Paid)
	assert.Equal(t, 2, status.Remaining)
	assert.Equal(t, []int{8}, status.CoinCounts)
}

func TestParseIntelligentPayoutShortDataExcludesChecksum(t *testing.T) {
	// 声明 7 字节数据，实际只到 6 字节，最后一个字节是校验和
	resp := reply(0x03, HeaderACK, 0x35, 0x00, 0x0A, 0x00, 0x02, 0x00)
	resp[1] = 7

	status, err := ParseIntelligentPayout(resp)
	require.NoError(t, err)
	assert.Equal(t, 10, status.Paid)
	assert.Empty(t, status.CoinCounts)

	frame, err := Decode(resp)
	require.NoError(t, err)
	assert.Len(t, frame.Payload, 6)
}

func TestParseStatus(t *testing.T) {
	t.Run("空闲", func(t *testing.T) {
		st, err := ParseStatus(reply(0x03, HeaderACK, 0x01))
		require.NoError(t, err)
		assert.Equal(t, StatusIdle, st.Kind)
		assert.Equal(t, "idle", st.Summary())
	})

	t.Run("故障", func(t *testing.T) {
		st, err := ParseStatus(reply(0x03, HeaderACK, 0x02, 0x05))
		require.NoError(t, err)
		assert.Equal(t, StatusError, st.Kind)
		assert.Equal(t, byte(0x05), st.ErrorCode)
		assert.Equal(t, []string{"outlet detector stuck", "motor permanently jammed"}, st.Errors)
	})

	t.Run("故障码缺失", func(t *testing.T) {
		_, err := ParseStatus([]byte{0x01, 0x01, 0x03, 0x00, 0x02})
		assert.True(t, apperrors.Is(err, apperrors.ErrInvalidResponse))
	})

	t.Run("清空中", func(t *testing.T) {
		st, err := ParseStatus(reply(0x03, HeaderACK, 0x19, 0x00, 0x03, 0x00, 0x00, 0x01, 0x00, 0x00, 0x02))
		require.NoError(t, err)
		assert.Equal(t, StatusEmptying, st.Kind)
		assert.Equal(t, []CoinCount{{CoinType: 1, Count: 3}, {CoinType: 3, Count: 256}, {CoinType: 4, Count: 2}}, st.Emptying)
	})

	t.Run("多路出币中", func(t *testing.T) {
		data := []byte{0x20, 0, 0, 0, 0, 0x00, 0x04, 0x00, 0x06, 0x00, 0x01, 0x00, 0x09}
		st, err := ParseStatus(reply(0x03, HeaderACK, data...))
		require.NoError(t, err)
		assert.Equal(t, StatusMultiPath, st.Kind)
		assert.Equal(t, []CoinProgress{
			{CoinType: 1, Paid: 4, Remaining: 6},
			{CoinType: 2, Paid: 1, Remaining: 9},
		}, st.MultiPath)
	})

	t.Run("智能出币中", func(t *testing.T) {
		st, err := ParseStatus(reply(0x03, HeaderACK, 0x35, 0x00, 0x05, 0x00, 0x00, 0x00, 0x05))
		require.NoError(t, err)
		assert.Equal(t, StatusIntelligent, st.Kind)
		require.NotNil(t, st.Payout)
		assert.Equal(t, 5, st.Payout.Paid)
	})

	t.Run("未知状态", func(t *testing.T) {
		_, err := ParseStatus(reply(0x03, HeaderACK, 0x77))
		assert.True(t, apperrors.Is(err, apperrors.ErrUnknownStatus))
	})

	t.Run("NACK", func(t *testing.T) {
		_, err := ParseStatus(reply(0x03, HeaderNACK, 0x01))
		assert.True(t, apperrors.Is(err, apperrors.ErrDeviceNack))
	})

	t.Run("未知应答头", func(t *testing.T) {
		_, err := ParseStatus(reply(0x03, 0x09, 0x01))
		assert.True(t, apperrors.Is(err, apperrors.ErrUnknownStatus))
	})
}

func TestParseErrorCode(t *testing.T) {
	assert.Equal(t, []string{"unknown"}, ParseErrorCode(0x00))
	assert.Equal(t, []string{"unknown"}, ParseErrorCode(0x08))
	assert.Len(t, ParseErrorCode(0xF7), 7)
}

func TestParseMultiPathTooShortData(t *testing.T) {
	// 总长度满足 13 字节，但偏移 12 超出数据范围
	resp := reply(0x03, HeaderACK, 0x20, 0, 0, 0, 0, 0, 0, 0)
	require.GreaterOrEqual(t, len(resp), 13)
	_, err := ParseMultiPathProgress(resp)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidResponse))
}

func TestParseEmptyingAllZero(t *testing.T) {
	counts, err := ParseEmptyingProgress(reply(0x03, HeaderACK, 0x19, 0, 0, 0, 0, 0, 0, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestParseOpto(t *testing.T) {
	tests := []struct {
		name  string
		b     byte
		empty bool
		full  bool
		text  string
	}{
		{"正常", 0x00, false, false, "normal"},
		{"空", 0x01, true, false, "empty"},
		{"满", 0x02, false, true, "full"},
		{"空且满", 0x03, true, true, "empty, full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := ParseOpto(reply(0x03, HeaderACK, tt.b))
			require.NoError(t, err)
			assert.Equal(t, tt.empty, o.Empty)
			assert.Equal(t, tt.full, o.Full)
			assert.Equal(t, tt.text, o.Summary())
		})
	}
}

func TestParseTestHopper(t *testing.T) {
	st, err := ParseTestHopper(reply(0x03, HeaderACK, 0x00))
	require.NoError(t, err)
	assert.Equal(t, "normal", st.Summary())

	st, err = ParseTestHopper(reply(0x03, HeaderACK, 0x81))
	require.NoError(t, err)
	assert.Equal(t, []string{"over-current", "payout disabled"}, st.Flags)
}

func TestParseSerialNumber(t *testing.T) {
	sn, err := ParseSerialNumber(reply(0x03, HeaderACK, 0xAB, 0xCD, 0xEF))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAB, 0xCD, 0xEF}, sn)

	_, err = ParseSerialNumber(reply(0x03, HeaderACK, 0xAB))
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidResponse))
}

func TestParseStopPayment(t *testing.T) {
	left, err := ParseStopPayment(reply(0x03, HeaderACK, 0x07))
	require.NoError(t, err)
	assert.Equal(t, 7, left)

	_, err = ParseStopPayment(reply(0x03, HeaderACK))
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidResponse))
}

func TestParseLastCommandStatus(t *testing.T) {
	res, err := ParseLastCommandStatus(reply(0x03, HeaderACK, 0x35, 0x00, 0x03, 0x00, 0x01))
	require.NoError(t, err)
	assert.Equal(t, CmdIntelligentPayout, res.Command)
	require.NotNil(t, res.Payout)
	assert.Equal(t, 3, res.Payout.Paid)

	res, err = ParseLastCommandStatus(reply(0x03, HeaderACK, CmdCancel))
	require.NoError(t, err)
	assert.Equal(t, "completed (no detail)", res.Detail)

	_, err = ParseLastCommandStatus(reply(0x03, HeaderNACK))
	assert.True(t, apperrors.Is(err, apperrors.ErrDeviceNack))
}

func TestParsersRejectThreeByteResponse(t *testing.T) {
	short := []byte{0x01, 0x00, 0x03}
	parsers := map[string]func([]byte) error{
		"status":       func(b []byte) error { _, err := ParseStatus(b); return err },
		"opto":         func(b []byte) error { _, err := ParseOpto(b); return err },
		"test":         func(b []byte) error { _, err := ParseTestHopper(b); return err },
		"serial":       func(b []byte) error { _, err := ParseSerialNumber(b); return err },
		"stop_payment": func(b []byte) error { _, err := ParseStopPayment(b); return err },
		"last_command": func(b []byte) error { _, err := ParseLastCommandStatus(b); return err },
		"intelligent":  func(b []byte) error { _, err := ParseIntelligentPayout(b); return err },
		"payload":      func(b []byte) error { _, err := ParseIntelligentPayoutPayload(b); return err },
		"multi_path":   func(b []byte) error { _, err := ParseMultiPathProgress(b); return err },
		"emptying":     func(b []byte) error { _, err := ParseEmptyingProgress(b); return err },
	}

	for name, parse := range parsers {
		t.Run(name, func(t *testing.T) {
			err := parse(short)
			assert.True(t, apperrors.Is(err, apperrors.ErrInvalidResponse), "got %v", err)
		})
	}
}

func TestDescribeResponse(t *testing.T) {
	assert.Contains(t, DescribeResponse(CmdOptoStatus, reply(0x03, HeaderACK, 0x03)), "opto: empty, full")
	assert.Contains(t, DescribeResponse(CmdTestHopper, reply(0x03, HeaderACK, 0x00)), "test: normal")
	assert.Contains(t, DescribeResponse(CmdRequestStatus, reply(0x03, HeaderACK, 0x01)), "status: idle")
	assert.Contains(t, DescribeResponse(CmdCancel, reply(0x03, HeaderACK)), "command executed")
	assert.Contains(t, DescribeResponse(CmdCancel, reply(0x03, HeaderNACK)), "command rejected (NACK)")
	assert.Contains(t, DescribeResponse(CmdCancel, []byte{0x01, 0x02}), "response too short")

	bad := reply(0x03, HeaderACK)
	bad[len(bad)-1]++
	assert.Contains(t, DescribeResponse(CmdCancel, bad), "checksum mismatch")
}

func TestSafetyEvaluatePayout(t *testing.T) {
	opts := DefaultSafetyOptions()

	assert.Empty(t, opts.EvaluatePayout(&PayoutStatus{Paid: 10, CoinCounts: []int{10}}, 10))
	assert.Nil(t, opts.EvaluatePayout(nil, 10))

	anomalies := opts.EvaluatePayout(&PayoutStatus{Paid: 60, CoinCounts: []int{201, 3}}, 10)
	assert.Len(t, anomalies, 2)
}
