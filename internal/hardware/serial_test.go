package hardware

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/hopper-driver/internal/config"
	apperrors "github.com/wfunc/hopper-driver/internal/errors"
)

// blockingPort 写入永远不返回
type blockingPort struct {
	*MockHopperPort
	release chan struct{}
}

func (p *blockingPort) Write(data []byte) (int, error) {
	<-p.release
	return len(data), nil
}

func TestTransportReadReturnsOnCompleteFrame(t *testing.T) {
	port := NewMockHopperPort()
	tr := NewTransport(testSerialConfig(), openerFor(port))
	require.NoError(t, tr.Open(""))
	assert.Equal(t, "/dev/ttyTEST0", tr.PortName())

	require.NoError(t, tr.Reset())
	require.NoError(t, tr.Write(Encode(DefaultAddress, CmdRequestStatus, nil)))

	start := time.Now()
	resp, err := tr.Read(MaxResponseLen, time.Second)
	require.NoError(t, err)
	assert.Equal(t, reply(DefaultAddress, HeaderACK, StatusTagIdle), resp)
	assert.Less(t, int64(time.Since(start)), int64(500*time.Millisecond))
}

func TestTransportReadTimeout(t *testing.T) {
	port := NewMockHopperPort()
	tr := NewTransport(testSerialConfig(), openerFor(port))
	require.NoError(t, tr.Open(""))

	start := time.Now()
	resp, err := tr.Read(MaxResponseLen, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, resp)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestTransportWriteTimeout(t *testing.T) {
	port := &blockingPort{MockHopperPort: NewMockHopperPort(), release: make(chan struct{})}
	defer close(port.release)

	tr := NewTransport(testSerialConfig(), openerFor(port))
	require.NoError(t, tr.Open(""))

	err := tr.Write([]byte{0x01})
	assert.True(t, apperrors.Is(err, apperrors.ErrSerialPortWrite))
}

func TestTransportOpenFailure(t *testing.T) {
	tr := NewTransport(testSerialConfig(), func(*SerialConfig) (SerialPort, error) {
		return nil, errors.New("permission denied")
	})

	err := tr.Open("/dev/ttyS9")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSerialPortOpen))
	assert.Contains(t, err.Error(), "/dev/ttyS9")
	assert.False(t, tr.IsOpen())
}

func TestTransportNotOpen(t *testing.T) {
	tr := NewTransport(testSerialConfig(), openerFor(NewMockHopperPort()))

	assert.True(t, apperrors.Is(tr.Write([]byte{0x01}), apperrors.ErrDeviceOffline))
	assert.True(t, apperrors.Is(tr.Reset(), apperrors.ErrDeviceOffline))
	_, err := tr.Read(8, time.Millisecond)
	assert.True(t, apperrors.Is(err, apperrors.ErrDeviceOffline))
	assert.NoError(t, tr.Close())
}

func TestTransportCloseCallsPort(t *testing.T) {
	port := NewMockHopperPort()
	port.On("Close").Return(nil).Once()

	tr := NewTransport(testSerialConfig(), openerFor(port))
	require.NoError(t, tr.Open(""))
	require.NoError(t, tr.Close())
	assert.False(t, tr.IsOpen())
	assert.True(t, port.IsClosed())
	port.AssertExpectations(t)
}

func TestTransportWritePassesBytes(t *testing.T) {
	port := NewMockHopperPort()
	frame := Encode(DefaultAddress, CmdSimplePoll, nil)
	port.On("Write", frame).Return().Once()

	tr := NewTransport(testSerialConfig(), openerFor(port))
	require.NoError(t, tr.Open(""))
	require.NoError(t, tr.Write(frame))
	port.AssertCalled(t, "Write", mock.Anything)
}

func TestResolvePort(t *testing.T) {
	name, err := ResolvePort("/dev/ttyUSB3", nil)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB3", name)

	name, err = ResolvePort("AUTO", func() ([]string, error) { return []string{"/dev/ttyACM0", "/dev/ttyUSB0"}, nil })
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", name)

	_, err = ResolvePort("auto", func() ([]string, error) { return nil, nil })
	assert.True(t, apperrors.Is(err, apperrors.ErrSerialPortOpen))

	_, err = ResolvePort("auto", func() ([]string, error) { return nil, errors.New("boom") })
	assert.Error(t, err)
}

func TestSerialConfigFrom(t *testing.T) {
	cfg := SerialConfigFrom(config.SerialConfig{
		Port:        "/dev/ttyS1",
		BaudRate:    19200,
		ReadTimeout: 500 * time.Millisecond,
	})
	assert.Equal(t, "/dev/ttyS1", cfg.Port)
	assert.Equal(t, 19200, cfg.BaudRate)
	assert.Equal(t, 500*time.Millisecond, cfg.ReadTimeout)
	// 未设置的字段保留默认值
	assert.Equal(t, byte(8), cfg.DataBits)
	assert.Equal(t, 2*time.Second, cfg.WriteTimeout)
	assert.Equal(t, "tarm", cfg.Driver)
}

func TestSerialPortExists(t *testing.T) {
	assert.True(t, SerialPortExists(t.TempDir()))
	assert.False(t, SerialPortExists("/dev/definitely-not-a-port"))
}
