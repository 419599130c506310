package api

import (
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/wfunc/hopper-driver/internal/hardware"
)

// mockDriver 退币器驱动的 testify mock
type mockDriver struct {
	mock.Mock
}

func (m *mockDriver) Connect(port string) error {
	return m.Called(port).Error(0)
}

func (m *mockDriver) Disconnect() error {
	return m.Called().Error(0)
}

func (m *mockDriver) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *mockDriver) Enable() error {
	return m.Called().Error(0)
}

func (m *mockDriver) Disable() error {
	return m.Called().Error(0)
}

func (m *mockDriver) GetSerialNumber() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *mockDriver) SendRaw(command byte, payload []byte, timeout time.Duration) (*hardware.RawResult, error) {
	args := m.Called(command, payload, timeout)
	res, _ := args.Get(0).(*hardware.RawResult)
	return res, args.Error(1)
}

func (m *mockDriver) IntelligentPayout(amount int) (*hardware.PayoutReport, error) {
	args := m.Called(amount)
	res, _ := args.Get(0).(*hardware.PayoutReport)
	return res, args.Error(1)
}

func (m *mockDriver) MultiPathPayout(path, count int) (*hardware.PayoutReport, error) {
	args := m.Called(path, count)
	res, _ := args.Get(0).(*hardware.PayoutReport)
	return res, args.Error(1)
}

func (m *mockDriver) QueryStatus() (*hardware.DeviceStatus, error) {
	args := m.Called()
	res, _ := args.Get(0).(*hardware.DeviceStatus)
	return res, args.Error(1)
}

func (m *mockDriver) ReadOptoStatus() (*hardware.OptoStatus, error) {
	args := m.Called()
	res, _ := args.Get(0).(*hardware.OptoStatus)
	return res, args.Error(1)
}

func (m *mockDriver) TestHopper() (*hardware.TestStatus, error) {
	args := m.Called()
	res, _ := args.Get(0).(*hardware.TestStatus)
	return res, args.Error(1)
}

func (m *mockDriver) StopPayment() (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func (m *mockDriver) Cancel() ([]byte, error) {
	args := m.Called()
	res, _ := args.Get(0).([]byte)
	return res, args.Error(1)
}

func (m *mockDriver) LastCommandStatus() (*hardware.LastCommandResult, error) {
	args := m.Called()
	res, _ := args.Get(0).(*hardware.LastCommandResult)
	return res, args.Error(1)
}

func (m *mockDriver) RunDiagnostics() *hardware.DiagnosticsResult {
	res, _ := m.Called().Get(0).(*hardware.DiagnosticsResult)
	return res
}

func (m *mockDriver) CheckStatus() (*hardware.CombinedStatus, error) {
	args := m.Called()
	res, _ := args.Get(0).(*hardware.CombinedStatus)
	return res, args.Error(1)
}

func (m *mockDriver) StartMonitor() bool {
	return m.Called().Bool(0)
}

func (m *mockDriver) StopMonitor() {
	m.Called()
}

func (m *mockDriver) MonitorState() hardware.MonitorState {
	return m.Called().Get(0).(hardware.MonitorState)
}

func (m *mockDriver) DeviceInfo() hardware.DeviceInfo {
	return m.Called().Get(0).(hardware.DeviceInfo)
}
