package api

import (
	"time"

	"github.com/wfunc/hopper-driver/internal/hardware"
)

// Driver HTTP 层依赖的退币器操作，由 *hardware.HopperController 实现
type Driver interface {
	Connect(port string) error
	Disconnect() error
	IsConnected() bool
	Enable() error
	Disable() error
	GetSerialNumber() (string, error)
	SendRaw(command byte, payload []byte, timeout time.Duration) (*hardware.RawResult, error)
	IntelligentPayout(amount int) (*hardware.PayoutReport, error)
	MultiPathPayout(path, count int) (*hardware.PayoutReport, error)
	QueryStatus() (*hardware.DeviceStatus, error)
	ReadOptoStatus() (*hardware.OptoStatus, error)
	TestHopper() (*hardware.TestStatus, error)
	StopPayment() (int, error)
	Cancel() ([]byte, error)
	LastCommandStatus() (*hardware.LastCommandResult, error)
	RunDiagnostics() *hardware.DiagnosticsResult
	CheckStatus() (*hardware.CombinedStatus, error)
	StartMonitor() bool
	StopMonitor()
	MonitorState() hardware.MonitorState
	DeviceInfo() hardware.DeviceInfo
}

var _ Driver = (*hardware.HopperController)(nil)
