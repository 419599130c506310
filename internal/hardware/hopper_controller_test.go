package hardware

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/hopper-driver/internal/config"
	apperrors "github.com/wfunc/hopper-driver/internal/errors"
)

// payoutStatus 构造智能出币状态应答
func payoutStatus(paid, remaining int, coins ...int) []byte {
	data := []byte{StatusTagIntelligent, byte(paid >> 8), byte(paid), byte(remaining >> 8), byte(remaining)}
	for _, c := range coins {
		data = append(data, byte(c>>8), byte(c))
	}
	return reply(DefaultAddress, HeaderACK, data...)
}

// HopperControllerTestSuite 控制器测试套件
type HopperControllerTestSuite struct {
	suite.Suite
	port     *MockHopperPort
	recorder *fakeRecorder
	ctrl     *HopperController
}

func (s *HopperControllerTestSuite) SetupTest() {
	s.port = NewMockHopperPort()
	s.recorder = &fakeRecorder{}
	s.ctrl = s.newController(nil)
}

func (s *HopperControllerTestSuite) TearDownTest() {
	s.ctrl.Disconnect()
}

func (s *HopperControllerTestSuite) newController(mutate func(o *HopperOptions)) *HopperController {
	opts := DefaultHopperOptions()
	opts.Serial = testSerialConfig()
	opts.Opener = openerFor(s.port)
	opts.Recorder = s.recorder
	opts.Sleep = noSleep
	opts.AutoMonitor = false
	opts.Monitor = fastMonitorOptions()
	if mutate != nil {
		mutate(&opts)
	}
	return NewHopperController(opts)
}

func (s *HopperControllerTestSuite) connect() {
	s.Require().NoError(s.ctrl.Connect(""))
}

func (s *HopperControllerTestSuite) TestConnectRunsDiagnosticsThenEnables() {
	s.connect()

	s.True(s.ctrl.IsConnected())
	s.Equal([]byte{
		CmdSimplePoll, CmdManufacturerID, CmdEquipmentCategory, CmdProductCode,
		CmdSerialNumber, CmdRequestStatus, CmdOptoStatus, CmdTestHopper,
		CmdSerialNumber, CmdEnableHopper,
	}, s.port.WrittenCommands())

	session := s.ctrl.Session()
	s.True(session.ConnectionTested())
	s.True(session.Enabled())

	info := s.ctrl.DeviceInfo()
	s.True(info.Connected)
	s.Equal("/dev/ttyTEST0", info.Port)
	s.Equal("12-34-56", info.Session.SerialNumber)
	s.Equal("idle", info.Monitor)
}

func (s *HopperControllerTestSuite) TestConnectTwiceIsNoop() {
	s.connect()
	n := len(s.port.WrittenFrames())
	s.connect()
	s.Len(s.port.WrittenFrames(), n)
}

func (s *HopperControllerTestSuite) TestConnectDiagnosticsFailKeepsPortOpen() {
	// 应答来自其他地址，全部诊断失败
	s.port.address = 0x09
	s.connect()

	s.True(s.ctrl.IsConnected())
	s.False(s.ctrl.Session().ConnectionTested())
	s.False(s.ctrl.Session().Enabled())
	s.Equal(0, s.port.CountCommand(CmdEnableHopper))
	s.False(s.ctrl.StartMonitor())
}

func (s *HopperControllerTestSuite) TestConnectOpenFailure() {
	ctrl := s.newController(func(o *HopperOptions) {
		o.Opener = func(*SerialConfig) (SerialPort, error) { return nil, errors.New("no such device") }
	})
	err := ctrl.Connect("/dev/ttyMISSING")
	s.True(apperrors.Is(err, apperrors.ErrSerialPortOpen))
	s.False(ctrl.IsConnected())
}

func (s *HopperControllerTestSuite) TestConnectAutoPort() {
	ctrl := s.newController(func(o *HopperOptions) {
		o.FindPorts = func() ([]string, error) { return []string{"/dev/ttyAUTO0"}, nil }
	})
	s.Require().NoError(ctrl.Connect(AutoPort))
	s.Equal("/dev/ttyAUTO0", ctrl.DeviceInfo().Port)
	ctrl.Disconnect()
}

func (s *HopperControllerTestSuite) TestConnectStartsMonitor() {
	var reports reportSink
	ctrl := s.newController(func(o *HopperOptions) { o.AutoMonitor = true })
	ctrl.AddReporter(reports.add)

	s.Require().NoError(ctrl.Connect(""))
	s.Equal(MonitorRunning, ctrl.MonitorState())
	s.Eventually(func() bool { return len(reports.all()) > 0 }, time.Second, 5*time.Millisecond)

	s.Require().NoError(ctrl.Disconnect())
	s.Equal(MonitorIdle, ctrl.MonitorState())
}

func (s *HopperControllerTestSuite) TestDisconnect() {
	s.connect()
	s.Require().NoError(s.ctrl.Disconnect())

	frames := s.port.WrittenFrames()
	s.Equal(Encode(DefaultAddress, CmdEnableHopper, []byte{DisableCode}), frames[len(frames)-1])
	s.True(s.port.IsClosed())
	s.False(s.ctrl.IsConnected())
	s.False(s.ctrl.Session().Enabled())
	s.False(s.ctrl.Session().ConnectionTested())

	// 序列号在断开后清除，字节序保留
	_, ok := s.ctrl.Session().SerialNumber()
	s.False(ok)
	s.Equal(ByteOrderMSB, s.ctrl.Session().ByteOrder())

	_, err := s.ctrl.QueryStatus()
	s.True(apperrors.Is(err, apperrors.ErrDeviceOffline))
}

func (s *HopperControllerTestSuite) TestIntelligentPayoutRejectsInvalidAmount() {
	s.connect()
	before := len(s.port.WrittenFrames())

	for _, amount := range []int{0, -1, 0x10000, MaxPayoutAmount + 1} {
		report, err := s.ctrl.IntelligentPayout(amount)
		s.Nil(report)
		s.True(apperrors.Is(err, apperrors.ErrInvalidParam), "amount %d", amount)
	}
	s.Len(s.port.WrittenFrames(), before)
}

func (s *HopperControllerTestSuite) TestIntelligentPayout() {
	s.connect()
	s.port.SetResponse(CmdRequestStatus, payoutStatus(10, 0, 10))

	report, err := s.ctrl.IntelligentPayout(10)
	s.Require().NoError(err)

	frames := s.port.WrittenFrames()
	s.Equal(Encode(DefaultAddress, CmdIntelligentPayout, []byte{0x12, 0x34, 0x56, 0x00, 0x0A}), frames[len(frames)-2])
	s.Equal(CmdRequestStatus, frames[len(frames)-1][3])

	s.NotEmpty(report.RequestID)
	s.Equal(PayoutModeIntelligent, report.Mode)
	s.Equal(10, report.Amount)
	s.Equal("msb", report.ByteOrder)
	s.False(report.ByteOrderCorrected)
	s.Require().NotNil(report.Status)
	s.Equal(10, report.Status.Payout.Paid)
	s.Empty(report.Anomalies)
	s.Empty(report.Error)

	payouts := s.recorder.Payouts()
	s.Require().Len(payouts, 1)
	s.Equal(report.RequestID, payouts[0].RequestID)
}

// payoutFrames 已写入的智能出币帧
func (s *HopperControllerTestSuite) payoutFrames() [][]byte {
	var payouts [][]byte
	for _, f := range s.port.WrittenFrames() {
		if f[3] == CmdIntelligentPayout {
			payouts = append(payouts, f)
		}
	}
	return payouts
}

func (s *HopperControllerTestSuite) TestIntelligentPayoutLearnsMSBOnce() {
	s.ctrl = s.newController(func(o *HopperOptions) { o.ByteOrder = ByteOrderLSB })
	s.connect()
	// 按低位在前发送 01 00，设备按高位在前读成 256
	s.port.SetResponse(CmdRequestStatus, payoutStatus(256, 0))

	report, err := s.ctrl.IntelligentPayout(1)
	s.Require().NoError(err)
	s.True(report.ByteOrderCorrected)
	s.Equal("lsb", report.ByteOrder)
	s.Equal(ByteOrderMSB, s.ctrl.Session().ByteOrder())
	s.True(s.ctrl.Session().Info().ByteOrderLearned)

	report, err = s.ctrl.IntelligentPayout(300)
	s.Require().NoError(err)
	s.False(report.ByteOrderCorrected)
	s.Equal("msb", report.ByteOrder)
	s.Equal(ByteOrderMSB, s.ctrl.Session().ByteOrder())

	payouts := s.payoutFrames()
	s.Require().Len(payouts, 2)
	s.Equal([]byte{0x12, 0x34, 0x56, 0x01, 0x00}, payouts[0][4:9])
	s.Equal([]byte{0x12, 0x34, 0x56, 0x01, 0x2C}, payouts[1][4:9])
}

func (s *HopperControllerTestSuite) TestIntelligentPayoutMSBStaysMSB() {
	s.connect()
	// 已是高位在前，异常的已付金额只记录日志
	s.port.SetResponse(CmdRequestStatus, payoutStatus(5<<8, 0))

	report, err := s.ctrl.IntelligentPayout(5)
	s.Require().NoError(err)
	s.False(report.ByteOrderCorrected)
	s.Equal(ByteOrderMSB, s.ctrl.Session().ByteOrder())
	s.False(s.ctrl.Session().Info().ByteOrderLearned)

	_, err = s.ctrl.IntelligentPayout(300)
	s.Require().NoError(err)

	payouts := s.payoutFrames()
	s.Require().Len(payouts, 2)
	s.Equal([]byte{0x12, 0x34, 0x56, 0x01, 0x2C}, payouts[1][4:9])
}

func (s *HopperControllerTestSuite) TestReconnectRefetchesSerialNumber() {
	other := NewMockHopperPort()
	other.SetHandler(CmdSerialNumber, other.ack(0xAA, 0xBB, 0xCC))
	ports := []*MockHopperPort{s.port, other}
	opened := 0
	s.ctrl = s.newController(func(o *HopperOptions) {
		o.Opener = func(*SerialConfig) (SerialPort, error) {
			p := ports[opened]
			opened++
			return p, nil
		}
	})

	s.connect()
	sn, err := s.ctrl.GetSerialNumber()
	s.Require().NoError(err)
	s.Equal("12-34-56", sn)
	s.Require().NoError(s.ctrl.Disconnect())

	s.connect()
	sn, err = s.ctrl.GetSerialNumber()
	s.Require().NoError(err)
	s.Equal("AA-BB-CC", sn)

	_, err = s.ctrl.IntelligentPayout(1)
	s.Require().NoError(err)
	var payout []byte
	for _, f := range other.WrittenFrames() {
		if f[3] == CmdIntelligentPayout {
			payout = f
		}
	}
	s.Require().NotNil(payout)
	s.Equal([]byte{0xAA, 0xBB, 0xCC, 0x00, 0x01}, payout[4:9])
}

func (s *HopperControllerTestSuite) TestIntelligentPayoutNack() {
	s.connect()
	s.port.SetResponse(CmdIntelligentPayout, reply(DefaultAddress, HeaderNACK))
	statusQueries := s.port.CountCommand(CmdRequestStatus)

	report, err := s.ctrl.IntelligentPayout(5)
	s.True(apperrors.Is(err, apperrors.ErrDeviceNack))
	s.Require().NotNil(report)
	s.NotEmpty(report.Error)
	s.Equal(statusQueries, s.port.CountCommand(CmdRequestStatus))
}

func (s *HopperControllerTestSuite) TestIntelligentPayoutStatusFailureIsNotFatal() {
	s.connect()
	s.port.SetResponse(CmdRequestStatus, reply(DefaultAddress, HeaderACK, 0x77))

	report, err := s.ctrl.IntelligentPayout(5)
	s.Require().NoError(err)
	s.Nil(report.Status)
	s.NotEmpty(report.StatusError)
}

func (s *HopperControllerTestSuite) TestIntelligentPayoutWithoutSerial() {
	s.port.SetResponse(CmdSerialNumber, reply(DefaultAddress, HeaderNACK))
	s.Require().NoError(s.ctrl.transport.Open(""))

	report, err := s.ctrl.IntelligentPayout(5)
	s.True(apperrors.Is(err, apperrors.ErrSerialNumberUnavailable))
	s.Require().NotNil(report)
	s.Equal(0, s.port.CountCommand(CmdIntelligentPayout))
}

func (s *HopperControllerTestSuite) TestSafetyAnomalyWarnsOnly() {
	s.connect()
	s.port.SetResponse(CmdRequestStatus, payoutStatus(5, 0, 250))

	report, err := s.ctrl.IntelligentPayout(5)
	s.Require().NoError(err)
	s.Len(report.Anomalies, 1)
	s.False(report.AutoStopped)
	s.Equal(0, s.port.CountCommand(CmdStopPayment))
}

func (s *HopperControllerTestSuite) TestSafetyAnomalyAutoStop() {
	s.ctrl = s.newController(func(o *HopperOptions) { o.Safety.AutoStop = true })
	s.connect()
	s.port.SetResponse(CmdRequestStatus, payoutStatus(100, 0, 100))

	report, err := s.ctrl.IntelligentPayout(5)
	s.Require().NoError(err)
	s.Len(report.Anomalies, 1)
	s.True(report.AutoStopped)
	s.Equal(1, s.port.CountCommand(CmdStopPayment))
}

func (s *HopperControllerTestSuite) TestMultiPathPayout() {
	s.connect()
	statusQueries := s.port.CountCommand(CmdRequestStatus)

	report, err := s.ctrl.MultiPathPayout(2, 0x0102)
	s.Require().NoError(err)
	s.Equal(PayoutModeMultiPath, report.Mode)
	s.Equal(2, report.Path)
	s.Equal(0x0102, report.Count)

	frames := s.port.WrittenFrames()
	last := frames[len(frames)-1]
	s.Equal(CmdMultiPathPayout, last[3])
	s.Equal([]byte{
		0x12, 0x34, 0x56,
		0x00, 0x00,
		0x01, 0x02,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}, last[4:len(last)-1])

	// 多路出币后不查询状态
	s.Equal(statusQueries, s.port.CountCommand(CmdRequestStatus))
}

func (s *HopperControllerTestSuite) TestMultiPathPayoutValidation() {
	s.connect()
	before := len(s.port.WrittenFrames())

	cases := [][2]int{{0, 1}, {7, 1}, {1, 0}, {1, 0x10000}}
	for _, c := range cases {
		_, err := s.ctrl.MultiPathPayout(c[0], c[1])
		s.True(apperrors.Is(err, apperrors.ErrInvalidParam), "path %d count %d", c[0], c[1])
	}
	s.Len(s.port.WrittenFrames(), before)
}

func (s *HopperControllerTestSuite) TestCheckStatus() {
	s.connect()
	s.port.SetResponse(CmdOptoStatus, reply(DefaultAddress, HeaderACK, 0x01))

	st, err := s.ctrl.CheckStatus()
	s.Require().NoError(err)
	s.Equal("idle | opto: empty", st.Summary)
	s.True(st.Opto.Empty)
}

func (s *HopperControllerTestSuite) TestCheckStatusPartialFailure() {
	s.connect()
	s.port.SetResponse(CmdRequestStatus, reply(DefaultAddress, HeaderNACK))

	st, err := s.ctrl.CheckStatus()
	s.Require().NoError(err)
	s.NotEmpty(st.StatusError)
	s.NotNil(st.Opto)
}

func (s *HopperControllerTestSuite) TestDeviceCommands() {
	s.connect()

	left, err := s.ctrl.StopPayment()
	s.Require().NoError(err)
	s.Equal(2, left)

	resp, err := s.ctrl.Cancel()
	s.Require().NoError(err)
	s.Equal(HeaderACK, resp[3])

	last, err := s.ctrl.LastCommandStatus()
	s.Require().NoError(err)
	s.Equal("request_status", last.Name)

	test, err := s.ctrl.TestHopper()
	s.Require().NoError(err)
	s.Equal("normal", test.Summary())

	opto, err := s.ctrl.ReadOptoStatus()
	s.Require().NoError(err)
	s.Equal("normal", opto.Summary())

	raw, err := s.ctrl.SendRaw(CmdSimplePoll, nil, 0)
	s.Require().NoError(err)
	s.Equal("03-00-01-FE-FE", raw.Request)
	s.Contains(raw.Description, "command executed")
}

func (s *HopperControllerTestSuite) TestCancelNack() {
	s.connect()
	s.port.SetResponse(CmdCancel, reply(DefaultAddress, HeaderNACK))

	resp, err := s.ctrl.Cancel()
	s.True(apperrors.Is(err, apperrors.ErrDeviceNack))
	s.NotNil(resp)
}

func TestHopperControllerSuite(t *testing.T) {
	suite.Run(t, new(HopperControllerTestSuite))
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Hopper.Address = 5
	cfg.Hopper.ByteOrder = "lsb"
	cfg.Serial.Driver = "bugst"
	cfg.Safety.AutoStop = true

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, byte(5), opts.Address)
	assert.Equal(t, ByteOrderLSB, opts.ByteOrder)
	assert.Equal(t, "bugst", opts.Serial.Driver)
	assert.True(t, opts.Safety.AutoStop)
	assert.NotNil(t, opts.Opener)

	cfg.Hopper.ByteOrder = "weird"
	_, err = OptionsFromConfig(cfg)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfigValidate))
}
