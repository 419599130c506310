package hardware

import (
	"os"
	"sort"
	"strings"

	apperrors "github.com/wfunc/hopper-driver/internal/errors"
	bugst "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// AutoPort 配置为 auto 时自动选择第一个枚举到的串口
const AutoPort = "auto"

// PortInfo 枚举到的串口
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// SerialPortExists 检查串口设备是否存在
func SerialPortExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FindSerialPorts 列出系统中的串口名称
func FindSerialPorts() ([]string, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrSerialPortOpen, "enumerate ports")
	}
	sort.Strings(ports)
	return ports, nil
}

// ListPorts 列出串口及其 USB 信息，详细枚举失败时退回到名称列表
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil || len(details) == 0 {
		names, nerr := FindSerialPorts()
		if nerr != nil {
			return nil, nerr
		}
		out := make([]PortInfo, 0, len(names))
		for _, n := range names {
			out = append(out, PortInfo{Name: n})
		}
		return out, nil
	}

	out := make([]PortInfo, 0, len(details))
	for _, d := range details {
		out = append(out, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ResolvePort 将 auto 解析为第一个可用串口
func ResolvePort(name string, find func() ([]string, error)) (string, error) {
	if !strings.EqualFold(name, AutoPort) {
		return name, nil
	}
	if find == nil {
		find = FindSerialPorts
	}
	ports, err := find()
	if err != nil {
		return "", err
	}
	if len(ports) == 0 {
		return "", apperrors.New(apperrors.ErrSerialPortOpen, "no serial ports found")
	}
	return ports[0], nil
}

// bugstPort 适配 go.bug.st/serial 到 SerialPort
type bugstPort struct {
	bugst.Port
}

func (p *bugstPort) Flush() error {
	if err := p.ResetInputBuffer(); err != nil {
		return err
	}
	return p.ResetOutputBuffer()
}

// OpenBugstPort 使用 go.bug.st/serial 打开串口
func OpenBugstPort(cfg *SerialConfig) (SerialPort, error) {
	parity := bugst.NoParity
	switch cfg.Parity {
	case "O", "odd":
		parity = bugst.OddParity
	case "E", "even":
		parity = bugst.EvenParity
	}
	stopBits := bugst.OneStopBit
	if cfg.StopBits == 2 {
		stopBits = bugst.TwoStopBits
	}

	port, err := bugst.Open(cfg.Port, &bugst.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: int(cfg.DataBits),
		Parity:   parity,
		StopBits: stopBits,
	})
	if err != nil {
		return nil, err
	}

	poll := cfg.ReadPoll
	if poll <= 0 {
		poll = defaultReadPoll
	}
	if err := port.SetReadTimeout(poll); err != nil {
		port.Close()
		return nil, err
	}
	return &bugstPort{Port: port}, nil
}

// OpenerFor 按驱动名选择串口实现
func OpenerFor(driver string) PortOpener {
	switch strings.ToLower(driver) {
	case "bugst", "go.bug.st":
		return OpenBugstPort
	default:
		return OpenTarmPort
	}
}
