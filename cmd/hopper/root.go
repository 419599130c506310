package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/wfunc/hopper-driver/internal/config"
	"github.com/wfunc/hopper-driver/internal/hardware"
	"github.com/wfunc/hopper-driver/internal/logger"
	"go.uber.org/zap"
)

var (
	configPath string
	portName   string
	address    int
)

var rootCmd = &cobra.Command{
	Use:   "hopper",
	Short: "ccTalk coin hopper driver",
	Long: `hopper drives a ccTalk coin hopper over a serial line.

Device commands open the port, run the connect flow (diagnostics, serial
number, enable), execute one operation and disconnect again. "serve" keeps
the driver running behind an HTTP/WebSocket API.

  hopper --port /dev/ttyUSB0 status
  hopper payout 10
  hopper raw 0xA4 A5
  hopper serve --config ./config/config.yaml`,
	Version:       fmt.Sprintf("%s (build %s, commit %s)", Version, BuildTime, GitCommit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "serial port, \"auto\" picks the first one found")
	rootCmd.PersistentFlags().IntVarP(&address, "address", "a", 0, "hopper ccTalk address (default from config, 3)")
}

// setup 加载配置并初始化日志，命令行参数覆盖配置文件
func setup(cmd *cobra.Command) error {
	if err := config.Init(configPath); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := config.Get()

	if cmd.Flags().Changed("port") {
		cfg.Serial.Port = portName
	}
	if cmd.Flags().Changed("address") {
		if address <= 0 || address > 0xFF {
			return fmt.Errorf("address out of range: %d", address)
		}
		cfg.Hopper.Address = address
	}

	if err := logger.Init(&cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	return nil
}

// newController 按当前配置创建驱动
func newController(mutate func(*hardware.HopperOptions)) (*hardware.HopperController, error) {
	opts, err := hardware.OptionsFromConfig(config.Get())
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(&opts)
	}
	return hardware.NewHopperController(opts), nil
}

// withDevice 连接设备执行一次操作后断开
func withDevice(fn func(c *hardware.HopperController) error) error {
	ctrl, err := newController(func(o *hardware.HopperOptions) { o.AutoMonitor = false })
	if err != nil {
		return err
	}
	if err := ctrl.Connect(""); err != nil {
		return err
	}
	defer func() {
		if err := ctrl.Disconnect(); err != nil {
			logger.Warn("断开连接失败", zap.Error(err))
		}
		logger.Cleanup()
	}()

	if !ctrl.DeviceInfo().Session.ConnectionTested {
		fmt.Fprintln(os.Stderr, "warning: device did not answer diagnostics, port left open for troubleshooting")
	}
	return fn(ctrl)
}

// printJSON 以缩进 JSON 输出结果
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
