package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/wfunc/hopper-driver/internal/hardware"
	"github.com/wfunc/hopper-driver/internal/logger"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := hardware.ListPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Println("no serial ports found")
			return nil
		}
		for _, p := range ports {
			if p.IsUSB {
				fmt.Printf("%s\tusb %s:%s %s %s\n", p.Name, p.VID, p.PID, p.Product, p.SerialNumber)
			} else {
				fmt.Println(p.Name)
			}
		}
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Connect and show device information",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(func(c *hardware.HopperController) error {
			return printJSON(c.DeviceInfo())
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query status and opto sensors",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(func(c *hardware.HopperController) error {
			result, err := c.CheckStatus()
			if err != nil {
				return err
			}
			fmt.Println(result.Summary)
			return printJSON(result)
		})
	},
}

var payoutCmd = &cobra.Command{
	Use:   "payout <amount>",
	Short: "Intelligent payout of <amount> coins",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid amount %q", args[0])
		}
		return withDevice(func(c *hardware.HopperController) error {
			report, err := c.IntelligentPayout(amount)
			if report != nil {
				printJSON(report)
			}
			return err
		})
	},
}

var multipathCmd = &cobra.Command{
	Use:   "multipath <path> <count>",
	Short: "Multi-path payout of <count> coins on <path>",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid path %q", args[0])
		}
		count, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid count %q", args[1])
		}
		return withDevice(func(c *hardware.HopperController) error {
			report, err := c.MultiPathPayout(path, count)
			if report != nil {
				printJSON(report)
			}
			return err
		})
	},
}

var optoCmd = &cobra.Command{
	Use:   "opto",
	Short: "Read opto sensors",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(func(c *hardware.HopperController) error {
			opto, err := c.ReadOptoStatus()
			if err != nil {
				return err
			}
			fmt.Println(opto.Summary())
			return nil
		})
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run the hopper self test",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(func(c *hardware.HopperController) error {
			result, err := c.TestHopper()
			if err != nil {
				return err
			}
			fmt.Printf("0x%02X %s\n", result.Raw, result.Summary())
			return nil
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the current payout",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(func(c *hardware.HopperController) error {
			unpaid, err := c.StopPayment()
			if err != nil {
				return err
			}
			fmt.Printf("payment stopped, %d coins unpaid\n", unpaid)
			return nil
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the current operation",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(func(c *hardware.HopperController) error {
			resp, err := c.Cancel()
			if err != nil {
				return err
			}
			fmt.Println(hardware.DescribeResponse(hardware.CmdCancel, resp))
			return nil
		})
	},
}

var lastCmd = &cobra.Command{
	Use:   "last",
	Short: "Show the last command status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(func(c *hardware.HopperController) error {
			result, err := c.LastCommandStatus()
			if err != nil {
				return err
			}
			return printJSON(result)
		})
	},
}

var rawTimeout time.Duration

var rawCmd = &cobra.Command{
	Use:   "raw <command> [hex payload]",
	Short: "Send a raw ccTalk command",
	Long: `Send a raw command and print the analysed reply.

<command> accepts 0xA4, A4h, decimal or a command name (enable_hopper).
The payload is hex, separators allowed: "A5", "12-34-56 00 0A".`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		command, err := hardware.ParseCommand(args[0])
		if err != nil {
			return err
		}
		var payload []byte
		if len(args) == 2 {
			if payload, err = hardware.ParseHexBytes(args[1]); err != nil {
				return err
			}
		}
		return withDevice(func(c *hardware.HopperController) error {
			result, err := c.SendRaw(command, payload, rawTimeout)
			if err != nil {
				return err
			}
			fmt.Printf("TX: %s\nRX: %s\n%s\n", result.Request, result.Response, result.Description)
			return nil
		})
	},
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Run communication diagnostics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(func(c *hardware.HopperController) error {
			result := c.RunDiagnostics()
			for _, step := range result.Steps {
				mark := "FAIL"
				if step.OK {
					mark = "ok"
				}
				fmt.Printf("%-4s 0x%02X %-20s %s%s\n", mark, step.Command, step.Name, step.Response, step.Error)
			}
			fmt.Printf("%d/%d commands answered\n", result.Succeeded, result.Total)
			if !result.Passed {
				return fmt.Errorf("device did not answer any diagnostic command")
			}
			return nil
		})
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Poll device status until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(func(c *hardware.HopperController) error {
			c.AddReporter(func(r *hardware.MonitorReport) {
				if r.Error != "" {
					fmt.Printf("%s %s (%s)\n", r.Time.Format("15:04:05"), r.Summary, r.Error)
					return
				}
				fmt.Printf("%s %s\n", r.Time.Format("15:04:05"), r.Summary)
			})
			if !c.StartMonitor() {
				return fmt.Errorf("monitor not started, state %s", c.MonitorState())
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logger.Info("收到退出信号，停止监控")
			c.StopMonitor()
			return nil
		})
	},
}

func init() {
	rawCmd.Flags().DurationVarP(&rawTimeout, "timeout", "t", 0, "reply timeout (default serial read timeout, capped at 10s)")

	rootCmd.AddCommand(portsCmd, infoCmd, statusCmd, payoutCmd, multipathCmd, optoCmd,
		testCmd, stopCmd, cancelCmd, lastCmd, rawCmd, diagnoseCmd, monitorCmd)
}
