package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/wfunc/hopper-driver/internal/api"
	"github.com/wfunc/hopper-driver/internal/config"
	"github.com/wfunc/hopper-driver/internal/database"
	"github.com/wfunc/hopper-driver/internal/errors"
	"github.com/wfunc/hopper-driver/internal/hardware"
	"github.com/wfunc/hopper-driver/internal/logger"
	"github.com/wfunc/hopper-driver/internal/metrics"
	"github.com/wfunc/hopper-driver/internal/middleware"
	"github.com/wfunc/hopper-driver/internal/service"
	"github.com/wfunc/hopper-driver/internal/websocket"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the driver behind the HTTP/WebSocket API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		printStartInfo(cfg)

		server := NewServer(cfg)
		if err := server.Start(); err != nil {
			server.closeComponents()
			return err
		}

		server.WaitForShutdown()
		if err := server.Shutdown(); err != nil {
			logger.Error("服务关闭失败", zap.Error(err))
			return err
		}
		logger.Info("服务已安全关闭")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// Server 驱动服务实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	services   *service.Services
	registry   *prometheus.Registry
	hub        *websocket.Hub
	controller *hardware.HopperController
	router     *api.Router

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer 创建服务实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		logger: logger.GetLogger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 初始化组件并启动HTTP服务
func (s *Server) Start() error {
	s.logger.Info("正在启动退币器驱动服务...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
	)

	if err := s.initComponents(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "初始化组件失败")
	}

	s.router = api.NewRouter(api.RouterOptions{
		Driver:      s.controller,
		Records:     s.services.Recorder(),
		Hub:         s.hub,
		Registry:    s.registry,
		PayoutLimit: middleware.NewRateLimiter(s.cfg.Hopper.PayoutRatePerMinute, s.cfg.Hopper.PayoutBurst),
		DBHealthy:   s.dbHealthy,
		Mode:        s.cfg.Server.Mode,
	}, logger.GetModuleLogger("api"))

	if err := s.router.Start(s.cfg.Server); err != nil {
		return errors.New(errors.ErrUnknown, "HTTP服务启动失败").WithCause(err)
	}

	// 只热更新日志级别，其余配置需重启
	config.Watch(func(newCfg *config.Config) {
		s.logger.Info("配置已更新，重新加载日志级别", zap.String("level", newCfg.Log.Level))
		logger.SetLevel(newCfg.Log.Level)
	})

	s.logger.Info("服务启动成功",
		zap.String("http", fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)),
		zap.Bool("connected", s.controller.IsConnected()),
	)
	return nil
}

// initComponents 按依赖顺序初始化组件
func (s *Server) initComponents() error {
	s.logger.Info("初始化组件...")

	if err := s.initDatabase(); err != nil {
		return err
	}

	db := database.GetDB()
	s.services = service.NewServices(db, s.cfg.SerialLog, logger.GetModuleLogger("service"))

	s.registry = metrics.NewRegistry()
	hopperMetrics := metrics.NewHopperMetrics(s.registry)

	s.hub = websocket.NewHub(websocket.OptionsFromConfig(s.cfg.WebSocket), logger.GetModuleLogger("websocket"))
	go s.hub.Run(s.ctx)

	opts, err := hardware.OptionsFromConfig(s.cfg)
	if err != nil {
		return err
	}
	if rec := s.services.Recorder(); rec != nil {
		opts.Recorder = rec
	}
	opts.Metrics = hopperMetrics
	s.controller = hardware.NewHopperController(opts)
	s.controller.AddReporter(s.hub.Reporter())

	if s.cfg.Hopper.AutoConnect {
		s.logger.Info("自动连接退币器", zap.String("port", s.cfg.Serial.Port))
		if err := s.controller.Connect(""); err != nil {
			// 设备不在线时服务照常启动，可稍后通过API连接
			s.logger.Warn("自动连接失败", zap.Error(err))
		}
	}

	s.logger.Info("所有组件初始化完成")
	return nil
}

// initDatabase 初始化数据库，未启用时跳过
func (s *Server) initDatabase() error {
	if !s.cfg.Database.Enabled {
		s.logger.Info("数据库未启用，跳过初始化")
		return nil
	}
	s.logger.Info("初始化数据库...")

	if err := database.Init(&s.cfg.Database); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnect, "初始化数据库连接失败")
	}

	if s.cfg.Database.AutoMigrate {
		s.logger.Info("执行数据库自动迁移...")
		if err := database.AutoMigrate(); err != nil {
			return errors.Wrap(err, errors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}

	if !database.IsConnected() {
		return errors.New(errors.ErrDatabaseConnect, "数据库连接检查失败")
	}

	s.logger.Info("数据库初始化完成")
	return nil
}

func (s *Server) dbHealthy() bool {
	if !s.cfg.Database.Enabled {
		return true
	}
	return database.IsConnected()
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGINT,  // Ctrl+C
		syscall.SIGTERM, // kill命令
	)

	sig := <-sigCh
	s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
}

// Shutdown 优雅关闭
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务...")

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var shutdownErr error
	if s.router != nil {
		if err := s.router.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP服务关闭超时", zap.Error(err))
			shutdownErr = errors.New(errors.ErrTimeout, "关闭超时").WithCause(err)
		}
	}

	s.closeComponents()

	logger.Cleanup()
	return shutdownErr
}

// closeComponents 逆序关闭组件，可在启动失败后调用
func (s *Server) closeComponents() {
	s.logger.Info("关闭组件...")

	if s.controller != nil {
		if err := s.controller.Disconnect(); err != nil {
			s.logger.Warn("断开退币器失败", zap.Error(err))
		}
	}

	s.cancel()

	if s.services != nil {
		s.services.Close()
	}

	if database.IsConnected() {
		if err := database.Close(); err != nil {
			s.logger.Error("关闭数据库失败", zap.Error(err))
		}
	}

	s.logger.Info("所有组件已关闭")
}

// printStartInfo 打印启动信息
func printStartInfo(cfg *config.Config) {
	fmt.Println("========================================")
	fmt.Println("        ccTalk 退币器驱动服务")
	fmt.Println("========================================")
	fmt.Printf("版本: %s (%s)\n", Version, GitCommit)
	fmt.Printf("Go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Printf("HTTP: %s:%d (%s)\n", cfg.Server.Host, cfg.Server.Port, cfg.Server.Mode)
	fmt.Printf("串口: %s [%s] %d baud\n", cfg.Serial.Port, cfg.Serial.Driver, cfg.Serial.BaudRate)
	fmt.Printf("退币器地址: %d  字节序: %s\n", cfg.Hopper.Address, cfg.Hopper.ByteOrder)
	if cfg.Database.Enabled {
		fmt.Printf("数据库: %s\n", cfg.Database.Driver)
	} else {
		fmt.Println("数据库: 未启用")
	}
	fmt.Println("========================================")
}
