package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wfunc/hopper-driver/internal/config"
	"github.com/wfunc/hopper-driver/internal/metrics"
	"github.com/wfunc/hopper-driver/internal/middleware"
	"github.com/wfunc/hopper-driver/internal/websocket"
	"go.uber.org/zap"
)

// RouterOptions 路由依赖，Records、Hub、Registry 可为空
type RouterOptions struct {
	Driver      Driver
	Records     RecordStore
	Hub         *websocket.Hub
	Registry    *prometheus.Registry
	PayoutLimit *middleware.RateLimiter
	DBHealthy   func() bool
	Mode        string
}

// Router API路由器
type Router struct {
	engine *gin.Engine
	opts   RouterOptions
	server *http.Server
	log    *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(opts RouterOptions, log *zap.Logger) *Router {
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}
	if opts.PayoutLimit == nil {
		opts.PayoutLimit = middleware.NewRateLimiter(0, 0)
	}

	engine := gin.New()
	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestLogger())

	router := &Router{
		engine: engine,
		opts:   opts,
		log:    log,
	}
	router.setupRoutes()
	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.healthCheck)
	if r.opts.Registry != nil {
		r.engine.GET("/metrics", gin.WrapH(metrics.Handler(r.opts.Registry)))
	}

	v1 := r.engine.Group("/api/v1")
	NewHopperHandler(r.opts.Driver, r.opts.Hub).RegisterRoutes(v1, middleware.RateLimit(r.opts.PayoutLimit))
	if r.opts.Records != nil {
		NewSerialLogAPI(r.opts.Records).RegisterRoutes(v1)
	}

	if r.opts.Hub != nil {
		r.engine.GET("/ws/status", gin.WrapH(r.opts.Hub))
	}
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	info := r.opts.Driver.DeviceInfo()
	status := gin.H{
		"status":            "ok",
		"connected":         info.Connected,
		"enabled":           info.Session.Enabled,
		"connection_tested": info.Session.ConnectionTested,
		"monitor":           info.Monitor,
		"time":              time.Now().Format(time.RFC3339),
	}
	if r.opts.DBHealthy != nil {
		status["database"] = r.opts.DBHealthy()
	}
	if r.opts.Hub != nil {
		status["ws_clients"] = r.opts.Hub.GetOnlineCount()
	}
	c.JSON(http.StatusOK, status)
}

// Start 在后台启动HTTP服务
func (r *Router) Start(cfg config.ServerConfig) error {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	r.server = &http.Server{
		Addr:         addr,
		Handler:      r.engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		r.log.Info("HTTP服务启动", zap.String("address", addr))
		if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// 端口占用等错误会立即返回
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Shutdown 优雅关闭HTTP服务
func (r *Router) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	r.log.Info("HTTP服务关闭中...")
	return r.server.Shutdown(ctx)
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
