package api

import (
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/hopper-driver/internal/errors"
	"github.com/wfunc/hopper-driver/internal/hardware"
	"github.com/wfunc/hopper-driver/internal/logger"
	"github.com/wfunc/hopper-driver/internal/middleware"
	"github.com/wfunc/hopper-driver/internal/websocket"
	"go.uber.org/zap"
)

// HopperHandler 退币器接口
type HopperHandler struct {
	driver Driver
	hub    *websocket.Hub
	logger *zap.Logger
}

// NewHopperHandler 创建退币器接口，hub 可为空
func NewHopperHandler(driver Driver, hub *websocket.Hub) *HopperHandler {
	return &HopperHandler{
		driver: driver,
		hub:    hub,
		logger: logger.GetModuleLogger("api"),
	}
}

// ConnectRequest 连接请求
type ConnectRequest struct {
	Port string `json:"port"`
}

// PayoutRequest 智能出币请求
type PayoutRequest struct {
	Amount int `json:"amount" binding:"required"`
}

// MultiPathRequest 多路出币请求
type MultiPathRequest struct {
	Path  int `json:"path" binding:"required"`
	Count int `json:"count" binding:"required"`
}

// RawRequest 原始命令请求
type RawRequest struct {
	Command   string `json:"command" binding:"required"`
	Payload   string `json:"payload"`
	TimeoutMs int    `json:"timeout_ms"`
}

// RegisterRoutes 注册路由
func (h *HopperHandler) RegisterRoutes(router *gin.RouterGroup, payoutLimit gin.HandlerFunc) {
	hopper := router.Group("/hopper")
	{
		hopper.GET("/info", h.Info)
		hopper.POST("/connect", h.Connect)
		hopper.POST("/disconnect", h.Disconnect)
		hopper.POST("/enable", h.Enable)
		hopper.POST("/disable", h.Disable)
		hopper.GET("/serial", h.SerialNumber)
		hopper.GET("/status", h.Status)
		hopper.GET("/check", h.Check)
		hopper.GET("/opto", h.Opto)
		hopper.POST("/test", h.Test)
		hopper.GET("/last-command", h.LastCommand)
		hopper.POST("/payout", payoutLimit, h.Payout)
		hopper.POST("/multipath", payoutLimit, h.MultiPath)
		hopper.POST("/stop-payment", h.StopPayment)
		hopper.POST("/cancel", h.Cancel)
		hopper.POST("/raw", h.Raw)
		hopper.POST("/diagnostics", h.Diagnostics)
		hopper.POST("/monitor/start", h.StartMonitor)
		hopper.POST("/monitor/stop", h.StopMonitor)
	}
}

// Info 设备信息
func (h *HopperHandler) Info(c *gin.Context) {
	middleware.Success(c, "", h.driver.DeviceInfo())
}

// Connect 打开串口并完成连接流程
func (h *HopperHandler) Connect(c *gin.Context) {
	var req ConnectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.Fail(c, apperrors.New(apperrors.ErrInvalidParam, err.Error()))
			return
		}
	}
	if err := h.driver.Connect(req.Port); err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.Success(c, "connected", h.driver.DeviceInfo())
}

// Disconnect 断开连接
func (h *HopperHandler) Disconnect(c *gin.Context) {
	if err := h.driver.Disconnect(); err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.Success(c, "disconnected", nil)
}

// Enable 启用退币器
func (h *HopperHandler) Enable(c *gin.Context) {
	if err := h.driver.Enable(); err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.Success(c, "enabled", nil)
}

// Disable 禁用退币器
func (h *HopperHandler) Disable(c *gin.Context) {
	if err := h.driver.Disable(); err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.Success(c, "disabled", nil)
}

// SerialNumber 序列号
func (h *HopperHandler) SerialNumber(c *gin.Context) {
	sn, err := h.driver.GetSerialNumber()
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.Success(c, "", gin.H{"serial_number": sn})
}

// Status 查询状态
func (h *HopperHandler) Status(c *gin.Context) {
	status, err := h.driver.QueryStatus()
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.Success(c, status.Summary(), status)
}

// Check 状态与光电组合查询
func (h *HopperHandler) Check(c *gin.Context) {
	result, err := h.driver.CheckStatus()
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.Success(c, result.Summary, result)
}

// Opto 光电状态
func (h *HopperHandler) Opto(c *gin.Context) {
	opto, err := h.driver.ReadOptoStatus()
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.Success(c, opto.Summary(), opto)
}

// Test 自检
func (h *HopperHandler) Test(c *gin.Context) {
	result, err := h.driver.TestHopper()
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.Success(c, result.Summary(), result)
}

// LastCommand 最后命令状态
func (h *HopperHandler) LastCommand(c *gin.Context) {
	result, err := h.driver.LastCommandStatus()
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.Success(c, result.Detail, result)
}

// Payout 智能出币
func (h *HopperHandler) Payout(c *gin.Context) {
	var req PayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperrors.New(apperrors.ErrInvalidParam, err.Error()))
		return
	}

	report, err := h.driver.IntelligentPayout(req.Amount)
	h.publishPayout(report)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.Success(c, report.Description, report)
}

// MultiPath 多路出币
func (h *HopperHandler) MultiPath(c *gin.Context) {
	var req MultiPathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperrors.New(apperrors.ErrInvalidParam, err.Error()))
		return
	}

	report, err := h.driver.MultiPathPayout(req.Path, req.Count)
	h.publishPayout(report)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.Success(c, report.Description, report)
}

func (h *HopperHandler) publishPayout(report *hardware.PayoutReport) {
	if h.hub == nil || report == nil {
		return
	}
	if err := h.hub.BroadcastData(websocket.MessageTypePayoutReport, report); err != nil {
		h.logger.Warn("广播出币结果失败", zap.Error(err))
	}
}

// StopPayment 停止出币
func (h *HopperHandler) StopPayment(c *gin.Context) {
	unpaid, err := h.driver.StopPayment()
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.Success(c, "payment stopped", gin.H{"unpaid": unpaid})
}

// Cancel 取消当前操作
func (h *HopperHandler) Cancel(c *gin.Context) {
	resp, err := h.driver.Cancel()
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.Success(c, "canceled", gin.H{"response": logger.HexBytes(resp)})
}

// Raw 发送原始命令
func (h *HopperHandler) Raw(c *gin.Context) {
	var req RawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperrors.New(apperrors.ErrInvalidParam, err.Error()))
		return
	}

	command, err := hardware.ParseCommand(req.Command)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	payload, err := hardware.ParseHexBytes(req.Payload)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	var timeout time.Duration
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	result, err := h.driver.SendRaw(command, payload, timeout)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.Success(c, result.Description, result)
}

// Diagnostics 通信诊断
func (h *HopperHandler) Diagnostics(c *gin.Context) {
	result := h.driver.RunDiagnostics()
	middleware.Success(c, "", result)
}

// StartMonitor 启动状态监控
func (h *HopperHandler) StartMonitor(c *gin.Context) {
	if !h.driver.StartMonitor() {
		middleware.Fail(c, apperrors.Newf(apperrors.ErrDeviceBusy,
			"monitor not started (state %s, connection tested %v)",
			h.driver.MonitorState(), h.driver.DeviceInfo().Session.ConnectionTested))
		return
	}
	middleware.Success(c, "monitor started", gin.H{"state": h.driver.MonitorState().String()})
}

// StopMonitor 停止状态监控
func (h *HopperHandler) StopMonitor(c *gin.Context) {
	h.driver.StopMonitor()
	middleware.Success(c, "monitor stopped", gin.H{"state": h.driver.MonitorState().String()})
}
