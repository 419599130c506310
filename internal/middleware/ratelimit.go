package middleware

import (
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/hopper-driver/internal/errors"
	"github.com/wfunc/hopper-driver/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter 基于Token Bucket的限流器
type RateLimiter struct {
	limiter       *rate.Limiter
	perMinute     int
	burst         int
	allowedCount  atomic.Int64
	rejectedCount atomic.Int64
}

// NewRateLimiter 创建限流器
// perMinute: 每分钟允许的请求数，<=0 表示不限流
// burst: 突发容量
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
		perMinute: perMinute,
		burst:     burst,
	}
}

// Allow 检查是否允许请求（非阻塞）
func (l *RateLimiter) Allow() bool {
	if l.limiter.Allow() {
		l.allowedCount.Add(1)
		return true
	}
	l.rejectedCount.Add(1)
	return false
}

// Stats 获取统计信息
func (l *RateLimiter) Stats() RateLimiterStats {
	return RateLimiterStats{
		PerMinute:     l.perMinute,
		Burst:         l.burst,
		AllowedTotal:  l.allowedCount.Load(),
		RejectedTotal: l.rejectedCount.Load(),
	}
}

// RateLimiterStats 限流统计
type RateLimiterStats struct {
	PerMinute     int   `json:"per_minute"`
	Burst         int   `json:"burst"`
	AllowedTotal  int64 `json:"allowed_total"`
	RejectedTotal int64 `json:"rejected_total"`
}

// RateLimit 超过速率时返回 429
func RateLimit(l *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow() {
			logger.GetModuleLogger("http").Warn("请求被限流",
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()))
			Fail(c, apperrors.Newf(apperrors.ErrRateLimitExceeded, "limit %d per minute", l.perMinute))
			return
		}
		c.Next()
	}
}
