package handler

import (
	"net/http"
	"time"

	"tokenledger/pkg/response"
	"tokenledger/pkg/units"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// HeaderAccount 请求方地址
	HeaderAccount = "X-Account"

	callerKey = "caller"
)

// LoggerMiddleware 请求日志中间件
func LoggerMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		log.Info("HTTP请求", fields...)
	}
}

// RecoveryMiddleware panic 恢复中间件
func RecoveryMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("捕获到panic", zap.Any("panic", err), zap.String("path", c.Request.URL.Path), zap.Stack("stack"))
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
					Code:    response.CodeServerError,
					Message: "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID, "+HeaderAccount)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// CallerMiddleware 校验 X-Account 请求头并保存调用方地址
func CallerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderAccount)
		if raw == "" {
			response.Unauthorized(c, "缺少 "+HeaderAccount+" 请求头")
			return
		}
		addr, err := units.ParseAddress(raw)
		if err != nil {
			response.Unauthorized(c, HeaderAccount+" 请求头不合法: "+err.Error())
			return
		}
		c.Set(callerKey, addr.Hex())
		c.Next()
	}
}

func caller(c *gin.Context) string {
	return c.GetString(callerKey)
}
