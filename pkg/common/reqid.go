package common

import (
	"btcwatch.com/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-Id"
	HeaderUserID    = "X-User-Id"
	CtxKeyRequestID = logger.RequestIdKey
	CtxKeyUserID    = "user_id"
)

func New() string { return uuid.NewString() }

// 获取id
func RequestIDFromGin(c *gin.Context) string {
	if v, ok := c.Get(CtxKeyRequestID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// UserIDFromGin 由 middleware.UserID 写入，没有则为 0
func UserIDFromGin(c *gin.Context) int64 {
	return c.GetInt64(CtxKeyUserID)
}
