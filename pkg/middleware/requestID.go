package middleware

import (
	"context"
	"strconv"

	"btcwatch.com/pkg/common"
	"github.com/gin-gonic/gin"
)

func ReqId() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(common.HeaderRequestID)
		if rid == "" {
			rid = common.New()
		}
		c.Set(common.CtxKeyRequestID, rid)
		c.Header(common.HeaderRequestID, rid)
		// 写进 request context，service 层 logger 能带上 request_id
		ctx := context.WithValue(c.Request.Context(), common.CtxKeyRequestID, rid)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// UserID 读 X-User-Id，没有或非法时按匿名用户 0 处理。鉴权在网关层
func UserID() gin.HandlerFunc {
	return func(c *gin.Context) {
		var uid int64
		if raw := c.GetHeader(common.HeaderUserID); raw != "" {
			if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
				uid = v
			}
		}
		c.Set(common.CtxKeyUserID, uid)
		c.Next()
	}
}
