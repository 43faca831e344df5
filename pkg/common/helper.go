package common

import (
	"net/http"

	"btcwatch.com/pkg/logger"
	"btcwatch.com/pkg/xerr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 定义http返回格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// FailErr 按 xerr 错误码选 http 状态。4xx 记 warn，5xx 记 error 带底层原因
func FailErr(c *gin.Context, err error) {
	code := xerr.CodeOf(err)
	status := xerr.HTTPStatus(code)
	msg := xerr.MsgOf(err)

	fields := []zap.Field{
		zap.String("request_id", RequestIDFromGin(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("biz_code", code),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "http error", fields...)
	} else {
		logger.Warn(c.Request.Context(), "http rejected", fields...)
	}
	Fail(c, status, code, msg)
}

// Created 201，创建类接口用
func Created(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusCreated, Response{
		Code:    http.StatusCreated,
		Message: http.StatusText(http.StatusCreated),
		Data:    data,
	})
}

// BadRequest 参数绑定失败
func BadRequest(c *gin.Context, err error) {
	logger.Warn(c.Request.Context(), "http bad request",
		zap.String("request_id", RequestIDFromGin(c)),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err))
	Fail(c, http.StatusBadRequest, xerr.RequestParamsError, err.Error())
}
