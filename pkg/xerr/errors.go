package xerr

import (
	"errors"
	"fmt"
	"net/http"
)

// 常用错误码定义
const (
	OK                 = 200
	RequestParamsError = 400
	RecordNotFound     = 404
	Conflict           = 409
	ServerCommonError  = 500
	DbError            = 501
	BackendUnavailable = 503
)

type CodeError struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	cause error
}

func (e *CodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("ErrCode:%d, Msg:%s, Cause:%v", e.Code, e.Msg, e.cause)
	}
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func (e *CodeError) Unwrap() error { return e.cause }

// Is 只比较错误码，方便 errors.Is(err, xerr.NewErrCode(xerr.RecordNotFound))
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap 保留底层错误，外层带错误码和对外文案
func Wrap(err error, code int, msg string) error {
	if err == nil {
		return nil
	}
	return &CodeError{Code: code, Msg: msg, cause: err}
}

// CodeOf 取出错误链上第一个 CodeError 的错误码，没有则视为服务器错误
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ServerCommonError
}

// MsgOf 返回可以直接给前端看的文案
func MsgOf(err error) string {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Msg
	}
	return MapErrMsg(ServerCommonError)
}

func IsValidation(err error) bool  { return CodeOf(err) == RequestParamsError }
func IsNotFound(err error) bool    { return CodeOf(err) == RecordNotFound }
func IsConflict(err error) bool    { return CodeOf(err) == Conflict }
func IsUnavailable(err error) bool { return CodeOf(err) == BackendUnavailable }

// HTTPStatus 错误码 -> http 状态码
func HTTPStatus(code int) int {
	switch code {
	case OK:
		return http.StatusOK
	case RequestParamsError:
		return http.StatusBadRequest
	case RecordNotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case BackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func MapErrMsg(code int) string {
	switch code {
	case ServerCommonError:
		return "internal error"
	case RequestParamsError:
		return "invalid parameters"
	case DbError:
		return "database busy"
	case RecordNotFound:
		return "record not found"
	case Conflict:
		return "conflict"
	case BackendUnavailable:
		return "backend unavailable"
	default:
		return "unknown error"
	}
}
