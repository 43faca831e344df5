package safe

import (
	"context"
	"fmt"
	"runtime/debug"

	"btcwatch.com/pkg/logger"
	"go.uber.org/zap"
)

// PanicError panic 被 Run 转成的错误
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Go 安全启动协程
func Go(fn func()) {
	GoCtx(context.Background(), func(context.Context) { fn() })
}

// GoCtx 安全启动携带 context 的协程，日志里保留请求链路信息
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(ctx, "🚨 GOROUTINE PANIC RECOVERED",
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
			}
		}()
		fn(ctx)
	}()
}

// Run 同步执行 fn，panic 转成 *PanicError 返回，调用方按普通错误处理
func Run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pe := &PanicError{Value: r, Stack: debug.Stack()}
			logger.Error(ctx, "🚨 PANIC RECOVERED",
				zap.Any("panic", r),
				zap.ByteString("stack", pe.Stack),
			)
			err = pe
		}
	}()
	return fn(ctx)
}
