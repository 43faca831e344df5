package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// hijack 把全局 Log 换成写 buffer 的 core
func hijack(t *testing.T) *bytes.Buffer {
	t.Helper()
	buffer := &bytes.Buffer{}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "msg"

	old := Log
	Log = zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(buffer),
		zap.DebugLevel,
	))
	t.Cleanup(func() { Log = old })
	return buffer
}

func TestLogger_Info_WithTraceAndRequestID(t *testing.T) {
	buffer := hijack(t)

	ctx := context.WithValue(context.Background(), TraceIdKey, "trace-12345")
	ctx = context.WithValue(ctx, RequestIdKey, "req-777")

	Info(ctx, "address allocated", zap.Int64("wallet_id", 7), zap.Int("count", 5))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry), "日志输出必须是合法的 JSON")

	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "address allocated", entry["msg"])
	assert.Equal(t, float64(7), entry["wallet_id"])
	assert.Equal(t, float64(5), entry["count"])
	assert.Equal(t, "trace-12345", entry["trace_id"])
	assert.Equal(t, "req-777", entry["request_id"])
}

func TestLogger_Error_NoTraceID(t *testing.T) {
	buffer := hijack(t)

	Error(context.Background(), "price refresh failed", zap.String("provider", "coingecko"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry))

	_, exists := entry["trace_id"]
	assert.False(t, exists, "没有 TraceID 的 Context 不应该输出 trace_id 字段")
	_, exists = entry["request_id"]
	assert.False(t, exists)
	assert.Equal(t, "error", entry["level"])
}

func TestLogger_NilContext(t *testing.T) {
	buffer := hijack(t)
	//nolint:staticcheck
	Warn(nil, "no ctx")
	assert.Contains(t, buffer.String(), "no ctx")
}
