package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/conceptd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// captureStdout redirects logger output into a buffer for the test.
func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestNewLogger(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		logger, err := NewLogger(NewDefaultConfig(), nil)
		require.NoError(t, err)
		assert.NotNil(t, logger.Underlying())
	})

	t.Run("invalid format", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Format = "xml"
		_, err := NewLogger(cfg, nil)
		assert.Error(t, err)
	})

	t.Run("no outputs", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Output.Stdout = false
		_, err := NewLogger(cfg, nil)
		assert.Error(t, err)
	})
}

func TestLogger_WritesJSONWithCorrelation(t *testing.T) {
	buf := captureStdout(t)
	cfg := NewDefaultConfig()
	cfg.Level = TraceLevel
	cfg.Sampling.Enabled = false

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))
	ctx = WithSessionID(ctx, "room-42")
	ctx = WithCycleID(ctx, "c-1")

	logger.Trace(ctx, "segment observed", zap.Int("chars", 12))
	logger.Info(ctx, "cycle finished")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)

	assert.Equal(t, "trace", lines[0]["level"])
	assert.Equal(t, "segment observed", lines[0]["msg"])
	assert.Equal(t, "room-42", lines[0]["session.id"])
	assert.Equal(t, "c-1", lines[0]["cycle.id"])
	assert.Equal(t, traceID.String(), lines[0]["trace_id"])
	assert.Equal(t, "conceptd", lines[1]["service"])
	assert.Contains(t, lines[1], "ts")
}

func TestLogger_RedactsSensitiveFields(t *testing.T) {
	buf := captureStdout(t)
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)

	logger.Info(context.Background(), "extraction configured",
		zap.String("api_key", "sk-abcdefghijklmnopqrstuvwxyz"),
		zap.String("note", "header was Bearer abc.def"),
		Secret("credential", config.Secret("hunter2")),
	)
	logger.With(zap.String("token", "t0ken")).Info(context.Background(), "child")

	out := buf.String()
	assert.NotContains(t, out, "sk-abcdefghijklmnopqrstuvwxyz")
	assert.NotContains(t, out, "abc.def")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "t0ken")
	assert.Contains(t, out, "[REDACTED]")
}

func TestLogger_SamplingNeverDropsErrors(t *testing.T) {
	buf := captureStdout(t)
	cfg := NewDefaultConfig()
	cfg.Sampling.Initial = 1
	cfg.Sampling.Thereafter = 0

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		logger.Info(ctx, "repeated info")
		logger.Error(ctx, "repeated error")
	}

	var infos, errs int
	for _, line := range decodeLines(t, buf) {
		switch line["msg"] {
		case "repeated info":
			infos++
		case "repeated error":
			errs++
		}
	}
	assert.Equal(t, 1, infos)
	assert.Equal(t, 5, errs)
}

func TestFromConfig(t *testing.T) {
	cfg, err := FromConfig(config.LoggingConfig{Level: "trace", Format: "console", OTEL: true})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.True(t, cfg.Output.OTEL)
	assert.False(t, cfg.Sampling.Enabled)

	_, err = FromConfig(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestLevelFromString(t *testing.T) {
	tests := map[string]zapcore.Level{
		"trace": TraceLevel,
		"debug": zapcore.DebugLevel,
		"info":  zapcore.InfoLevel,
		"error": zapcore.ErrorLevel,
	}
	for in, want := range tests {
		got, err := LevelFromString(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	long := strings.Repeat("a", 300)
	ctx = WithSessionID(ctx, long)
	assert.Len(t, SessionIDFromContext(ctx), maxIDLen)

	ctx = WithSessionID(context.Background(), "bad\xffid")
	assert.Equal(t, "bad?id", SessionIDFromContext(ctx))

	tl := NewTestLogger()
	ctx = WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestTestLogger(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithSessionID(context.Background(), "room-1")

	tl.Warn(ctx, "extraction failed", zap.Int("attempt", 2))

	tl.AssertLogged(t, zapcore.WarnLevel, "extraction failed")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "extraction failed")
	tl.AssertField(t, "extraction failed", "session.id", "room-1")
	tl.AssertField(t, "extraction failed", "attempt", int64(2))

	tl.Reset()
	assert.Empty(t, tl.All())
}
