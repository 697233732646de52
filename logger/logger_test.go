package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitializeWithOptions(t *testing.T) {
	tests := []struct {
		name       string
		opts       Options
		wantJSON   bool
		wantSubstr string
	}{
		{
			name:       "JSON output mode",
			opts:       Options{JSON: true},
			wantJSON:   true,
			wantSubstr: `"msg":"hello"`,
		},
		{
			name:       "Console output mode",
			opts:       Options{NoColor: true},
			wantJSON:   false,
			wantSubstr: "hello  job_id=42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.opts.Output = &buf

			require.NoError(t, InitializeWithOptions(tt.opts))
			t.Cleanup(func() { Logger = zap.NewNop().Sugar() })

			assert.Equal(t, tt.wantJSON, JSONOutput)
			Infow("hello", FieldJobID, "42")
			Cleanup()

			assert.Contains(t, buf.String(), tt.wantSubstr)
		})
	}
}

func TestJSONOutputIsParseable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitializeWithOptions(Options{JSON: true, Output: &buf}))
	t.Cleanup(func() { Logger = zap.NewNop().Sugar() })

	Warnw("requeue failed", FieldJobID, "7", FieldError, errors.New("socket timed out"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "7", entry[FieldJobID])
	assert.Equal(t, "socket timed out", entry[FieldError])
}

func TestQuietSuppressesInfo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitializeWithOptions(Options{Verbosity: VerbosityQuiet, NoColor: true, Output: &buf}))
	t.Cleanup(func() { Logger = zap.NewNop().Sugar() })

	Infow("not shown")
	Debugw("not shown either")
	Errorw("shown")

	out := buf.String()
	assert.NotContains(t, out, "not shown")
	assert.Contains(t, out, "ERROR  shown")
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(VerbosityQuiet))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(VerbosityInfo))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(VerbosityDebug))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(7))
	assert.True(t, ShouldLogTrace(VerbosityTrace))
	assert.False(t, ShouldLogTrace(VerbosityDebug))
	assert.Equal(t, "Debug (-v)", LevelName(VerbosityDebug))
}

func TestMinimalEncoderKeepsEveryField(t *testing.T) {
	enc := newMinimalEncoder(false)
	entry := zapcore.Entry{
		Level:      zapcore.WarnLevel,
		Time:       time.Date(2026, 10, 19, 13, 4, 35, 0, time.UTC),
		LoggerName: "preempt",
		Message:    "Requeue failed",
	}

	buf, err := enc.EncodeEntry(entry, []zapcore.Field{
		zap.String(FieldAction, "requeue"),
		zap.Int(FieldDurationMS, 12),
		zap.Bool(FieldTransient, true),
		zap.String(FieldJobID, "4242"),
		zap.String(FieldError, "Invalid job id specified"),
	})
	require.NoError(t, err)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "2026-10-19 13:04:35  WARN  preempt  Requeue failed  "))
	// identity fields lead, the rest keep call order
	assert.Contains(t, out, `job_id=4242 action=requeue duration_ms=12 transient=true error="Invalid job id specified"`)
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestMinimalEncoderWithContextFields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitializeWithOptions(Options{NoColor: true, Output: &buf}))
	t.Cleanup(func() { Logger = zap.NewNop().Sugar() })

	log := ComponentLogger("preempt").With(FieldJobID, "99", FieldSignal, "USR1")
	log.Infow("Requeue requested", FieldDurationMS, 5)

	out := buf.String()
	assert.Contains(t, out, "preempt  Requeue requested  job_id=99 signal=USR1 duration_ms=5")
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitializeWithOptions(Options{NoColor: true, Output: &buf}))
	t.Cleanup(func() { Logger = zap.NewNop().Sugar() })

	ctx := WithRunID(WithJobID(context.Background(), "123"), "run-abc")
	assert.Equal(t, []interface{}{FieldJobID, "123", FieldRunID, "run-abc"}, FieldsFromContext(ctx))

	LoggerFromContext(ctx).Infow("started")
	assert.Contains(t, buf.String(), "job_id=123 run_id=run-abc")

	assert.Same(t, Logger, LoggerFromContext(context.Background()))
}
