package logger

import (
	"bytes"
	"context"
	"testing"

	charmlog "github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferLogger(level LogLevel, json bool) (Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLogger(&Config{Level: level, Output: &buf, JSON: json, TimeFormat: "15:04:05"}), &buf
}

func TestFromContext(t *testing.T) {
	t.Run("Should return the logger stored in context", func(t *testing.T) {
		expected := NewForTests()
		ctx := ContextWithLogger(t.Context(), expected)
		assert.Same(t, expected, FromContext(ctx))
	})

	t.Run("Should fall back to the default logger", func(t *testing.T) {
		require.NotNil(t, FromContext(t.Context()))
		require.NotNil(t, FromContext(nil)) //nolint:staticcheck // nil context is tolerated
	})

	t.Run("Should ignore values of the wrong type", func(t *testing.T) {
		ctx := context.WithValue(t.Context(), LoggerCtxKey, "not a logger")
		assert.Equal(t, GetDefault(), FromContext(ctx))
	})
}

func TestLogLevel_ToCharmlogLevel(t *testing.T) {
	t.Run("Should map every level", func(t *testing.T) {
		assert.Equal(t, charmlog.DebugLevel, DebugLevel.ToCharmlogLevel())
		assert.Equal(t, charmlog.InfoLevel, InfoLevel.ToCharmlogLevel())
		assert.Equal(t, charmlog.WarnLevel, WarnLevel.ToCharmlogLevel())
		assert.Equal(t, charmlog.ErrorLevel, ErrorLevel.ToCharmlogLevel())
		assert.Equal(t, charmlog.Level(1000), DisabledLevel.ToCharmlogLevel())
		assert.Equal(t, charmlog.InfoLevel, LogLevel("verbose").ToCharmlogLevel())
	})
}

func TestLogger(t *testing.T) {
	t.Run("Should filter below the configured level", func(t *testing.T) {
		log, buf := bufferLogger(WarnLevel, false)
		log.Debug("debug message")
		log.Info("info message")
		log.Warn("warn message")
		log.Error("error message")
		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.NotContains(t, out, "info message")
		assert.Contains(t, out, "warn message")
		assert.Contains(t, out, "error message")
	})

	t.Run("Should carry fields added with With", func(t *testing.T) {
		log, buf := bufferLogger(InfoLevel, true)
		log.With("connection_id", "primary").Info("query executed", "rows", 3)
		out := buf.String()
		assert.Contains(t, out, `"connection_id":"primary"`)
		assert.Contains(t, out, `"rows":3`)
		assert.Contains(t, out, "query executed")
	})

	t.Run("Should write nothing with the test config", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := TestConfig()
		cfg.Output = &buf
		NewLogger(cfg).Error("hidden")
		assert.Empty(t, buf.String())
	})
}

func TestSetupLogger(t *testing.T) {
	t.Run("Should replace the default logger", func(t *testing.T) {
		before := GetDefault()
		t.Cleanup(func() {
			defaultMu.Lock()
			defaultLogger = before
			defaultMu.Unlock()
		})
		SetupLogger("debug", true, false)
		assert.NotSame(t, before, GetDefault())
	})
}
