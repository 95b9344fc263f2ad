package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapServiceLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapServiceLogger(zap.New(core))

	logger.Info("dispatch", LogFields{"method": "add"})
	logger.Debug("bind", nil)
	logger.Trace("frame", LogFields{"id": "x1"})
	logger.Error("failed", errors.New("boom"), LogFields{"method": "add"})
	Warn(logger, "duplicate method", LogFields{"method": "echo"})

	entries := logs.AllUntimed()
	require.Len(t, entries, 5)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "add", entries[0].ContextMap()["method"])
	assert.Equal(t, zapcore.DebugLevel, entries[2].Level)
	assert.Equal(t, true, entries[2].ContextMap()["trace"])
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, "boom", entries[3].ContextMap()["error"])
	assert.Equal(t, zapcore.WarnLevel, entries[4].Level)
}

func TestZapServiceLoggerWith(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewZapServiceLogger(zap.New(core)).With(LogFields{"adapter": "socket"})

	logger.Info("listening", nil)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "socket", logs.All()[0].ContextMap()["adapter"])
	assert.Panics(t, func() { NewZapServiceLogger(nil) })
}

func TestWarnAddsSeverityWithoutMutatingFields(t *testing.T) {
	base := &recordingServiceLogger{}
	fields := LogFields{"index": 2}

	Warn(base, "unsupported source", fields)
	Warn(nil, "ignored", nil)

	require.Len(t, base.entries, 1)
	assert.Equal(t, "warning", base.entries[0].fields[SeverityField])
	assert.NotContains(t, fields, SeverityField)
}

func TestNopAndOrNop(t *testing.T) {
	assert.NotNil(t, NewNopServiceLogger())
	base := &recordingServiceLogger{}
	assert.Same(t, base, OrNop(base))
	assert.NotNil(t, OrNop(nil))
}

func TestWatermillAdapterUnwrapsWatermillLogger(t *testing.T) {
	inner := newRecordingWatermillLogger()
	adapter := NewWatermillAdapter(NewWatermillServiceLogger(inner))
	assert.Same(t, inner, adapter)
}
