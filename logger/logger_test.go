package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/martinschleiss/typeorm/logger"
)

type bufferWriter struct {
	buf bytes.Buffer
}

func (w *bufferWriter) Printf(format string, args ...interface{}) {
	fmt.Fprintf(&w.buf, format, args...)
}

func TestDefaultLoggerLevels(t *testing.T) {
	w := &bufferWriter{}
	l := logger.New(w, logger.Config{LogLevel: logger.Warn})

	l.Info(context.Background(), "ignored %s", "info")
	assert.Empty(t, w.buf.String())

	l.Warn(context.Background(), "watch out %s", "now")
	assert.Contains(t, w.buf.String(), "watch out now")

	w.buf.Reset()
	l.Error(context.Background(), "broken %s", "pipe")
	assert.Contains(t, w.buf.String(), "broken pipe")

	w.buf.Reset()
	l.LogMode(logger.Silent).Error(context.Background(), "quiet")
	assert.Empty(t, w.buf.String())
}

func TestDefaultLoggerTrace(t *testing.T) {
	w := &bufferWriter{}
	l := logger.New(w, logger.Config{LogLevel: logger.Info})

	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "insert posts", 1
	}, nil)
	assert.Contains(t, w.buf.String(), "insert posts")
	assert.Contains(t, w.buf.String(), "[rows:1]")

	w.buf.Reset()
	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "delete posts", -1
	}, errors.New("constraint failed"))
	assert.Contains(t, w.buf.String(), "constraint failed")
	assert.Contains(t, w.buf.String(), "[rows:-]")
}

func TestDefaultLoggerSlowTrace(t *testing.T) {
	w := &bufferWriter{}
	l := logger.New(w, logger.Config{LogLevel: logger.Warn, SlowThreshold: time.Millisecond})

	l.Trace(context.Background(), time.Now().Add(-10*time.Millisecond), func() (string, int64) {
		return "select everything", 100
	}, nil)
	assert.Contains(t, w.buf.String(), "SLOW SQL")
}

func TestDefaultLoggerIgnoresRecordNotFound(t *testing.T) {
	w := &bufferWriter{}
	l := logger.New(w, logger.Config{LogLevel: logger.Error, IgnoreRecordNotFoundError: true})

	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "select users", 0
	}, logger.ErrRecordNotFound)
	assert.Empty(t, w.buf.String())
}

func TestZerologLoggerTrace(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf)
	l := logger.NewZerologLogger(zl, logger.Config{LogLevel: logger.Info})

	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "insert categories", 1
	}, nil)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "insert categories", entry["sql"])
	assert.EqualValues(t, 1, entry["rows"])
	assert.Equal(t, "info", entry["level"])
}

func TestZerologLoggerErrorTrace(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf)
	l := logger.NewZerologLogger(zl, logger.Config{LogLevel: logger.Error})

	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "insert categories", -1
	}, errors.New("duplicate key"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "duplicate key", entry["error"])
	_, hasRows := entry["rows"]
	assert.False(t, hasRows, "unknown row count must be omitted")
}

func TestZapLoggerTrace(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := logger.NewZapLogger(zap.New(core), logger.Config{LogLevel: logger.Info})

	l.Info(context.Background(), "parsed schema")
	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "update teams", 1
	}, nil)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "parsed schema", entries[0].Message)

	fields := entries[1].ContextMap()
	assert.Equal(t, "update teams", fields["sql"])
	assert.EqualValues(t, 1, fields["rows"])
}

func TestLogrusLoggerLevels(t *testing.T) {
	ll, hook := logrustest.NewNullLogger()
	ll.SetLevel(logrus.InfoLevel)
	l := logger.NewLogrusLogger(ll, logger.Config{LogLevel: logger.Warn})

	l.Info(context.Background(), "hidden")
	assert.Nil(t, hook.LastEntry())

	l.Warn(context.Background(), "junction table missing")
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.True(t, strings.HasPrefix(hook.LastEntry().Message, "junction table missing"))
}

func TestLevelMappings(t *testing.T) {
	assert.Equal(t, zerolog.Disabled, logger.ZerologLevel(logger.Silent))
	assert.Equal(t, zerolog.ErrorLevel, logger.ZerologLevel(logger.Error))
	assert.Equal(t, zerolog.WarnLevel, logger.ZerologLevel(logger.Warn))
	assert.Equal(t, zerolog.InfoLevel, logger.ZerologLevel(logger.Info))

	assert.Equal(t, logrus.ErrorLevel, logger.LogrusLevel(logger.Error))
	assert.Equal(t, logrus.WarnLevel, logger.LogrusLevel(logger.Warn))
	assert.Equal(t, logrus.InfoLevel, logger.LogrusLevel(logger.Info))
}
