package logging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger() (*ZapAdapter, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return &ZapAdapter{logger: zap.New(core)}, logs
}

func TestErrorAttachesErrorField(t *testing.T) {
	logger, logs := newObservedLogger()

	logger.Error("persist failed", errors.New("db down"),
		Field{Key: "action", Value: "circuit_open"},
	)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	fields := entry.ContextMap()
	assert.Equal(t, "db down", fields["error"])
	assert.Equal(t, "circuit_open", fields["action"])
}

func TestErrorNilErrorOmitsField(t *testing.T) {
	logger, logs := newObservedLogger()

	logger.Error("encode failed", nil)

	require.Equal(t, 1, logs.Len())
	_, ok := logs.All()[0].ContextMap()["error"]
	assert.False(t, ok)
}

func TestFieldConversionKeepsTypes(t *testing.T) {
	logger, logs := newObservedLogger()

	logger.Info("snapshot",
		Field{Key: "queue_length", Value: 7},
		Field{Key: "paused", Value: false},
		Field{Key: "window", Value: time.Minute},
		Err(errors.New("partial")),
	)

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, int64(7), fields["queue_length"])
	assert.Equal(t, false, fields["paused"])
	assert.Equal(t, time.Minute, fields["window"])
	assert.Equal(t, "partial", fields["error"])
}

func TestWithFieldsAndContext(t *testing.T) {
	logger, logs := newObservedLogger()

	child := logger.WithFields(Field{Key: "component", Value: "dispatch"})
	ctx := context.WithValue(context.Background(), "tenant_id", "tenant-a")
	child.WithContext(ctx).Info("enqueued")

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "dispatch", fields["component"])
	assert.Equal(t, "tenant-a", fields["tenant_id"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, InfoLevel, ParseLevel("verbose"))
}
