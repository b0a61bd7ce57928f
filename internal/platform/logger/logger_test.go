package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/studiobook/studiobook/internal/platform/config"
)

func newObserved(level zapcore.Level) (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return FromZap(zap.New(core)), logs
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zap.InfoLevel, false},
		{"debug", zap.DebugLevel, false},
		{"info", zap.InfoLevel, false},
		{"warn", zap.WarnLevel, false},
		{"error", zap.ErrorLevel, false},
		{"verbose", zap.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LoggerConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	log, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestWithFieldsDoesNotLeak(t *testing.T) {
	log, logs := newObserved(zap.DebugLevel)

	child := log.WithFields(map[string]interface{}{"run_id": "abc"})
	child.Info("applying migration", "filename", "001_customers.sql")
	log.Info("plain")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "applying migration", entries[0].Message)
	assert.Equal(t, "abc", entries[0].ContextMap()["run_id"])
	assert.Equal(t, "001_customers.sql", entries[0].ContextMap()["filename"])
	assert.NotContains(t, entries[1].ContextMap(), "run_id")
}

func TestLevelsAreHonored(t *testing.T) {
	log, logs := newObserved(zap.WarnLevel)

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")
	log.Error("shown too")

	assert.Equal(t, 2, logs.Len())
	assert.Equal(t, 1, logs.FilterLevelExact(zap.ErrorLevel).Len())
}

func TestWithContextAddsTraceIDs(t *testing.T) {
	log, logs := newObserved(zap.InfoLevel)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	log.WithContext(ctx).Info("with trace")
	log.WithContext(context.Background()).Info("without trace")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entries[0].ContextMap()["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entries[0].ContextMap()["span_id"])
	assert.NotContains(t, entries[1].ContextMap(), "trace_id")
}
