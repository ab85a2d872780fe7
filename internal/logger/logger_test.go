package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, Default(), FromContext(context.Background()))
}

func TestWithAddsFieldsToContextLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := &Logger{zap.New(core).Sugar()}

	ctx := WithLogger(context.Background(), base)
	ctx = With(ctx, "merchant_id", "m1")
	Info(ctx, "sale committed", "sale_id", "vnd_1")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "sale committed", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "m1", fields["merchant_id"])
	assert.Equal(t, "vnd_1", fields["sale_id"])
}

func TestNewAcceptsUnknownLevel(t *testing.T) {
	l, err := New(Config{Level: "loud", OutputPaths: []string{"stdout"}})
	require.NoError(t, err)
	assert.NotNil(t, l)
}
