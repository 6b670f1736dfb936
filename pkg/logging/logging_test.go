package logging

import (
	"errors"
	"testing"

	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewReturnsUsableLogger(t *testing.T) {
	logger := New("fern-test", "debug", false)
	require.NotNil(t, logger)

	// Exercise the full sink path, including the error channel.
	logger.WithError(errors.New("boom")).WithFields(map[string]any{"upc": "123"}).Error("ingest failed")
	logger.Info("started")
}

func TestAdapterCarriesErrorAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zapadapter.NewZapEctoLogger(zap.New(core), nil)

	logger.WithError(errors.New("connection refused")).
		WithFields(map[string]any{"upc": "a897fe39b1053632"}).
		Error("record ingestion failed")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "record ingestion failed", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "a897fe39b1053632", fields["upc"])
	assert.Equal(t, "connection refused", fields["error"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("WARNING"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}
