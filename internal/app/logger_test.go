package app

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerTagsServiceAndEnv(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", AppEnv: "production"})

	logger.Info("period closed", "year", 2026, "month", 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, serviceName, record["service"])
	require.Equal(t, "production", record["env"])
	require.Equal(t, "period closed", record["msg"])
}

func TestLoggerDefaultsToTextHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "pretty"})

	logger.Info("started")

	require.Contains(t, buf.String(), "service=meridian")
	require.Contains(t, buf.String(), "started")
}
