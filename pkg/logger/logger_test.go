package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New("pharmacy-service", "production", Options{Output: &buf})

	log.WithComponent("fulfillment").WithRequestID("req-1").Info().Str("delivery_id", "d-1").Msg("request delivered")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "pharmacy-service", entry["service"])
	assert.Equal(t, "fulfillment", entry["component"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "d-1", entry["delivery_id"])
	assert.Equal(t, "info", entry["level"])
}

func TestNew_LevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	log := New("pharmacy-service", "production", Options{Output: &buf, Level: "warn"})

	log.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Warn().Msg("shown")
	assert.NotZero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}
