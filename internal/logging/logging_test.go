package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appointment-sync/internal/logging"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "warn", false)
	logger.Info().Msg("hidden")
	logger.Warn().Str("user_id", "u1").Msg("shown")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "u1", entry["user_id"])
	assert.Equal(t, "warn", entry["level"])
}

func TestUnknownLevelIsInfo(t *testing.T) {
	logger := logging.NewWithWriter(&bytes.Buffer{}, "loud", false)
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}
