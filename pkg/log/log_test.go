package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	l := WithRequestID(WithVolumeID(WithComponent("volume"), "u1"), "req-1")
	l.Info().Msg("volume created")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "volume", line["component"])
	assert.Equal(t, "u1", line["volume_id"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "volume created", line["message"])
}

func TestWithVolumeIDEmpty(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	l := WithVolumeID(Logger, "")
	l.Info().Msg("no volume")

	assert.NotContains(t, buf.String(), "volume_id")
}

func TestLevelValid(t *testing.T) {
	assert.True(t, DebugLevel.Valid())
	assert.True(t, ErrorLevel.Valid())
	assert.False(t, Level("trace").Valid())
}
