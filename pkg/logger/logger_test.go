package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"  DEBUG ", zerolog.DebugLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ParseLevel(c.in), "level %q", c.in)
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{
		Level:     "warn",
		Format:    "json",
		Component: "tankd",
		Writer:    &buf,
		Fields:    map[string]string{"device": "tank-sensor"},
	})

	log.Info().Msg("dropped")
	log.Warn().Int("tank_level", 50).Msg("kept")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "tankd", entry["component"])
	assert.Equal(t, "tank-sensor", entry["device"])
	assert.Equal(t, float64(50), entry["tank_level"])
	assert.Equal(t, "warn", entry["level"])
	assert.Contains(t, entry, "time")
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "debug", Format: "console", Writer: &buf})
	named := Named(log, "mqtt")
	named.Debug().Msg("connected")

	out := buf.String()
	assert.Contains(t, out, "connected")
	assert.Contains(t, out, "component=")
	assert.Contains(t, out, "mqtt")
}

func TestNamed_Empty(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Format: "json", Writer: &buf})
	named := Named(log, "")
	named.Info().Msg("x")
	assert.NotContains(t, buf.String(), "component")
}
