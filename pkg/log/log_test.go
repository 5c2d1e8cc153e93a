package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: "debug", want: DebugLevel},
		{in: "warn", want: WarnLevel},
		{in: "", want: InfoLevel},
		{in: "verbose", wantErr: true},
		{in: "INFO", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInitJSON(t *testing.T) {
	previous := Logger
	t.Cleanup(func() {
		Logger = previous
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})

	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	logger := WithComponent("transfer")
	logger.Info().Msg("dropped")
	logger.Warn().Str("server", "uuid-1").Msg("Transfer timed out")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line), "exactly one JSON line")
	assert.Equal(t, "transfer", line["component"])
	assert.Equal(t, "uuid-1", line["server"])
	assert.Equal(t, "warn", line["level"])
}
