package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/vellum/vellum/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{
			name: "console logger",
			cfg:  &Config{Level: "info", Format: "console", Output: "stdout"},
		},
		{
			name: "json logger with a custom time layout",
			cfg:  &Config{Level: "debug", Format: "json", Output: "stderr", TimeFormat: "2006-01-02 15:04:05"},
		},
		{
			name:    "invalid level",
			cfg:     &Config{Level: "chatty", Format: "console", Output: "stdout"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, log)
		})
	}
}

func TestNew_LevelGating(t *testing.T) {
	log, err := New(&Config{Level: "warn", Format: "json", Output: "stderr"})
	require.NoError(t, err)

	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
}

func TestFromConfig(t *testing.T) {
	log, err := FromConfig(&config.LogConfig{Level: "error", Format: "json", Output: "stdout"})
	require.NoError(t, err)

	assert.False(t, log.Core().Enabled(zapcore.WarnLevel))
	assert.True(t, log.Core().Enabled(zapcore.ErrorLevel))
}
