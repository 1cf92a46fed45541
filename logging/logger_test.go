package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    zapcore.Level
		wantErr bool
	}{
		{name: "empty defaults to info", input: "", want: zapcore.InfoLevel},
		{name: "debug", input: "debug", want: zapcore.DebugLevel},
		{name: "upper case", input: "WARN", want: zapcore.WarnLevel},
		{name: "unknown", input: "chatty", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, level)
		})
	}
}

func TestNewWritesRotatingFile(t *testing.T) {
	config := DefaultConfig()
	config.File = filepath.Join(t.TempDir(), "service.log")

	logger, err := New(config)
	require.NoError(t, err)
	logger.Info("model loaded")
	_ = logger.Sync()

	content, err := os.ReadFile(config.File)
	require.NoError(t, err)
	assert.Contains(t, string(content), "model loaded")
}
