package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"devinbox/backend/internal/config"
)

func TestNew(t *testing.T) {
	t.Run("未配置文件时正常创建", func(t *testing.T) {
		log, err := New(config.LogConfig{Level: "info"})
		require.NoError(t, err)
		log.Info("stdout only")
	})

	t.Run("配置文件后日志落盘", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "logs", "devinbox.log")
		log, err := New(config.LogConfig{
			Level:      "info",
			File:       file,
			MaxSizeMB:  10,
			MaxBackups: 1,
			MaxAgeDays: 1,
		})
		require.NoError(t, err)

		log.Info("written to file")
		_ = log.Sync()

		content, err := os.ReadFile(file)
		require.NoError(t, err)
		assert.Contains(t, string(content), "written to file")
	})

	t.Run("非法级别回落到 info", func(t *testing.T) {
		log, err := New(config.LogConfig{Level: "nonsense"})
		require.NoError(t, err)
		assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
		assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	})
}
