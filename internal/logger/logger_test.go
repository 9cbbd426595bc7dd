package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("create logger with console output", func(t *testing.T) {
		logger, err := New(Config{Level: "info", Console: true})
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.NoError(t, logger.Close())
	})

	t.Run("create logger with file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "jobats.log")

		logger, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		component := logger.Component("dispatcher")
		component.Info().Msg("test message")
		require.NoError(t, logger.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"component":"dispatcher"`)
		assert.Contains(t, string(data), "test message")
	})

	t.Run("redaction scrubs file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "jobats.log")

		logger, err := New(Config{Level: "info", File: logFile, Redaction: true})
		require.NoError(t, err)
		require.NotNil(t, logger.redactor)

		log.Info().Str("key", "sk-ant-REDACTED").Msg("provider configured")
		require.NoError(t, logger.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "[REDACTED]")
		assert.NotContains(t, string(data), "api03-test")
	})

	t.Run("configured patterns scrub file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "jobats.log")

		logger, err := New(Config{Level: "info", File: logFile, Redaction: true, Patterns: []string{`tenant-[0-9]+`}})
		require.NoError(t, err)

		log.Info().Str("owner", "tenant-4411").Msg("quota checked")
		require.NoError(t, logger.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "tenant-4411")
		assert.Contains(t, string(data), "quota checked")
	})

	t.Run("bad pattern is rejected", func(t *testing.T) {
		_, err := New(Config{Level: "info", File: filepath.Join(t.TempDir(), "x.log"), Redaction: true, Patterns: []string{`[unclosed`}})
		assert.Error(t, err)
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		logger, err := New(Config{Level: "loud", File: filepath.Join(t.TempDir(), "x.log")})
		require.NoError(t, err)
		defer logger.Close()

		assert.Equal(t, zerolog.InfoLevel, logger.Level())
	})
}

func TestSetLevel(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "x.log")
	logger, err := New(Config{Level: "info", File: logFile})
	require.NoError(t, err)
	defer logger.Close()

	component := logger.Component("dispatcher")
	component.Debug().Msg("before")

	require.NoError(t, logger.SetLevel("debug"))
	assert.Equal(t, zerolog.DebugLevel, logger.Level())
	component.Debug().Msg("after")
	log.Debug().Msg("global")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "before")
	assert.Contains(t, string(data), "after")
	assert.Contains(t, string(data), "global")

	assert.Error(t, logger.SetLevel("nope"))
	assert.Equal(t, zerolog.DebugLevel, logger.Level())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Redaction)
}
