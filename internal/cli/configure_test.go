package cli

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/harun/jobats/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		output, err := runCommand(t, nil, "configure", "--help")
		require.NoError(t, err)

		assert.Contains(t, output, "interactive configuration wizard")
	})

	t.Run("writes config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "jobats.json")

		output, err := runCommand(t, strings.NewReader("anthropic\nsk-ant-test123\n\n\ninfo\n"), "configure", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, output, "Configuration saved to")

		cfg, err := config.Load(path)
		require.NoError(t, err)
		require.Len(t, cfg.AI.Profiles, 1)
		assert.Equal(t, "anthropic", cfg.AI.Profiles[0].Provider)
		assert.Equal(t, "claude-3-5-haiku-latest", cfg.AI.Profiles[0].Model)
		assert.Len(t, cfg.Gateway.SharedSecret, 32)
	})
}
