package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		helpText, err := runCommand(t, nil, "stop", "--help")
		require.NoError(t, err)

		assert.Contains(t, helpText, "Stop the jobats daemon service")
		assert.Contains(t, helpText, "timeout")
	})

	t.Run("not running clears stale pid file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "jobats.json")
		require.NoError(t, os.WriteFile(path, []byte(`{}`), 0600))
		pidFile := filepath.Join(dir, "jobats.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte("999999999"), 0644))

		output, err := runCommand(t, nil, "stop", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, output, "not running")
		assert.NoFileExists(t, pidFile)
	})
}
