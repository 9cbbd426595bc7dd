package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/jobats/pkg/dispatcher"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		output, err := runCommand(t, nil, "status", "--help")
		require.NoError(t, err)

		assert.Contains(t, output, "status")
	})

	t.Run("stopped", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "jobats.json")
		require.NoError(t, os.WriteFile(path, []byte(`{}`), 0600))

		output, err := runCommand(t, nil, "status", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, output, "Status: stopped")
	})
}

func TestPrintQueueStatus(t *testing.T) {
	cmd := &cobra.Command{}
	output := &bytes.Buffer{}
	cmd.SetOut(output)

	printQueueStatus(cmd, dispatcher.Status[int]{
		Active: 2,
		Queued: 3,
		ByTab:  map[int]int{9: 1, 4: 2},
	})

	assert.Equal(t, "Active: 2\nQueued: 3\n  tab 4: 2 queued\n  tab 9: 1 queued\n", output.String())
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatDuration(tt.duration)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestGatewayURL(t *testing.T) {
	cfg := testCLIConfig("127.0.0.1", 18790)
	assert.Equal(t, "http://127.0.0.1:18790", gatewayURL(cfg))

	cfg.Gateway.Host = "0.0.0.0"
	assert.Equal(t, "http://127.0.0.1:18790", gatewayURL(cfg))

	cfg.Gateway.Host = "::1"
	assert.Equal(t, "http://[::1]:18790", gatewayURL(cfg))
}
