package daemon

import (
	"context"
	"testing"

	"github.com/harun/jobats/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyConfig(t *testing.T) {
	cfg := testConfig(t)
	d := createTestDaemon(t, cfg, &stubLLM{})
	defer d.teardown()

	next := *cfg
	next.Dispatcher.DefaultMaxRetries = 6
	next.AI.Profiles = append([]config.AIProfile{}, cfg.AI.Profiles...)
	next.AI.Profiles = append(next.AI.Profiles, config.AIProfile{
		ID: "claude", Provider: "anthropic", APIKey: "sk-ant-test", Model: "claude-3-5-haiku-latest",
	})
	next.AI.DefaultProfile = "claude"
	next.Logging.Level = "debug"

	d.applyConfig(&next)

	assert.Same(t, &next, d.GetConfig())
	assert.Equal(t, 6, d.GetDispatcher().MaxRetries())
	assert.Equal(t, zerolog.DebugLevel, d.GetLogger().Level())

	_, profile, err := d.GetProviders().Get(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "claude", profile.ID)
}

func TestRestartOnlyChanges(t *testing.T) {
	prev := config.DefaultConfig()
	next := config.DefaultConfig()

	assert.Empty(t, restartOnlyChanges(prev, next))

	next.Gateway.Port = 9999
	next.Tracing.Enabled = true
	next.Dispatcher.DefaultMaxRetries = 9 // hot-reloadable
	assert.Equal(t, []string{"gateway.port", "tracing"}, restartOnlyChanges(prev, next))
}
