package daemon

import (
	"reflect"

	"github.com/harun/jobats/internal/config"
	"github.com/harun/jobats/internal/observability"
)

// applyConfig applies a reloaded config to the running services. Settings
// bound at startup are reported and left alone.
func (d *Daemon) applyConfig(next *config.Config) {
	d.mu.Lock()
	prev := d.config
	d.config = next
	d.mu.Unlock()

	d.providers.Reload(providerProfiles(next), next.DefaultProfileID())
	d.dispatcher.SetDefaultMaxRetries(next.Dispatcher.DefaultMaxRetries)
	d.gatewayServer.SetDefaults(requestDefaults(next))
	d.gatewayServer.UpdateLimits(next.Gateway.RequestsPerMinute, next.Gateway.MaxConcurrent)

	if next.Logging.Level != prev.Logging.Level {
		if err := d.logger.SetLevel(next.Logging.Level); err != nil {
			d.log.Warn().Err(err).Msg("Keeping previous log level")
		}
	}

	if next.Journal.PruneSchedule != prev.Journal.PruneSchedule ||
		next.Journal.RetentionDays != prev.Journal.RetentionDays {
		d.reschedulePrune(next)
	}

	if pending := restartOnlyChanges(prev, next); len(pending) > 0 {
		d.log.Warn().Strs("settings", pending).Msg("Changes take effect after restart")
	}

	observability.RecordConfigAudit(d.ctx, "config.reload", "config_watcher", map[string]interface{}{
		"profiles":            len(next.AI.Profiles),
		"default_profile":     next.DefaultProfileID(),
		"default_max_retries": next.Dispatcher.DefaultMaxRetries,
	})

	d.log.Info().
		Int("profiles", len(next.AI.Profiles)).
		Str("default_profile", next.DefaultProfileID()).
		Msg("Applied reloaded config")
}

func restartOnlyChanges(prev, next *config.Config) []string {
	var changed []string
	check := func(name string, a, b interface{}) {
		if !reflect.DeepEqual(a, b) {
			changed = append(changed, name)
		}
	}

	check("gateway.host", prev.Gateway.Host, next.Gateway.Host)
	check("gateway.port", prev.Gateway.Port, next.Gateway.Port)
	check("gateway.shared_secret", prev.Gateway.SharedSecret, next.Gateway.SharedSecret)
	check("gateway.allowed_origins", prev.Gateway.AllowedOrigins, next.Gateway.AllowedOrigins)
	check("dispatcher.base_delay_ms", prev.Dispatcher.BaseDelayMs, next.Dispatcher.BaseDelayMs)
	check("dispatcher.max_delay_ms", prev.Dispatcher.MaxDelayMs, next.Dispatcher.MaxDelayMs)
	check("journal.enabled", prev.Journal.Enabled, next.Journal.Enabled)
	check("journal.path", prev.Journal.Path, next.Journal.Path)
	check("tracing", prev.Tracing, next.Tracing)
	check("logging.file", prev.Logging.File, next.Logging.File)
	return changed
}
