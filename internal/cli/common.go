package cli

import (
	"fmt"
	"net"
	"strconv"

	"github.com/harun/jobats/internal/config"
	"github.com/harun/jobats/internal/daemon"
	"github.com/harun/jobats/pkg/gateway"
)

// loadConfig reads the config named by --config and applies --log-level.
func loadConfig() (*config.Config, *config.Loader, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, loader, nil
}

func pidFilePath(cfg *config.Config) string {
	return daemon.PIDFilePath(cfg.DataDir)
}

// runningPID returns the PID of a live daemon, or 0.
func runningPID(cfg *config.Config) int {
	pid, err := daemon.ReadPID(pidFilePath(cfg))
	if err != nil || !daemon.ProcessAlive(pid) {
		return 0
	}
	return pid
}

func gatewayURL(cfg *config.Config) string {
	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Gateway.Port))
}

func newRPCClient(cfg *config.Config) *gateway.RPCClient {
	return gateway.NewRPCClient(gatewayURL(cfg), cfg.Gateway.SharedSecret)
}
