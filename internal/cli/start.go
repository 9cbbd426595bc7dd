package cli

import (
	"fmt"
	"os"

	"github.com/harun/jobats/internal/config"
	"github.com/harun/jobats/internal/daemon"
	"github.com/harun/jobats/internal/logger"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:     "start",
	Aliases: []string{"serve"},
	Short:   "Start the jobats daemon service",
	Long: `Start the jobats daemon service in the foreground.
The daemon serves the gateway, dispatches AI requests per tab and stops on
SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration (run 'jobats configure'): %w", err)
	}

	if pid := runningPID(cfg); pid != 0 && pid != os.Getpid() {
		return fmt.Errorf("daemon is already running (pid %d, PID file: %s)", pid, pidFilePath(cfg))
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		Secrets:   cfg.Secrets(),
		Patterns:  cfg.Logging.RedactPatterns,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	configLog := log.Component("config")
	for _, problem := range config.NewValidator().ValidateConfig(cfg) {
		configLog.Warn().Err(problem).Msg("Config looks suspicious")
	}

	d, err := daemon.New(cfg, log, daemon.WithConfigLoader(loader))
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "jobats listening on %s (pid %d)\n", d.Status().Addr, os.Getpid())
	d.Wait()
	return nil
}
