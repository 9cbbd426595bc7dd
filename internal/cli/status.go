package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/harun/jobats/pkg/dispatcher"
	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Show whether the jobats daemon is running and how many requests are in flight or queued per tab.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print queue status as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	pid := runningPID(cfg)
	if pid == 0 {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	fmt.Fprintln(out, "Status: running")
	fmt.Fprintf(out, "PID: %d\n", pid)
	if info, err := os.Stat(pidFilePath(cfg)); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	var status dispatcher.Status[int]
	if err := newRPCClient(cfg).Call(ctx, "queue.status", nil, &status); err != nil {
		return fmt.Errorf("failed to query queue status: %w", err)
	}

	if statusJSON {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	printQueueStatus(cmd, status)
	return nil
}

func printQueueStatus(cmd *cobra.Command, status dispatcher.Status[int]) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Active: %d\n", status.Active)
	fmt.Fprintf(out, "Queued: %d\n", status.Queued)

	tabs := make([]int, 0, len(status.ByTab))
	for tab := range status.ByTab {
		tabs = append(tabs, tab)
	}
	sort.Ints(tabs)
	for _, tab := range tabs {
		fmt.Fprintf(out, "  tab %d: %d queued\n", tab, status.ByTab[tab])
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
