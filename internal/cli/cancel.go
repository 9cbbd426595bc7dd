package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var cancelTabCmd = &cobra.Command{
	Use:   "cancel-tab <tabId>",
	Short: "Abort and cancel every request for a tab",
	Long: `Tell the daemon a tab has closed. Its in-flight request is aborted and
everything queued behind it is cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancelTab,
}

var cancelRequestCmd = &cobra.Command{
	Use:   "cancel <requestId>",
	Short: "Cancel a single request",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancelRequest,
}

func init() {
	rootCmd.AddCommand(cancelTabCmd)
	rootCmd.AddCommand(cancelRequestCmd)
}

func runCancelTab(cmd *cobra.Command, args []string) error {
	tabID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid tab id %q", args[0])
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	var result struct {
		Aborted int `json:"aborted"`
	}
	if err := newRPCClient(cfg).Call(ctx, "tab.closed", map[string]interface{}{"tabId": tabID}, &result); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Tab %d closed: %d request(s) stopped\n", tabID, result.Aborted)
	return nil
}

func runCancelRequest(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	var result struct {
		Found bool `json:"found"`
		TabID int  `json:"tabId"`
	}
	if err := newRPCClient(cfg).Call(ctx, "request.cancel", map[string]interface{}{"requestId": args[0]}, &result); err != nil {
		return err
	}

	if !result.Found {
		fmt.Fprintf(cmd.OutOrStdout(), "Request %s not found (already settled?)\n", args[0])
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Request %s cancelled (tab %d)\n", args[0], result.TabID)
	return nil
}
