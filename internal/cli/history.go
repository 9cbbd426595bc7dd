package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/harun/jobats/pkg/journal"
	"github.com/spf13/cobra"
)

var (
	historyTab     int
	historyOutcome string
	historyLimit   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently settled requests",
	Long:  `List settled requests from the daemon's request journal, newest first.`,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyTab, "tab", -1, "only requests for this tab")
	historyCmd.Flags().StringVar(&historyOutcome, "outcome", "", "only this outcome (succeeded, failed, exhausted, aborted, cancelled)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum entries to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	params := map[string]interface{}{"limit": historyLimit}
	if historyTab >= 0 {
		params["tabId"] = historyTab
	}
	if historyOutcome != "" {
		params["outcome"] = historyOutcome
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	var result struct {
		Requests []journal.Entry `json:"requests"`
	}
	if err := newRPCClient(cfg).Call(ctx, "requests.history", params, &result); err != nil {
		return err
	}

	printHistory(cmd, result.Requests)
	return nil
}

func printHistory(cmd *cobra.Command, entries []journal.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No settled requests")
		return
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SETTLED\tTAB\tREQUEST\tOUTCOME\tATTEMPTS\tDURATION\tERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%dms\t%s\n",
			e.SettledAt.Local().Format(time.DateTime),
			e.TabID, e.RequestID, e.Outcome, e.Attempts, e.DurationMs, e.Error)
	}
	w.Flush()
}
