package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go-retry/internal/deadletter"
	"go-retry/internal/observability"

	"github.com/spf13/cobra"
)

var (
	resendStart int64
	resendEnd   int64

	listPage     int
	listPageSize int
	listStartID  int64
	listEndID    int64
	listTopic    string
	listStatus   string
	listFromDate string
	listToDate   string

	purgeKey string
	purgeAll bool
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Operate on dead letters and the retry queue",
	Long: `Operator commands that act directly on the dead-letter store and the
Redis delay queue configured in the environment.

Examples:
  retryworker admin resend --start 10 --end 20
  retryworker admin list --status FAILED --topic orders
  retryworker admin purge --key order-42
  retryworker admin purge --all`,
}

func init() {
	resendCmd.Flags().Int64Var(&resendStart, "start", 0, "First dead-letter id (inclusive)")
	resendCmd.Flags().Int64Var(&resendEnd, "end", 0, "Last dead-letter id (inclusive)")
	_ = resendCmd.MarkFlagRequired("start")
	_ = resendCmd.MarkFlagRequired("end")

	listCmd.Flags().IntVar(&listPage, "page", 1, "Page number, 1-based")
	listCmd.Flags().IntVar(&listPageSize, "page-size", 0, "Page size (default and maximum ADMIN_MAX_PAGE_SIZE)")
	listCmd.Flags().Int64Var(&listStartID, "start-id", 0, "Lowest id")
	listCmd.Flags().Int64Var(&listEndID, "end-id", 0, "Highest id")
	listCmd.Flags().StringVar(&listTopic, "topic", "", "Topic filter")
	listCmd.Flags().StringVar(&listStatus, "status", "", "FAILED or RETRYING")
	listCmd.Flags().StringVar(&listFromDate, "from-date", "", "Created on or after, YYYY-MM-DD")
	listCmd.Flags().StringVar(&listToDate, "to-date", "", "Created on or before, YYYY-MM-DD")

	purgeCmd.Flags().StringVar(&purgeKey, "key", "", "Remove entries with this message key")
	purgeCmd.Flags().BoolVar(&purgeAll, "all", false, "Remove every entry")

	adminCmd.AddCommand(resendCmd)
	adminCmd.AddCommand(listCmd)
	adminCmd.AddCommand(purgeCmd)
}

var resendCmd = &cobra.Command{
	Use:   "resend",
	Short: "Republish FAILED dead letters in an id range",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		d, err := openDeps(cmd.Context(), cfg, observability.NopMetrics{})
		if err != nil {
			return err
		}
		defer d.Close()

		sum, err := d.adminService().ResendRange(cmd.Context(), resendStart, resendEnd)
		if err != nil {
			return err
		}
		return printJSON(sum)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead letters, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		q, err := listQuery(cmd)
		if err != nil {
			return err
		}
		d, err := openDeps(cmd.Context(), cfg, observability.NopMetrics{})
		if err != nil {
			return err
		}
		defer d.Close()

		page, err := d.adminService().FindMessages(cmd.Context(), q)
		if err != nil {
			return err
		}
		return printJSON(page)
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove entries from the retry queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		d, err := openDeps(cmd.Context(), cfg, observability.NopMetrics{})
		if err != nil {
			return err
		}
		defer d.Close()

		n, err := d.adminService().PurgeRetryQueue(cmd.Context(), purgeKey, purgeAll)
		if err != nil {
			return err
		}
		return printJSON(map[string]int64{"deleted": n})
	},
}

func listQuery(cmd *cobra.Command) (deadletter.Query, error) {
	q := deadletter.Query{Page: listPage, PageSize: listPageSize, Topic: listTopic}
	if cmd.Flags().Changed("start-id") {
		q.StartID = &listStartID
	}
	if cmd.Flags().Changed("end-id") {
		q.EndID = &listEndID
	}
	if listStatus != "" {
		st, err := deadletter.ParseStatus(listStatus)
		if err != nil {
			return q, err
		}
		q.Status = st
	}
	for _, f := range []struct {
		raw string
		dst **time.Time
	}{{listFromDate, &q.FromDate}, {listToDate, &q.ToDate}} {
		if f.raw == "" {
			continue
		}
		t, err := time.ParseInLocation("2006-01-02", f.raw, time.UTC)
		if err != nil {
			return q, fmt.Errorf("invalid date %q: %w", f.raw, err)
		}
		*f.dst = &t
	}
	return q, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
