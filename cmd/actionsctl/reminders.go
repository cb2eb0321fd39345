package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/reminders"
)

var remindersCmd = &cobra.Command{
	Use:   "reminders",
	Short: "Trigger and inspect due-date reminder scans",
}

var (
	scanDryRun    bool
	runsPageSize  int
	runsPageToken string
)

var remindersScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a reminder scan now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := apiBase + "/reminders/scan"
		if scanDryRun {
			path += "?dryRun=true"
		}
		var resp struct {
			Run    *reminders.ReminderRun `json:"run"`
			Result *reminders.ScanResult  `json:"result"`
		}
		if err := newClient().postJSON(path, nil, &resp); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if structured() {
			return printOutput(out, resp)
		}
		if resp.Result == nil {
			fmt.Fprintf(out, "Run %s already recorded (%s)\n", resp.Run.ID, resp.Run.State)
			return nil
		}
		rows := make([][]string, 0, len(resp.Result.Reminders))
		for _, item := range resp.Result.Reminders {
			rows = append(rows, []string{
				item.ActionCode,
				item.Key,
				item.Recipient,
				item.DueDate.Format("2006-01-02"),
				strconv.Itoa(item.DaysLeft),
			})
		}
		if len(rows) > 0 {
			printTable(out, []string{"Action", "Obligation", "Recipient", "Due", "Days Left"}, rows)
			fmt.Fprintln(out)
		}
		verb := "sent"
		if resp.Result.DryRun {
			verb = "would send"
		}
		fmt.Fprintf(out, "Checked %d actions, %s %d reminders\n", resp.Result.CheckedActions, verb, resp.Result.SentReminders)
		for _, e := range resp.Result.Errors {
			fmt.Fprintf(out, "error: %s %s: %s\n", e.ActionCode, e.Key, e.Error)
		}
		return nil
	},
}

var remindersRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded reminder runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if runsPageSize > 0 {
			q.Set("pageSize", strconv.Itoa(runsPageSize))
		}
		if runsPageToken != "" {
			q.Set("pageToken", runsPageToken)
		}
		path := apiBase + "/reminders/runs"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var resp struct {
			Runs          []reminders.ReminderRun `json:"runs"`
			NextPageToken string                  `json:"nextPageToken"`
		}
		if err := newClient().getJSON(path, &resp); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if structured() {
			return printOutput(out, resp)
		}
		rows := make([][]string, 0, len(resp.Runs))
		for _, r := range resp.Runs {
			rows = append(rows, []string{
				truncate(r.ID, 12),
				string(r.Trigger),
				string(r.State),
				strconv.FormatBool(r.DryRun),
				strconv.Itoa(r.SentReminders),
				r.StartedAt.Format("2006-01-02 15:04:05"),
			})
		}
		printTable(out, []string{"ID", "Trigger", "State", "Dry Run", "Sent", "Started"}, rows)
		if resp.NextPageToken != "" {
			fmt.Fprintf(out, "\nnext page: --page-token %s\n", resp.NextPageToken)
		}
		return nil
	},
}

func init() {
	remindersScanCmd.Flags().BoolVar(&scanDryRun, "dry-run", false, "Report what would be sent without sending or recording reminders")
	remindersRunsCmd.Flags().IntVar(&runsPageSize, "page-size", 0, "Runs per page (server default 20, max 100)")
	remindersRunsCmd.Flags().StringVar(&runsPageToken, "page-token", "", "Token from a previous page")

	remindersCmd.AddCommand(remindersScanCmd)
	remindersCmd.AddCommand(remindersRunsCmd)
}
