package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/actions"
)

var actionsCmd = &cobra.Command{
	Use:     "actions",
	Aliases: []string{"action", "am"},
	Short:   "List and drive improvement actions",
}

var (
	listStatuses []string
	listTypeID   string
	listLimit    int

	transitionTo       string
	transitionComments []string
	transitionFile     string
)

var actionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List actions visible to the caller",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if len(listStatuses) > 0 {
			q.Set("status", strings.Join(listStatuses, ","))
		}
		if listTypeID != "" {
			q.Set("typeId", listTypeID)
		}
		if listLimit > 0 {
			q.Set("limit", strconv.Itoa(listLimit))
		}
		path := apiBase + "/actions"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var resp struct {
			Actions   []*actions.Action `json:"actions"`
			TotalSize int               `json:"totalSize"`
		}
		if err := newClient().getJSON(path, &resp); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if structured() {
			return printOutput(out, resp)
		}
		rows := make([][]string, 0, len(resp.Actions))
		for _, a := range resp.Actions {
			rows = append(rows, []string{
				a.ActionCode,
				truncate(a.Title, 40),
				a.Status.Label(),
				a.TypeID,
				dueFor(a),
			})
		}
		printTable(out, []string{"Code", "Title", "Status", "Type", "Next Due"}, rows)
		fmt.Fprintf(out, "\n%d action(s)\n", resp.TotalSize)
		return nil
	},
}

var actionsGetCmd = &cobra.Command{
	Use:   "get <action-id-or-code>",
	Short: "Show one action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var a actions.Action
		if err := newClient().getJSON(actionPath(args[0]), &a); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if structured() {
			return printOutput(out, a)
		}
		printAction(cmd, &a, nil)
		return nil
	},
}

var actionsTransitionCmd = &cobra.Command{
	Use:   "transition <action-id-or-code>",
	Short: "Save a patch and optionally move the action to another status",
	Long: `Sends a transition request. The payload can be read from a YAML or JSON
file with --file; --to and --comment are merged on top of it. Without
--to the server infers the target from the payload.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{}
		if transitionFile != "" {
			data, err := os.ReadFile(transitionFile)
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
			if err := yaml.Unmarshal(data, &body); err != nil {
				return fmt.Errorf("parse payload %s: %w", transitionFile, err)
			}
		}
		if transitionTo != "" {
			st, err := actions.ParseStatus(transitionTo)
			if err != nil {
				return err
			}
			body["targetStatus"] = st
		}
		if len(transitionComments) > 0 {
			body["comments"] = transitionComments
		}

		var resp actionResponse
		if err := newClient().postJSON(actionPath(args[0])+"/transition", body, &resp); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if structured() {
			return printOutput(out, resp)
		}
		printAction(cmd, resp.Action, resp.Warnings)
		return nil
	},
}

var actionsCommentCmd = &cobra.Command{
	Use:   "comment <action-id-or-code> <text>",
	Short: "Add a comment to an action",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args[1:], " ")
		var resp actionResponse
		if err := newClient().postJSON(actionPath(args[0])+"/comments", map[string]string{"text": text}, &resp); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if structured() {
			return printOutput(out, resp)
		}
		fmt.Fprintf(out, "Comment added to %s (%d comments)\n", resp.Action.ActionCode, len(resp.Action.Comments))
		return nil
	},
}

func init() {
	actionsListCmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Filter by status (repeatable or comma-separated)")
	actionsListCmd.Flags().StringVar(&listTypeID, "type", "", "Filter by action type ID")
	actionsListCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum number of actions")

	actionsTransitionCmd.Flags().StringVar(&transitionTo, "to", "", "Target status, e.g. pending_verification or \"Pending Closure\"")
	actionsTransitionCmd.Flags().StringArrayVar(&transitionComments, "comment", nil, "Comment saved with the transition (repeatable)")
	actionsTransitionCmd.Flags().StringVarP(&transitionFile, "file", "f", "", "YAML or JSON payload file")

	actionsCmd.AddCommand(actionsListCmd)
	actionsCmd.AddCommand(actionsGetCmd)
	actionsCmd.AddCommand(actionsTransitionCmd)
	actionsCmd.AddCommand(actionsCommentCmd)
}

type actionResponse struct {
	Action   *actions.Action `json:"action"`
	Warnings []string        `json:"warnings,omitempty"`
}

func actionPath(ref string) string {
	return apiBase + "/actions/" + url.PathEscape(ref)
}

// dueFor returns the due date that applies to the action's current stage.
func dueFor(a *actions.Action) string {
	var d *time.Time
	switch a.Status {
	case actions.StatusPendingAnalysis:
		d = a.AnalysisDueDate
	case actions.StatusPendingVerification:
		d = a.VerificationDueDate
	case actions.StatusPendingClosure:
		d = a.ClosureDueDate
	}
	if d == nil {
		return ""
	}
	return d.Format("2006-01-02")
}

func printAction(cmd *cobra.Command, a *actions.Action, warnings []string) {
	out := cmd.OutOrStdout()
	rows := [][]string{
		{"Code", a.ActionCode},
		{"ID", a.ID},
		{"Title", a.Title},
		{"Status", a.Status.Label()},
		{"Type", a.TypeID},
		{"Creator", a.Creator.Email},
		{"Responsible Group", a.ResponsibleGroupID},
		{"Next Due", dueFor(a)},
		{"Proposed Actions", strconv.Itoa(len(a.ProposedActions))},
		{"Comments", strconv.Itoa(len(a.Comments))},
	}
	if a.OriginalActionID != "" {
		rows = append(rows, []string{"Remediates", a.OriginalActionID})
	}
	printTable(out, []string{"Field", "Value"}, rows)
	for _, w := range warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
}
