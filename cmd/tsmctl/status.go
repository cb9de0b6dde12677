package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/inconshreveable/log15"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/torchdeploy/tsm"
)

// stateColor picks the color status/describe render an AppState in,
// matching the CLI's own traffic-light convention.
func stateColor(state tsm.AppState) *color.Color {
	switch state {
	case tsm.Succeeded:
		return color.New(color.FgGreen)
	case tsm.Failed:
		return color.New(color.FgRed)
	case tsm.Cancelled:
		return color.New(color.FgYellow)
	case tsm.Running, tsm.Pending, tsm.Submitted:
		return color.New(color.FgCyan)
	default:
		return color.New(color.Reset)
	}
}

func newStatusCmd(logger log15.Logger) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "status <app_handle>",
		Short: "Show an application's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle := tsm.AppHandle(args[0])
			sess, err := newSession(logger)
			if err != nil {
				return err
			}

			var status *tsm.AppStatus
			if wait {
				status, err = sess.Wait(handle)
			} else {
				status, err = sess.Status(handle)
			}
			if err != nil {
				return err
			}
			if status == nil {
				return &tsm.ValueError{Op: "tsmctl status", Reason: "unknown app_id"}
			}

			stateColor(status.State).Fprintln(cmd.OutOrStdout(), status.State.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the application reaches a terminal state")
	return cmd
}

func newDescribeCmd(logger log15.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe <app_handle>",
		Short: "Show an application's per-role status table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle := tsm.AppHandle(args[0])
			sess, err := newSession(logger)
			if err != nil {
				return err
			}
			desc, err := sess.Describe(handle)
			if err != nil {
				return err
			}
			if desc == nil {
				return &tsm.ValueError{Op: "tsmctl describe", Reason: "unknown app_id"}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "app_id: %s  state: %s\n", desc.AppID, desc.State)
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"role", "replicas", "msg"})
			for _, r := range desc.Roles {
				table.Append([]string{r.Name, fmt.Sprintf("%d", r.NumReplicas), r.Msg})
			}
			table.Render()
			return nil
		},
	}
	return cmd
}
