package main

import (
	"fmt"

	"github.com/inconshreveable/log15"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/torchdeploy/tsm"
)

func newCancelCmd(logger log15.Logger) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "cancel <app_handle>",
		Short: "Cancel a running application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle := tsm.AppHandle(args[0])

			if !yes {
				prompt := promptui.Prompt{
					Label:     fmt.Sprintf("cancel %s", handle),
					IsConfirm: true,
				}
				if _, err := prompt.Run(); err != nil {
					return nil // declined or aborted: quiet no-op
				}
			}

			sess, err := newSession(logger)
			if err != nil {
				return err
			}
			return sess.Stop(handle)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}
