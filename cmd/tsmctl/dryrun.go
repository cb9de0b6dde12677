package main

import (
	"github.com/inconshreveable/log15"
	"github.com/spf13/cobra"

	"github.com/torchdeploy/tsm"
)

func newDryRunCmd(logger log15.Logger) *cobra.Command {
	flags := &roleFlags{}
	var appName string

	cmd := &cobra.Command{
		Use:   "dryrun",
		Short: "Show what `run` would submit, without submitting it",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.buildApplication(appName)
			if err != nil {
				return err
			}
			sess, err := newSession(logger)
			if err != nil {
				return err
			}
			info, err := sess.DryRun(app, tsm.NewRunConfig(), flags.backend)
			if err != nil {
				return err
			}
			cmd.Println(info.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&appName, "name", "app", "application name")
	flags.register(cmd)
	return cmd
}
