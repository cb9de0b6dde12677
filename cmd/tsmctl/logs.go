package main

import (
	"fmt"
	"regexp"

	"github.com/inconshreveable/log15"
	"github.com/spf13/cobra"

	"github.com/torchdeploy/tsm"
)

func newLogsCmd(logger log15.Logger) *cobra.Command {
	var role string
	var replica int
	var pattern string

	cmd := &cobra.Command{
		Use:   "logs <app_handle>",
		Short: "Print a replica's captured stdout/stderr",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle := tsm.AppHandle(args[0])
			sess, err := newSession(logger)
			if err != nil {
				return err
			}

			var regex *regexp.Regexp
			if pattern != "" {
				regex, err = regexp.Compile(pattern)
				if err != nil {
					return err
				}
			}

			lines, err := sess.LogLines(handle, role, replica, regex, nil, nil)
			if err != nil {
				return err
			}
			defer lines.Close()

			for {
				line, ok := lines.Next()
				if !ok {
					break
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "worker", "role name")
	cmd.Flags().IntVar(&replica, "replica", 0, "replica index")
	cmd.Flags().StringVar(&pattern, "grep", "", "only print lines matching this regex")
	return cmd
}
