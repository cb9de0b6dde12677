package main

import (
	"github.com/inconshreveable/log15"
	"github.com/spf13/cobra"

	"github.com/torchdeploy/tsm/scheduler"
	"github.com/torchdeploy/tsm/session"
)

var configPath string

// NewRootCmd builds tsmctl's command tree, in the style of the teacher's
// own cobra root command.
func NewRootCmd(logger log15.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "tsmctl",
		Short:         "Run and manage applications against a pluggable execution backend.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a tsmctl config file")

	root.AddCommand(
		newRunCmd(logger),
		newDryRunCmd(logger),
		newStatusCmd(logger),
		newDescribeCmd(logger),
		newLogsCmd(logger),
		newCancelCmd(logger),
	)
	return root
}

// newSession builds the Session every subcommand operates against,
// wiring the local scheduler backend from the loaded config.
func newSession(logger log15.Logger) (*session.Session, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	local, err := scheduler.NewLocalScheduler(cfg.Local, logger)
	if err != nil {
		return nil, err
	}

	backends := map[string]scheduler.Backend{"local": local}
	return session.New(cfg.SessionName, backends, logger)
}
