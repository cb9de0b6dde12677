package main

import (
	"fmt"
	"strings"

	"code.cloudfoundry.org/bytefmt"
	"github.com/fatih/color"
	"github.com/inconshreveable/log15"
	"github.com/spf13/cobra"

	"github.com/torchdeploy/tsm"
)

// roleFlags are the flat CLI flags describing the single role tsmctl run
// submits. Multi-role applications are out of scope for the CLI (build
// one with the tsm/session API directly); tsmctl is a single-role runner.
type roleFlags struct {
	name       string
	image      string
	entrypoint string
	args       []string
	env        []string
	cpu        int
	gpu        int
	memMB      int
	replicas   int
	backend    string
}

func (f *roleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "role", "worker", "role name")
	cmd.Flags().StringVar(&f.image, "image", "", "absolute path to the role's image root (required)")
	cmd.Flags().StringVar(&f.entrypoint, "entrypoint", "", "entrypoint binary/script (required)")
	cmd.Flags().StringArrayVar(&f.args, "arg", nil, "positional argument (repeatable)")
	cmd.Flags().StringArrayVar(&f.env, "env", nil, "KEY=VALUE environment entry (repeatable)")
	cmd.Flags().IntVar(&f.cpu, "cpu", 1, "CPU cores to request")
	cmd.Flags().IntVar(&f.gpu, "gpu", 0, "GPUs to request")
	cmd.Flags().IntVar(&f.memMB, "mem-mb", 512, "memory (MB) to request")
	cmd.Flags().IntVar(&f.replicas, "replicas", 1, "number of replicas")
	cmd.Flags().StringVar(&f.backend, "backend", "local", "scheduler backend to submit to")
}

func (f *roleFlags) buildApplication(appName string) (*tsm.Application, error) {
	if f.image == "" {
		return nil, &tsm.ValueError{Op: "tsmctl run", Reason: "--image is required"}
	}
	if f.entrypoint == "" {
		return nil, &tsm.ValueError{Op: "tsmctl run", Reason: "--entrypoint is required"}
	}

	env := map[string]string{}
	for _, kv := range f.env {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, &tsm.ValueError{Op: "tsmctl run", Reason: fmt.Sprintf("--env %q is not KEY=VALUE", kv)}
		}
		env[parts[0]] = parts[1]
	}

	container := tsm.NewContainer(f.image).Require(tsm.NewResources(f.cpu, f.gpu, f.memMB, nil))
	role := tsm.NewRole(f.name).Runs(f.entrypoint, f.args, env).On(container).Replicas(f.replicas)

	return tsm.NewApplication(appName).Of(role), nil
}

func newRunCmd(logger log15.Logger) *cobra.Command {
	flags := &roleFlags{}
	var appName string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a single-role application",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.buildApplication(appName)
			if err != nil {
				return err
			}
			sess, err := newSession(logger)
			if err != nil {
				return err
			}
			handle, err := sess.Run(app, tsm.NewRunConfig(), flags.backend)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requesting %s memory, %d cpu, %d gpu per replica\n",
				bytefmt.ByteSize(uint64(flags.memMB)*bytefmt.MEGABYTE), flags.cpu, flags.gpu)
			color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), string(handle))
			return nil
		},
	}
	cmd.Flags().StringVar(&appName, "name", "app", "application name")
	flags.register(cmd)
	return cmd
}
