package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/wisdm-app/threadsync/pkg/config"
)

const appName = "wisdm-sync"

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Follow Wisdm comment threads in real time",
		Long:          "wisdm-sync keeps a live copy of Wisdm comment threads and notifications over the Socket.IO connection.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(appName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("config", config.DefaultPath, "config file (.toml, .yaml or .yml)")
	cmd.PersistentFlags().String("log-file", "", "write logs to this file instead of stderr")
	cmd.PersistentFlags().String("token", "", "bearer token (overrides server.token)")
	cmd.PersistentFlags().String("metrics-addr", "", "serve Prometheus metrics on this address")

	cmd.AddCommand(
		newWatchCmd(),
		newVoteCmd(),
		newCommentCmd(),
		newNotificationsCmd(),
		newStatusCmd(),
		newVersionCmd(version),
	)
	return cmd
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s version %s\n", appName, version)
		},
	}
}
