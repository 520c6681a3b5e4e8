package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wisdm-app/threadsync/pkg/auth"
	"github.com/wisdm-app/threadsync/pkg/client"
	"github.com/wisdm-app/threadsync/pkg/config"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [channel...]",
		Short: "Show configuration, token and connection history",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	statePath, err := cfg.StatePath()
	if err != nil {
		return err
	}
	state, err := client.OpenState(statePath)
	if err != nil {
		return err
	}
	defer state.Close()

	out := cmd.OutOrStdout()
	configPath, _ := cmd.Flags().GetString("config")
	if expanded, err := config.ExpandPath(configPath); err == nil {
		configPath = expanded
	}
	fmt.Fprintf(out, "config:    %s\n", configPath)
	fmt.Fprintf(out, "state:     %s\n", statePath)
	fmt.Fprintf(out, "socket:    %s\n", cfg.Server.SocketURL)
	fmt.Fprintf(out, "api:       %s\n", cfg.Server.APIURL)
	fmt.Fprintf(out, "token:     %s\n", tokenStatus(cfg.Server.Token, time.Now()))

	last, err := state.GetLastConnection(cfg.Server.SocketURL)
	switch {
	case err != nil:
		return err
	case last.IsZero():
		fmt.Fprintln(out, "connected: never")
	default:
		fmt.Fprintf(out, "connected: %s\n", last.Local().Format(time.RFC1123))
	}

	for _, channel := range args {
		mark, err := state.GetNotificationWatermark(channel)
		if err != nil {
			return err
		}
		if mark == 0 {
			fmt.Fprintf(out, "%s: nothing read\n", channel)
			continue
		}
		fmt.Fprintf(out, "%s: read up to %s\n", channel, time.UnixMilli(mark).Local().Format(time.RFC1123))
	}
	return nil
}

func tokenStatus(token string, now time.Time) string {
	if token == "" {
		return "none (read only)"
	}
	status := "valid"
	if err := auth.CheckToken(token, now); err != nil {
		status = err.Error()
	}
	if sub := auth.Subject(token); sub != "" {
		return fmt.Sprintf("%s (%s)", status, sub)
	}
	return status
}
