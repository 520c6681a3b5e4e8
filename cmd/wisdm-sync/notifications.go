package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/spf13/cobra"

	"github.com/wisdm-app/threadsync/pkg/notify"
)

func newNotificationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifications <channel>",
		Short: "List notifications and print new ones as they arrive",
		Long:  "Joins the user's notification channel, prints the recent notifications and follows new ones until interrupted. Everything shown is marked read on exit.",
		Args:  cobra.ExactArgs(1),
		RunE:  runNotifications,
	}
	cmd.Flags().Bool("alert", false, "show a desktop notification for each new notification")
	cmd.Flags().Int("limit", 20, "number of recent notifications to load")
	cmd.Flags().Bool("mark-read", true, "mark all notifications read on exit")
	return cmd
}

func runNotifications(cmd *cobra.Command, args []string) error {
	channel := args[0]
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signalContext(cmd)
	defer stop()

	feed := notify.NewFeed(channel, s.manager, s.state)
	feed.SetLogger(s.logger)
	feed.SetMetrics(s.metrics)

	limit, _ := cmd.Flags().GetInt("limit")
	if recent, err := s.api.FetchNotifications(ctx, 0, limit); err != nil {
		s.logger.Printf("Failed to load recent notifications: %v", err)
	} else {
		feed.Seed(recent)
	}

	out := cmd.OutOrStdout()
	for _, n := range feed.List() {
		fmt.Fprintln(out, formatNotification(n, time.Now()))
	}
	fmt.Fprintf(out, "%d unread\n", feed.Unread())

	alert, _ := cmd.Flags().GetBool("alert")
	feed.OnUpdate(func(n notify.Notification) {
		fmt.Fprintln(out, formatNotification(n, time.Now()))
		if !alert {
			return
		}
		if err := beeep.Notify("Wisdm", n.Text(), ""); err != nil {
			s.logger.Printf("Desktop notification failed: %v", err)
		}
	})

	if err := s.manager.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if err := feed.Start(); err != nil {
		return err
	}
	defer feed.Stop()

	<-ctx.Done()

	if markRead, _ := cmd.Flags().GetBool("mark-read"); markRead {
		if err := feed.MarkAllRead(); err != nil {
			return fmt.Errorf("failed to mark notifications read: %w", err)
		}
		// The local watermark is authoritative; the server copy is best effort
		markCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.api.MarkAllNotificationsRead(markCtx); err != nil {
			s.logger.Printf("Failed to mark notifications read on the server: %v", err)
		}
	}
	return nil
}
