package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wisdm-app/threadsync/pkg/client"
	"github.com/wisdm-app/threadsync/pkg/thread"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [thread-id]",
		Short: "Print a comment thread and redraw it as it changes",
		Long:  "Prints a comment thread and redraws it on every change until interrupted. Without a thread id the last watched thread is used.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWatch,
	}
	cmd.Flags().String("order", "", "DESC (newest first) or ASC (default threads.order_by)")
	cmd.Flags().Bool("expand", false, "load the first page of replies under every top-level comment")
	cmd.Flags().Bool("once", false, "print the first page and exit")
	return cmd
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// openThread connects and loads the first page of threadID into a new view
func openThread(ctx context.Context, cmd *cobra.Command, s *session, threadID string) (*thread.Store, *thread.View, error) {
	mode := s.cfg.SortMode()
	if order, _ := cmd.Flags().GetString("order"); order != "" {
		parsed, err := thread.ParseSortMode(order)
		if err != nil {
			return nil, nil, err
		}
		mode = parsed
	}

	store := thread.NewStore()
	store.SetLogger(s.logger)
	store.SetMetrics(s.metrics)

	view := thread.NewView(threadID, store, s.manager, s.api, thread.ViewOptions{
		SortMode:      mode,
		PageSize:      s.cfg.Threads.PageSize,
		ReferenceType: s.cfg.Threads.ReferenceType,
		Tokens:        s.tokens,
	})
	view.SetLogger(s.logger)

	if err := s.manager.Connect(); err != nil {
		return nil, nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := view.Open(ctx); err != nil {
		view.Close()
		return nil, nil, fmt.Errorf("failed to load thread %s: %w", threadID, err)
	}
	return store, view, nil
}

const lastThreadKey = "last_thread"

// resolveThread picks the thread from args or the one watched last
func resolveThread(state client.StateInterface, args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	last, err := state.GetConfig(lastThreadKey)
	if err != nil {
		return "", err
	}
	if last == "" {
		return "", fmt.Errorf("no thread id given and no thread watched before")
	}
	return last, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	threadID, err := resolveThread(s.state, args)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	store, view, err := openThread(ctx, cmd, s, threadID)
	if err != nil {
		return err
	}
	defer view.Close()

	if err := s.state.SetConfig(lastThreadKey, threadID); err != nil {
		s.logger.Printf("Failed to remember thread: %v", err)
	}

	redraw := make(chan struct{}, 1)
	unsubscribe := store.Subscribe(func(change thread.Change) {
		if change.ThreadID != threadID {
			return
		}
		select {
		case redraw <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	if expand, _ := cmd.Flags().GetBool("expand"); expand {
		for _, c := range view.Children(thread.RootParent) {
			if c.ChildCount == 0 {
				continue
			}
			if err := view.LoadMore(ctx, c.ID); err != nil {
				s.logger.Printf("Failed to load replies of %s: %v", c.ID, err)
			}
		}
	}

	out := cmd.OutOrStdout()
	renderThread(out, view, time.Now())
	if once, _ := cmd.Flags().GetBool("once"); once {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-redraw:
			fmt.Fprintf(out, "\n--- %s (%s) ---\n", threadID, time.Now().Format(time.Kitchen))
			renderThread(out, view, time.Now())
		}
	}
}

func newVoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vote <thread-id> <comment-id> <up|down|none>",
		Short: "Vote on a comment and wait for the server to confirm",
		Args:  cobra.ExactArgs(3),
		RunE:  runVote,
	}
	cmd.Flags().String("order", "", "DESC (newest first) or ASC (default threads.order_by)")
	cmd.Flags().String("parent", "", "load replies of this comment before voting")
	cmd.Flags().Duration("wait", 10*time.Second, "how long to wait for the vote echo")
	return cmd
}

func runVote(cmd *cobra.Command, args []string) error {
	threadID, commentID := args[0], args[1]
	vote, err := thread.ParseVote(args[2])
	if err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signalContext(cmd)
	defer stop()

	store, view, err := openThread(ctx, cmd, s, threadID)
	if err != nil {
		return err
	}
	defer view.Close()

	if parent, _ := cmd.Flags().GetString("parent"); parent != "" {
		if err := view.LoadMore(ctx, parent); err != nil {
			return fmt.Errorf("failed to load replies of %s: %w", parent, err)
		}
	}

	if err := waitConnected(ctx, s.manager, s.cfg.ManagerOptions().ConnectTimeout); err != nil {
		return err
	}

	echoed := make(chan struct{}, 1)
	unsubscribe := store.Subscribe(func(change thread.Change) {
		if change.Kind == thread.ChangeVote && change.CommentID == commentID {
			select {
			case echoed <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if err := view.CastVote(ctx, commentID, vote); err != nil {
		return err
	}

	wait, _ := cmd.Flags().GetDuration("wait")
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("vote on %s was not confirmed within %s", commentID, wait)
		case <-echoed:
			c, ok := store.GetComment(threadID, commentID)
			if !ok || c.PendingVoteAck {
				continue
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatComment(&c, time.Now()))
			return nil
		}
	}
}

// waitConnected blocks until the manager reports a connection
func waitConnected(ctx context.Context, m *client.Manager, timeout time.Duration) error {
	connected := make(chan struct{}, 1)
	m.OnConnectionStateChange(func(change client.StateChange) {
		if change.To == client.StateConnected {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})
	if m.IsConnected() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case <-connected:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("not connected: %w", ctx.Err())
	}
}
