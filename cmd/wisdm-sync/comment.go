package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wisdm-app/threadsync/pkg/thread"
)

func newCommentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comment",
		Short: "Post, edit or delete comments",
	}

	post := &cobra.Command{
		Use:   "post <thread-id> <text...>",
		Short: "Post a comment and print it once the thread shows it",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runCommentPost,
	}
	post.Flags().String("parent", "", "reply to this comment instead of the thread")
	post.Flags().String("order", "", "DESC (newest first) or ASC (default threads.order_by)")

	edit := &cobra.Command{
		Use:   "edit <comment-id> <text...>",
		Short: "Replace the text of a comment",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runCommentEdit,
	}

	del := &cobra.Command{
		Use:   "delete <comment-id>",
		Short: "Delete a comment",
		Args:  cobra.ExactArgs(1),
		RunE:  runCommentDelete,
	}

	cmd.AddCommand(post, edit, del)
	return cmd
}

// commentText joins the words of a comment given on the command line
func commentText(words []string) (string, error) {
	text := strings.TrimSpace(strings.Join(words, " "))
	if text == "" {
		return "", thread.ErrEmptyComment
	}
	return text, nil
}

func runCommentPost(cmd *cobra.Command, args []string) error {
	threadID := args[0]
	text, err := commentText(args[1:])
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

	_, view, err := openThread(ctx, cmd, s, threadID)
	if err != nil {
		return err
	}
	defer view.Close()

	parent, _ := cmd.Flags().GetString("parent")
	if parent == "" {
		parent = thread.RootParent
	}
	c, err := view.PostComment(ctx, parent, text)
	if err != nil {
		return err
	}
	s.logger.Printf("Posted comment %s in thread %s", c.ID, threadID)
	fmt.Fprintln(cmd.OutOrStdout(), formatComment(&c, time.Now()))
	return nil
}

func runCommentEdit(cmd *cobra.Command, args []string) error {
	text, err := commentText(args[1:])
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

	record, err := s.api.UpdateComment(ctx, args[0], text)
	if err != nil {
		return fmt.Errorf("failed to edit comment %s: %w", args[0], err)
	}
	c := record.Comment()
	fmt.Fprintln(cmd.OutOrStdout(), formatComment(&c, time.Now()))
	return nil
}

func runCommentDelete(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signalContext(cmd)
	defer stop()

	if err := s.api.DeleteComment(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to delete comment %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}
