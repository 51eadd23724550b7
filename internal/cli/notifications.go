package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"estately/internal/notifications"
	"estately/internal/session"
)

func newNotificationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"inbox"},
		Short:   "Read in-app notifications",
	}
	cmd.AddCommand(newNotificationsListCmd(), newNotificationsReadCmd(), newNotificationsWatchCmd())
	return cmd
}

// loadInbox opens the session and loads the inbox. The returned manager must
// be closed by the caller.
func loadInbox(ctx context.Context) (*session.Manager, *session.Inbox, error) {
	m, _, err := requireSession(ctx)
	if err != nil {
		return nil, nil, err
	}
	inbox := session.NewInbox(client, logger)
	if err := inbox.Load(ctx); err != nil {
		m.Close()
		return nil, nil, err
	}
	return m, inbox, nil
}

func newNotificationsListCmd() *cobra.Command {
	var unreadOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, inbox, err := loadInbox(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			out := cmd.OutOrStdout()
			if !inbox.Available() {
				fmt.Fprintln(out, "Notifications are not available on this server.")
				return nil
			}

			shown := 0
			for _, n := range inbox.Items() {
				if unreadOnly && n.IsRead {
					continue
				}
				if shown == 0 {
					fmt.Fprintf(out, "  %-36s  %-40s  %s\n", "ID", "TITLE", "WHEN")
				}
				printNotification(out, n)
				shown++
			}
			if shown == 0 {
				fmt.Fprintln(out, "No notifications.")
			}
			fmt.Fprintf(out, "\n%s unread\n", countNoun(inbox.Unread(), "notification"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&unreadOnly, "unread", false, "Only unread notifications")
	return cmd
}

func printNotification(out io.Writer, n notifications.Notification) {
	marker := " "
	if !n.IsRead {
		marker = "*"
	}
	fmt.Fprintf(out, "%s %-36s  %-40s  %s\n", marker, n.ID, truncate(n.Title, 40), humanize.Time(n.CreatedAt))
}

func newNotificationsReadCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "read [notification_id...]",
		Short: "Mark notifications as read",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("pass notification ids or --all")
			}
			ids := make([]uuid.UUID, 0, len(args))
			for _, arg := range args {
				id, err := uuid.Parse(arg)
				if err != nil {
					return fmt.Errorf("invalid notification id %q", arg)
				}
				ids = append(ids, id)
			}

			ctx := cmd.Context()
			m, inbox, err := loadInbox(ctx)
			if err != nil {
				return err
			}
			defer m.Close()

			if all {
				err = inbox.MarkAllRead(ctx)
			} else {
				err = inbox.MarkRead(ctx, ids...)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s unread\n", countNoun(inbox.Unread(), "notification"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Mark every notification as read")
	return cmd
}

func newNotificationsWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print unread notifications, then new ones as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m, _, err := requireSession(ctx)
			if err != nil {
				return err
			}
			defer m.Close()

			inbox := session.NewInbox(client, logger)
			inserts, err := inbox.Follow(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching for notifications (%d unread, Ctrl+C to stop)\n", inbox.Unread())
			items := inbox.Items()
			for idx := len(items) - 1; idx >= 0; idx-- {
				if !items[idx].IsRead {
					printLiveNotification(out, items[idx])
				}
			}
			for n := range inserts {
				printLiveNotification(out, n)
			}
			err = ctx.Err()
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		},
	}
}

func printLiveNotification(out io.Writer, n notifications.Notification) {
	fmt.Fprintf(out, "%s  %s\n", n.CreatedAt.Local().Format("15:04:05"), n.Title)
	if n.Message != "" {
		fmt.Fprintf(out, "          %s\n", n.Message)
	}
}
