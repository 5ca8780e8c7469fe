package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/notification"
)

// Command returns a cobra command that sends a test notification through the
// configured shoutrrr URLs
func Command(settings *conf.Settings) *cobra.Command {
	var (
		title   string
		message string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a test notification",
		Long: `Send a test notification to every configured notify.urls entry.

Examples:
  ridenote notify
  ridenote notify --title="RideNote" --message="Hello from the road"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			notifier, err := notification.NewShoutrrrNotifier(settings.Notify)
			if err != nil {
				return fmt.Errorf("failed to create notifier: %w", err)
			}
			if title == "" {
				title = notifier.Title()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := notifier.Send(ctx, title, message); err != nil {
				return fmt.Errorf("failed to send notification: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Notification sent to %d service(s)\n", len(settings.Notify.URLs))
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Notification title (defaults to notify.title)")
	cmd.Flags().StringVar(&message, "message", "This is a test notification", "Notification message")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Delivery deadline")

	return cmd
}
