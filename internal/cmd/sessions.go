package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kounsel/internal/api"
	"kounsel/internal/chat"
)

// sessionsCmd represents the sessions parent command.
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored conversations",
	Long: `List and manage the conversations stored in the counselor backend.

Use the subcommands to list, inspect, rename, or delete conversations.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, most recently updated first",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a conversation's messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsRenameCmd = &cobra.Command{
	Use:   "rename <session-id> <title>",
	Short: "Rename a conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSessionsRename,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a conversation and all its messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsRenameCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	sidebar := chat.NewSidebar(newAPIClient(newTokenStore()), nil)
	if err := sidebar.Refresh(ctx); err != nil {
		return err
	}
	sessions := sidebar.Sessions()
	if len(sessions) == 0 {
		fmt.Println("No stored conversations.")
		return nil
	}
	for _, s := range sessions {
		title := s.Title
		if strings.TrimSpace(title) == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  %s", s.ID, title)
		if !s.UpdatedAt.IsZero() {
			fmt.Printf("  (updated %s)", s.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
		fmt.Println()
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	client := newAPIClient(newTokenStore())
	sess, err := client.GetSession(ctx, args[0])
	if err != nil {
		return err
	}
	messages, err := client.GetMessages(ctx, args[0])
	if err != nil {
		return err
	}

	title := sess.Title
	if strings.TrimSpace(title) == "" {
		title = "(untitled)"
	}
	fmt.Printf("%s  (%d messages)\n", title, len(messages))
	for _, m := range messages {
		label := "counselor"
		if m.Role == api.RoleUser {
			label = "you"
		}
		fmt.Printf("\n[%s] %s\n", label, m.Content)
	}
	return nil
}

func runSessionsRename(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	title := strings.TrimSpace(strings.Join(args[1:], " "))
	if title == "" {
		return chat.ErrEmptyTitle
	}
	client := newAPIClient(newTokenStore())
	if err := client.UpdateSession(ctx, args[0], api.SessionUpdate{Title: &title}); err != nil {
		return err
	}
	fmt.Printf("Renamed %s to %q.\n", args[0], title)
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	client := newAPIClient(newTokenStore())
	if err := client.DeleteSession(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s.\n", args[0])
	return nil
}
