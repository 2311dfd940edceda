package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/tullo/chats/internal/chatclient"
	"github.com/tullo/chats/internal/models"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations, most recent first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		convs := s.client.Conversations(cmd.Context(), s.me)
		printConversations(cmd.OutOrStdout(), s.me, convs, s.client.Store.TotalUnread(s.me))
		return nil
	},
}

var openCmd = &cobra.Command{
	Use:   "open <conversation-id>",
	Short: "Show a conversation and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		// the list resolves participants and the block state
		s.client.Conversations(ctx, s.me)

		thread, err := s.client.Open(ctx, s.me, args[0])
		if err != nil {
			return err
		}
		printThread(cmd.OutOrStdout(), s.me, thread)
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <user-id> <message>...",
	Short: "Send a direct message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		msg, err := s.client.Send(cmd.Context(), s.me, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return describe(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %s in %s\n", msg.ID, msg.ConversationID)
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start <query> <message>...",
	Short: "Search for exactly one user and send them the first message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		users, err := s.client.SearchUsers(ctx, s.me, args[0])
		if err != nil {
			return describe(err)
		}
		if len(users) != 1 {
			return fmt.Errorf("%q matches %d users, narrow the query", args[0], len(users))
		}

		msg, err := s.client.StartConversation(ctx, s.me, users[0], strings.Join(args[1:], " "))
		if err != nil {
			return describe(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "started %s with %s\n", msg.ConversationID, users[0].DisplayName())
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <message-id>",
	Short: "Delete a message you sent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		return describe(s.client.DeleteMessage(cmd.Context(), s.me, args[0]))
	},
}

var deleteConversationCmd = &cobra.Command{
	Use:   "delete-conversation <conversation-id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		return describe(s.client.DeleteConversation(cmd.Context(), s.me, args[0]))
	},
}

var unreadCmd = &cobra.Command{
	Use:   "unread <conversation-id>",
	Short: "Mark a conversation unread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		return describe(s.client.MarkUnread(cmd.Context(), s.me, args[0]))
	},
}

var blockCmd = &cobra.Command{
	Use:   "block <user-id>",
	Short: "Block a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		return describe(s.client.Block(cmd.Context(), s.me, args[0]))
	},
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <user-id>",
	Short: "Unblock a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		return describe(s.client.Unblock(cmd.Context(), s.me, args[0]))
	},
}

var blockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "List blocked users, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		printBlocked(cmd.OutOrStdout(), s.client.Blocks.ListBlocked(cmd.Context(), s.me))
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search users by name, username or email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		users, err := s.client.SearchUsers(cmd.Context(), s.me, args[0])
		if err != nil {
			return describe(err)
		}
		printUsers(cmd.OutOrStdout(), users)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow pushed events and reprint the conversation list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		printConversations(out, s.me, s.client.Conversations(ctx, s.me), s.client.Store.TotalUnread(s.me))

		listener := chatclient.NewListener(s.client, s.me, s.transport.WebsocketURL())
		listener.OnEvent = func(event string) {
			jww.DEBUG.Printf("[CHAT] Applied %s", event)
			printConversations(out, s.me, s.client.Store.Snapshot(s.me), s.client.Store.TotalUnread(s.me))
		}

		err = listener.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

// describe turns client errors into messages meant for a person
func describe(err error) error {
	switch {
	case err == nil:
		return nil
	case chatclient.IsKind(err, chatclient.PolicyRejection):
		if banner := chatclient.DirectionOf(err).Banner(); banner != "" {
			return errors.New(banner)
		}
		return errors.New("messaging is unavailable in this conversation")
	case chatclient.IsKind(err, chatclient.TransportFailure):
		return fmt.Errorf("could not reach the chat backend, try again: %w", err)
	}
	return err
}

func printConversations(w io.Writer, me models.User, convs []models.Conversation, totalUnread int) {
	fmt.Fprintf(w, "%d unread\n", totalUnread)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	t := now()
	for _, conv := range convs {
		row := chatclient.NewConversationRow(me, conv, t)
		flags := ""
		if row.Unread > 0 {
			flags = fmt.Sprintf("(%d)", row.Unread)
		}
		if row.Blocked {
			flags = strings.TrimSpace(flags + " blocked")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", row.ID, row.Title, flags, row.Preview, row.Timestamp)
	}
}

func printThread(w io.Writer, me models.User, thread chatclient.Thread) {
	if thread.Block != nil {
		fmt.Fprintf(w, "[%s]\n", thread.Block.Banner())
	}
	if len(thread.Messages) == 0 {
		fmt.Fprintln(w, chatclient.NoMessagesPreview)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	for _, row := range chatclient.MessageRows(me, thread, now()) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", row.ID, row.Sender, row.Body, row.Timestamp, row.StatusIcon)
	}
}

func printBlocked(w io.Writer, blocked []models.BlockedUser) {
	if len(blocked) == 0 {
		fmt.Fprintln(w, "No blocked users")
		return
	}
	t := now()
	for _, b := range blocked {
		fmt.Fprintf(w, "%s\t%s\tblocked %s\n", b.ID, b.DisplayName(), chatclient.RelativeTime(b.BlockedAt, t))
	}
}

func printUsers(w io.Writer, users []models.User) {
	if len(users) == 0 {
		fmt.Fprintln(w, "No users found")
		return
	}
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\n", u.ID, u.DisplayName(), u.Email)
	}
}

func init() {
	rootCmd.AddCommand(
		conversationsCmd,
		openCmd,
		sendCmd,
		startCmd,
		deleteCmd,
		deleteConversationCmd,
		unreadCmd,
		blockCmd,
		unblockCmd,
		blockedCmd,
		searchCmd,
		watchCmd,
	)
}
