package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/chatvault/internal/codec"
	"github.com/xiaot623/gogo/chatvault/internal/domain"
)

func newChatCmd(opts *clientOptions) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat [TEXT]",
		Short: "Send a message, or start an interactive chat without TEXT",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			if len(args) > 0 {
				resp, err := client.Chat(cmd.Context(), sessionID, strings.Join(args, " "))
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), resp.Reply)
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "session: %s (%d messages)\n", resp.SessionID, resp.MessageCount)
				return nil
			}
			return interactiveChat(cmd, client, sessionID)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session to continue")
	return cmd
}

func interactiveChat(cmd *cobra.Command, client *Client, sessionID string) error {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, "Type a message and press Enter to send. /quit to exit.")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		_, _ = fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "/quit":
			return nil
		}

		resp, err := client.Chat(cmd.Context(), sessionID, input)
		if err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			continue
		}
		if sessionID == "" {
			sessionID = resp.SessionID
			_, _ = fmt.Fprintf(out, "session: %s\n", sessionID)
		}
		_, _ = fmt.Fprintln(out, resp.Reply)
	}
}

func newSessionCmd(opts *clientOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "session ID",
		Short: "Show a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := opts.client().GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printSession(cmd.OutOrStdout(), sess, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the canonical JSON encoding")
	return cmd
}

func newPublishCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish ID",
		Short: "Publish a snapshot of a session and print its address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().Publish(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), resp.Address)
			return nil
		},
	}
}

func newLoadCmd(opts *clientOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "load ADDRESS",
		Short: "Show a published snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := opts.client().LoadSnapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printSession(cmd.OutOrStdout(), sess, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the canonical JSON encoding")
	return cmd
}

func newWatchCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch ID",
		Short: "Stream a session's events until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			out := cmd.OutOrStdout()
			return opts.client().Watch(ctx, args[0], func(ev domain.Event) {
				switch ev.Type {
				case domain.EventTypeSnapshotPublished:
					_, _ = fmt.Fprintf(out, "[%s] %s messages=%d address=%s\n", ev.Type, ev.SessionID, ev.MessageCount, ev.Address)
				default:
					_, _ = fmt.Fprintf(out, "[%s] %s messages=%d\n", ev.Type, ev.SessionID, ev.MessageCount)
				}
			})
		},
	}
}

func printSession(w io.Writer, sess *domain.Session, asJSON bool) error {
	if asJSON {
		data, err := codec.Encode(sess)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	_, _ = fmt.Fprintf(w, "session %s (%d messages, created %s, updated %s)\n",
		sess.SessionID, len(sess.Messages), sess.CreatedAt.Format(codec.TimeLayout), sess.UpdatedAt.Format(codec.TimeLayout))
	for _, m := range sess.Messages {
		_, _ = fmt.Fprintf(w, "\n[%s] %s\n%s\n", m.Role, m.Timestamp.Format(codec.TimeLayout), m.Content)
	}
	return nil
}
