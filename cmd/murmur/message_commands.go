package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"murmur/internal/api"
	"murmur/internal/ipc"
)

func newSendCommand(ctx *commandContext) *cobra.Command {
	var ttl time.Duration
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "send <peer> <message...>",
		Short: "Send a message to a peer address or contact name",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl < 0 {
				return errors.New("--ttl must not be negative")
			}
			content := strings.Join(args[1:], " ")
			return ctx.withClient(func(client *ipc.Client) error {
				peer, err := resolvePeer(client, args[0])
				if err != nil {
					return err
				}
				resp, err := client.Send(ipc.SendRequest{Peer: peer, Content: content, TTLMillis: ttl.Milliseconds()})
				if err != nil {
					return fmt.Errorf("send: %w", err)
				}
				return reportSendResult(cmd, resp.Result, jsonOut)
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Delete the message on both ends after this long (e.g. 30s, 5m)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	return cmd
}

func newResendCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "resend <message-id>",
		Short: "Send an earlier outgoing message again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				id, err := resolveMessageID(client, args[0])
				if err != nil {
					return err
				}
				resp, err := client.Resend(id)
				if err != nil {
					return fmt.Errorf("resend: %w", err)
				}
				return reportSendResult(cmd, resp.Result, jsonOut)
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	return cmd
}

// errSendFailed is returned after a failed delivery has been reported so the
// process exits non-zero.
var errSendFailed = errors.New("message was not delivered")

func reportSendResult(cmd *cobra.Command, result api.SendResult, jsonOut bool) error {
	if jsonOut {
		if err := writeJSON(cmd, result); err != nil {
			return err
		}
	} else {
		printSendResult(cmd.OutOrStdout(), result, shouldColorize(cmd.OutOrStdout()))
	}
	if !result.Success {
		return errSendFailed
	}
	return nil
}

func printSendResult(out io.Writer, result api.SendResult, colorize bool) {
	if result.Success {
		fmt.Fprintln(out, colorText(statusOK, fmt.Sprintf("Delivered via %s (id %s)", result.Route, result.MessageID), colorize))
		return
	}
	detail := result.Error
	if detail == "" {
		detail = "unknown error"
	}
	if result.ErrorKind != "" {
		detail = fmt.Sprintf("%s [%s]", detail, result.ErrorKind)
	}
	line := "Delivery failed: " + detail
	if result.MessageID != "" {
		line += fmt.Sprintf(" (id %s; retry with `murmur resend %s`)", result.MessageID, shortID(result.MessageID))
	}
	fmt.Fprintln(out, colorText(statusError, line, colorize))
}

func newMessagesCommand(ctx *commandContext) *cobra.Command {
	var peer string
	var jsonOut bool
	var limit int
	cmd := &cobra.Command{
		Use:     "messages",
		Aliases: []string{"history"},
		Short:   "List stored messages, oldest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				filter := ""
				if strings.TrimSpace(peer) != "" {
					resolved, err := resolvePeer(client, peer)
					if err != nil {
						return err
					}
					filter = resolved
				}
				resp, err := client.Messages(filter)
				if err != nil {
					return fmt.Errorf("list messages: %w", err)
				}
				msgs := resp.Messages
				if limit > 0 && len(msgs) > limit {
					msgs = msgs[len(msgs)-limit:]
				}
				if jsonOut {
					return writeJSON(cmd, api.MessageListResponse{Messages: msgs})
				}
				out := cmd.OutOrStdout()
				if len(msgs) == 0 {
					fmt.Fprintln(out, "No messages")
					return nil
				}
				names := contactNames(client)
				cols := columns("ID", "Time", "Dir", "Peer", "Status", "Expires", "Message")
				cols[6].wrap = 48
				fmt.Fprint(out, renderTable(cols, buildMessageRows(msgs, names, shouldColorize(out))))
				fmt.Fprintln(out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&peer, "peer", "p", "", "Only show messages exchanged with this peer or contact")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show only the most recent N messages")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print messages as JSON")

	cmd.AddCommand(&cobra.Command{
		Use:     "rm <message-id>",
		Aliases: []string{"delete"},
		Short:   "Delete a message from the local history",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				id, err := resolveMessageID(client, args[0])
				if err != nil {
					return err
				}
				resp, err := client.DeleteMessage(id)
				if err != nil {
					return fmt.Errorf("delete message: %w", err)
				}
				if !resp.Deleted {
					return fmt.Errorf("message %s not found", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted message %s\n", id)
				return nil
			})
		},
	})
	return cmd
}

func buildMessageRows(msgs []api.Message, names map[string]string, colorize bool) [][]string {
	rows := make([][]string, 0, len(msgs))
	for _, msg := range msgs {
		dir := "->"
		if msg.Direction == "incoming" {
			dir = "<-"
		}
		peer := msg.Peer
		if name, ok := names[msg.Peer]; ok {
			peer = name
		}
		status := msg.Status
		if msg.ErrorKind != "" {
			status = fmt.Sprintf("%s (%s)", status, msg.ErrorKind)
		}
		rows = append(rows, []string{
			shortID(msg.ID),
			formatMessageTime(msg.Timestamp),
			dir,
			truncate(peer, 24),
			colorText(messageStatusKind(msg.Status), status, colorize),
			formatExpiry(msg.ExpiresAt, time.Now()),
			strings.Join(strings.Fields(msg.Content), " "),
		})
	}
	return rows
}

func formatMessageTime(value string) string {
	t := api.ParseTime(value)
	if t.IsZero() {
		return value
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatExpiry(value string, now time.Time) string {
	t := api.ParseTime(value)
	if t.IsZero() {
		return ""
	}
	remaining := t.Sub(now)
	if remaining <= 0 {
		return "expiring"
	}
	return "in " + remaining.Round(time.Second).String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolveMessageID accepts a full id or a unique prefix as shown by
// `murmur messages`.
func resolveMessageID(client *ipc.Client, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New("message id is required")
	}
	resp, err := client.Messages("")
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}
	var match string
	for _, msg := range resp.Messages {
		if msg.ID == value {
			return value, nil
		}
		if strings.HasPrefix(msg.ID, value) {
			if match != "" {
				return "", fmt.Errorf("message id %q is ambiguous", value)
			}
			match = msg.ID
		}
	}
	if match == "" {
		return value, nil
	}
	return match, nil
}

// resolvePeer maps a contact name to its address. Anything else is passed
// through for the daemon to validate.
func resolvePeer(client *ipc.Client, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New("peer is required")
	}
	resp, err := client.Contacts()
	if err != nil {
		return "", fmt.Errorf("list contacts: %w", err)
	}
	for _, contact := range resp.Contacts {
		if strings.EqualFold(contact.Name, value) {
			return contact.Address, nil
		}
	}
	return value, nil
}

func contactNames(client *ipc.Client) map[string]string {
	names := make(map[string]string)
	resp, err := client.Contacts()
	if err != nil {
		return names
	}
	for _, contact := range resp.Contacts {
		if contact.Name != "" {
			names[contact.Address] = contact.Name
		}
	}
	return names
}
