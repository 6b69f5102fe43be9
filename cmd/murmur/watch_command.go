package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"murmur/internal/api"
	"murmur/internal/logs"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream incoming messages and deletions as they happen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.API.Enabled {
				return errors.New("the HTTP API is disabled; set api.enabled = true to use watch")
			}

			bind := cfg.API.Bind
			names := map[string]string{}
			if client, err := ctx.dialClient(); err == nil {
				if status, err := client.Status(); err == nil && status.APIAddress != "" {
					bind = status.APIAddress
				}
				names = contactNames(client)
				_ = client.Close()
			}

			events, err := logs.NewEventClient(bind, cfg.API.Token)
			if err != nil {
				return fmt.Errorf("event stream: %w", err)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			err = events.Follow(cmd.Context(), func(ev api.Event) error {
				if jsonOut {
					return writeJSON(cmd, ev)
				}
				printEvent(out, ev, names, colorize)
				return nil
			})
			switch {
			case err == nil, errors.Is(err, context.Canceled):
				return nil
			case logs.IsAPIUnavailable(err):
				return fmt.Errorf("%w; start the daemon with `murmur start`", err)
			default:
				return err
			}
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print each event as JSON")
	return cmd
}

func printEvent(out io.Writer, ev api.Event, names map[string]string, colorize bool) {
	switch ev.Type {
	case "message_received":
		if ev.Message == nil {
			return
		}
		peer := ev.Message.Peer
		if name, ok := names[peer]; ok {
			peer = name
		}
		line := fmt.Sprintf("[%s] %s: %s", formatMessageTime(ev.Message.Timestamp), peer, ev.Message.Content)
		if ev.Message.ExpiresAt != "" {
			line += " (expires " + formatMessageTime(ev.Message.ExpiresAt) + ")"
		}
		fmt.Fprintln(out, colorText(statusInfo, line, colorize))
	case "message_deleted":
		reason := "deleted"
		if ev.Expired {
			reason = "expired"
		}
		fmt.Fprintln(out, colorText(statusWarn, fmt.Sprintf("message %s %s", shortID(ev.MessageID), reason), colorize))
	case "message_updated":
		if ev.Message == nil {
			return
		}
		kind := messageStatusKind(ev.Message.Status)
		fmt.Fprintln(out, colorText(kind, fmt.Sprintf("message %s is %s", shortID(ev.MessageID), ev.Message.Status), colorize))
	}
}
