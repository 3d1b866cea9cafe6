package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/forumdm/internal/rpc"
	"github.com/matheus3301/forumdm/internal/tui/client"
)

var sendTokenFlag string

func init() {
	sendCmd.Flags().StringVar(&sendTokenFlag, "token", "", "client token, reuse it when retrying a send")
	rootCmd.AddCommand(openCmd, olderCmd, sendCmd, recallCmd, readCmd)
}

var openCmd = &cobra.Command{
	Use:   "open <peer-id>",
	Short: "Open a conversation and print its newest page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		peer, err := parsePeer(args[0])
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Chat.OpenConversation(ctx, &rpc.PeerRequest{PeerID: peer})
			if err != nil {
				return err
			}
			printConversation(resp)
			return nil
		})
	},
}

var olderCmd = &cobra.Command{
	Use:   "older <peer-id>",
	Short: "Load the previous page of an open conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		peer, err := parsePeer(args[0])
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			if _, err := c.Chat.OpenConversation(ctx, &rpc.PeerRequest{PeerID: peer}); err != nil {
				return err
			}
			resp, err := c.Chat.LoadOlder(ctx, &rpc.PeerRequest{PeerID: peer})
			if err != nil {
				return err
			}
			printConversation(resp)
			return nil
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <peer-id> <text...>",
	Short: "Send a text message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		peer, err := parsePeer(args[0])
		if err != nil {
			return err
		}
		body := strings.Join(args[1:], " ")
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Chat.SendMessage(ctx, &rpc.SendRequest{PeerID: peer, Body: body, ClientToken: sendTokenFlag})
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(resp)
				return nil
			}
			fmt.Printf("Sent message %d at %s\n", resp.Message.ID, time.UnixMilli(resp.Message.SentAtMs).Format(time.RFC3339))
			return nil
		})
	},
}

var recallCmd = &cobra.Command{
	Use:   "recall <peer-id> <message-id>",
	Short: "Recall one of your recent messages",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		peer, err := parsePeer(args[0])
		if err != nil {
			return err
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid message id %q", args[1])
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			// The daemon checks ownership and the recall window against its
			// loaded copy of the conversation.
			if _, err := c.Chat.OpenConversation(ctx, &rpc.PeerRequest{PeerID: peer}); err != nil {
				return err
			}
			if _, err := c.Chat.RecallMessage(ctx, &rpc.RecallRequest{PeerID: peer, MessageID: id}); err != nil {
				return err
			}
			fmt.Printf("Recalled message %d\n", id)
			return nil
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <peer-id>",
	Short: "Mark a conversation as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		peer, err := parsePeer(args[0])
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Chat.MarkRead(ctx, &rpc.PeerRequest{PeerID: peer})
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(resp)
				return nil
			}
			if resp.Sent {
				fmt.Println("Marked read.")
			} else {
				fmt.Println("Marked read locally; the server was not notified (not connected).")
			}
			return nil
		})
	},
}

func printConversation(resp *rpc.ConversationResponse) {
	if jsonFlag {
		outputJSON(resp)
		return
	}
	if resp.Error != "" {
		fmt.Printf("[%s] %s\n", resp.State, resp.Error)
	}
	for _, it := range resp.Items {
		if it.Separator {
			fmt.Printf("── %s ──\n", it.Label)
			continue
		}
		m := it.Message
		who := "them"
		if it.Outgoing {
			who = "me"
		}
		body := m.Body
		if m.Recalled() {
			body = "(message recalled)"
		}
		fmt.Printf("%6d %s %-4s %s\n", m.ID, time.UnixMilli(m.SentAtMs).Format("15:04"), who, body)
	}
	if resp.HasMore {
		fmt.Println("(older messages available)")
	}
}
