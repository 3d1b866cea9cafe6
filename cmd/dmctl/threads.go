package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/forumdm/internal/rpc"
	"github.com/matheus3301/forumdm/internal/tui/client"
)

var (
	threadsRefreshFlag bool
	threadsMoreFlag    bool
)

func init() {
	threadsCmd.Flags().BoolVar(&threadsRefreshFlag, "refresh", false, "refetch the first page before listing")
	threadsCmd.Flags().BoolVar(&threadsMoreFlag, "more", false, "load the next page before listing")
	rootCmd.AddCommand(threadsCmd)
}

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List the inbox",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			var (
				resp *rpc.ThreadsResponse
				err  error
			)
			switch {
			case threadsMoreFlag:
				resp, err = c.Inbox.LoadMoreThreads(ctx, &rpc.Empty{})
			case threadsRefreshFlag:
				resp, err = c.Inbox.RefreshThreads(ctx, &rpc.Empty{})
			default:
				resp, err = c.Inbox.ListThreads(ctx, &rpc.Empty{})
			}
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(resp)
				return nil
			}
			if len(resp.Threads) == 0 {
				fmt.Println("No conversations.")
				return nil
			}
			for _, t := range resp.Threads {
				name := fmt.Sprintf("user %d", t.PeerID)
				if t.Profile != nil && t.Profile.Username != "" {
					name = t.Profile.Username
				}
				presence := "?"
				if t.Presence != nil {
					presence = string(t.Presence.Status)
				}
				at := time.UnixMilli(t.LastMessageAtMs).Format("2006-01-02 15:04")
				fmt.Printf("%8d  %-20s %-8s %3d unread  %s\n", t.PeerID, name, presence, t.UnreadCount, at)
			}
			if resp.HasMore {
				fmt.Println("(more available: dmctl threads --more)")
			}
			return nil
		})
	},
}
