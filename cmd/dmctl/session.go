package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/forumdm/internal/rpc"
	"github.com/matheus3301/forumdm/internal/tui/client"
)

func init() {
	rootCmd.AddCommand(statusCmd, connectCmd, disconnectCmd, watchCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the connection status of the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Session.GetStatus(ctx, &rpc.Empty{})
			if err != nil {
				return err
			}
			printStatus(resp)
			return nil
		})
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Open the live connection to the forum",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Session.Connect(ctx, &rpc.Empty{})
			if err != nil {
				return err
			}
			printStatus(resp)
			return nil
		})
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Close the live connection and cancel any pending retry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Session.Disconnect(ctx, &rpc.Empty{})
			if err != nil {
				return err
			}
			printStatus(resp)
			return nil
		})
	},
}

func printStatus(resp *rpc.StatusResponse) {
	if jsonFlag {
		outputJSON(resp)
		return
	}
	fmt.Printf("Profile:    %s (user %d)\n", resp.Profile, resp.UserID)
	fmt.Printf("State:      %s\n", resp.State)
	if resp.RetryPending {
		fmt.Println("Retry:      pending")
	}
	fmt.Printf("Uptime:     %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
	fmt.Printf("Sent:       %d (dropped %d)\n", resp.Stats.Sent, resp.Stats.Dropped)
	fmt.Printf("Reconnects: %d\n", resp.Stats.Reconnects)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream daemon events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := dial()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		streams := make([]rpc.EventReceiver, 0, 3)
		for _, open := range []func() (rpc.EventReceiver, error){
			func() (rpc.EventReceiver, error) { return c.Session.WatchStatus(ctx, &rpc.Empty{}) },
			func() (rpc.EventReceiver, error) { return c.Inbox.WatchThreads(ctx, &rpc.Empty{}) },
			func() (rpc.EventReceiver, error) { return c.Chat.WatchConversation(ctx, &rpc.PeerRequest{}) },
		} {
			s, err := open()
			if err != nil {
				return err
			}
			streams = append(streams, s)
		}

		events := make(chan *rpc.Event)
		errs := make(chan error, len(streams))
		for _, s := range streams {
			go func(s rpc.EventReceiver) {
				for {
					evt, err := s.Recv()
					if err != nil {
						errs <- err
						return
					}
					select {
					case events <- evt:
					case <-ctx.Done():
						return
					}
				}
			}(s)
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-errs:
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					return nil
				}
				return err
			case evt := <-events:
				printEvent(evt)
			}
		}
	},
}

func printEvent(evt *rpc.Event) {
	if jsonFlag {
		b, _ := json.Marshal(evt)
		fmt.Println(string(b))
		return
	}
	at := time.UnixMilli(evt.OccurredAtMs).Format("15:04:05.000")
	fmt.Printf("%s %-24s %s\n", at, evt.Kind, evt.Payload)
}
