package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/forumdm/internal/lock"
	"github.com/matheus3301/forumdm/internal/profile"
	"github.com/matheus3301/forumdm/internal/tui/client"
)

var (
	profileFlag string
	jsonFlag    bool
	timeoutFlag time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "dmctl",
	Short:         "Control a forumdm daemon",
	Long:          "Query and drive the direct-message daemon of a profile over its local socket.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "profile name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 10*time.Second, "deadline for each daemon call")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// dial resolves the profile and connects to its daemon.
func dial() (*client.Client, string, error) {
	name := profile.Resolve(profileFlag)
	if err := profile.ValidateName(name); err != nil {
		return nil, "", err
	}
	if _, running := lock.Holder(profile.Dir(name)); !running {
		return nil, "", fmt.Errorf("no daemon running for profile %q (start it with: dmd --profile %s)", name, name)
	}
	c, err := client.New(profile.SocketPath(name))
	if err != nil {
		return nil, "", fmt.Errorf("cannot connect to daemon for profile %q: %w", name, err)
	}
	return c, name, nil
}

// withClient runs fn against the daemon under the --timeout deadline.
func withClient(fn func(ctx context.Context, c *client.Client) error) error {
	c, _, err := dial()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeoutFlag)
	defer cancel()
	return fn(ctx, c)
}

func parsePeer(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid peer id %q", arg)
	}
	return id, nil
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
