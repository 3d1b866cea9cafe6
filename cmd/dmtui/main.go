package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/forumdm/internal/lock"
	"github.com/matheus3301/forumdm/internal/profile"
	"github.com/matheus3301/forumdm/internal/tui"
	"github.com/matheus3301/forumdm/internal/tui/client"
)

const readyTimeout = 10 * time.Second

func main() {
	profileFlag := flag.String("profile", "", "forum profile to open (defaults to the configured one)")
	noStart := flag.Bool("no-start", false, "fail instead of starting dmd when it is not running")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "dmtui: %v\n", err)
		os.Exit(1)
	}
	if err := run(profileName, !*noStart); err != nil {
		fmt.Fprintf(os.Stderr, "dmtui: %v\n", err)
		os.Exit(1)
	}
}

func run(profileName string, autostart bool) error {
	socketPath := profile.SocketPath(profileName)
	if err := ensureDaemon(profileName, socketPath, autostart); err != nil {
		return err
	}

	c, err := client.New(socketPath)
	if err != nil {
		return fmt.Errorf("connect to dmd: %w", err)
	}
	defer func() { _ = c.Close() }()

	return tui.NewApp(c, profileName).Run()
}

// ensureDaemon returns once dmd answers health checks for the profile. A
// daemon holding the profile lock but not answering yet is waited for, not
// started twice.
func ensureDaemon(profileName, socketPath string, autostart bool) error {
	if checkHealth(socketPath) == nil {
		return nil
	}
	if _, running := lock.Holder(profile.Dir(profileName)); !running {
		if !autostart {
			return fmt.Errorf("dmd is not running for profile %q", profileName)
		}
		if _, err := os.Stat(profile.ConfigPath(profileName)); err != nil {
			return fmt.Errorf("profile %q has no %s", profileName, profile.ConfigPath(profileName))
		}
		fmt.Fprintf(os.Stderr, "starting dmd for profile %q...\n", profileName)
		if err := startDaemon(profileName); err != nil {
			return fmt.Errorf("start dmd: %w", err)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = readyTimeout
	if err := backoff.Retry(func() error { return checkHealth(socketPath) }, b); err != nil {
		return fmt.Errorf("dmd for profile %q did not become ready (see %s): %w", profileName, profile.LogPath(profileName), err)
	}
	return nil
}

// checkHealth asks the daemon's health service for its overall status,
// which stays SERVING while the forum connection is down.
func checkHealth(socketPath string) error {
	c, err := client.New(socketPath)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return errors.New("dmd reports " + resp.GetStatus().String())
	}
	return nil
}

// startDaemon launches dmd from next to this binary, or from PATH.
func startDaemon(profileName string) error {
	dmd := "dmd"
	if self, err := os.Executable(); err == nil {
		if sibling := filepath.Join(filepath.Dir(self), "dmd"); fileExists(sibling) {
			dmd = sibling
		}
	}
	cmd := exec.Command(dmd, "--profile", profileName)
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
