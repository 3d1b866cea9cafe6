package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matheus3301/forumdm/internal/devserver"
	"github.com/matheus3301/forumdm/internal/devserver/store"
	"github.com/matheus3301/forumdm/internal/logging"
)

const secretEnv = "FORUMDM_DEV_SECRET"

var (
	dbFlag     string
	secretFlag string
	addrFlag   string
	levelFlag  string
	ttlFlag    time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "dmdevsrv",
	Short:         "Local development forum for forumdm",
	Long:          "A SQLite-backed forum serving the chat REST API and socket, for trying forumdm without a real forum.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the forum API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := logging.New("", "devserver", logging.ParseLevel(levelFlag))
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		db, auth, err := openDeps()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		srv := &http.Server{
			Addr:              addrFlag,
			Handler:           devserver.NewServer(db, auth, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			logger.Info("dev forum listening", zap.String("addr", addrFlag), zap.String("db", dbFlag))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <username>",
	Short: "Create the user if needed and print a bearer token for it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, auth, err := openDeps()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		user, err := db.EnsureUser(args[0])
		if err != nil {
			return err
		}
		token, err := auth.Mint(user.ID, user.Username, ttlFlag)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "user %q has id %d\n", user.Username, user.ID)
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "forumdm-dev.db", "path of the SQLite database")
	rootCmd.PersistentFlags().StringVar(&secretFlag, "secret", "", "token signing secret (default $"+secretEnv+")")
	serveCmd.Flags().StringVar(&addrFlag, "addr", "127.0.0.1:8080", "listen address")
	serveCmd.Flags().StringVar(&levelFlag, "log-level", "info", "log level")
	tokenCmd.Flags().DurationVar(&ttlFlag, "ttl", 0, "token lifetime (0 never expires)")
	rootCmd.AddCommand(serveCmd, tokenCmd)
}

func openDeps() (*store.DB, *devserver.Auth, error) {
	secret := secretFlag
	if secret == "" {
		secret = os.Getenv(secretEnv)
	}
	auth, err := devserver.NewAuth([]byte(secret))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: pass --secret or set %s", err, secretEnv)
	}
	db, err := store.Open(dbFlag)
	if err != nil {
		return nil, nil, err
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, auth, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
