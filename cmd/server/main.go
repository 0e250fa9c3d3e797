package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Divyanshu-Bhandari/shadow-talk/internal/config"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/logging"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/server"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/session"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/version"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:     "shadowtalk-server",
	Short:   "Relay for ephemeral two-party encrypted chat rooms",
	Version: version.Version,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to a YAML config file")
}

func run(ctx context.Context) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.CleanupSecret == "" {
		logger.Warn("cleanup_secret is not set; POST /cleanup will answer 500")
	}
	logger.Info("starting relay",
		zap.String("version", version.Version),
		zap.Duration("room_ttl", cfg.RoomTTL),
		zap.Duration("session_ttl", cfg.SessionTTL),
		zap.String("store", cfg.Store.Driver),
	)

	srv := server.New(cfg, server.Options{Logger: logger, Store: store})
	if err := srv.Start(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return err
	}
	logger.Info("relay stopped")
	return nil
}

func openStore(cfg config.StoreConfig) (session.Store, error) {
	switch cfg.Driver {
	case config.StoreBolt:
		return session.OpenBoltStore(cfg.Path)
	case config.StoreMemory, "":
		return session.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
