package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sonata-music/sonata/internal/config"
	"github.com/sonata-music/sonata/internal/logger"
)

// Version is overridden at link time.
var Version = "dev"

type rootOptions struct {
	configPath string
	debug      bool

	cfg      *config.Config
	logger   *zap.Logger
	closeLog func()
}

// NewRootCommand builds the sonata command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "sonata",
		Short:         "Sonata plays music from your store library.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.closeLog != nil {
				opts.closeLog()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to configuration file")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newPlayCommand(opts),
		newServeCommand(opts),
		newHistoryCommand(opts),
		newSearchCommand(opts),
		newSyncCommand(opts),
		newProfileCommand(opts),
		newWalletCommand(opts),
		newTransactionsCommand(opts),
		newAlbumsCommand(opts),
		newArtistsCommand(opts),
		newPlaylistsCommand(opts),
	)
	return cmd
}

func (o *rootOptions) init() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if o.debug {
		cfg.Debug = true
	}

	log, closeLog, err := logger.New(logger.FromConfig(cfg))
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	o.cfg = cfg
	o.logger = log
	o.closeLog = closeLog

	log.Debug("configuration loaded",
		zap.String("api", cfg.API.BaseURL),
		zap.String("database", cfg.Storage.DatabasePath),
		zap.String("audio_backend", cfg.Audio.Backend),
		zap.Int("sync_interval", cfg.Storage.SyncInterval))
	return nil
}

func (o *rootOptions) newApp(ctx context.Context) (*App, error) {
	return NewApp(ctx, o.cfg, o.logger)
}

// Execute runs the command tree until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
