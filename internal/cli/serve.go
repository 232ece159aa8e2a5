package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sonata-music/sonata/internal/server"
	"github.com/sonata-music/sonata/internal/storage"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		addr   string
		noSync bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the player with an HTTP and websocket remote control",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			app, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.StartPlayer(ctx); err != nil {
				return err
			}

			log := app.logger.Named("serve")

			if !noSync {
				sm := storage.NewSyncManager(app.api, app.storage,
					time.Duration(app.cfg.Storage.SyncInterval)*time.Second,
					app.cfg.Storage.SyncAlbums, app.logger)
				sm.OnFinish(func(stats *storage.SyncStats) {
					log.Info("catalog sync finished",
						zap.Int("albums", stats.Albums),
						zap.Int("songs", stats.Songs),
						zap.Int("errors", len(stats.Errors)),
						zap.Duration("took", stats.EndTime.Sub(stats.StartTime)))
				})
				sm.Start(ctx)
				defer sm.Stop()
			}

			srv := server.New(app.session, app.library, app.cfg.Server.AllowedOrigins, app.logger)
			sub := srv.Attach(app.bus)
			defer app.bus.Unsubscribe(sub)
			go srv.RunHub(ctx)

			if addr == "" {
				addr = app.cfg.Server.Addr
			}
			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("remote control listening",
					zap.String("addr", addr),
					zap.String("session", app.session.ID()))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				log.Info("shutting down")
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("listen on %s: %w", addr, err)
				}
			}
			cancel()

			shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer stop()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Warn("http shutdown", zap.Error(err))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "do not mirror the catalog in the background")
	return cmd
}
