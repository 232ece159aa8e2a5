package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sonata-music/sonata/internal/api"
	"github.com/sonata-music/sonata/internal/audio"
	"github.com/sonata-music/sonata/internal/config"
	"github.com/sonata-music/sonata/internal/handlers"
	"github.com/sonata-music/sonata/internal/playback"
	"github.com/sonata-music/sonata/internal/presence"
	"github.com/sonata-music/sonata/internal/search"
	"github.com/sonata-music/sonata/internal/services"
	"github.com/sonata-music/sonata/internal/storage"
	"github.com/sonata-music/sonata/pkg/types"
)

const shutdownTimeout = 5 * time.Second

// App holds the long-lived components shared by the commands. The audio side
// is only built by StartPlayer so that catalog-only commands work on machines
// without an output device.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	api     *api.Client
	storage *storage.Database
	bus     *handlers.EventBus
	streams *services.StreamService
	search  *search.Engine
	library *services.LibraryService
	account *services.AccountService

	engine   *audio.Engine
	session  *playback.Session
	history  *services.HistoryService
	presence *presence.Publisher
	subs     []handlers.Subscription
}

func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := storage.NewDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	client := api.NewClient(cfg, logger)
	engine := search.NewEngine(db)

	app := &App{
		cfg:     cfg,
		logger:  logger,
		api:     client,
		storage: db,
		bus:     handlers.NewEventBus(),
		streams: services.NewStreamService(client, cfg.Playback.StreamCacheSize,
			time.Duration(cfg.Playback.StreamCacheTTL)*time.Second, logger),
		search:  engine,
		library: services.NewLibraryService(client, db, engine, logger),
		account: services.NewAccountService(client, db, logger),
	}

	logger.Debug("application initialized",
		zap.String("api", cfg.API.BaseURL),
		zap.String("database", cfg.Storage.DatabasePath),
		zap.Bool("authenticated", client.IsAuthenticated()))

	return app, nil
}

// StartPlayer opens the audio output and builds the playback session along
// with everything listening to it.
func (a *App) StartPlayer(ctx context.Context) error {
	if a.session != nil {
		return nil
	}

	engine, err := audio.NewEngineFromConfig(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("initialize audio engine: %w", err)
	}
	a.engine = engine

	repeat, err := types.ParseRepeatMode(a.cfg.Playback.DefaultRepeat)
	if err != nil {
		a.logger.Warn("invalid default repeat mode", zap.Error(err))
	}

	a.session = playback.NewSession(playback.Options{
		Engine:     engine,
		Resolver:   a.streams,
		Bus:        a.bus,
		Logger:     a.logger,
		Volume:     a.cfg.Audio.DefaultVolume,
		RepeatMode: repeat,
	})
	a.subs = append(a.subs, a.bus.Subscribe(handlers.TopicPlaybackError, a.streams.ForgetFailed))

	a.history = services.NewHistoryService(a.storage, a.bus, a.cfg.Playback.HistoryRetention, a.logger)
	a.history.Start(ctx)

	if pub := presence.New(a.cfg, a.session.ID(), a.logger); pub != nil {
		if err := pub.Ping(ctx); err != nil {
			a.logger.Warn("presence disabled, redis unreachable", zap.Error(err))
			_ = pub.Stop()
		} else {
			pub.Start(ctx, a.bus)
			a.presence = pub
		}
	}

	if a.cfg.Playback.RestoreQueue {
		a.restoreQueue(ctx)
	}
	return nil
}

func (a *App) restoreQueue(ctx context.Context) {
	state, err := a.storage.LoadQueueState(ctx)
	if err != nil {
		a.logger.Warn("failed to load saved queue", zap.Error(err))
		return
	}
	if state == nil {
		return
	}
	if a.session.Restore(*state) {
		a.logger.Info("restored queue",
			zap.Int("tracks", len(state.Tracks)),
			zap.Int("index", state.CurrentIndex))
	}
}

func (a *App) saveQueue(ctx context.Context) {
	state := a.session.QueueState()
	var err error
	if len(state.Tracks) == 0 {
		err = a.storage.ClearQueueState(ctx)
	} else {
		err = a.storage.SaveQueueState(ctx, &state)
	}
	if err != nil {
		a.logger.Warn("failed to save queue", zap.Error(err))
	}
}

// Close releases everything in reverse order of construction.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.session != nil {
		if a.cfg.Playback.RestoreQueue {
			a.saveQueue(ctx)
		}
		if err := a.session.Close(); err != nil {
			a.logger.Warn("failed to close playback session", zap.Error(err))
		}
	}
	for _, sub := range a.subs {
		a.bus.Unsubscribe(sub)
	}
	if a.history != nil {
		a.history.Stop()
	}
	if a.presence != nil {
		if err := a.presence.Stop(); err != nil {
			a.logger.Warn("failed to stop presence publisher", zap.Error(err))
		}
	}
	a.library.Wait()
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			a.logger.Warn("failed to close audio engine", zap.Error(err))
		}
	}
	if err := a.storage.Close(); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}

	a.logger.Debug("application closed", zap.Any("streams", a.streams.Stats()), zap.Any("api", a.api.GetStats()))
}
