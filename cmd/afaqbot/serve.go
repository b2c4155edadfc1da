package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/afaqstores/afaqbot/internal/catalog"
	"github.com/afaqstores/afaqbot/internal/channel"
	"github.com/afaqstores/afaqbot/internal/channel/adapters/telegram"
	"github.com/afaqstores/afaqbot/internal/channel/adapters/whatsapp"
	"github.com/afaqstores/afaqbot/internal/chat"
	"github.com/afaqstores/afaqbot/internal/config"
	"github.com/afaqstores/afaqbot/internal/handlers"
	"github.com/afaqstores/afaqbot/internal/logger"
	"github.com/afaqstores/afaqbot/internal/prompt"
	"github.com/afaqstores/afaqbot/internal/relay"
	"github.com/afaqstores/afaqbot/internal/server"
	"github.com/afaqstores/afaqbot/internal/session"
	"github.com/afaqstores/afaqbot/internal/situational"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideStore,
			provideFlusher,
			provideCatalogService,
			provideSituational,
			provideBackend,
			provideAssembler,
			provideProcessor,
			provideWhatsAppAdapter,
			provideRegistry,
			provideManager,
			handlers.NewPingHandler,
			provideWhatsAppWebhookHandler,
			provideServer,
		),
		fx.Invoke(
			startFlusher,
			startCatalog,
			startChannelManager,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideStore(cfg config.Config) *session.Store {
	return session.NewStore(cfg.History.MaxTurns)
}

func provideFlusher(log *slog.Logger, cfg config.Config, store *session.Store) *session.Flusher {
	return session.NewFlusher(log, store, cfg.History.Path, cfg.History.FlushInterval())
}

func provideCatalogService(log *slog.Logger, cfg config.Config) *catalog.Service {
	return catalog.NewService(log, cfg.Catalog.Path)
}

func provideSituational(log *slog.Logger, cfg config.Config) situational.Provider {
	return situational.NewGeoProvider(
		log,
		cfg.Situational.DefaultLocation,
		cfg.Situational.DefaultTemperature,
		cfg.Situational.LookupTimeout(),
	)
}

func provideBackend(log *slog.Logger, cfg config.Config) (chat.Client, error) {
	return chat.NewGeminiClient(
		log,
		cfg.Gemini.APIKey,
		cfg.Gemini.Model,
		cfg.Gemini.BaseURL,
		cfg.Gemini.Timeout(),
		cfg.Gemini.Temperature,
		cfg.Gemini.MaxOutputTokens,
	)
}

func provideAssembler(cfg config.Config) prompt.Assembler {
	return prompt.Assembler{
		DisplayWindow:    cfg.History.DisplayWindow,
		TranscriptWindow: cfg.History.TranscriptWindow,
		LinkBase:         cfg.Catalog.LinkBase,
	}
}

func provideProcessor(
	log *slog.Logger,
	cfg config.Config,
	store *session.Store,
	catalogService *catalog.Service,
	assembler prompt.Assembler,
	backend chat.Client,
	situationalProvider situational.Provider,
) *relay.Processor {
	return relay.NewProcessor(
		log,
		store,
		catalogService,
		assembler,
		backend,
		situationalProvider,
		cfg.Gemini.Timeout(),
	)
}

func provideWhatsAppAdapter(log *slog.Logger, cfg config.Config) *whatsapp.Adapter {
	return whatsapp.NewAdapter(log, cfg.WhatsApp.AccessToken, cfg.WhatsApp.PhoneNumberID)
}

func provideRegistry(log *slog.Logger, cfg config.Config, whatsappAdapter *whatsapp.Adapter) *channel.Registry {
	registry := channel.NewRegistry()
	if cfg.Telegram.Enabled() {
		registry.MustRegister(telegram.NewAdapter(log, cfg.Telegram.BotToken))
	}
	if cfg.WhatsApp.Enabled() {
		registry.MustRegister(whatsappAdapter)
	}
	return registry
}

func provideManager(log *slog.Logger, registry *channel.Registry, processor *relay.Processor) *channel.Manager {
	return channel.NewManager(log, registry, processor.Handler())
}

func provideWhatsAppWebhookHandler(log *slog.Logger, cfg config.Config, adapter *whatsapp.Adapter, processor *relay.Processor) *whatsapp.WebhookHandler {
	return whatsapp.NewWebhookHandler(log, adapter, processor.Handler(), cfg.WhatsApp.VerifyToken)
}

func provideServer(
	log *slog.Logger,
	cfg config.Config,
	pingHandler *handlers.PingHandler,
	webhookHandler *whatsapp.WebhookHandler,
) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, pingHandler, webhookHandler)
}

// startFlusher loads the history snapshot before any channel starts accepting
// traffic, then begins periodic flushing. A final flush runs on stop.
func startFlusher(lc fx.Lifecycle, flusher *session.Flusher) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			flusher.LoadInitial()
			return flusher.Start()
		},
		OnStop: func(ctx context.Context) error {
			return flusher.Stop(ctx)
		},
	})
}

func startCatalog(lc fx.Lifecycle, logger *slog.Logger, cfg config.Config, catalogService *catalog.Service) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := catalogService.Reload(); err != nil {
				// The relay degrades to the empty-catalog prompt until the
				// next reload succeeds.
				logger.Warn("initial catalog load failed", slog.Any("error", err))
			}
			if interval := cfg.Catalog.ReloadInterval(); interval > 0 {
				return catalogService.StartAutoReload(interval)
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			catalogService.StopAutoReload()
			return nil
		},
	})
}

func startChannelManager(lc fx.Lifecycle, channelManager *channel.Manager) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { channelManager.Start(ctx); return nil },
		OnStop:  func(stopCtx context.Context) error { cancel(); return channelManager.Shutdown(stopCtx) },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
