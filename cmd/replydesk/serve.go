package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/replydesk/replydesk/internal/account"
	"github.com/replydesk/replydesk/internal/bot"
	"github.com/replydesk/replydesk/internal/completion"
	"github.com/replydesk/replydesk/internal/config"
	"github.com/replydesk/replydesk/internal/conversation"
	"github.com/replydesk/replydesk/internal/db"
	"github.com/replydesk/replydesk/internal/escalation"
	"github.com/replydesk/replydesk/internal/handlers"
	"github.com/replydesk/replydesk/internal/ingest"
	"github.com/replydesk/replydesk/internal/logger"
	"github.com/replydesk/replydesk/internal/message"
	"github.com/replydesk/replydesk/internal/outbound"
	"github.com/replydesk/replydesk/internal/platform"
	"github.com/replydesk/replydesk/internal/resilience"
	"github.com/replydesk/replydesk/internal/server"
	"github.com/replydesk/replydesk/internal/template"
)

func runServe(cfgPath string) {
	fx.New(
		fx.Supply(configPath(cfgPath)),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBPool,
			provideBreakers,
			provideAccountResolver,
			provideConversationService,
			provideMessageService,
			providePlatformClient,
			provideCompletionClient,
			provideOrchestrator,
			provideEscalationService,
			provideTemplateService,
			provideTemplatePoller,
			provideOutboundSender,
			providePipeline,
			provideServerHandler(provideWebhookHandler),
			provideServerHandler(providePingHandler),
			provideServerHandler(provideConversationsHandler),
			provideServer,
		),
		fx.Invoke(
			startPipeline,
			startTemplatePoller,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

type configPath string

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig(path configPath) (config.Config, error) {
	cfg, err := config.Load(string(path))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	pool, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return pool, nil
}

// breakers groups the three circuits so providers can pick the one
// guarding their dependency.
type breakers struct {
	datastore  *resilience.Breaker
	platform   *resilience.Breaker
	completion *resilience.Breaker
}

func provideBreakers(log *slog.Logger, cfg config.Config) breakers {
	r := cfg.Resilience
	return breakers{
		datastore:  resilience.NewBreaker(log, "datastore", r.FailureThreshold, r.OpenDuration()),
		platform:   resilience.NewBreaker(log, "platform", r.FailureThreshold, r.OpenDuration()),
		completion: resilience.NewBreaker(log, "completion", r.FailureThreshold, r.OpenDuration()),
	}
}

func retryConfig(cfg config.Config) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts: cfg.Resilience.RetryAttempts,
		BaseDelay:   cfg.Resilience.RetryBaseDelay(),
	}
}

func provideAccountResolver(log *slog.Logger, pool *pgxpool.Pool, cfg config.Config, b breakers) *account.Resolver {
	store := account.NewStore(pool)
	cache := resilience.NewCache(cfg.Cache.AccountTTL())
	return account.NewResolver(log, store, cache, b.datastore)
}

func provideConversationService(log *slog.Logger, pool *pgxpool.Pool, cfg config.Config) *conversation.Service {
	store := conversation.NewStore(pool)
	cache := resilience.NewCache(cfg.Cache.ConversationTTL())
	return conversation.NewService(log, store, cache)
}

func provideMessageService(log *slog.Logger, pool *pgxpool.Pool, conversations *conversation.Service) *message.Service {
	return message.NewService(log, message.NewStore(pool), conversations)
}

func providePlatformClient(log *slog.Logger, cfg config.Config) *platform.Client {
	return platform.NewClient(log, cfg.Platform)
}

func provideCompletionClient(cfg config.Config) *completion.OpenAIClient {
	return completion.NewClient(cfg.Completion)
}

func provideOrchestrator(log *slog.Logger, completions *completion.OpenAIClient, messages *message.Service, pool *pgxpool.Pool, cfg config.Config, b breakers) *bot.Orchestrator {
	return bot.New(log, completions, messages, bot.Config{
		HistoryLimit:      cfg.Bot.HistoryLimit,
		ReplyDeadline:     cfg.Bot.ReplyDeadline(),
		KnowledgeTTL:      cfg.Cache.KnowledgeTTL(),
		Retry:             retryConfig(cfg),
		CompletionBreaker: b.completion,
		Knowledge:         account.NewStore(pool),
	})
}

func provideEscalationService(log *slog.Logger, conversations *conversation.Service, client *platform.Client, cfg config.Config) *escalation.Service {
	return escalation.NewService(log, conversations, client, cfg.Escalation.BackupContact)
}

func provideTemplateService(log *slog.Logger, pool *pgxpool.Pool, client *platform.Client, messages *message.Service, cfg config.Config) *template.Service {
	return template.NewService(log, template.NewStore(pool), client, messages, cfg.Template)
}

func provideTemplatePoller(log *slog.Logger, pool *pgxpool.Pool, client *platform.Client, cfg config.Config) *template.Poller {
	return template.NewPoller(log, template.NewStore(pool), account.NewStore(pool), client, cfg.Template.PollIntervalMinutes)
}

func provideOutboundSender(
	log *slog.Logger,
	client *platform.Client,
	messages *message.Service,
	conversations *conversation.Service,
	templates *template.Service,
	cfg config.Config,
	b breakers,
) *outbound.Sender {
	return outbound.NewSender(log, client, messages, conversations, templates,
		b.platform, retryConfig(cfg), cfg.Platform.SessionWindow())
}

func providePipeline(
	log *slog.Logger,
	messages *message.Service,
	orchestrator *bot.Orchestrator,
	sender *outbound.Sender,
	escalations *escalation.Service,
	conversations *conversation.Service,
	cfg config.Config,
) *ingest.Pipeline {
	return ingest.New(log, messages, orchestrator, sender, escalations, conversations,
		cfg.Ingest.Workers, cfg.Ingest.QueueSize)
}

func provideWebhookHandler(log *slog.Logger, resolver *account.Resolver, pipeline *ingest.Pipeline, cfg config.Config) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, resolver, pipeline, cfg.Platform.VerifyToken)
}

func providePingHandler(log *slog.Logger, b breakers) *handlers.PingHandler {
	return handlers.NewPingHandler(log, b.datastore, b.platform, b.completion)
}

func provideConversationsHandler(log *slog.Logger, conversations *conversation.Service) *handlers.ConversationsHandler {
	return handlers.NewConversationsHandler(log, conversations)
}

type serverParams struct {
	fx.In
	Logger   *slog.Logger
	Config   config.Config
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.New(params.Logger, params.Config.Server.Addr, params.Handlers...)
}

func startPipeline(lc fx.Lifecycle, pipeline *ingest.Pipeline) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { pipeline.Start(context.Background()); return nil },
		OnStop:  func(ctx context.Context) error { pipeline.Stop(); return nil },
	})
}

func startTemplatePoller(lc fx.Lifecycle, poller *template.Poller) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return poller.Start(context.Background()) },
		OnStop:  func(ctx context.Context) error { poller.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
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
