package main

import (
	"context"
	"time"

	"github.com/nidhogg/launchbox/internal/action"
	"github.com/nidhogg/launchbox/internal/config"
	"github.com/nidhogg/launchbox/internal/embedding"
	"github.com/nidhogg/launchbox/internal/gateway"
	"github.com/nidhogg/launchbox/internal/provider"
	"github.com/nidhogg/launchbox/internal/rag"
	"github.com/nidhogg/launchbox/internal/session"
	"github.com/nidhogg/launchbox/internal/store"
	"github.com/nidhogg/launchbox/internal/vectorstore"
	"go.uber.org/zap"
)

func buildProviders(cfg *config.Config, logger *zap.Logger) *provider.Router {
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Extra: pc.Extra,
			Timeout: time.Duration(pc.TimeoutSec) * time.Second,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		case "backend":
			router.Register(provider.NewBackendProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}
	for purpose, id := range cfg.Bindings {
		router.Bind(provider.Purpose(purpose), id)
	}
	for purpose, ids := range cfg.Fallbacks {
		router.SetFallbacks(provider.Purpose(purpose), ids)
	}
	return router
}

func buildRegistry(cfg config.ActionsConfig) (*action.Registry, error) {
	load := action.DefaultCatalog
	if cfg.CatalogPath != "" {
		load = func() ([]*action.Action, error) { return action.LoadCatalog(cfg.CatalogPath) }
	}
	actions, err := load()
	if err != nil {
		return nil, err
	}
	return action.NewRegistry(actions)
}

func buildDispatcher(cfg config.ActionsConfig, reg *action.Registry, llm action.Completer, logger *zap.Logger) *action.Dispatcher {
	var remote action.Executor
	if cfg.BackendURL != "" {
		remote = action.NewRemoteClient(cfg.BackendURL, cfg.Timeout(), logger)
	} else {
		logger.Warn("no action backend configured, remote actions will fail")
	}
	return action.NewDispatcher(reg, llm, remote, logger)
}

// buildKnowledge connects the embedding API and Qdrant. It returns nil when
// either is not configured or reachable.
func buildKnowledge(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*rag.KnowledgeBase, func()) {
	noop := func() {}
	if cfg.Database.Qdrant.Host == "" {
		return nil, noop
	}
	embedder, err := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		logger.Warn("embedding unavailable, running without knowledge base", zap.Error(err))
		return nil, noop
	}
	vs, err := vectorstore.NewClient(vectorstore.Config{
		Host:     cfg.Database.Qdrant.Host,
		Port:     cfg.Database.Qdrant.Port,
		MinScore: cfg.Database.Qdrant.MinScore,
	})
	if err != nil {
		logger.Warn("Qdrant unavailable, running without knowledge base", zap.Error(err))
		return nil, noop
	}
	kb := rag.New(embedder, vs, logger)
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := kb.Init(initCtx); err != nil {
		logger.Warn("knowledge base init failed, running without it", zap.Error(err))
		vs.Close()
		return nil, noop
	}
	logger.Info("Knowledge base ready", zap.String("collection", rag.CollKnowledge))
	return kb, func() { vs.Close() }
}

// buildStore selects snapshot persistence. A configured but unreachable
// backend degrades to memory.
func buildStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (session.Store, func()) {
	noop := func() {}
	switch cfg.Session.Store {
	case "postgres":
		ps, err := store.New(cfg.Database.Postgres.DSN, logger)
		if err != nil {
			logger.Warn("PostgreSQL unavailable, keeping conversations in memory", zap.Error(err))
			break
		}
		if err := ps.Migrate(ctx); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
		logger.Info("Persisting conversations to PostgreSQL")
		return ps, ps.Close
	case "redis":
		rs, err := store.NewRedisStore(ctx, cfg.Database.Redis.URL, cfg.Session.SnapshotTTL(), logger)
		if err != nil {
			logger.Warn("Redis unavailable, keeping conversations in memory", zap.Error(err))
			break
		}
		logger.Info("Persisting conversations to Redis")
		return rs, func() { rs.Close() }
	case "memory":
	default:
		logger.Warn("unknown session store, using memory", zap.String("store", cfg.Session.Store))
	}
	return store.NewMemoryStore(), noop
}

func registerAdapters(gw *gateway.Gateway, cfg config.GatewayConfig, logger *zap.Logger) {
	if cfg.Slack.Enabled && cfg.Slack.BotToken != "" {
		a := gateway.NewSlackAdapter(cfg.Slack.BotToken, cfg.Slack.AppToken, logger)
		if p := persona(cfg.Slack.Persona); p != nil {
			a.SetPersona(p)
		}
		gw.Register(a)
	}
	if cfg.Discord.Enabled && cfg.Discord.BotToken != "" {
		a := gateway.NewDiscordAdapter(cfg.Discord.BotToken, logger)
		if p := persona(cfg.Discord.Persona); p != nil {
			a.SetPersona(p)
		}
		for ch, url := range cfg.Discord.Webhooks {
			a.SetWebhook(ch, url)
		}
		gw.Register(a)
	}
}

func persona(p *config.PersonaConfig) *gateway.Persona {
	if p == nil {
		return nil
	}
	return &gateway.Persona{Name: p.Name, IconURL: p.IconURL, Emoji: p.Emoji}
}
